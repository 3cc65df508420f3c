package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/chunker"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/index"
	"github.com/poiesic/docqa/ingestion"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendBadger = "badger"
	BackendSQLite = "sqlite"
)

// DefaultMaxUploadBytes bounds the size of an uploaded document.
const DefaultMaxUploadBytes = 32 << 20

// Environment variables read by ApplyEnv.
const (
	EnvAPIKey         = "DOCQA_API_KEY"
	EnvGeminiAPIKey   = "GEMINI_API_KEY"
	EnvEmbeddingModel = "EMBEDDING_MODEL_NAME"
	EnvLLMModel       = "LLM_MODEL_NAME"
	EnvHost           = "DOCQA_AI_HOST"
	EnvStoragePath    = "DOCQA_STORAGE_PATH"
	EnvPort           = "PORT"
)

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	UploadDir       string        `yaml:"upload_dir"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects and configures the persistent session store.
type StorageConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// AIConfig configures the embedding and generation gateways.
// The API key is normally supplied through the environment.
type AIConfig struct {
	EmbeddingHost     string        `yaml:"embedding_host"`
	GenerationHost    string        `yaml:"generation_host"`
	EmbeddingModel    string        `yaml:"embedding_model"`
	GenerationModel   string        `yaml:"generation_model"`
	APIKey            string        `yaml:"api_key,omitempty"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Temperature       float64       `yaml:"temperature"`
}

// RetrievalConfig configures the query pipeline.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// IngestionConfig configures the ingestion pipeline.
type IngestionConfig struct {
	BatchSize int `yaml:"batch_size"`
	PoolSize  int `yaml:"pool_size"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Ingestion IngestionConfig `yaml:"ingestion"`
}

// Default returns the configuration used when no file is present.
func Default() *AppConfig {
	defaults := ai.DefaultConfig()
	return &AppConfig{
		Server: ServerConfig{
			Addr:            ":7860",
			AllowedOrigins:  []string{"https://rag-ruddy-six.vercel.app"},
			UploadDir:       filepath.Join(os.TempDir(), "docqa-uploads"),
			MaxUploadBytes:  DefaultMaxUploadBytes,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: BackendBadger,
			Path:    "storage",
		},
		AI: AIConfig{
			EmbeddingHost:   defaults.EmbeddingHost,
			GenerationHost:  defaults.GenerationHost,
			EmbeddingModel:  defaults.EmbeddingModel,
			GenerationModel: defaults.GenerationModel,
			Timeout:         defaults.Timeout,
			MaxRetries:      defaults.MaxRetries,
			RetryDelay:      defaults.RetryDelay,
			Temperature:     defaults.Temperature,
		},
		Retrieval: RetrievalConfig{TopK: index.DefaultTopK},
		Chunker: ChunkerConfig{
			Size:    chunker.DefaultChunkSize,
			Overlap: chunker.DefaultChunkOverlap,
		},
		Ingestion: IngestionConfig{BatchSize: ingestion.DefaultBatchSize},
	}
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Fields missing from the file keep their default values.
func Load(path string) (*AppConfig, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: reading %s: %w", core.ErrConfiguration, path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %w", core.ErrConfiguration, path, err)
	}
	return cfg, nil
}

// Save writes the config to the given path, creating directories as needed.
// The API key is never written.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out := *cfg
	out.AI.APIKey = ""
	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ApplyEnv overrides configuration values with those set in the environment.
// DOCQA_API_KEY takes precedence over GEMINI_API_KEY.
func (c *AppConfig) ApplyEnv() {
	if key, ok := lookup(EnvGeminiAPIKey); ok {
		c.AI.APIKey = key
	}
	if key, ok := lookup(EnvAPIKey); ok {
		c.AI.APIKey = key
	}
	if model, ok := lookup(EnvEmbeddingModel); ok {
		c.AI.EmbeddingModel = model
	}
	if model, ok := lookup(EnvLLMModel); ok {
		c.AI.GenerationModel = model
	}
	if host, ok := lookup(EnvHost); ok {
		c.AI.EmbeddingHost = host
		c.AI.GenerationHost = host
	}
	if path, ok := lookup(EnvStoragePath); ok {
		c.Storage.Path = path
	}
	if port, ok := lookup(EnvPort); ok {
		c.Server.Addr = ":" + port
	}
}

// lookup returns a non-blank environment value.
func lookup(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

// Validate checks the configuration. The AI section is checked by
// ai.Config.Validate when the provider is built. All failures wrap
// core.ErrConfiguration.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.UploadDir == "" {
		errs = append(errs, errors.New("server.upload_dir is required"))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("server.max_upload_bytes must be positive"))
	}
	switch c.Storage.Backend {
	case BackendBadger, BackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be %q or %q, got %q", BackendBadger, BackendSQLite, c.Storage.Backend))
	}
	if c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Retrieval.TopK < 1 {
		errs = append(errs, errors.New("retrieval.top_k must be at least 1"))
	}
	if c.Chunker.Size < 1 {
		errs = append(errs, errors.New("chunker.size must be at least 1"))
	}
	if c.Chunker.Overlap < 0 {
		errs = append(errs, errors.New("chunker.overlap cannot be negative"))
	}
	if c.Ingestion.BatchSize < 1 {
		errs = append(errs, errors.New("ingestion.batch_size must be at least 1"))
	}
	if c.Ingestion.PoolSize < 0 {
		errs = append(errs, errors.New("ingestion.pool_size cannot be negative"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfiguration, err)
	}
	return nil
}

// GatewayConfig returns the configuration of the embedding and generation gateways.
func (c *AppConfig) GatewayConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithTimeout(c.AI.Timeout),
		ai.WithRetry(c.AI.MaxRetries, c.AI.RetryDelay),
		ai.WithRequestsPerSecond(c.AI.RequestsPerSecond),
		ai.WithTemperature(c.AI.Temperature),
	)
}
