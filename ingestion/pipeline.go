package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/chunker"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/extract"
	"github.com/poiesic/docqa/index"
	"github.com/poiesic/docqa/session"
)

// DefaultBatchSize is the number of passages sent per embedding call.
const DefaultBatchSize = 32

// Pipeline orchestrates the ingestion of documents into session stores.
type Pipeline struct {
	manager   *session.Manager
	chunker   chunker.Chunker
	extractor extract.Extractor
	embedding *batchEmbedder
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for concurrent embedding.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}

		// Release old pool
		if p.embedding.pool != nil {
			p.embedding.pool.Release()
		}
		p.embedding.pool = pool
		return nil
	}
}

// WithBatchSize sets the number of passages per embedding call.
// Default is DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		p.embedding.batchSize = size
		return nil
	}
}

// WithRetry sets the number of attempts per embedding call and the base
// backoff delay. Default is 3 attempts starting at 500ms.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts < 1 {
			return ai.ErrInvalidMaxAttempts
		}
		p.embedding.maxAttempts = maxAttempts
		p.embedding.retryDelay = delay
		return nil
	}
}

// WithChunker sets the splitting strategy.
// Default is a chunker.Window with default settings.
func WithChunker(c chunker.Chunker) Option {
	return func(p *Pipeline) error {
		if c != nil {
			p.chunker = c
		}
		return nil
	}
}

// WithExtractor sets the file text extractor used by IngestFile.
// Default is extract.NewDispatcher().
func WithExtractor(e extract.Extractor) Option {
	return func(p *Pipeline) error {
		if e != nil {
			p.extractor = e
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(manager *session.Manager, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if manager == nil {
		return nil, ErrSessionManagerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	defaults := ai.DefaultConfig()
	p := &Pipeline{
		manager:   manager,
		chunker:   chunker.New(),
		extractor: extract.NewDispatcher(),
		embedding: &batchEmbedder{
			embedder:    embedder,
			pool:        pool,
			batchSize:   DefaultBatchSize,
			maxAttempts: defaults.MaxRetries,
			retryDelay:  defaults.RetryDelay,
		},
		logger: slog.Default(),
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	p.logger = p.logger.With("component", "ingestion")
	p.embedding.logger = p.logger
	return p, nil
}

// Ingest splits text into chunks, embeds them and appends them to the
// session's store. Returns the number of chunks added.
//
// Either every chunk of the document is added or none is. Invalid input
// wraps core.ErrClientInput; every other failure wraps core.ErrIngestion.
func (p *Pipeline) Ingest(ctx context.Context, id core.SessionID, text, source string) (int, error) {
	if err := core.ValidateSessionID(id); err != nil {
		return 0, err
	}
	if err := core.ValidateSourceName(source); err != nil {
		return 0, err
	}

	passages := p.chunker.Split(text)
	if len(passages) == 0 {
		return 0, fmt.Errorf("%w: %w: %q", core.ErrIngestion, ErrNoText, source)
	}

	start := time.Now()
	vectors, err := p.embedding.embedAll(ctx, passages)
	if err != nil {
		p.logger.Error("embedding failed", "session", id, "source", source, "err", err)
		return 0, fmt.Errorf("%w: embedding %q: %w", core.ErrIngestion, source, err)
	}

	chunks := buildChunks(id, source, passages, vectors)
	added, err := p.manager.Update(ctx, id, func(*index.Store) ([]*core.Chunk, error) {
		return chunks, nil
	})
	if err != nil {
		if errors.Is(err, core.ErrClientInput) {
			return 0, err
		}
		p.logger.Error("storing chunks failed", "session", id, "source", source, "err", err)
		return 0, fmt.Errorf("%w: storing %q: %w", core.ErrIngestion, source, err)
	}

	p.logger.Info("document indexed",
		"session", id, "source", source, "chunks", added, "elapsed", time.Since(start))
	return added, nil
}

// IngestFile extracts the text of the file at path and ingests it under
// source. An empty source uses the file's base name.
func (p *Pipeline) IngestFile(ctx context.Context, id core.SessionID, path, source string) (int, error) {
	if err := core.ValidateSessionID(id); err != nil {
		return 0, err
	}
	if source == "" {
		source = filepath.Base(path)
	}
	if err := core.ValidateSourceName(source); err != nil {
		return 0, err
	}

	text, err := p.extractor.Extract(ctx, path)
	if err != nil {
		if errors.Is(err, extract.ErrUnsupportedFormat) {
			return 0, fmt.Errorf("%w: %w", core.ErrClientInput, err)
		}
		p.logger.Error("extraction failed", "session", id, "source", source, "err", err)
		return 0, fmt.Errorf("%w: extracting %q: %w", core.ErrIngestion, source, err)
	}

	return p.Ingest(ctx, id, text, source)
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.embedding.pool != nil {
		p.embedding.pool.Release()
	}
}

// buildChunks assembles the chunks of one upload. Each upload gets its own
// document key so that re-uploading a file never reuses chunk identifiers.
func buildChunks(id core.SessionID, source string, passages []string, vectors [][]float32) []*core.Chunk {
	document := source + "#" + uuid.NewString()
	now := time.Now().UTC()

	chunks := make([]*core.Chunk, len(passages))
	for i, text := range passages {
		chunks[i] = &core.Chunk{
			Id:      core.ChunkID(id, document, i, text),
			Source:  source,
			Ordinal: i,
			Text:    text,
			Vector:  index.NormalizeVector(vectors[i]),
			Metadata: map[string]string{
				core.MetadataSource:   source,
				core.MetadataFilename: source,
			},
			CreatedAt: now,
		}
	}
	return chunks
}
