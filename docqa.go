// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package docqa answers questions over documents uploaded into isolated
// sessions. App wires storage, the AI gateways and the pipelines together.
package docqa

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/ai/openai"
	"github.com/poiesic/docqa/chunker"
	"github.com/poiesic/docqa/config"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/extract"
	"github.com/poiesic/docqa/ingestion"
	"github.com/poiesic/docqa/query"
	"github.com/poiesic/docqa/reembed"
	"github.com/poiesic/docqa/server"
	"github.com/poiesic/docqa/session"
	"github.com/poiesic/docqa/storage"
	"github.com/poiesic/docqa/storage/badger"
	"github.com/poiesic/docqa/storage/sqlite"
)

// SQLiteFileName is the database file created when the sqlite storage path
// names a directory.
const SQLiteFileName = "sessions.db"

// App is the application context. It is built once at startup and owns the
// storage, the gateways and the pipelines built on them.
type App struct {
	config    *config.AppConfig
	backend   *badger.Backend // nil unless the badger backend is in use
	repo      storage.SessionRepository
	provider  ai.AIProvider
	manager   *session.Manager
	ingestion *ingestion.Pipeline
	query     *query.Pipeline
	rewriter  *query.Rewriter
	base      *slog.Logger // handed to the components, which scope it themselves
	logger    *slog.Logger
}

// Option configures an App.
type Option func(*appOptions)

type appOptions struct {
	provider  ai.AIProvider
	repo      storage.SessionRepository
	extractor extract.Extractor
	logger    *slog.Logger
}

// WithProvider supplies the AI provider instead of building one from the
// configuration. The App closes it.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *appOptions) {
		o.provider = provider
	}
}

// WithRepository supplies the session repository instead of opening the
// configured storage backend. The App closes it.
func WithRepository(repo storage.SessionRepository) Option {
	return func(o *appOptions) {
		o.repo = repo
	}
}

// WithExtractor sets the file text extractor used for uploads.
func WithExtractor(extractor extract.Extractor) Option {
	return func(o *appOptions) {
		o.extractor = extractor
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *appOptions) {
		o.logger = logger
	}
}

// New validates cfg and wires the application. A configuration problem,
// including a missing API key, wraps core.ErrConfiguration.
func New(cfg *config.AppConfig, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: configuration is required", core.ErrConfiguration)
	}
	options := &appOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{
		config: cfg,
		base:   options.logger,
		logger: options.logger.With("component", "app"),
	}

	// Gateways first so a missing credential fails before storage is touched
	provider := options.provider
	if provider == nil {
		var err error
		provider, err = openai.NewProvider(cfg.GatewayConfig())
		if err != nil {
			return nil, err
		}
	}
	app.provider = provider

	repo := options.repo
	if repo == nil {
		var err error
		repo, app.backend, err = openRepository(cfg.Storage)
		if err != nil {
			app.Close()
			return nil, err
		}
	}
	app.repo = repo

	if err := app.buildPipelines(options); err != nil {
		app.Close()
		return nil, err
	}

	app.logger.Info("application ready",
		"storage", cfg.Storage.Backend, "model", cfg.AI.GenerationModel, "top_k", cfg.Retrieval.TopK)
	return app, nil
}

func (a *App) buildPipelines(options *appOptions) error {
	cfg := a.config
	logger := a.base

	manager, err := session.NewManager(a.repo, session.WithLogger(logger))
	if err != nil {
		return err
	}
	a.manager = manager

	ingestOpts := []ingestion.Option{
		ingestion.WithChunker(chunker.New(
			chunker.WithChunkSize(cfg.Chunker.Size),
			chunker.WithOverlap(cfg.Chunker.Overlap),
		)),
		ingestion.WithBatchSize(cfg.Ingestion.BatchSize),
		ingestion.WithRetry(cfg.AI.MaxRetries, cfg.AI.RetryDelay),
		ingestion.WithLogger(logger),
	}
	if cfg.Ingestion.PoolSize > 0 {
		ingestOpts = append(ingestOpts, ingestion.WithPoolSize(cfg.Ingestion.PoolSize))
	}
	if options.extractor != nil {
		ingestOpts = append(ingestOpts, ingestion.WithExtractor(options.extractor))
	}
	a.ingestion, err = ingestion.NewPipeline(manager, a.provider.Embedder(), ingestOpts...)
	if err != nil {
		return err
	}

	a.query, err = query.NewPipeline(manager, a.provider.Embedder(), a.provider.Generator(),
		query.WithTopK(cfg.Retrieval.TopK),
		query.WithRetry(cfg.AI.MaxRetries, cfg.AI.RetryDelay),
		query.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	a.rewriter, err = query.NewRewriter(a.provider.Generator(),
		query.WithRewriteRetry(cfg.AI.MaxRetries, cfg.AI.RetryDelay),
		query.WithRewriteLogger(logger),
	)
	return err
}

// openRepository opens the configured storage backend.
func openRepository(cfg config.StorageConfig) (storage.SessionRepository, *badger.Backend, error) {
	switch cfg.Backend {
	case config.BackendBadger:
		backend, err := badger.OpenBackend(cfg.Path, false)
		if err != nil {
			return nil, nil, fmt.Errorf("opening session store: %w", err)
		}
		repo, err := badger.NewSessionRepository(backend)
		if err != nil {
			backend.Close()
			return nil, nil, err
		}
		return repo, backend, nil

	case config.BackendSQLite:
		db, err := sqlite.Open(sqlitePath(cfg.Path))
		if err != nil {
			return nil, nil, fmt.Errorf("opening session store: %w", err)
		}
		repo, err := sqlite.NewSessionRepository(db)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown storage backend %q", core.ErrConfiguration, cfg.Backend)
	}
}

// sqlitePath places the database file inside path when path is a directory
// or has no extension.
func sqlitePath(path string) string {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, SQLiteFileName)
	}
	if filepath.Ext(path) == "" {
		return filepath.Join(path, SQLiteFileName)
	}
	return path
}

// Close releases the pipelines, the gateways and the storage.
func (a *App) Close() error {
	var errs []error

	if a.ingestion != nil {
		a.ingestion.Release()
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			a.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Error("error closing session repository", "err", err)
			errs = append(errs, err)
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Error("error closing backend storage", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.AppConfig {
	return a.config
}

// Sessions returns the session manager.
func (a *App) Sessions() *session.Manager {
	return a.manager
}

// Ingestion returns the ingestion pipeline.
func (a *App) Ingestion() *ingestion.Pipeline {
	return a.ingestion
}

// Query returns the query pipeline.
func (a *App) Query() *query.Pipeline {
	return a.query
}

// Rewriter returns the answer rewriter.
func (a *App) Rewriter() *query.Rewriter {
	return a.rewriter
}

// NewServer creates an HTTP server over the App's pipelines, configured from
// the server section. opts are applied after the configured ones.
func (a *App) NewServer(opts ...server.Option) (*server.Server, error) {
	cfg := a.config.Server
	defaults := []server.Option{
		server.WithAllowedOrigins(cfg.AllowedOrigins...),
		server.WithUploadDir(cfg.UploadDir),
		server.WithMaxUploadBytes(cfg.MaxUploadBytes),
		server.WithShutdownTimeout(cfg.ShutdownTimeout),
		server.WithModelName(a.config.AI.GenerationModel),
		server.WithLogger(a.base),
	}
	return server.New(a.ingestion, a.query, a.rewriter, a.manager, append(defaults, opts...)...)
}

// NewReembedder creates a reembedder that rebuilds session vectors with the
// App's embedder.
func (a *App) NewReembedder(opts ...reembed.Option) (*reembed.Reembedder, error) {
	defaults := []reembed.Option{
		reembed.WithBatchSize(a.config.Ingestion.BatchSize),
		reembed.WithRetry(a.config.AI.MaxRetries, a.config.AI.RetryDelay),
		reembed.WithLogger(a.base),
	}
	return reembed.New(a.manager, a.provider.Embedder(), append(defaults, opts...)...)
}
