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


package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/index"
	"github.com/poiesic/docqa/session"
)

// Pipeline answers questions from the documents indexed in a session.
type Pipeline struct {
	manager     *session.Manager
	embedder    ai.Embedder
	generator   ai.Generator
	topK        int
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithTopK sets the number of passages retrieved per question.
// Default is index.DefaultTopK.
func WithTopK(k int) Option {
	return func(p *Pipeline) error {
		if k < 1 {
			return fmt.Errorf("top k must be positive, got %d", k)
		}
		p.topK = k
		return nil
	}
}

// WithRetry sets the number of attempts per gateway call and the base
// backoff delay. Default is 3 attempts starting at 500ms.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts < 1 {
			return ai.ErrInvalidMaxAttempts
		}
		p.maxAttempts = maxAttempts
		p.retryDelay = delay
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

// NewPipeline creates a new query pipeline.
func NewPipeline(manager *session.Manager, embedder ai.Embedder, generator ai.Generator, opts ...Option) (*Pipeline, error) {
	if manager == nil {
		return nil, ErrSessionManagerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}

	defaults := ai.DefaultConfig()
	p := &Pipeline{
		manager:     manager,
		embedder:    embedder,
		generator:   generator,
		topK:        index.DefaultTopK,
		maxAttempts: defaults.MaxRetries,
		retryDelay:  defaults.RetryDelay,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	p.logger = p.logger.With("component", "query")
	return p, nil
}

// TopK returns the number of passages retrieved per question.
func (p *Pipeline) TopK() int {
	return p.topK
}

// Query answers question from the documents indexed in the session.
func (p *Pipeline) Query(ctx context.Context, id core.SessionID, question string) (*core.QueryResult, error) {
	return p.QueryWithMonitor(ctx, id, question, nil)
}

// QueryWithMonitor answers question with monitoring.
// The monitor receives callbacks at each stage of the query.
//
// A session without chunks gets NoDocumentsAnswer and no sources, and neither
// gateway is called. Invalid input wraps core.ErrClientInput; every other
// failure wraps core.ErrRetrieval. Queries never modify a store, apart from
// creating an empty session on first use.
func (p *Pipeline) QueryWithMonitor(ctx context.Context, id core.SessionID, question string, monitor QueryMonitor) (*core.QueryResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if err := core.ValidateSessionID(id); err != nil {
		return nil, err
	}
	if err := core.ValidateQuestion(question); err != nil {
		return nil, err
	}

	monitor.Start(id, question)
	start := time.Now()

	handle, err := p.manager.GetOrCreate(ctx, id)
	if err != nil {
		return nil, p.fail(id, "opening session", err)
	}
	if handle.Len() == 0 {
		return p.noDocuments(id, monitor), nil
	}

	// 1. Embed the question
	vector, err := p.embed(ctx, question)
	if err != nil {
		return nil, p.fail(id, "embedding question", err)
	}
	monitor.AfterEmbedding(vector)

	// 2. Rank under the session's read lock
	var hits []core.ScoredChunk
	err = p.manager.View(ctx, id, func(store *index.Store) error {
		var searchErr error
		hits, searchErr = store.Search(vector, p.topK)
		return searchErr
	})
	if err != nil {
		return nil, p.fail(id, "ranking chunks", err)
	}
	if len(hits) == 0 {
		// The session was emptied after the length check
		return p.noDocuments(id, monitor), nil
	}
	monitor.AfterRetrieval(hits)

	// 3. Generate from the retrieved passages
	prompt := buildAnswerPrompt(question, hits)
	monitor.AfterPrompt(prompt)

	answer, err := p.generate(ctx, prompt)
	if err != nil {
		return nil, p.fail(id, "generating answer", err)
	}
	monitor.AfterGeneration(answer)

	result := core.NewQueryResult(answer, sources(hits))
	monitor.Finish(result)

	p.logger.Info("question answered",
		"session", id, "passages", len(hits), "elapsed", time.Since(start))
	return result, nil
}

func (p *Pipeline) noDocuments(id core.SessionID, monitor QueryMonitor) *core.QueryResult {
	p.logger.Debug("question asked before any upload", "session", id)
	monitor.NoDocuments(id)
	result := core.NewQueryResult(NoDocumentsAnswer, nil)
	monitor.Finish(result)
	return result
}

func (p *Pipeline) embed(ctx context.Context, question string) ([]float32, error) {
	var vector []float32
	err := ai.RetryWithBackoff(ctx, func() error {
		v, err := p.embedder.EmbedText(ctx, question)
		if err != nil {
			p.logger.Warn("error generating embedding for question", "err", err)
			return err
		}
		if len(v) == 0 {
			return ErrEmptyEmbedding
		}
		vector = v
		return nil
	}, p.maxAttempts, p.retryDelay)
	return vector, err
}

func (p *Pipeline) generate(ctx context.Context, prompt string) (string, error) {
	return generateWithRetry(ctx, p.generator, prompt, p.maxAttempts, p.retryDelay, p.logger)
}

func (p *Pipeline) fail(id core.SessionID, stage string, err error) error {
	if errors.Is(err, core.ErrClientInput) {
		return err
	}
	p.logger.Error("query failed", "session", id, "stage", stage, "err", err)
	return fmt.Errorf("%w: %s: %w", core.ErrRetrieval, stage, err)
}

// sources attributes each retrieved chunk, in rank order. Chunks from the
// same file each get their own entry.
func sources(hits []core.ScoredChunk) []core.Source {
	out := make([]core.Source, len(hits))
	for i, hit := range hits {
		out[i] = core.Source{
			Filename: hit.Chunk.Filename(),
			Ordinal:  hit.Chunk.Ordinal,
			Score:    hit.Score,
		}
	}
	return out
}

// generateWithRetry runs one generation, retrying failed calls, and returns
// the reply without surrounding whitespace.
func generateWithRetry(ctx context.Context, generator ai.Generator, prompt string, maxAttempts int, delay time.Duration, logger *slog.Logger) (string, error) {
	var answer string
	err := ai.RetryWithBackoff(ctx, func() error {
		reply, err := generator.Generate(ctx, prompt)
		if err != nil {
			logger.Warn("error generating text", "err", err)
			return err
		}
		answer = strings.TrimSpace(reply)
		return nil
	}, maxAttempts, delay)
	return answer, err
}
