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


package reembed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/index"
	"github.com/poiesic/docqa/session"
	"github.com/poiesic/docqa/storage"
)

const (
	// DefaultBatchSize is the default number of chunks embedded per request
	DefaultBatchSize = 100

	// DefaultReportInterval is how many chunks pass between progress lines
	DefaultReportInterval = 100
)

// Report summarizes a reembedding run.
type Report struct {
	Sessions int // Sessions whose store was replaced
	Skipped  int // Sessions with no chunks
	Chunks   int // Chunks re-embedded
	Elapsed  time.Duration
}

// Reembedder rebuilds the vectors of stored sessions.
type Reembedder struct {
	manager        *session.Manager
	processor      *batchProcessor
	batchSize      int
	reportInterval int
	progress       io.Writer
	logger         *slog.Logger
}

// Option configures a Reembedder.
type Option func(*Reembedder) error

// WithBatchSize sets the number of chunks embedded per request.
// Default is 100.
func WithBatchSize(size int) Option {
	return func(r *Reembedder) error {
		if size < 1 {
			return fmt.Errorf("batch size must be at least 1, got %d", size)
		}
		r.batchSize = size
		return nil
	}
}

// WithRetry sets the attempts and base delay for embedding calls.
// Default is 3 attempts with a 1s base delay.
func WithRetry(maxAttempts int, delay time.Duration) Option {
	return func(r *Reembedder) error {
		if maxAttempts <= 0 {
			return ai.ErrInvalidMaxAttempts
		}
		r.processor.maxAttempts = maxAttempts
		r.processor.retryDelay = delay
		return nil
	}
}

// WithProgress writes progress lines to w, typically os.Stderr.
// Default is no progress output.
func WithProgress(w io.Writer, reportInterval int) Option {
	return func(r *Reembedder) error {
		r.progress = w
		r.reportInterval = reportInterval
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reembedder) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// New creates a reembedder that writes vectors from embedder into the
// sessions held by manager.
func New(manager *session.Manager, embedder ai.Embedder, opts ...Option) (*Reembedder, error) {
	if manager == nil {
		return nil, ErrSessionManagerRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Reembedder{
		manager: manager,
		processor: &batchProcessor{
			embedder:    embedder,
			maxAttempts: 3,
			retryDelay:  time.Second,
		},
		batchSize:      DefaultBatchSize,
		reportInterval: DefaultReportInterval,
		progress:       io.Discard,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	r.logger = r.logger.With("component", "reembed")
	r.processor.logger = r.logger
	return r, nil
}

// Run re-embeds the given sessions, or every stored session when none are
// given. Sessions are processed one at a time; the first failure stops the
// run and leaves the failing session unchanged. Naming a session that is
// not stored is a client input error and nothing is re-embedded.
func (r *Reembedder) Run(ctx context.Context, ids ...core.SessionID) (*Report, error) {
	if len(ids) == 0 {
		var err error
		ids, err = r.manager.Sessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
	} else {
		for _, id := range ids {
			found, err := r.manager.Exists(ctx, id)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, fmt.Errorf("%w: session %s: %w", core.ErrClientInput, id, storage.ErrNotFound)
			}
		}
	}

	total := 0
	for _, id := range ids {
		handle, err := r.manager.GetOrCreate(ctx, id)
		if err != nil {
			return nil, err
		}
		total += handle.Len()
	}

	report := &Report{}
	if total == 0 {
		report.Skipped = len(ids)
		r.logger.Info("no chunks to re-embed", "sessions", len(ids))
		return report, nil
	}

	fmt.Fprintf(r.progress, "Re-embedding %d chunks in %d sessions (batch size: %d)\n", total, len(ids), r.batchSize)
	tracker := NewProgressTracker(r.progress, total, r.reportInterval)
	tracker.Start()

	for _, id := range ids {
		n, err := r.reembedSession(ctx, id, tracker)
		if err != nil {
			return report, fmt.Errorf("re-embedding session %s: %w", id, err)
		}
		if n == 0 {
			report.Skipped++
			continue
		}
		report.Sessions++
		report.Chunks += n
	}

	tracker.Finish()
	report.Elapsed = tracker.Elapsed()
	r.logger.Info("reembedding complete",
		"sessions", report.Sessions, "skipped", report.Skipped, "chunks", report.Chunks,
		"elapsed", report.Elapsed.Round(time.Millisecond))
	return report, nil
}

var errNothingToDo = errors.New("session has no chunks")

// reembedSession replaces one session's store with re-embedded copies of its
// chunks and returns how many there were.
func (r *Reembedder) reembedSession(ctx context.Context, id core.SessionID, tracker *ProgressTracker) (int, error) {
	count := 0
	err := r.manager.Replace(ctx, id, func(current *index.Store) (*index.Store, error) {
		chunks := current.Chunks()
		if len(chunks) == 0 {
			return nil, errNothingToDo
		}

		next := make([]*core.Chunk, 0, len(chunks))
		err := forEachBatch(ctx, chunks, r.batchSize, func(offset int, batch []*core.Chunk) error {
			embedded, err := r.processor.process(ctx, batch)
			if err != nil {
				return fmt.Errorf("batch at chunk %d: %w", offset, err)
			}
			next = append(next, embedded...)
			tracker.Add(len(batch))
			return nil
		})
		if err != nil {
			return nil, err
		}

		marker := current.Marker(id)
		marker.Dimension = len(next[0].Vector)
		marker.UpdatedAt = time.Now().UTC()
		store, err := index.FromChunks(marker, next)
		if err != nil {
			return nil, err
		}
		count = store.Len()
		return store, nil
	})
	if errors.Is(err, errNothingToDo) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	r.logger.Debug("session re-embedded", "session", id, "chunks", count)
	return count, nil
}
