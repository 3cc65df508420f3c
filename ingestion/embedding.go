package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docqa/ai"
)

// batchEmbedder embeds texts in fixed-size batches on a worker pool.
type batchEmbedder struct {
	embedder    ai.Embedder
	pool        *ants.Pool
	batchSize   int
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// embedAll returns one vector per text, in input order.
// The first failing batch cancels the rest; the result is all or nothing.
func (be *batchEmbedder) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := (len(texts) + be.batchSize - 1) / be.batchSize
	vectors := make([][]float32, len(texts))
	errs := make([]error, batches)

	be.logger.Debug("embedding passages", "passages", len(texts), "batches", batches)

	var wg sync.WaitGroup
	for b := 0; b < batches; b++ {
		start := b * be.batchSize
		end := min(start+be.batchSize, len(texts))

		wg.Add(1)
		err := be.pool.Submit(func() {
			defer wg.Done()
			if err := be.embedBatch(ctx, texts[start:end], vectors[start:end]); err != nil {
				errs[b] = fmt.Errorf("batch %d: %w", b, err)
				cancel()
			}
		})
		if err != nil {
			wg.Done()
			errs[b] = fmt.Errorf("submitting batch %d: %w", b, err)
			cancel()
			break
		}
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return vectors, nil
}

// embedBatch embeds one batch into out, retrying failed calls.
func (be *batchEmbedder) embedBatch(ctx context.Context, texts []string, out [][]float32) error {
	return ai.RetryWithBackoff(ctx, func() error {
		embeddings, err := be.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			be.logger.Warn("error generating embeddings", "passages", len(texts), "err", err)
			return err
		}
		if len(embeddings) != len(texts) {
			return fmt.Errorf("%w: expected %d, received %d", ErrEmbeddingMismatch, len(texts), len(embeddings))
		}
		for i, vector := range embeddings {
			if len(vector) == 0 {
				return fmt.Errorf("%w: passage %d", ErrEmptyEmbedding, i)
			}
		}
		copy(out, embeddings)
		return nil
	}, be.maxAttempts, be.retryDelay)
}
