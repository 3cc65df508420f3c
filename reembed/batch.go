package reembed

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/index"
)

// batchProcessor embeds batches of chunk text.
type batchProcessor struct {
	embedder    ai.Embedder
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// process returns copies of chunks carrying fresh, normalized vectors.
// The input chunks are not modified.
func (bp *batchProcessor) process(ctx context.Context, chunks []*core.Chunk) ([]*core.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	var embeddings [][]float32
	err := ai.RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			bp.logger.Warn("error generating embeddings", "chunks", len(texts), "err", err)
			return err
		}
		if len(embeddings) != len(texts) {
			return fmt.Errorf("%w: expected %d, received %d", ErrEmbeddingMismatch, len(texts), len(embeddings))
		}
		return nil
	}, bp.maxAttempts, bp.retryDelay)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.maxAttempts, err)
	}

	out := make([]*core.Chunk, len(chunks))
	for i, chunk := range chunks {
		if len(embeddings[i]) == 0 {
			return nil, fmt.Errorf("%w: chunk %d", ErrEmptyEmbedding, chunk.Id)
		}
		next := *chunk
		next.Vector = index.NormalizeVector(embeddings[i])
		next.Metadata = maps.Clone(chunk.Metadata)
		out[i] = &next
	}
	return out, nil
}
