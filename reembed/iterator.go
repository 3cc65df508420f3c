package reembed

import (
	"context"

	"github.com/poiesic/docqa/core"
)

// forEachBatch calls fn with consecutive batches of at most size chunks.
// Iteration stops on the first error from fn or when ctx is done.
func forEachBatch(ctx context.Context, chunks []*core.Chunk, size int, fn func(offset int, batch []*core.Chunk) error) error {
	if size < 1 {
		size = DefaultBatchSize
	}
	for start := 0; start < len(chunks); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(chunks))
		if err := fn(start, chunks[start:end]); err != nil {
			return err
		}
	}
	return nil
}
