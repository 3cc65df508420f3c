package reembed

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/docqa/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeChunks(n int) []*core.Chunk {
	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		chunks[i] = &core.Chunk{
			Id:      core.ID(i + 1),
			Source:  "doc.txt",
			Ordinal: i,
			Text:    "passage " + string(rune('a'+i)),
			Vector:  []float32{1, 0},
		}
	}
	return chunks
}

func TestForEachBatch(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		chunks  int
		size    int
		batches []int
	}{
		{"even split", 4, 2, []int{2, 2}},
		{"remainder", 5, 2, []int{2, 2, 1}},
		{"single batch", 3, 10, []int{3}},
		{"empty", 0, 2, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sizes []int
			var offsets []int
			err := forEachBatch(ctx, makeChunks(tt.chunks), tt.size, func(offset int, batch []*core.Chunk) error {
				sizes = append(sizes, len(batch))
				offsets = append(offsets, offset)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.batches, sizes)
			for i, offset := range offsets {
				assert.Equal(t, i*tt.size, offset)
			}
		})
	}

	t.Run("stops on error", func(t *testing.T) {
		calls := 0
		boom := errors.New("boom")
		err := forEachBatch(ctx, makeChunks(6), 2, func(int, []*core.Chunk) error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("stops when cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := forEachBatch(ctx, makeChunks(6), 2, func(int, []*core.Chunk) error {
			calls++
			cancel()
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	})
}
