package index

import (
	"fmt"
	"testing"

	"github.com/poiesic/docqa/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunk(text string, vector ...float32) *core.Chunk {
	return &core.Chunk{
		Id:       core.IDFromContent(text),
		Source:   "doc.txt",
		Text:     text,
		Vector:   vector,
		Metadata: map[string]string{core.MetadataFilename: "doc.txt"},
	}
}

func TestStore_Empty(t *testing.T) {
	s := New()

	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0, s.Dimension())

	results, err := s.Search([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.NotNil(t, results)
}

func TestStore_Append(t *testing.T) {
	t.Run("first chunk fixes the dimension", func(t *testing.T) {
		s := New()
		require.NoError(t, s.Append(chunk("a", 1, 0, 0)))

		assert.Equal(t, 1, s.Len())
		assert.Equal(t, 3, s.Dimension())
	})

	t.Run("mismatched dimension rejects the whole batch", func(t *testing.T) {
		s := New()
		require.NoError(t, s.Append(chunk("a", 1, 0)))

		err := s.Append(chunk("b", 0, 1), chunk("c", 1, 1, 1))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
		assert.Equal(t, 1, s.Len())
	})

	t.Run("mixed dimensions within an empty store", func(t *testing.T) {
		s := New()

		err := s.Append(chunk("a", 1, 0), chunk("b", 1, 0, 0))
		require.ErrorIs(t, err, ErrDimensionMismatch)
		assert.Equal(t, 0, s.Len())
		assert.Equal(t, 0, s.Dimension())
	})

	t.Run("invalid chunk rejects the whole batch", func(t *testing.T) {
		s := New()

		err := s.Append(chunk("a", 1, 0), &core.Chunk{Text: "no vector"})
		require.ErrorIs(t, err, core.ErrInvalidChunk)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("insertion order is kept", func(t *testing.T) {
		s := New()
		require.NoError(t, s.Append(chunk("a", 1), chunk("b", 1)))
		require.NoError(t, s.Append(chunk("c", 1)))

		var texts []string
		for _, c := range s.Chunks() {
			texts = append(texts, c.Text)
		}
		assert.Equal(t, []string{"a", "b", "c"}, texts)
	})
}

func TestStore_Clone(t *testing.T) {
	s := New()
	require.NoError(t, s.Append(chunk("a", 1, 0)))

	clone := s.Clone()
	require.NoError(t, clone.Append(chunk("b", 0, 1)))

	assert.Equal(t, 1, s.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestStore_Search(t *testing.T) {
	s := New()
	require.NoError(t, s.Append(
		chunk("east", 1, 0),
		chunk("north", 0, 1),
		chunk("north-east", 1, 1),
		chunk("west", -1, 0),
	))

	t.Run("ranks by cosine similarity", func(t *testing.T) {
		results, err := s.Search([]float32{0.1, 1}, 2)
		require.NoError(t, err)
		require.Len(t, results, 2)

		assert.Equal(t, "north", results[0].Chunk.Text)
		assert.Equal(t, "north-east", results[1].Chunk.Text)
		assert.Greater(t, results[0].Score, results[1].Score)
	})

	t.Run("k larger than store", func(t *testing.T) {
		results, err := s.Search([]float32{1, 0}, 10)
		require.NoError(t, err)
		assert.Len(t, results, 4)
		assert.Equal(t, "west", results[3].Chunk.Text)
	})

	t.Run("non-positive k uses default", func(t *testing.T) {
		results, err := s.Search([]float32{1, 0}, 0)
		require.NoError(t, err)
		assert.Len(t, results, 4)
	})

	t.Run("query dimension mismatch", func(t *testing.T) {
		_, err := s.Search([]float32{1, 0, 0}, 2)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestStore_SearchTiesKeepInsertionOrder(t *testing.T) {
	s := New()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(chunk(fmt.Sprintf("same-%d", i), 1, 1)))
	}

	for run := 0; run < 5; run++ {
		results, err := s.Search([]float32{1, 1}, 5)
		require.NoError(t, err)
		require.Len(t, results, 5)
		for i, r := range results {
			assert.Equal(t, fmt.Sprintf("same-%d", i), r.Chunk.Text)
			assert.Equal(t, i, r.Position)
		}
	}
}

func TestFromChunks(t *testing.T) {
	chunks := []*core.Chunk{chunk("a", 1, 0), chunk("b", 0, 1)}

	t.Run("restores chunks and marker timestamps", func(t *testing.T) {
		original := New()
		require.NoError(t, original.Append(chunks...))
		marker := original.Marker("s1")

		s, err := FromChunks(marker, chunks)
		require.NoError(t, err)
		assert.Equal(t, 2, s.Len())
		assert.Equal(t, 2, s.Dimension())
		assert.Equal(t, marker, s.Marker("s1"))
	})

	t.Run("count mismatch", func(t *testing.T) {
		_, err := FromChunks(&core.StoreMarker{ChunkCount: 3, Dimension: 2}, chunks)
		assert.Error(t, err)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := FromChunks(&core.StoreMarker{ChunkCount: 2, Dimension: 3}, chunks)
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})

	t.Run("without marker", func(t *testing.T) {
		s, err := FromChunks(nil, chunks)
		require.NoError(t, err)
		assert.Equal(t, 2, s.Len())
	})
}
