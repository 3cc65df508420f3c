package storage

import (
	"testing"
	"time"

	"github.com/poiesic/docqa/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkEncoding(t *testing.T) {
	created := time.Date(2025, 3, 1, 12, 30, 0, 123000, time.UTC)
	chunk := &core.Chunk{
		Id:        core.ChunkID("s1", "doc.txt#1", 2, "hello world"),
		Source:    "doc.txt",
		Ordinal:   2,
		Text:      "hello world",
		Vector:    []float32{0.25, -1.5, 3},
		Metadata:  map[string]string{core.MetadataFilename: "doc.txt", "page": "4"},
		CreatedAt: created,
	}

	decoded, err := UnmarshalChunk(MarshalChunk(chunk))
	require.NoError(t, err)
	assert.Equal(t, chunk, decoded)
}

func TestChunkEncodingIsDeterministic(t *testing.T) {
	chunk := &core.Chunk{
		Text:     "x",
		Vector:   []float32{1},
		Metadata: map[string]string{"a": "1", "b": "2", "c": "3", "d": "4"},
	}
	first := MarshalChunk(chunk)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, MarshalChunk(chunk))
	}
}

func TestMarkerEncoding(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	marker := &core.StoreMarker{
		Session:    "s1",
		ChunkCount: 7,
		Dimension:  384,
		CreatedAt:  now,
		UpdatedAt:  now.Add(time.Minute),
	}

	decoded, err := UnmarshalMarker(MarshalMarker(marker))
	require.NoError(t, err)
	assert.Equal(t, marker, decoded)
}

func TestCorruptData(t *testing.T) {
	valid := MarshalChunk(&core.Chunk{Text: "hello", Vector: []float32{1, 2}})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"unknown version", append([]byte{99}, valid[1:]...)},
		{"truncated", valid[:len(valid)-3]},
		{"trailing bytes", append(append([]byte{}, valid...), 0, 0)},
		{"garbage", []byte{encodingVersion, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalChunk(tt.data)
			assert.ErrorIs(t, err, ErrCorruptStore)

			_, err = UnmarshalMarker(tt.data)
			assert.ErrorIs(t, err, ErrCorruptStore)
		})
	}
}
