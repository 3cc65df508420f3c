package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		w := New()
		assert.Equal(t, DefaultChunkSize, w.ChunkSize())
		assert.Equal(t, DefaultChunkOverlap, w.Overlap())
	})

	t.Run("invalid values are ignored", func(t *testing.T) {
		w := New(WithChunkSize(0), WithOverlap(-3))
		assert.Equal(t, DefaultChunkSize, w.ChunkSize())
		assert.Equal(t, DefaultChunkOverlap, w.Overlap())
	})

	t.Run("overlap is capped", func(t *testing.T) {
		w := New(WithChunkSize(100), WithOverlap(100))
		assert.Equal(t, 25, w.Overlap())
	})
}

func TestWindowSplit(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		text string
		want []string
	}{
		{"empty", nil, "", nil},
		{"whitespace only", nil, " \n\t ", nil},
		{"short text is one chunk", nil, "  hello world \n", []string{"hello world"}},
		{"hard split", []Option{WithChunkSize(10)}, "aaaaaaaaaabbbbbbbbbb", []string{"aaaaaaaaaa", "bbbbbbbbbb"}},
		{"breaks at whitespace", []Option{WithChunkSize(10)}, "abcdefgh ijklmnop", []string{"abcdefgh", "ijklmnop"}},
		{"multibyte runes", []Option{WithChunkSize(3)}, "äöüßéè", []string{"äöü", "ßéè"}},
		{"overlap", []Option{WithChunkSize(4), WithOverlap(2)}, "abcdefgh", []string{"abcd", "cdef", "efgh"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.opts...).Split(tt.text))
		})
	}
}

func TestWindowSplitCoversText(t *testing.T) {
	text := strings.Repeat("x", 2500)
	chunks := New().Split(text)

	assert.Len(t, chunks, 3)
	assert.Equal(t, text, strings.Join(chunks, ""))
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), DefaultChunkSize)
	}
}

func TestWindowSplitIsDeterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	w := New(WithChunkSize(120), WithOverlap(20))
	assert.Equal(t, w.Split(text), w.Split(text))
}
