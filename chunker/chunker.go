package chunker

import (
	"strings"
	"unicode"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 0

// Chunker splits text into ordered, non-empty passages.
type Chunker interface {
	Split(text string) []string
}

// Window splits text into windows of at most chunkSize characters.
// A window ends at the last whitespace in its final fifth when there is one,
// so words are rarely cut in half. Sizes count runes, not bytes.
type Window struct {
	chunkSize int
	overlap   int
}

var _ Chunker = (*Window)(nil)

// Option configures a Window chunker.
type Option func(*Window)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(w *Window) {
		if size > 0 {
			w.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(w *Window) {
		if overlap >= 0 {
			w.overlap = overlap
		}
	}
}

// New creates a window chunker with the given options.
func New(opts ...Option) *Window {
	w := &Window{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(w)
	}

	// Ensure overlap doesn't exceed chunk size
	if w.overlap >= w.chunkSize {
		w.overlap = w.chunkSize / 4
	}
	return w
}

// ChunkSize returns the configured chunk size.
func (w *Window) ChunkSize() int {
	return w.chunkSize
}

// Overlap returns the configured overlap.
func (w *Window) Overlap() int {
	return w.overlap
}

// Split returns the passages of text in document order.
// Passages are trimmed; whitespace-only text yields none.
func (w *Window) Split(text string) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 {
		return nil
	}

	chunks := make([]string, 0, len(runes)/w.chunkSize+1)
	start := 0
	for start < len(runes) {
		end := start + w.chunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = breakPoint(runes, start, end)
		}

		if passage := strings.TrimSpace(string(runes[start:end])); passage != "" {
			chunks = append(chunks, passage)
		}
		if end == len(runes) {
			break
		}

		next := end - w.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint moves end back to just after the last whitespace in the final
// fifth of the window, or leaves it unchanged when there is none.
func breakPoint(runes []rune, start, end int) int {
	floor := end - (end-start)/5
	for i := end; i > floor; i-- {
		if unicode.IsSpace(runes[i-1]) {
			return i
		}
	}
	return end
}
