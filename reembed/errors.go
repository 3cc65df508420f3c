package reembed

import "errors"

var (
	// ErrSessionManagerRequired is returned when no session manager is given
	ErrSessionManagerRequired = errors.New("session manager is required")

	// ErrEmbedderRequired is returned when no embedder is given
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrEmbeddingMismatch is returned when the embedder returns the wrong number of vectors
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")

	// ErrEmptyEmbedding is returned when the embedder returns an empty vector
	ErrEmptyEmbedding = errors.New("embedder returned an empty vector")
)
