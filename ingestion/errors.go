package ingestion

import "errors"

var (
	// ErrSessionManagerRequired is returned when a session manager is not provided.
	ErrSessionManagerRequired = errors.New("session manager required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEmbeddingMismatch is returned when the embedder returns a different
	// number of vectors than texts it was given.
	ErrEmbeddingMismatch = errors.New("embedding result mismatch")

	// ErrEmptyEmbedding is returned when the embedder returns an empty vector.
	ErrEmptyEmbedding = errors.New("embedder returned an empty vector")

	// ErrNoText is returned when a document has no text to index.
	ErrNoText = errors.New("document contains no text")
)
