package query

import "errors"

var (
	// ErrSessionManagerRequired is returned when a session manager is not provided.
	ErrSessionManagerRequired = errors.New("session manager required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrGeneratorRequired is returned when a generator is not provided.
	ErrGeneratorRequired = errors.New("generator required")

	// ErrEmptyAnswer is returned when a rewrite is requested without an answer.
	ErrEmptyAnswer = errors.New("answer cannot be empty")

	// ErrEmptyStyle is returned when a rewrite is requested without a style.
	ErrEmptyStyle = errors.New("style cannot be empty")

	// ErrEmptyEmbedding is returned when the embedder returns no vector for a question.
	ErrEmptyEmbedding = errors.New("embedder returned an empty vector")
)
