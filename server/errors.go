package server

import "errors"

var (
	// ErrIngesterRequired is returned when an ingester is not provided.
	ErrIngesterRequired = errors.New("ingester required")

	// ErrQuerierRequired is returned when a querier is not provided.
	ErrQuerierRequired = errors.New("querier required")

	// ErrRewriterRequired is returned when a rewriter is not provided.
	ErrRewriterRequired = errors.New("rewriter required")

	// ErrSessionsRequired is returned when a session deleter is not provided.
	ErrSessionsRequired = errors.New("session deleter required")
)
