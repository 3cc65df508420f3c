package session

import "errors"

// ErrRepositoryRequired indicates that a session repository is required but was not provided.
var ErrRepositoryRequired = errors.New("session repository is required")
