package storage

import (
	"context"

	"github.com/poiesic/docqa/core"
)

// SessionRepository persists the chunk store of each session.
//
// A session exists in storage once its marker has been saved, even with zero
// chunks. Chunks are stored in insertion order and read back in that order.
type SessionRepository interface {
	// Load returns the marker and chunks of a session.
	// Returns ErrNotFound if no marker exists for the session.
	// Returns an error wrapping ErrCorruptStore if persisted data cannot be decoded.
	Load(ctx context.Context, session core.SessionID) (*core.StoreMarker, []*core.Chunk, error)

	// Append writes chunks after the ones already stored and replaces the marker,
	// in a single transaction. The marker's ChunkCount must equal the number of
	// stored chunks after the append.
	Append(ctx context.Context, marker *core.StoreMarker, chunks []*core.Chunk) error

	// Save replaces the whole persisted state of a session in a single transaction.
	Save(ctx context.Context, marker *core.StoreMarker, chunks []*core.Chunk) error

	// Exists reports whether a marker is stored for the session.
	Exists(ctx context.Context, session core.SessionID) (bool, error)

	// Delete removes the marker and every chunk of the session.
	// Returns ErrNotFound if the session does not exist.
	Delete(ctx context.Context, session core.SessionID) error

	// List returns the identifiers of all persisted sessions in ascending order.
	List(ctx context.Context) ([]core.SessionID, error)

	// Close releases resources held by the repository.
	Close() error
}
