package badger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// ErrConcurrentWrite is returned when a session's marker changed while its
// chunks were being written.
var ErrConcurrentWrite = errors.New("session changed during write")

// SessionRepository implements storage.SessionRepository for BadgerDB.
//
// Chunks are written in batches that may span several badger transactions,
// so a session of any size fits. They only become visible when a final
// transaction writes the marker: Load reads the marker's generation and
// exactly ChunkCount chunks from it, so staged chunks of a write that never
// reached its marker are ignored and later purged.
type SessionRepository struct {
	backend *Backend
}

var _ storage.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new SessionRepository on an open backend.
// The backend stays owned by the caller.
func NewSessionRepository(backend *Backend) (storage.SessionRepository, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	return &SessionRepository{backend: backend}, nil
}

// Close is a no-op; the backend is closed by its owner.
func (r *SessionRepository) Close() error {
	return nil
}

// sessionState is the committed state of a session.
type sessionState struct {
	marker     *core.StoreMarker // nil when the session does not exist
	generation uint64
}

// Load retrieves the marker and all chunks of a session in insertion order.
func (r *SessionRepository) Load(ctx context.Context, session core.SessionID) (*core.StoreMarker, []*core.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var marker *core.StoreMarker
	var chunks []*core.Chunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		state, err := readState(tx, session)
		if err != nil {
			return err
		}
		if state.marker == nil {
			return storage.ErrNotFound
		}
		marker = state.marker

		chunks = make([]*core.Chunk, 0, marker.ChunkCount)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeGenerationPrefix(session, state.generation)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid() && len(chunks) < marker.ChunkCount; iter.Next() {
			item := iter.Item()
			if _, position, ok := parseChunkKey(session, item.Key()); !ok || position != len(chunks) {
				break
			}
			err := item.Value(func(val []byte) error {
				chunk, err := storage.UnmarshalChunk(val)
				if err != nil {
					return err
				}
				chunks = append(chunks, chunk)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, nil, err
	}

	if len(chunks) != marker.ChunkCount {
		return nil, nil, fmt.Errorf("%w: %w: marker records %d chunks, found %d",
			storage.ErrCorruptStore, storage.ErrMarkerMismatch, marker.ChunkCount, len(chunks))
	}
	return marker, chunks, nil
}

// Append stores chunks after the ones already persisted and replaces the marker.
func (r *SessionRepository) Append(ctx context.Context, marker *core.StoreMarker, chunks []*core.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	state, err := r.state(marker.Session)
	if err != nil {
		return err
	}
	start := 0
	if state.marker != nil {
		start = state.marker.ChunkCount
	}
	if marker.ChunkCount != start+len(chunks) {
		return fmt.Errorf("%w: %d stored + %d new != %d",
			storage.ErrMarkerMismatch, start, len(chunks), marker.ChunkCount)
	}

	if err := r.stage(ctx, marker.Session, state.generation, start, chunks); err != nil {
		return err
	}
	return r.publish(state, marker, state.generation)
}

// Save replaces every chunk of the session and its marker.
// The new chunks are written under a fresh generation, so the previous ones
// stay readable until the marker switches over.
func (r *SessionRepository) Save(ctx context.Context, marker *core.StoreMarker, chunks []*core.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if marker.ChunkCount != len(chunks) {
		return fmt.Errorf("%w: marker records %d chunks, got %d",
			storage.ErrMarkerMismatch, marker.ChunkCount, len(chunks))
	}

	state, err := r.state(marker.Session)
	if err != nil {
		return err
	}
	generation := state.generation + 1

	if err := r.stage(ctx, marker.Session, generation, 0, chunks); err != nil {
		return err
	}
	if err := r.publish(state, marker, generation); err != nil {
		return err
	}

	r.purge(marker.Session, func(g uint64, position int) bool {
		return g == generation && position < marker.ChunkCount
	})
	return nil
}

// Exists reports whether a marker is stored for the session.
func (r *SessionRepository) Exists(ctx context.Context, session core.SessionID) (bool, error) {
	found := false
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get(makeMarkerKey(session))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return nil
	}, false)
	return found, err
}

// Delete removes the marker and every chunk of the session.
func (r *SessionRepository) Delete(ctx context.Context, session core.SessionID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeMarkerKey(session)
		if _, err := tx.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		if err := tx.Delete(makeGenerationKey(session)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return err
	}

	r.purge(session, func(uint64, int) bool { return false })
	return nil
}

// List returns all persisted session identifiers in ascending order.
func (r *SessionRepository) List(ctx context.Context) ([]core.SessionID, error) {
	sessions := make([]core.SessionID, 0)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeMarkerScanPrefix()
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if session, ok := sessionFromMarkerKey(iter.Item().Key()); ok {
				sessions = append(sessions, session)
			}
		}
		return nil
	}, false)
	return sessions, err
}

// state reads the committed state of a session.
func (r *SessionRepository) state(session core.SessionID) (*sessionState, error) {
	var state *sessionState
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		state, err = readState(tx, session)
		return err
	}, false)
	return state, err
}

// stage writes chunks at consecutive positions of a generation. The writes
// are invisible until publish.
func (r *SessionRepository) stage(ctx context.Context, session core.SessionID, generation uint64, start int, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	err := r.backend.WithBatch(func(wb *badger.WriteBatch) error {
		for i, chunk := range chunks {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := wb.Set(makeChunkKey(session, generation, start+i), storage.MarshalChunk(chunk)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing chunks of session %s: %w", session, err)
	}
	return nil
}

// publish makes staged chunks visible by writing the marker and generation
// in one transaction. It fails if the session changed since base was read.
func (r *SessionRepository) publish(base *sessionState, marker *core.StoreMarker, generation uint64) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		current, err := readState(tx, marker.Session)
		if err != nil {
			return err
		}
		if !sameState(base, current) {
			return fmt.Errorf("%w: %s", ErrConcurrentWrite, marker.Session)
		}
		if err := tx.Set(makeMarkerKey(marker.Session), storage.MarshalMarker(marker)); err != nil {
			return err
		}
		if err := tx.Set(makeGenerationKey(marker.Session), binary.BigEndian.AppendUint64(nil, generation)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// purge deletes the chunk keys of a session that live does not report as
// part of the committed state. Leftovers are harmless, so failures are
// logged rather than returned.
func (r *SessionRepository) purge(session core.SessionID, live func(generation uint64, position int) bool) {
	var keys [][]byte
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkPrefix(session)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().Key()
			generation, position, ok := parseChunkKey(session, key)
			if ok && live(generation, position) {
				continue
			}
			keys = append(keys, iter.Item().KeyCopy(nil))
		}
		return nil
	}, false)
	if err == nil && len(keys) > 0 {
		err = r.backend.WithBatch(func(wb *badger.WriteBatch) error {
			for _, key := range keys {
				if err := wb.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err != nil {
		r.backend.logger.Warn("purging stale chunks failed", "session", session, "keys", len(keys), "err", err)
	}
}

// readState reads a session's marker and chunk generation.
func readState(tx *badger.Txn, session core.SessionID) (*sessionState, error) {
	state := &sessionState{}

	item, err := tx.Get(makeMarkerKey(session))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return state, nil
	case err != nil:
		return nil, err
	}
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		state.marker, unmarshalErr = storage.UnmarshalMarker(val)
		return unmarshalErr
	})
	if err != nil {
		return nil, err
	}

	item, err = tx.Get(makeGenerationKey(session))
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return state, nil
	case err != nil:
		return nil, err
	}
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("%w: generation of %d bytes", storage.ErrCorruptStore, len(val))
		}
		state.generation = binary.BigEndian.Uint64(val)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func sameState(a, b *sessionState) bool {
	if a.generation != b.generation || (a.marker == nil) != (b.marker == nil) {
		return false
	}
	return a.marker == nil || a.marker.ChunkCount == b.marker.ChunkCount
}
