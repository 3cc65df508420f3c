package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// SessionRepository implements storage.SessionRepository on SQLite.
type SessionRepository struct {
	db *DB
}

var _ storage.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a SessionRepository on an open database.
// Close on the repository closes the database.
func NewSessionRepository(db *DB) (storage.SessionRepository, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	return &SessionRepository{db: db}, nil
}

// NewMemoryRepository creates a repository backed by an in-memory database.
func NewMemoryRepository() (storage.SessionRepository, error) {
	db, err := OpenInMemory()
	if err != nil {
		return nil, err
	}
	return &SessionRepository{db: db}, nil
}

// Close closes the underlying database.
func (r *SessionRepository) Close() error {
	return r.db.Close()
}

// Load retrieves the marker and all chunks of a session in insertion order.
func (r *SessionRepository) Load(ctx context.Context, session core.SessionID) (*core.StoreMarker, []*core.Chunk, error) {
	var marker *core.StoreMarker
	var chunks []*core.Chunk

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		marker, err = readMarker(ctx, tx, session)
		if err != nil {
			return err
		}
		if marker == nil {
			return storage.ErrNotFound
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT chunk_id, source, ordinal, text, vector, metadata, created_at
			FROM chunks WHERE session_id = ? ORDER BY position`, string(session))
		if err != nil {
			return fmt.Errorf("querying chunks: %w", err)
		}
		defer rows.Close()

		chunks = make([]*core.Chunk, 0, marker.ChunkCount)
		for rows.Next() {
			chunk, err := scanChunk(rows)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
		}
		return rows.Err()
	})
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
	return r.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := readMarker(ctx, tx, marker.Session)
		if err != nil {
			return err
		}
		start := 0
		if existing != nil {
			start = existing.ChunkCount
		}
		if marker.ChunkCount != start+len(chunks) {
			return fmt.Errorf("%w: %d stored + %d new != %d",
				storage.ErrMarkerMismatch, start, len(chunks), marker.ChunkCount)
		}

		if err := writeMarker(ctx, tx, marker); err != nil {
			return err
		}
		return writeChunks(ctx, tx, marker.Session, start, chunks)
	})
}

// Save replaces every chunk of the session and its marker.
func (r *SessionRepository) Save(ctx context.Context, marker *core.StoreMarker, chunks []*core.Chunk) error {
	if marker.ChunkCount != len(chunks) {
		return fmt.Errorf("%w: marker records %d chunks, got %d",
			storage.ErrMarkerMismatch, marker.ChunkCount, len(chunks))
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE session_id = ?`, string(marker.Session)); err != nil {
			return fmt.Errorf("clearing chunks: %w", err)
		}
		if err := writeMarker(ctx, tx, marker); err != nil {
			return err
		}
		return writeChunks(ctx, tx, marker.Session, 0, chunks)
	})
}

// Exists reports whether a marker is stored for the session.
func (r *SessionRepository) Exists(ctx context.Context, session core.SessionID) (bool, error) {
	if r.db.IsClosed() {
		return false, storage.ErrStorageClosed
	}
	var n int
	err := r.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE id = ?`, string(session)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	return n > 0, nil
}

// Delete removes the marker and every chunk of the session.
func (r *SessionRepository) Delete(ctx context.Context, session core.SessionID) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE session_id = ?`, string(session)); err != nil {
			return fmt.Errorf("deleting chunks: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, string(session))
		if err != nil {
			return fmt.Errorf("deleting session: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

// List returns all persisted session identifiers in ascending order.
func (r *SessionRepository) List(ctx context.Context) ([]core.SessionID, error) {
	if r.db.IsClosed() {
		return nil, storage.ErrStorageClosed
	}
	rows, err := r.db.conn.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]core.SessionID, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		sessions = append(sessions, core.SessionID(id))
	}
	return sessions, rows.Err()
}

// withTx runs fn in a transaction, committing when it returns nil.
func (r *SessionRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if r.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func readMarker(ctx context.Context, tx *sql.Tx, session core.SessionID) (*core.StoreMarker, error) {
	var count, dimension int
	var created, updated int64
	err := tx.QueryRowContext(ctx, `
		SELECT chunk_count, dimension, created_at, updated_at
		FROM sessions WHERE id = ?`, string(session)).Scan(&count, &dimension, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading marker: %w", err)
	}
	if count < 0 || dimension < 0 {
		return nil, fmt.Errorf("%w: negative count or dimension", storage.ErrCorruptStore)
	}

	return &core.StoreMarker{
		Session:    session,
		ChunkCount: count,
		Dimension:  dimension,
		CreatedAt:  time.UnixMicro(created).UTC(),
		UpdatedAt:  time.UnixMicro(updated).UTC(),
	}, nil
}

func writeMarker(ctx context.Context, tx *sql.Tx, marker *core.StoreMarker) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, chunk_count, dimension, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			chunk_count = excluded.chunk_count,
			dimension = excluded.dimension,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`,
		string(marker.Session), marker.ChunkCount, marker.Dimension,
		marker.CreatedAt.UnixMicro(), marker.UpdatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("writing marker: %w", err)
	}
	return nil
}

func writeChunks(ctx context.Context, tx *sql.Tx, session core.SessionID, start int, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (session_id, position, chunk_id, source, ordinal, text, vector, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing chunk insert: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		var metadata sql.NullString
		if len(chunk.Metadata) > 0 {
			data, err := json.Marshal(chunk.Metadata)
			if err != nil {
				return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
			}
			metadata = sql.NullString{String: string(data), Valid: true}
		}

		_, err := stmt.ExecContext(ctx,
			string(session), start+i, int64(chunk.Id), chunk.Source, chunk.Ordinal,
			chunk.Text, encodeVector(chunk.Vector), metadata, chunk.CreatedAt.UnixMicro())
		if err != nil {
			return fmt.Errorf("inserting chunk %d: %w", start+i, err)
		}
	}
	return nil
}

func scanChunk(rows *sql.Rows) (*core.Chunk, error) {
	var (
		id       int64
		chunk    core.Chunk
		blob     []byte
		metadata sql.NullString
		created  int64
	)
	if err := rows.Scan(&id, &chunk.Source, &chunk.Ordinal, &chunk.Text, &blob, &metadata, &created); err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrCorruptStore, err)
	}

	vector, err := decodeVector(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrCorruptStore, err)
	}
	if len(vector) > 0 {
		chunk.Vector = vector
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &chunk.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %w", storage.ErrCorruptStore, err)
		}
	}

	chunk.Id = core.ID(uint64(id))
	chunk.CreatedAt = time.UnixMicro(created).UTC()
	return &chunk, nil
}
