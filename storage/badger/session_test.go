package badger

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) (storage.SessionRepository, *Backend) {
	t.Helper()
	repo, backend, err := NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
		backend.Close()
	})
	return repo, backend
}

func makeChunks(session core.SessionID, source string, texts ...string) []*core.Chunk {
	now := time.Now().UTC().Truncate(time.Microsecond)
	chunks := make([]*core.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &core.Chunk{
			Id:        core.ChunkID(session, source, i, text),
			Source:    source,
			Ordinal:   i,
			Text:      text,
			Vector:    []float32{float32(i), 1, 0},
			Metadata:  map[string]string{core.MetadataFilename: source},
			CreatedAt: now,
		}
	}
	return chunks
}

func testMarker(session core.SessionID, count int) *core.StoreMarker {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &core.StoreMarker{
		Session:    session,
		ChunkCount: count,
		Dimension:  3,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestSessionRepository_LoadMissing(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, _, err := repo.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	exists, err := repo.Exists(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSessionRepository_EmptySession(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testMarker("s1", 0), nil))

	m, chunks, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, m.ChunkCount)
	assert.Empty(t, chunks)

	exists, err := repo.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSessionRepository_AppendPreservesOrder(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	first := makeChunks("s1", "a.txt", "one", "two")
	second := makeChunks("s1", "b.txt", "three", "four", "five")

	require.NoError(t, repo.Append(ctx, testMarker("s1", 2), first))
	require.NoError(t, repo.Append(ctx, testMarker("s1", 5), second))

	m, chunks, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 5, m.ChunkCount)
	require.Len(t, chunks, 5)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	assert.Equal(t, []string{"one", "two", "three", "four", "five"}, texts)
	assert.Equal(t, first[0], chunks[0])
}

func TestSessionRepository_AppendRejectsMismatchedMarker(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, testMarker("s1", 2), makeChunks("s1", "a.txt", "one", "two")))

	err := repo.Append(ctx, testMarker("s1", 2), makeChunks("s1", "b.txt", "three"))
	assert.ErrorIs(t, err, storage.ErrMarkerMismatch)

	// Failed append leaves the session untouched
	m, chunks, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, m.ChunkCount)
	assert.Len(t, chunks, 2)
}

func TestSessionRepository_SaveReplaces(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, testMarker("s1", 3), makeChunks("s1", "a.txt", "one", "two", "three")))
	require.NoError(t, repo.Save(ctx, testMarker("s1", 1), makeChunks("s1", "b.txt", "only")))

	_, chunks, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "only", chunks[0].Text)

	err = repo.Save(ctx, testMarker("s1", 4), makeChunks("s1", "b.txt", "only"))
	assert.ErrorIs(t, err, storage.ErrMarkerMismatch)
}

func TestSessionRepository_Isolation(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, testMarker("s1", 1), makeChunks("s1", "a.txt", "alpha")))
	require.NoError(t, repo.Append(ctx, testMarker("s10", 2), makeChunks("s10", "b.txt", "beta", "gamma")))

	_, chunks, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "alpha", chunks[0].Text)

	_, chunks, err = repo.Load(ctx, "s10")
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestSessionRepository_DeleteAndList(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for _, s := range []core.SessionID{"c", "a", "b"} {
		require.NoError(t, repo.Append(ctx, testMarker(s, 1), makeChunks(s, "x.txt", "text")))
	}

	sessions, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"a", "b", "c"}, sessions)

	require.NoError(t, repo.Delete(ctx, "b"))
	assert.ErrorIs(t, repo.Delete(ctx, "b"), storage.ErrNotFound)

	_, _, err = repo.Load(ctx, "b")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	sessions, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"a", "c"}, sessions)
}

func TestSessionRepository_CorruptData(t *testing.T) {
	t.Run("corrupt chunk", func(t *testing.T) {
		repo, backend := newTestRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Append(ctx, testMarker("s1", 1), makeChunks("s1", "a.txt", "alpha")))

		writeRaw(t, backend, makeChunkKey("s1", 0, 0), []byte{0xde, 0xad})

		_, _, err := repo.Load(ctx, "s1")
		assert.ErrorIs(t, err, storage.ErrCorruptStore)
	})

	t.Run("corrupt marker", func(t *testing.T) {
		repo, backend := newTestRepo(t)
		ctx := context.Background()

		writeRaw(t, backend, makeMarkerKey("s1"), []byte("not a marker"))

		_, _, err := repo.Load(ctx, "s1")
		assert.ErrorIs(t, err, storage.ErrCorruptStore)
	})

	t.Run("count mismatch", func(t *testing.T) {
		repo, backend := newTestRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Append(ctx, testMarker("s1", 1), makeChunks("s1", "a.txt", "alpha")))

		writeRaw(t, backend, makeMarkerKey("s1"), storage.MarshalMarker(testMarker("s1", 3)))

		_, _, err := repo.Load(ctx, "s1")
		assert.ErrorIs(t, err, storage.ErrCorruptStore)
		assert.ErrorIs(t, err, storage.ErrMarkerMismatch)
	})
}

func TestSessionRepository_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	backend, err := OpenBackend(dir, false)
	require.NoError(t, err)
	repo, err := NewSessionRepository(backend)
	require.NoError(t, err)
	require.NoError(t, repo.Append(ctx, testMarker("s1", 2), makeChunks("s1", "a.txt", "one", "two")))
	require.NoError(t, backend.Close())

	backend, err = OpenBackend(dir, false)
	require.NoError(t, err)
	defer backend.Close()
	repo, err = NewSessionRepository(backend)
	require.NoError(t, err)

	_, chunks, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "two", chunks[1].Text)
}

func TestSessionRepository_ManySessions(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		s := core.SessionID(fmt.Sprintf("session-%02d", i))
		require.NoError(t, repo.Append(ctx, testMarker(s, 1), makeChunks(s, "x.txt", "text")))
	}

	sessions, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, sessions, 20)
	assert.Equal(t, core.SessionID("session-00"), sessions[0])
}

func TestSessionRepository_LargeSession(t *testing.T) {
	const (
		count     = 1200
		dimension = 3072
	)
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	text := strings.Repeat("x", 1000)
	build := func(source string) []*core.Chunk {
		chunks := make([]*core.Chunk, count)
		for i := range chunks {
			vector := make([]float32, dimension)
			vector[i%dimension] = 1
			chunks[i] = &core.Chunk{
				Id:      core.ChunkID("big", source, i, text),
				Source:  source,
				Ordinal: i,
				Text:    text,
				Vector:  vector,
			}
		}
		return chunks
	}
	marker := testMarker("big", count)
	marker.Dimension = dimension

	require.NoError(t, repo.Append(ctx, marker, build("a.txt")))
	_, chunks, err := repo.Load(ctx, "big")
	require.NoError(t, err)
	require.Len(t, chunks, count)
	assert.Equal(t, count-1, chunks[count-1].Ordinal)

	require.NoError(t, repo.Save(ctx, marker, build("b.txt")))
	_, chunks, err = repo.Load(ctx, "big")
	require.NoError(t, err)
	require.Len(t, chunks, count)
	assert.Equal(t, "b.txt", chunks[0].Source)
	assert.Equal(t, "b.txt", chunks[count-1].Source)
}

func TestSessionRepository_StaleChunks(t *testing.T) {
	countKeys := func(t *testing.T, backend *Backend, session core.SessionID) int {
		t.Helper()
		n := 0
		err := backend.WithTx(func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = makeChunkPrefix(session)
			iter := tx.NewIterator(opts)
			defer iter.Close()
			for iter.Rewind(); iter.Valid(); iter.Next() {
				n++
			}
			return nil
		}, false)
		require.NoError(t, err)
		return n
	}

	t.Run("shrinking save purges old chunks", func(t *testing.T) {
		repo, backend := newTestRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Append(ctx, testMarker("s1", 5), makeChunks("s1", "a.txt", "a", "b", "c", "d", "e")))

		require.NoError(t, repo.Save(ctx, testMarker("s1", 2), makeChunks("s1", "b.txt", "one", "two")))

		_, chunks, err := repo.Load(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "one", chunks[0].Text)
		assert.Equal(t, 2, countKeys(t, backend, "s1"))
	})

	t.Run("recreated session starts empty", func(t *testing.T) {
		repo, backend := newTestRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Append(ctx, testMarker("s1", 3), makeChunks("s1", "a.txt", "a", "b", "c")))
		require.NoError(t, repo.Delete(ctx, "s1"))
		assert.Zero(t, countKeys(t, backend, "s1"))

		require.NoError(t, repo.Save(ctx, testMarker("s1", 0), nil))
		_, chunks, err := repo.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})

	t.Run("unpublished chunks are ignored", func(t *testing.T) {
		repo, backend := newTestRepo(t)
		ctx := context.Background()
		require.NoError(t, repo.Append(ctx, testMarker("s1", 1), makeChunks("s1", "a.txt", "alpha")))

		extra := makeChunks("s1", "a.txt", "alpha", "beta")[1]
		writeRaw(t, backend, makeChunkKey("s1", 0, 1), storage.MarshalChunk(extra))
		writeRaw(t, backend, makeChunkKey("s1", 1, 0), storage.MarshalChunk(extra))

		_, chunks, err := repo.Load(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, chunks, 1)
		assert.Equal(t, "alpha", chunks[0].Text)

		require.NoError(t, repo.Append(ctx, testMarker("s1", 2), makeChunks("s1", "b.txt", "gamma")))
		_, chunks, err = repo.Load(ctx, "s1")
		require.NoError(t, err)
		require.Len(t, chunks, 2)
		assert.Equal(t, "gamma", chunks[1].Text)
	})
}

func writeRaw(t *testing.T, backend *Backend, key, value []byte) {
	t.Helper()
	err := backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	require.NoError(t, err)
}
