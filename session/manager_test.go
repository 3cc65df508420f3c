package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/index"
	"github.com/poiesic/docqa/storage"
	"github.com/poiesic/docqa/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faultyRepo wraps a repository and lets tests intercept calls.
type faultyRepo struct {
	storage.SessionRepository
	loads      atomic.Int32
	loadErr    error
	appendErr  error
	saveCalled atomic.Int32
}

func (r *faultyRepo) Load(ctx context.Context, id core.SessionID) (*core.StoreMarker, []*core.Chunk, error) {
	r.loads.Add(1)
	if r.loadErr != nil {
		return nil, nil, r.loadErr
	}
	return r.SessionRepository.Load(ctx, id)
}

func (r *faultyRepo) Append(ctx context.Context, marker *core.StoreMarker, chunks []*core.Chunk) error {
	if r.appendErr != nil {
		return r.appendErr
	}
	return r.SessionRepository.Append(ctx, marker, chunks)
}

func (r *faultyRepo) Save(ctx context.Context, marker *core.StoreMarker, chunks []*core.Chunk) error {
	r.saveCalled.Add(1)
	return r.SessionRepository.Save(ctx, marker, chunks)
}

func newTestManager(t *testing.T) (*Manager, *faultyRepo) {
	t.Helper()
	repo, backend, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() {
		repo.Close()
		backend.Close()
	})

	wrapped := &faultyRepo{SessionRepository: repo}
	m, err := NewManager(wrapped)
	require.NoError(t, err)
	return m, wrapped
}

func chunk(session core.SessionID, text string, vector ...float32) *core.Chunk {
	return &core.Chunk{
		Id:        core.ChunkID(session, "doc.txt#1", 0, text),
		Source:    "doc.txt",
		Text:      text,
		Vector:    vector,
		Metadata:  map[string]string{core.MetadataFilename: "doc.txt"},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func stageChunks(chunks ...*core.Chunk) func(*index.Store) ([]*core.Chunk, error) {
	return func(*index.Store) ([]*core.Chunk, error) { return chunks, nil }
}

func TestNewManager_RequiresRepository(t *testing.T) {
	_, err := NewManager(nil)
	assert.ErrorIs(t, err, ErrRepositoryRequired)
}

func TestGetOrCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and persists empty session", func(t *testing.T) {
		m, repo := newTestManager(t)

		h, err := m.GetOrCreate(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, core.SessionID("s1"), h.Session())
		assert.Equal(t, 0, h.Len())

		exists, err := repo.Exists(ctx, "s1")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("is idempotent", func(t *testing.T) {
		m, repo := newTestManager(t)

		h1, err := m.GetOrCreate(ctx, "s1")
		require.NoError(t, err)
		h2, err := m.GetOrCreate(ctx, "s1")
		require.NoError(t, err)

		assert.Same(t, h1.e, h2.e)
		assert.Equal(t, int32(1), repo.loads.Load())
	})

	t.Run("rejects invalid id", func(t *testing.T) {
		m, _ := newTestManager(t)

		for _, id := range []core.SessionID{"", "   ", "a/b", "a:b"} {
			_, err := m.GetOrCreate(ctx, id)
			assert.ErrorIs(t, err, core.ErrClientInput, "id %q", id)
		}
		assert.Equal(t, 0, m.Cached())
	})

	t.Run("concurrent first calls share one store", func(t *testing.T) {
		m, repo := newTestManager(t)

		const n = 50
		handles := make([]*Handle, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				h, err := m.GetOrCreate(ctx, "shared")
				assert.NoError(t, err)
				handles[i] = h
			}(i)
		}
		wg.Wait()

		for _, h := range handles {
			require.NotNil(t, h)
			assert.Same(t, handles[0].e, h.e)
		}
		assert.Equal(t, int32(1), repo.loads.Load())
		assert.Equal(t, int32(1), repo.saveCalled.Load())
	})

	t.Run("load error is returned and retried later", func(t *testing.T) {
		m, repo := newTestManager(t)
		repo.loadErr = errors.New("disk on fire")

		_, err := m.GetOrCreate(ctx, "s1")
		assert.Error(t, err)

		repo.loadErr = nil
		h, err := m.GetOrCreate(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 0, h.Len())
	})
}

func TestExists(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	found, err := m.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, found)

	sessions, err := m.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	_, err = m.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	found, err = m.Exists(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, found)

	_, err = m.Exists(ctx, "")
	assert.ErrorIs(t, err, core.ErrClientInput)
}

func TestCorruptSessionStartsEmpty(t *testing.T) {
	ctx := context.Background()
	m, repo := newTestManager(t)

	_, err := m.Update(ctx, "s1", stageChunks(chunk("s1", "alpha", 1, 0)))
	require.NoError(t, err)
	m.Evict("s1")

	repo.loadErr = fmt.Errorf("%w: bad bytes", storage.ErrCorruptStore)
	h, err := m.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, h.Len())

	// The empty replacement was persisted
	repo.loadErr = nil
	marker, chunks, err := repo.SessionRepository.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, marker.ChunkCount)
	assert.Empty(t, chunks)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("appends and persists", func(t *testing.T) {
		m, repo := newTestManager(t)

		n, err := m.Update(ctx, "s1", stageChunks(chunk("s1", "a", 1, 0), chunk("s1", "b", 0, 1)))
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = m.Update(ctx, "s1", stageChunks(chunk("s1", "c", 1, 1)))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		h, err := m.GetOrCreate(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 3, h.Len())
		assert.Equal(t, 2, h.Dimension())

		_, chunks, err := repo.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, chunks, 3)
	})

	t.Run("survives restart", func(t *testing.T) {
		m, _ := newTestManager(t)

		_, err := m.Update(ctx, "s1", stageChunks(chunk("s1", "a", 1, 0), chunk("s1", "b", 0, 1)))
		require.NoError(t, err)

		m.Evict("s1")
		assert.Equal(t, 0, m.Cached())

		var texts []string
		err = m.View(ctx, "s1", func(store *index.Store) error {
			for _, c := range store.Chunks() {
				texts = append(texts, c.Text)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, texts)
	})

	t.Run("dimension mismatch changes nothing", func(t *testing.T) {
		m, repo := newTestManager(t)

		_, err := m.Update(ctx, "s1", stageChunks(chunk("s1", "a", 1, 0)))
		require.NoError(t, err)

		_, err = m.Update(ctx, "s1", stageChunks(chunk("s1", "b", 1, 0), chunk("s1", "c", 1, 0, 0)))
		assert.ErrorIs(t, err, index.ErrDimensionMismatch)

		h, err := m.GetOrCreate(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, h.Len())

		_, chunks, err := repo.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Len(t, chunks, 1)
	})

	t.Run("persistence failure changes nothing", func(t *testing.T) {
		m, repo := newTestManager(t)

		_, err := m.Update(ctx, "s1", stageChunks(chunk("s1", "a", 1, 0)))
		require.NoError(t, err)

		repo.appendErr = errors.New("write failed")
		_, err = m.Update(ctx, "s1", stageChunks(chunk("s1", "b", 0, 1)))
		assert.Error(t, err)

		h, err := m.GetOrCreate(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 1, h.Len())
	})

	t.Run("stage error changes nothing", func(t *testing.T) {
		m, _ := newTestManager(t)
		boom := errors.New("boom")

		_, err := m.Update(ctx, "s1", func(*index.Store) ([]*core.Chunk, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)

		h, err := m.GetOrCreate(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, 0, h.Len())
	})

	t.Run("concurrent updates are all applied", func(t *testing.T) {
		m, repo := newTestManager(t)

		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := m.Update(ctx, "s1", stageChunks(chunk("s1", fmt.Sprintf("c%d", i), float32(i), 1)))
				assert.NoError(t, err)
			}(i)
		}
		wg.Wait()

		h, err := m.GetOrCreate(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, n, h.Len())

		marker, chunks, err := repo.Load(ctx, "s1")
		require.NoError(t, err)
		assert.Equal(t, n, marker.ChunkCount)
		assert.Len(t, chunks, n)
	})
}

func TestSessionIsolation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.Update(ctx, "s1", stageChunks(chunk("s1", "only in s1", 1, 0)))
	require.NoError(t, err)

	h2, err := m.GetOrCreate(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, 0, h2.Len())

	h1, err := m.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, h1.Len())
}

func TestReplace(t *testing.T) {
	ctx := context.Background()
	m, repo := newTestManager(t)

	_, err := m.Update(ctx, "s1", stageChunks(chunk("s1", "a", 1, 0), chunk("s1", "b", 0, 1)))
	require.NoError(t, err)

	err = m.Replace(ctx, "s1", func(current *index.Store) (*index.Store, error) {
		next := index.New()
		for _, c := range current.Chunks() {
			moved := *c
			moved.Vector = []float32{1, 2, 3}
			if err := next.Append(&moved); err != nil {
				return nil, err
			}
		}
		return next, nil
	})
	require.NoError(t, err)

	h, err := m.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, h.Dimension())
	assert.Equal(t, 2, h.Len())

	marker, _, err := repo.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 3, marker.Dimension)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	_, err := m.Update(ctx, "s1", stageChunks(chunk("s1", "a", 1, 0)))
	require.NoError(t, err)
	_, err = m.GetOrCreate(ctx, "s2")
	require.NoError(t, err)

	require.NoError(t, m.Delete(ctx, "s1"))

	sessions, err := m.Sessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []core.SessionID{"s2"}, sessions)

	err = m.Delete(ctx, "s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// A deleted session comes back empty on next use
	h, err := m.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 0, h.Len())
}
