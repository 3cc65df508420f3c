// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/index"
	"github.com/poiesic/docqa/storage"
)

// Manager owns the chunk store of every session touched by this process.
type Manager struct {
	repo   storage.SessionRepository
	logger *slog.Logger

	mu      sync.Mutex
	entries map[core.SessionID]*entry
}

// entry is the cached state of one session.
// store is nil until the session has been loaded or created.
// removed is set when the entry has left the map; holders must look it up again.
type entry struct {
	id      core.SessionID
	mu      sync.RWMutex
	store   *index.Store
	removed bool
}

// Handle refers to a session whose store is loaded.
type Handle struct {
	e *entry
}

// Session returns the session identifier.
func (h *Handle) Session() core.SessionID {
	return h.e.id
}

// Len returns the current number of chunks in the session.
func (h *Handle) Len() int {
	h.e.mu.RLock()
	defer h.e.mu.RUnlock()
	if h.e.store == nil {
		return 0
	}
	return h.e.store.Len()
}

// Dimension returns the session's vector dimension, 0 while it is empty.
func (h *Handle) Dimension() int {
	h.e.mu.RLock()
	defer h.e.mu.RUnlock()
	if h.e.store == nil {
		return 0
	}
	return h.e.store.Dimension()
}

// Option configures a Manager.
type Option func(*Manager) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) error {
		if logger == nil {
			logger = slog.Default()
		}
		m.logger = logger
		return nil
	}
}

// NewManager creates a session manager persisting through repo.
func NewManager(repo storage.SessionRepository, opts ...Option) (*Manager, error) {
	if repo == nil {
		return nil, ErrRepositoryRequired
	}

	m := &Manager{
		repo:    repo,
		logger:  slog.Default(),
		entries: make(map[core.SessionID]*entry),
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	m.logger = m.logger.With("component", "session-manager")
	return m, nil
}

// GetOrCreate returns the session's store, loading it from the repository or
// creating and persisting an empty one. Concurrent first calls for the same
// session observe the same store.
func (m *Manager) GetOrCreate(ctx context.Context, id core.SessionID) (*Handle, error) {
	if err := core.ValidateSessionID(id); err != nil {
		return nil, err
	}
	e, err := m.acquireRead(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.RUnlock()
	return &Handle{e: e}, nil
}

// View runs fn with read access to the session's store, creating the session
// if needed. fn must not modify the store or retain it after returning.
func (m *Manager) View(ctx context.Context, id core.SessionID, fn func(store *index.Store) error) error {
	if err := core.ValidateSessionID(id); err != nil {
		return err
	}
	e, err := m.acquireRead(ctx, id)
	if err != nil {
		return err
	}
	defer e.mu.RUnlock()
	return fn(e.store)
}

// Update appends the chunks returned by stage to the session's store.
//
// stage runs under the session's write lock and sees the current store. The
// chunks are appended to a copy, the copy is persisted, and only then does it
// replace the cached store. On any failure neither the cached nor the
// persisted store changes. Returns the number of chunks appended.
func (m *Manager) Update(ctx context.Context, id core.SessionID, stage func(store *index.Store) ([]*core.Chunk, error)) (int, error) {
	if err := core.ValidateSessionID(id); err != nil {
		return 0, err
	}
	e, err := m.acquireWrite(ctx, id)
	if err != nil {
		return 0, err
	}
	defer e.mu.Unlock()

	chunks, err := stage(e.store)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	next := e.store.Clone()
	if err := next.Append(chunks...); err != nil {
		return 0, err
	}
	if err := m.repo.Append(ctx, next.Marker(id), chunks); err != nil {
		return 0, fmt.Errorf("persisting session %s: %w", id, err)
	}
	e.store = next

	m.logger.Debug("session updated", "session", id, "added", len(chunks), "total", next.Len())
	return len(chunks), nil
}

// Replace swaps the session's store for the one built by fn.
// The replacement is persisted in full before it becomes visible.
func (m *Manager) Replace(ctx context.Context, id core.SessionID, fn func(current *index.Store) (*index.Store, error)) error {
	if err := core.ValidateSessionID(id); err != nil {
		return err
	}
	e, err := m.acquireWrite(ctx, id)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()

	next, err := fn(e.store)
	if err != nil {
		return err
	}
	if err := m.repo.Save(ctx, next.Marker(id), next.Chunks()); err != nil {
		return fmt.Errorf("persisting session %s: %w", id, err)
	}
	e.store = next

	m.logger.Info("session replaced", "session", id, "chunks", next.Len())
	return nil
}

// Delete removes the session from memory and from the repository.
// Returns an error wrapping storage.ErrNotFound if nothing is persisted for it.
func (m *Manager) Delete(ctx context.Context, id core.SessionID) error {
	if err := core.ValidateSessionID(id); err != nil {
		return err
	}

	for {
		e := m.entry(id)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}

		err := m.repo.Delete(ctx, id)
		m.detach(e)
		e.mu.Unlock()

		if err != nil {
			return fmt.Errorf("deleting session %s: %w", id, err)
		}
		m.logger.Info("session deleted", "session", id)
		return nil
	}
}

// Evict drops the cached store of a session. The next access loads it from
// the repository again.
func (m *Manager) Evict(id core.SessionID) {
	m.mu.Lock()
	e := m.entries[id]
	m.mu.Unlock()
	if e == nil {
		return
	}

	e.mu.Lock()
	if !e.removed {
		m.detach(e)
	}
	e.mu.Unlock()
}

// Exists reports whether the session is persisted. Unlike GetOrCreate it
// never creates one.
func (m *Manager) Exists(ctx context.Context, id core.SessionID) (bool, error) {
	if err := core.ValidateSessionID(id); err != nil {
		return false, err
	}
	return m.repo.Exists(ctx, id)
}

// Sessions lists every persisted session identifier in ascending order.
func (m *Manager) Sessions(ctx context.Context) ([]core.SessionID, error) {
	return m.repo.List(ctx)
}

// Cached returns the number of sessions held in memory.
func (m *Manager) Cached() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// entry returns the map entry for id, adding an unloaded one if absent.
func (m *Manager) entry(id core.SessionID) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		e = &entry{id: id}
		m.entries[id] = e
	}
	return e
}

// detach marks e removed and takes it out of the map.
// The caller holds e's write lock.
func (m *Manager) detach(e *entry) {
	e.removed = true
	e.store = nil
	m.mu.Lock()
	if m.entries[e.id] == e {
		delete(m.entries, e.id)
	}
	m.mu.Unlock()
}

// acquireWrite returns the session's entry, write-locked and loaded.
func (m *Manager) acquireWrite(ctx context.Context, id core.SessionID) (*entry, error) {
	for {
		e := m.entry(id)
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		if e.store == nil {
			store, err := m.load(ctx, id)
			if err != nil {
				e.mu.Unlock()
				return nil, err
			}
			e.store = store
		}
		return e, nil
	}
}

// acquireRead returns the session's entry, read-locked and loaded.
func (m *Manager) acquireRead(ctx context.Context, id core.SessionID) (*entry, error) {
	for {
		e := m.entry(id)
		e.mu.RLock()
		if !e.removed && e.store != nil {
			return e, nil
		}
		e.mu.RUnlock()

		// Load under the write lock so only one caller reads the repository
		e.mu.Lock()
		if !e.removed && e.store == nil {
			store, err := m.load(ctx, id)
			if err != nil {
				e.mu.Unlock()
				return nil, err
			}
			e.store = store
		}
		e.mu.Unlock()
	}
}

// load reads a session from the repository, creating it when absent and
// starting it over when its persisted data is unreadable.
func (m *Manager) load(ctx context.Context, id core.SessionID) (*index.Store, error) {
	marker, chunks, err := m.repo.Load(ctx, id)
	switch {
	case err == nil:
		store, buildErr := index.FromChunks(marker, chunks)
		if buildErr != nil {
			return m.reset(ctx, id, fmt.Errorf("%w: %w", storage.ErrCorruptStore, buildErr))
		}
		m.logger.Debug("session loaded", "session", id, "chunks", store.Len())
		return store, nil

	case errors.Is(err, storage.ErrNotFound):
		store := index.New()
		if err := m.repo.Save(ctx, store.Marker(id), nil); err != nil {
			return nil, fmt.Errorf("creating session %s: %w", id, err)
		}
		m.logger.Info("session created", "session", id)
		return store, nil

	case errors.Is(err, storage.ErrCorruptStore):
		return m.reset(ctx, id, err)

	default:
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
}

// reset replaces an unreadable session with a persisted empty store.
func (m *Manager) reset(ctx context.Context, id core.SessionID, cause error) (*index.Store, error) {
	m.logger.Warn("persisted session unreadable, starting empty",
		"session", id, "err", fmt.Errorf("%w: %w", core.ErrRecoverableState, cause))

	store := index.New()
	if err := m.repo.Save(ctx, store.Marker(id), nil); err != nil {
		return nil, fmt.Errorf("resetting session %s: %w", id, err)
	}
	return store, nil
}
