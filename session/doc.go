// Package session maps session identifiers to their chunk stores.
//
// The Manager creates a session's store on first use, loads it lazily from
// the repository after a restart, and writes every change through to the
// repository before it becomes visible in memory.
//
// # Locking
//
// Each session has its own read/write lock. Queries rank under the read lock;
// ingestion appends and persists under the write lock. Sessions never block
// each other apart from the brief map lookup.
//
// # Unreadable State
//
// When persisted data for a session cannot be decoded, the Manager logs a
// warning wrapping core.ErrRecoverableState and starts the session over with
// an empty store. The empty store is persisted immediately.
//
// # Retention
//
// Stores stay cached until Evict or Delete is called. There is no size-based
// eviction.
package session
