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


// Package storage provides the storage abstraction layer for docqa.
//
// This package defines the SessionRepository interface that decouples the
// session manager from the storage medium, together with the binary codecs
// used to store chunks and markers.
//
// # Backends
//
//   - storage/badger: BadgerDB, the default
//   - storage/sqlite: SQLite through the pure-Go modernc.org/sqlite driver
//
// Both store one marker per session plus one record per chunk, keyed by the
// chunk's position in the session so that reads return insertion order.
//
// # Constructor Return Type Pattern
//
// Public constructors return the storage.SessionRepository interface:
//
//	repo, err := badger.NewSessionRepository(backend)
//
// Internal constructors may return concrete types since they're only used
// within the implementation package.
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	repo, backend, err := badger.NewMemoryRepository()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
// # Corruption
//
// Decoding failures are reported as ErrCorruptStore. The session manager
// treats them as recoverable and replaces the session with an empty store.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
