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


package index

import (
	"fmt"
	"slices"
	"time"

	"github.com/poiesic/docqa/core"
)

// DefaultTopK is the number of chunks returned by Search when k is not positive.
const DefaultTopK = 5

// Store is the ordered collection of chunks belonging to one session.
//
// Every chunk in a store has the same vector dimension, fixed by the first
// chunk inserted. Chunks are kept in insertion order and never modified.
//
// Store is not safe for concurrent use; the session manager serializes access.
type Store struct {
	chunks    []*core.Chunk
	dimension int
	createdAt time.Time
	updatedAt time.Time
}

// New creates an empty store.
func New() *Store {
	now := time.Now().UTC()
	return &Store{
		createdAt: now,
		updatedAt: now,
	}
}

// FromChunks rebuilds a store from persisted chunks in their stored order.
// The marker supplies the original timestamps; it may be nil.
func FromChunks(marker *core.StoreMarker, chunks []*core.Chunk) (*Store, error) {
	s := New()
	if marker != nil {
		s.createdAt = marker.CreatedAt
		s.updatedAt = marker.UpdatedAt
	}
	if err := s.append(chunks); err != nil {
		return nil, err
	}
	if marker != nil {
		if marker.ChunkCount != len(chunks) {
			return nil, fmt.Errorf("marker records %d chunks, found %d", marker.ChunkCount, len(chunks))
		}
		if len(chunks) > 0 && marker.Dimension != s.dimension {
			return nil, fmt.Errorf("%w: marker records %d, chunks have %d", ErrDimensionMismatch, marker.Dimension, s.dimension)
		}
	}
	return s, nil
}

// Len returns the number of chunks in the store.
func (s *Store) Len() int {
	return len(s.chunks)
}

// Dimension returns the vector dimension, or 0 for an empty store.
func (s *Store) Dimension() int {
	return s.dimension
}

// Chunks returns the chunks in insertion order.
// The returned slice is a copy; the chunks themselves are shared and must not be modified.
func (s *Store) Chunks() []*core.Chunk {
	return slices.Clone(s.chunks)
}

// Clone returns a store with the same chunks that can be appended to
// without affecting the receiver.
func (s *Store) Clone() *Store {
	return &Store{
		chunks:    slices.Clone(s.chunks),
		dimension: s.dimension,
		createdAt: s.createdAt,
		updatedAt: s.updatedAt,
	}
}

// Append inserts chunks at the end of the store.
// Either every chunk is inserted or none is: all chunks are validated
// against the store's dimension before the first one is added.
func (s *Store) Append(chunks ...*core.Chunk) error {
	if err := s.append(chunks); err != nil {
		return err
	}
	if len(chunks) > 0 {
		s.updatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) append(chunks []*core.Chunk) error {
	dim := s.dimension
	for i, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
		if dim == 0 {
			dim = len(chunk.Vector)
		}
		if len(chunk.Vector) != dim {
			return fmt.Errorf("chunk %d: %w: store has %d, chunk has %d", i, ErrDimensionMismatch, dim, len(chunk.Vector))
		}
	}
	s.dimension = dim
	s.chunks = append(s.chunks, chunks...)
	return nil
}

// Search ranks every chunk by cosine similarity to query and returns the best k.
// Ties keep insertion order, so results are deterministic for a fixed store.
// A non-positive k means DefaultTopK. An empty store returns no results.
func (s *Store) Search(query []float32, k int) ([]core.ScoredChunk, error) {
	if len(s.chunks) == 0 {
		return []core.ScoredChunk{}, nil
	}
	if len(query) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store has %d", ErrDimensionMismatch, len(query), s.dimension)
	}
	if k <= 0 {
		k = DefaultTopK
	}

	scored := make([]core.ScoredChunk, len(s.chunks))
	for i, chunk := range s.chunks {
		score, err := CosineSimilarity(query, chunk.Vector)
		if err != nil {
			return nil, err
		}
		scored[i] = core.ScoredChunk{Chunk: chunk, Score: score, Position: i}
	}

	// Stable sort keeps insertion order among equal scores
	slices.SortStableFunc(scored, func(a, b core.ScoredChunk) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// Marker returns the persisted-state marker describing this store.
func (s *Store) Marker(session core.SessionID) *core.StoreMarker {
	return &core.StoreMarker{
		Session:    session,
		ChunkCount: len(s.chunks),
		Dimension:  s.dimension,
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
}
