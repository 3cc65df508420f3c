package core

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID derives the identifier of a chunk from its session, the document
// it was cut from and its position within that document. document should
// identify one upload, not just a filename, so repeated uploads get distinct IDs.
func ChunkID(session SessionID, document string, ordinal int, text string) ID {
	return IDFromContent(string(session) + "|" + document + "|" + strconv.Itoa(ordinal) + "|" + text)
}

// SessionID is an opaque, caller-supplied namespace identifier.
type SessionID string

// String returns the raw identifier.
func (s SessionID) String() string {
	return string(s)
}

// Metadata keys attached to every chunk by the ingestion pipeline.
const (
	MetadataSource   = "source"
	MetadataFilename = "filename"
)

// Chunk is a contiguous span of a source document together with its embedding.
// Chunks are immutable once inserted into a store.
type Chunk struct {
	Id        ID
	Source    string            // Source document name
	Ordinal   int               // Position of the chunk within its source document
	Text      string            // Raw chunk text
	Vector    []float32         // Embedding vector
	Metadata  map[string]string // Arbitrary metadata ("source", "filename", ...)
	CreatedAt time.Time
}

// Filename returns the filename recorded for the chunk, falling back to Source.
func (c *Chunk) Filename() string {
	if name, ok := c.Metadata[MetadataFilename]; ok && name != "" {
		return name
	}
	if c.Source != "" {
		return c.Source
	}
	return "Unknown"
}

// ScoredChunk is a chunk returned from a similarity search.
type ScoredChunk struct {
	Chunk    *Chunk
	Score    float32
	Position int // Insertion index within the store, used for tie breaking
}

// Source attributes one retrieved chunk to its originating document.
type Source struct {
	Filename string  `json:"filename"`
	Ordinal  int     `json:"ordinal"`
	Score    float32 `json:"score"`
}

// QueryResult is the answer to a question together with its source attributions.
// Sources is never nil.
type QueryResult struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// NewQueryResult creates a QueryResult, replacing a nil source list with an empty one.
func NewQueryResult(answer string, sources []Source) *QueryResult {
	if sources == nil {
		sources = []Source{}
	}
	return &QueryResult{
		Answer:  answer,
		Sources: sources,
	}
}

// StoreMarker is the persisted-state marker of a session's chunk store.
// Its presence is what makes a session exist in stable storage.
type StoreMarker struct {
	Session    SessionID
	ChunkCount int
	Dimension  int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
