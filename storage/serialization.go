package storage

import (
	"fmt"
	"slices"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/docqa/core"
)

// encodingVersion prefixes every encoded record.
const encodingVersion byte = 1

// MarshalChunk encodes a chunk using MUS.
// Metadata is written in key order so equal chunks encode to equal bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	keys := sortedKeys(chunk.Metadata)

	size := 1 +
		varint.Uint64.Size(uint64(chunk.Id)) +
		ord.String.Size(chunk.Source) +
		varint.Int.Size(chunk.Ordinal) +
		ord.String.Size(chunk.Text) +
		varint.Int.Size(len(chunk.Vector)) +
		varint.Int.Size(len(keys)) +
		varint.Int64.Size(chunk.CreatedAt.UnixMicro())
	for _, f := range chunk.Vector {
		size += raw.Float32.Size(f)
	}
	for _, k := range keys {
		size += ord.String.Size(k) + ord.String.Size(chunk.Metadata[k])
	}

	bs := make([]byte, size)
	bs[0] = encodingVersion
	n := 1
	n += varint.Uint64.Marshal(uint64(chunk.Id), bs[n:])
	n += ord.String.Marshal(chunk.Source, bs[n:])
	n += varint.Int.Marshal(chunk.Ordinal, bs[n:])
	n += ord.String.Marshal(chunk.Text, bs[n:])
	n += varint.Int.Marshal(len(chunk.Vector), bs[n:])
	for _, f := range chunk.Vector {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	n += varint.Int.Marshal(len(keys), bs[n:])
	for _, k := range keys {
		n += ord.String.Marshal(k, bs[n:])
		n += ord.String.Marshal(chunk.Metadata[k], bs[n:])
	}
	varint.Int64.Marshal(chunk.CreatedAt.UnixMicro(), bs[n:])
	return bs
}

// UnmarshalChunk decodes a chunk written by MarshalChunk.
// Any decoding failure wraps ErrCorruptStore.
func UnmarshalChunk(data []byte) (chunk *core.Chunk, err error) {
	defer recoverCorrupt("chunk", &err)

	r, err := newReader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk: %w", ErrCorruptStore, err)
	}

	c := &core.Chunk{}
	c.Id = core.ID(r.uint64())
	c.Source = r.string()
	c.Ordinal = r.int()
	c.Text = r.string()
	if dim := r.length(4); dim > 0 {
		c.Vector = make([]float32, dim)
		for i := range c.Vector {
			c.Vector[i] = r.float32()
		}
	}
	if count := r.length(2); count > 0 {
		c.Metadata = make(map[string]string, count)
		for i := 0; i < count; i++ {
			k := r.string()
			c.Metadata[k] = r.string()
		}
	}
	c.CreatedAt = r.time()

	if err := r.finish(); err != nil {
		return nil, fmt.Errorf("%w: chunk: %w", ErrCorruptStore, err)
	}
	return c, nil
}

// MarshalMarker encodes a store marker using MUS.
func MarshalMarker(marker *core.StoreMarker) []byte {
	size := 1 +
		ord.String.Size(string(marker.Session)) +
		varint.Int.Size(marker.ChunkCount) +
		varint.Int.Size(marker.Dimension) +
		varint.Int64.Size(marker.CreatedAt.UnixMicro()) +
		varint.Int64.Size(marker.UpdatedAt.UnixMicro())

	bs := make([]byte, size)
	bs[0] = encodingVersion
	n := 1
	n += ord.String.Marshal(string(marker.Session), bs[n:])
	n += varint.Int.Marshal(marker.ChunkCount, bs[n:])
	n += varint.Int.Marshal(marker.Dimension, bs[n:])
	n += varint.Int64.Marshal(marker.CreatedAt.UnixMicro(), bs[n:])
	varint.Int64.Marshal(marker.UpdatedAt.UnixMicro(), bs[n:])
	return bs
}

// UnmarshalMarker decodes a marker written by MarshalMarker.
// Any decoding failure wraps ErrCorruptStore.
func UnmarshalMarker(data []byte) (marker *core.StoreMarker, err error) {
	defer recoverCorrupt("marker", &err)

	r, err := newReader(data)
	if err != nil {
		return nil, fmt.Errorf("%w: marker: %w", ErrCorruptStore, err)
	}

	m := &core.StoreMarker{}
	m.Session = core.SessionID(r.string())
	m.ChunkCount = r.int()
	m.Dimension = r.int()
	m.CreatedAt = r.time()
	m.UpdatedAt = r.time()

	if err := r.finish(); err != nil {
		return nil, fmt.Errorf("%w: marker: %w", ErrCorruptStore, err)
	}
	if m.ChunkCount < 0 || m.Dimension < 0 {
		return nil, fmt.Errorf("%w: marker: negative count or dimension", ErrCorruptStore)
	}
	return m, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func recoverCorrupt(what string, err *error) {
	if p := recover(); p != nil {
		*err = fmt.Errorf("%w: %s: %v", ErrCorruptStore, what, p)
	}
}

// reader walks an encoded record, keeping the first error.
type reader struct {
	bs  []byte
	n   int
	err error
}

func newReader(data []byte) (*reader, error) {
	if len(data) == 0 {
		return nil, ErrTruncatedData
	}
	if data[0] != encodingVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
	}
	return &reader{bs: data, n: 1}, nil
}

func (r *reader) uint64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) int() int {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) string() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) float32() float32 {
	if r.err != nil {
		return 0
	}
	v, n, err := raw.Float32.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *reader) time() time.Time {
	if r.err != nil {
		return time.Time{}
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return time.UnixMicro(v).UTC()
}

// length reads a collection length and checks that the remaining bytes can
// hold that many elements of at least minSize bytes each.
func (r *reader) length(minSize int) int {
	l := r.int()
	if r.err != nil {
		return 0
	}
	if l < 0 || l*minSize > len(r.bs)-r.n {
		r.err = ErrTruncatedData
		return 0
	}
	return l
}

func (r *reader) finish() error {
	if r.err != nil {
		return r.err
	}
	if r.n != len(r.bs) {
		return fmt.Errorf("%w: %d trailing bytes", ErrSerializationFailed, len(r.bs)-r.n)
	}
	return nil
}
