package badger

import (
	"bytes"
	"encoding/binary"
	"strings"

	"github.com/poiesic/docqa/core"
)

// Key prefixes for different data types
const (
	sessionMarkerPrefix     = "sesmark"
	sessionGenerationPrefix = "sesgen"
	sessionChunkPrefix      = "seschk"
)

// makeMarkerKey generates the key holding a session's marker.
// Format: prefix:session
func makeMarkerKey(session core.SessionID) []byte {
	return []byte(sessionMarkerPrefix + ":" + string(session))
}

// makeMarkerScanPrefix generates the prefix shared by every marker key.
func makeMarkerScanPrefix() []byte {
	return []byte(sessionMarkerPrefix + ":")
}

// sessionFromMarkerKey extracts the session identifier from a marker key.
func sessionFromMarkerKey(key []byte) (core.SessionID, bool) {
	rest, ok := strings.CutPrefix(string(key), sessionMarkerPrefix+":")
	if !ok || rest == "" {
		return "", false
	}
	return core.SessionID(rest), true
}

// makeChunkPrefix generates the prefix shared by all chunk keys of a session.
// Format: prefix:session:
func makeChunkPrefix(session core.SessionID) []byte {
	return []byte(sessionChunkPrefix + ":" + string(session) + ":")
}

// makeGenerationKey generates the key holding the chunk generation a
// session's marker refers to.
// Format: prefix:session
func makeGenerationKey(session core.SessionID) []byte {
	return []byte(sessionGenerationPrefix + ":" + string(session))
}

// makeGenerationPrefix generates the prefix shared by the chunks of one
// generation of a session.
// Format: prefix:session:generation
func makeGenerationPrefix(session core.SessionID, generation uint64) []byte {
	prefix := makeChunkPrefix(session)
	return binary.BigEndian.AppendUint64(prefix, generation)
}

// makeChunkKey generates a composite key for a chunk at a position in one
// generation of a session.
// Format: prefix:session:generation position
func makeChunkKey(session core.SessionID, generation uint64, position int) []byte {
	// BigEndian so lexicographic order matches insertion order
	return binary.BigEndian.AppendUint64(makeGenerationPrefix(session, generation), uint64(position))
}

// parseChunkKey extracts the generation and position from a chunk key of session.
func parseChunkKey(session core.SessionID, key []byte) (generation uint64, position int, ok bool) {
	rest, found := bytes.CutPrefix(key, makeChunkPrefix(session))
	if !found || len(rest) != 16 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint64(rest[:8]), int(binary.BigEndian.Uint64(rest[8:])), true
}
