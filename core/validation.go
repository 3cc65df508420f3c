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


package core

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxSessionIDLength is the longest accepted session identifier in bytes.
const MaxSessionIDLength = 128

// ValidateSessionID validates a caller-supplied session identifier.
//
// Validation rules:
//   - must not be empty or whitespace only
//   - at most MaxSessionIDLength bytes
//   - no path separators, colons or control characters, since the
//     identifier is embedded in storage keys
//
// Failures wrap ErrClientInput.
func ValidateSessionID(id SessionID) error {
	s := string(id)
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %w", ErrClientInput, ErrEmptySessionID)
	}
	if len(s) > MaxSessionIDLength {
		return fmt.Errorf("%w: %w: longer than %d bytes", ErrClientInput, ErrInvalidSessionID, MaxSessionIDLength)
	}
	for _, r := range s {
		if r == '/' || r == '\\' || r == ':' || unicode.IsControl(r) {
			return fmt.Errorf("%w: %w: contains %q", ErrClientInput, ErrInvalidSessionID, r)
		}
	}
	return nil
}

// ValidateQuestion checks that a question is present.
func ValidateQuestion(question string) error {
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("%w: %w", ErrClientInput, ErrEmptyQuestion)
	}
	return nil
}

// ValidateSourceName checks that a document source name is present.
func ValidateSourceName(source string) error {
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("%w: %w", ErrClientInput, ErrEmptySource)
	}
	return nil
}

// ValidateChunk validates a Chunk before it is inserted into a store.
//
// Validation rules:
//   - Text must not be empty
//   - Vector must not be empty
//   - Ordinal must not be negative
//
// Dimension agreement with other chunks is checked by the store itself.
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}

	if len(chunk.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyVector)
	}

	if chunk.Ordinal < 0 {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrNegativeOrdinal)
	}

	return nil
}
