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

import "errors"

// Error kinds. Every failure that leaves a pipeline wraps exactly one of these.
var (
	// ErrConfiguration indicates the process cannot start, e.g. a missing API credential.
	ErrConfiguration = errors.New("configuration error")

	// ErrClientInput indicates invalid caller input. No side effects were performed.
	ErrClientInput = errors.New("invalid input")

	// ErrIngestion indicates a document could not be extracted, embedded or persisted.
	ErrIngestion = errors.New("ingestion failed")

	// ErrRetrieval indicates a query or rewrite could not be completed.
	ErrRetrieval = errors.New("retrieval failed")

	// ErrRecoverableState indicates persisted state was unreadable and has been replaced.
	ErrRecoverableState = errors.New("recoverable state error")
)

// Domain validation errors
var (
	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrEmptySessionID indicates the session identifier is missing.
	ErrEmptySessionID = errors.New("session id cannot be empty")

	// ErrInvalidSessionID indicates the session identifier contains disallowed characters.
	ErrInvalidSessionID = errors.New("invalid session id")

	// ErrEmptyQuestion indicates the question is missing.
	ErrEmptyQuestion = errors.New("question cannot be empty")

	// ErrEmptySource indicates the source document name is missing.
	ErrEmptySource = errors.New("source name cannot be empty")

	// ErrEmptyContent indicates the chunk text is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrEmptyVector indicates a chunk has no embedding.
	ErrEmptyVector = errors.New("vector cannot be empty")

	// ErrNegativeOrdinal indicates a chunk ordinal below zero.
	ErrNegativeOrdinal = errors.New("ordinal cannot be negative")
)

// Kind classifies an error for callers that must not see its details.
type Kind string

const (
	KindConfiguration    Kind = "configuration"
	KindClientInput      Kind = "client_input"
	KindIngestion        Kind = "ingestion"
	KindRetrieval        Kind = "retrieval"
	KindRecoverableState Kind = "recoverable_state"
	KindInternal         Kind = "internal"
)

// KindOf returns the classification of err.
// Client input wins over the pipeline kinds so that a validation failure
// wrapped by a pipeline is still reported as the caller's fault.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrClientInput):
		return KindClientInput
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrIngestion):
		return KindIngestion
	case errors.Is(err, ErrRetrieval):
		return KindRetrieval
	case errors.Is(err, ErrRecoverableState):
		return KindRecoverableState
	default:
		return KindInternal
	}
}
