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


// Package query answers questions against a session's indexed documents.
//
// The Pipeline runs a retrieve-then-generate process:
//   - The question is embedded
//   - Every chunk of the session is ranked by cosine similarity and the best K kept
//   - The kept passages and the question are composed into a prompt for the generator
//
// Ranking happens under the session's read lock; the generator is called after
// the lock is released. Each retrieved chunk contributes one source entry, in
// rank order.
//
// The Rewriter restyles an existing answer with a single generation call and
// is independent of any session.
package query
