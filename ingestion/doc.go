// Package ingestion turns documents into indexed chunks of a session.
//
// The Pipeline splits a document into passages, embeds every passage, and
// only then appends the chunks to the session's store. Embedding is done in
// batches submitted to a worker pool; each batch call is retried with
// exponential backoff. If any batch fails, nothing is inserted.
//
// Insertion and persistence happen under the session's write lock, so
// concurrent ingestions into one session are applied one after another and
// each sees the chunks added by the previous one.
package ingestion
