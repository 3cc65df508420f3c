// Package reembed rebuilds the vectors of stored session chunks with a new or
// updated embedding model.
//
// Each session is re-embedded in batches and its store is swapped in one
// step through the session manager, so a failure leaves the session exactly
// as it was. Vectors are normalized to unit length.
package reembed
