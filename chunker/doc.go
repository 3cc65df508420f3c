// Package chunker splits document text into passages for embedding.
//
// A Chunker turns one document into ordered, non-empty passages. The Window
// chunker cuts fixed-size character windows, preferring to break at
// whitespace near the end of a window, with optional overlap between
// consecutive windows.
package chunker
