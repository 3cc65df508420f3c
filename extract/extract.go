// Package extract turns uploaded files into plain text.
//
// Extraction is dispatched by file extension. Plain text files are read
// directly; PDF files are converted with pdftotext from poppler-utils.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

var (
	// ErrUnsupportedFormat indicates a file type with no registered extractor.
	ErrUnsupportedFormat = errors.New("unsupported file type")

	// ErrPDFToolNotFound indicates pdftotext is not installed.
	ErrPDFToolNotFound = errors.New("pdftotext not found in PATH")
)

// Extractor reads the text content of a file.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

// Dispatcher selects an Extractor by file extension.
type Dispatcher struct {
	byExt map[string]Extractor
}

var _ Extractor = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher handling .txt and .pdf files.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{byExt: make(map[string]Extractor)}
	d.Register("txt", NewPlainText())
	d.Register("pdf", NewPDF())
	return d
}

// Register sets the extractor for an extension, given with or without the dot.
func (d *Dispatcher) Register(ext string, extractor Extractor) {
	d.byExt[normalizeExt(ext)] = extractor
}

// Supports reports whether filename has an extension with a registered extractor.
func (d *Dispatcher) Supports(filename string) bool {
	_, ok := d.byExt[normalizeExt(filepath.Ext(filename))]
	return ok
}

// Extensions returns the registered extensions in sorted order, without dots.
func (d *Dispatcher) Extensions() []string {
	exts := make([]string, 0, len(d.byExt))
	for ext := range d.byExt {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Extract reads path with the extractor registered for its extension.
func (d *Dispatcher) Extract(ctx context.Context, path string) (string, error) {
	ext := normalizeExt(filepath.Ext(path))
	extractor, ok := d.byExt[ext]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	return extractor.Extract(ctx, path)
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
