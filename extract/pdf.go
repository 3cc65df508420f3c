package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const pdfTool = "pdftotext"

// CommandRunner executes an external command and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// execRunner runs commands with os/exec.
type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, err := exec.LookPath(name); err != nil {
		return nil, ErrPDFToolNotFound
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// PDF extracts text from PDF files with pdftotext.
type PDF struct {
	runner CommandRunner
}

// NewPDF creates a PDF extractor that runs pdftotext from PATH.
func NewPDF() *PDF {
	return &PDF{runner: execRunner{}}
}

// NewPDFWithRunner creates a PDF extractor using a custom command runner.
func NewPDFWithRunner(runner CommandRunner) *PDF {
	return &PDF{runner: runner}
}

// Extract returns the text layer of the PDF, with pages separated by blank lines.
func (p *PDF) Extract(ctx context.Context, path string) (string, error) {
	out, err := p.runner.Run(ctx, pdfTool, "-layout", "-enc", "UTF-8", path, "-")
	if err != nil {
		if errors.Is(err, ErrPDFToolNotFound) {
			return "", fmt.Errorf("%w; %s", err, InstallInstructions())
		}
		return "", fmt.Errorf("pdftotext failed on %s: %w", path, err)
	}
	// pdftotext separates pages with form feeds
	return strings.ReplaceAll(string(out), "\f", "\n\n"), nil
}

// InstallInstructions describes how to install pdftotext.
func InstallInstructions() string {
	return "install pdftotext with 'brew install poppler' (macOS) or 'apt install poppler-utils' (Debian/Ubuntu)"
}
