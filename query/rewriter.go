package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
)

// Rewriter restyles an existing answer. It does not touch any session.
type Rewriter struct {
	generator   ai.Generator
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// RewriterOption configures a Rewriter.
type RewriterOption func(*Rewriter) error

// WithRewriteRetry sets the number of generation attempts and the base backoff delay.
func WithRewriteRetry(maxAttempts int, delay time.Duration) RewriterOption {
	return func(r *Rewriter) error {
		if maxAttempts < 1 {
			return ai.ErrInvalidMaxAttempts
		}
		r.maxAttempts = maxAttempts
		r.retryDelay = delay
		return nil
	}
}

// WithRewriteLogger sets a custom logger.
// Default is slog.Default().
func WithRewriteLogger(logger *slog.Logger) RewriterOption {
	return func(r *Rewriter) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRewriter creates a rewriter that calls generator.
func NewRewriter(generator ai.Generator, opts ...RewriterOption) (*Rewriter, error) {
	if generator == nil {
		return nil, ErrGeneratorRequired
	}

	defaults := ai.DefaultConfig()
	r := &Rewriter{
		generator:   generator,
		maxAttempts: defaults.MaxRetries,
		retryDelay:  defaults.RetryDelay,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	r.logger = r.logger.With("component", "rewriter")
	return r, nil
}

// Rewrite returns answer restyled according to style.
// A missing answer or style wraps core.ErrClientInput; a generation failure
// wraps core.ErrRetrieval.
func (r *Rewriter) Rewrite(ctx context.Context, answer, style string) (string, error) {
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%w: %w", core.ErrClientInput, ErrEmptyAnswer)
	}
	if strings.TrimSpace(style) == "" {
		return "", fmt.Errorf("%w: %w", core.ErrClientInput, ErrEmptyStyle)
	}

	rewritten, err := generateWithRetry(ctx, r.generator, buildRewritePrompt(answer, style), r.maxAttempts, r.retryDelay, r.logger)
	if err != nil {
		r.logger.Error("rewrite failed", "style", style, "err", err)
		return "", fmt.Errorf("%w: rewriting answer: %w", core.ErrRetrieval, err)
	}

	r.logger.Debug("answer rewritten", "style", style, "chars", len(rewritten))
	return rewritten, nil
}
