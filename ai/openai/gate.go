package openai

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/poiesic/docqa/ai"
	"golang.org/x/time/rate"
)

var (
	// ErrEmptyEmbedding is returned when the service answers without a vector.
	ErrEmptyEmbedding = errors.New("embedding service returned no vector")

	// ErrNoChoices is returned when the generation service answers without content.
	ErrNoChoices = errors.New("generation service returned no choices")
)

// gate bounds every outgoing call with a timeout and an optional rate limit.
type gate struct {
	limiter *rate.Limiter // nil when unthrottled
	timeout time.Duration
}

func newGate(config *ai.Config) *gate {
	g := &gate{timeout: config.Timeout}
	if config.RequestsPerSecond > 0 {
		burst := int(math.Ceil(config.RequestsPerSecond))
		g.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}
	return g
}

// call waits for the limiter and runs fn under the per-call timeout.
// Waiting for the limiter does not count against the timeout.
func (g *gate) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if g.timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return fn(callCtx)
}
