// ABOUTME: Generator decorator adding a circuit breaker and request pacing.
// ABOUTME: An open breaker fails fast so triggers do not pile up on a dead upstream.
package textgen

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("text generator unavailable")

// GuardConfig tunes the breaker and limiter.
type GuardConfig struct {
	// Requests per second and burst allowed through to the upstream.
	RatePerSecond float64
	Burst         int

	// Consecutive failures that open the breaker and how long it stays open.
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// DefaultGuardConfig returns conservative defaults for a hosted model.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RatePerSecond:       2,
		Burst:               4,
		ConsecutiveFailures: 5,
		OpenTimeout:         time.Minute,
	}
}

// Guarded wraps a Generator with a breaker and a token bucket.
type Guarded struct {
	next    Generator
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewGuarded wraps next.
func NewGuarded(next Generator, cfg GuardConfig, log zerolog.Logger) *Guarded {
	settings := gobreaker.Settings{
		Name:        "textgen",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	}
	return &Guarded{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}
}

// Generate implements Generator.
func (g *Guarded) Generate(ctx context.Context, req Request) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for generator slot: %w", err)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.next.Generate(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// State reports the breaker state for health output.
func (g *Guarded) State() string {
	return g.breaker.State().String()
}
