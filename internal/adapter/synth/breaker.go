package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"mcpchat/internal/domain"
	"mcpchat/internal/infra/config"
)

// Default breaker settings.
const (
	defaultMaxFailures uint32 = 5
	defaultOpenTimeout        = 30 * time.Second
	defaultInterval           = 60 * time.Second
)

// Breaker stops calling a failing synthesizer. While open, calls fail fast
// with domain.ErrCircuitOpen, which the coordinator reports as a transport
// failure.
type Breaker struct {
	inner   domain.Synthesizer
	breaker *gobreaker.CircuitBreaker[string]
}

// NewBreaker wraps inner. Zero config values fall back to defaults.
func NewBreaker(inner domain.Synthesizer, cfg config.CircuitBreakerConfig, logger *slog.Logger) *Breaker {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "synth:" + inner.Name(),
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		// Only backend faults count against the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrTransport)
		},
	})
	return &Breaker{inner: inner, breaker: cb}
}

// Name implements domain.Synthesizer.
func (b *Breaker) Name() string { return b.inner.Name() }

// Synthesize implements domain.Synthesizer.
func (b *Breaker) Synthesize(ctx context.Context, in domain.SynthesisInput) (string, error) {
	reply, err := b.breaker.Execute(func() (string, error) {
		return b.inner.Synthesize(ctx, in)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("synthesizer %q: %w", b.inner.Name(), domain.ErrCircuitOpen)
	}
	return reply, err
}

// State reports the breaker state.
func (b *Breaker) State() gobreaker.State { return b.breaker.State() }

var _ domain.Synthesizer = (*Breaker)(nil)
