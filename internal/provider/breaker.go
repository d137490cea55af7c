package provider

import (
	"context"
	"errors"
	"time"

	"github.com/FooledKiwi/busstop-api/internal/service"
	"github.com/FooledKiwi/busstop-api/internal/storage"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrProviderUnavailable is returned while the breaker is open or probing.
var ErrProviderUnavailable = errors.New("provider: temporarily unavailable")

// BreakerSettings tunes the circuit breaker around a fetcher.
type BreakerSettings struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before a probe is allowed.
	OpenTimeout time.Duration
}

// DefaultBreakerSettings returns settings suited to a fetch that is only
// triggered by explicit user confirmation.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxFailures: 3,
		OpenTimeout: 60 * time.Second,
	}
}

// BreakerProvider wraps a StopFetcher with a circuit breaker. It never retries;
// it only refuses calls quickly after repeated failures.
type BreakerProvider struct {
	inner service.StopFetcher
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerProvider wraps inner. State changes are logged through logger.
func NewBreakerProvider(inner service.StopFetcher, s BreakerSettings, logger *zap.Logger) *BreakerProvider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "stop-provider",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not the provider's fault.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &BreakerProvider{inner: inner, cb: cb}
}

// FetchInitialStops delegates to the wrapped fetcher unless the breaker is open.
func (p *BreakerProvider) FetchInitialStops(ctx context.Context) ([]storage.StopRecord, error) {
	out, err := p.cb.Execute(func() (interface{}, error) {
		return p.inner.FetchInitialStops(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrProviderUnavailable
	}
	if err != nil {
		return nil, err
	}
	return out.([]storage.StopRecord), nil
}

// State reports the breaker state, e.g. "closed" or "open".
func (p *BreakerProvider) State() string {
	return p.cb.State().String()
}
