// internal/source/breaker.go
package source

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	custom_errors "activity-sync/internal/errors"
	"activity-sync/internal/metrics"
	"activity-sync/internal/model"
)

// BreakerSettings tunes the per-upstream circuit breakers.
type BreakerSettings struct {
	MinRequests  uint32
	FailureRatio float64
	OpenTimeout  time.Duration
	Interval     time.Duration
}

// DefaultBreakerSettings opens a breaker when at least 60% of 5 or more
// requests within a minute fail, and tries again after two minutes.
var DefaultBreakerSettings = BreakerSettings{
	MinRequests:  5,
	FailureRatio: 0.6,
	OpenTimeout:  2 * time.Minute,
	Interval:     time.Minute,
}

// Breakers holds one circuit breaker per upstream name so repeated syncs of a
// failing source stop hitting it.
type Breakers struct {
	mu       sync.Mutex
	settings BreakerSettings
	breakers map[string]*gobreaker.CircuitBreaker[[]model.Update]
	logger   *slog.Logger
}

// NewBreakers creates an empty breaker set.
func NewBreakers(settings BreakerSettings, logger *slog.Logger) *Breakers {
	return &Breakers{
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]model.Update]),
		logger:   logger.With("component", "circuit_breaker"),
	}
}

func (b *Breakers) get(name string) *gobreaker.CircuitBreaker[[]model.Update] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[name]; ok {
		return cb
	}

	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	cb := gobreaker.NewCircuitBreaker[[]model.Update](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    b.settings.Interval,
		Timeout:     b.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < b.settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= b.settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("Circuit breaker state transition", "name", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
		// Not-found and auth failures are configuration problems, not an
		// unhealthy upstream.
		IsSuccessful: func(err error) bool {
			var srcErr *custom_errors.SourceError
			if errors.As(err, &srcErr) {
				return srcErr.Kind == custom_errors.SourceNotFound || srcErr.Kind == custom_errors.SourceAuth
			}
			return err == nil
		},
	})
	b.breakers[name] = cb
	return cb
}

// Wrap decorates src with the breaker registered under its name.
func (b *Breakers) Wrap(src Source) Source {
	return &breakerSource{Source: src, cb: b.get(src.Name())}
}

type breakerSource struct {
	Source
	cb *gobreaker.CircuitBreaker[[]model.Update]
}

// FetchUpdates runs the wrapped fetch through the breaker. A rejected call is
// reported as an api SourceError so callers see one error taxonomy.
func (s *breakerSource) FetchUpdates(ctx context.Context, since *time.Time) ([]model.Update, error) {
	name := s.Name()
	updates, err := s.cb.Execute(func() ([]model.Update, error) {
		return s.Source.FetchUpdates(ctx, since)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.CircuitBreakerRequests.WithLabelValues(name, "rejected").Inc()
		return nil, custom_errors.NewSourceError(custom_errors.SourceAPI, name, err)
	case err != nil:
		metrics.CircuitBreakerRequests.WithLabelValues(name, "failure").Inc()
		return nil, err
	}
	metrics.CircuitBreakerRequests.WithLabelValues(name, "success").Inc()
	return updates, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
