// Package breaker decorates the repositories with a per-call timeout and a
// circuit breaker, so a slow or failing store fails the request fast instead
// of piling up goroutines.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sakif/geosocial/internal/apperror"
)

// ErrUnavailable is returned while the breaker is open or half-open and
// saturated.
var ErrUnavailable = errors.New("store unavailable")

type Settings struct {
	Name string
	// CallTimeout bounds every store call.
	CallTimeout time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
	// Interval resets the failure counts while closed.
	Interval time.Duration
	// MinRequests and FailureRatio decide when the breaker trips.
	MinRequests  uint32
	FailureRatio float64
	MaxRequests  uint32
}

func DefaultSettings(name string) Settings {
	return Settings{
		Name:         name,
		CallTimeout:  5 * time.Second,
		OpenTimeout:  30 * time.Second,
		Interval:     10 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.5,
		MaxRequests:  1,
	}
}

// Breaker runs store calls under a timeout inside a gobreaker circuit.
type Breaker struct {
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
}

func New(s Settings, logger *slog.Logger) *Breaker {
	st := gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && failureRatio >= s.FailureRatio
		},
		// Not found, conflicts and validation failures mean the store answered.
		IsSuccessful: func(err error) bool {
			return err == nil || apperror.IsDomain(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}
	return &Breaker{
		cb:      gobreaker.NewCircuitBreaker(st),
		timeout: s.CallTimeout,
	}
}

// State reports the breaker state, e.g. for health checks.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func call[T any](ctx context.Context, b *Breaker, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	res, err := b.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return zero, fmt.Errorf("store call timed out after %s: %w", b.timeout, err)
		}
		return zero, err
	}
	return res.(T), nil
}

// exec is call for operations without a result.
func exec(ctx context.Context, b *Breaker, fn func(context.Context) error) error {
	_, err := call(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
