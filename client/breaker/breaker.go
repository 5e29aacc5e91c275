// Package breaker provides an [http.RoundTripper] guarded by a circuit
// breaker from [github.com/sony/gobreaker].
package breaker

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned while the circuit refuses requests.
var ErrCircuitOpen = errors.New("circuit open")

// Config tunes the breaker. Zero values fall back to gobreaker's defaults,
// except TripAfter which defaults to 5 consecutive failures.
type Config struct {
	Name string
	// HalfOpenRequests is the number of probes let through while half-open.
	HalfOpenRequests uint32
	// ResetInterval clears the failure counts while closed. Zero never clears.
	ResetInterval time.Duration
	// OpenTimeout is how long the circuit stays open before half-opening.
	OpenTimeout time.Duration
	// TripAfter is the number of consecutive failures that opens the circuit.
	TripAfter uint32
	// FailureCodes are response status codes counted as failures on top
	// of transport errors.
	FailureCodes []int
}

// statusFailure marks a response whose status counts against the breaker.
type statusFailure struct {
	code int
}

func (e *statusFailure) Error() string {
	return fmt.Sprintf("failure status code %d", e.code)
}

type circuit struct {
	cb     *gobreaker.CircuitBreaker
	codes  map[int]struct{}
	next   http.RoundTripper
	logger *slog.Logger
}

// NewRoundTripper wraps next with a circuit breaker.
func NewRoundTripper(cfg Config, logFn func() *slog.Logger, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if cfg.TripAfter == 0 {
		cfg.TripAfter = 5
	}

	c := &circuit{
		codes: make(map[int]struct{}, len(cfg.FailureCodes)),
		next:  next,
	}
	for _, code := range cfg.FailureCodes {
		c.codes[code] = struct{}{}
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.HalfOpenRequests,
		Interval:    cfg.ResetInterval,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.TripAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logFn == nil {
				return
			}
			logger := logFn()
			if logger == nil {
				return
			}

			switch to {
			case gobreaker.StateOpen:
				logger.Error("circuit has been opened", "circuit", name, "from", from.String())
			case gobreaker.StateHalfOpen:
				logger.Warn("circuit is half open", "circuit", name, "maxRequests", cfg.HalfOpenRequests)
			case gobreaker.StateClosed:
				logger.Info("circuit has been closed", "circuit", name)
			}
		},
	})

	return c
}

func (c *circuit) RoundTrip(r *http.Request) (*http.Response, error) {
	var resp *http.Response

	_, err := c.cb.Execute(func() (any, error) {
		var err error
		resp, err = c.next.RoundTrip(r)
		if err != nil {
			return nil, err
		}
		if _, ok := c.codes[resp.StatusCode]; ok {
			return nil, &statusFailure{code: resp.StatusCode}
		}
		return nil, nil
	})

	var sf *statusFailure
	switch {
	case errors.As(err, &sf):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	case err != nil:
		return nil, err
	}

	return resp, nil
}
