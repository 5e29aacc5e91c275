package throttle

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"
)

var (
	ErrMustNotBeZero = errors.New("must be greater than zero")
	ErrWaitingFailed = errors.New("limiter waiting failed")
	ErrContextEnded  = errors.New("throttle context ended")
)

// Config defines the throttle's requests per second and burst capacity.
type Config struct {
	RPS   int
	Burst int
}

// Validate reports whether both values are positive.
func (c Config) Validate() error {
	if c.RPS <= 0 || c.Burst <= 0 {
		return fmt.Errorf("rps[%d] and burst[%d] %w", c.RPS, c.Burst, ErrMustNotBeZero)
	}

	return nil
}

// pacer is an http.RoundTripper holding a token bucket shared by every
// request that passes through it.
type pacer struct {
	cfg     Config
	limiter *rate.Limiter
	next    http.RoundTripper
	logFn   func() *slog.Logger
}
