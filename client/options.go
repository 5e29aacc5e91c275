package client

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/courier/client/breaker"
	"github.com/adamwoolhether/courier/client/throttle"
)

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error
type options struct {
	rt              http.RoundTripper
	tlsConf         *tls.Config
	dialTimeout     *time.Duration
	timeout         *time.Duration
	userAgent       string
	requestIDHeader string
	throttle        *throttle.Config
	breaker         *breaker.Config
	tracerProvider  trace.TracerProvider
	propagator      propagation.TextMapPropagator
	logger          *slog.Logger
	progress        bool
}

// WithTransport replaces the wire transport for both http and https.
// The transport should not decode bodies itself (for an [http.Transport],
// set DisableCompression), or decoding may happen twice.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		c.rt = rt
		return nil
	}
}

// WithTLSConfig sets the TLS configuration of the https transport.
// It is ignored when [WithTransport] is used.
func WithTLSConfig(conf *tls.Config) Option {
	return func(c *options) error {
		if conf == nil {
			return errors.New("tls config must not be nil")
		}
		c.tlsConf = conf
		return nil
	}
}

// WithDialTimeout bounds connection establishment. The default is 5s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *options) error {
		if d <= 0 {
			return errors.New("dial timeout must be positive")
		}
		c.dialTimeout = &d
		return nil
	}
}

// WithTimeout sets a default response timeout for descriptors that do
// not carry their own.
func WithTimeout(d time.Duration) Option {
	return func(c *options) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		c.timeout = &d
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing
// requests that do not set one explicitly.
func WithUserAgent(header string) Option {
	return func(c *options) error {
		c.userAgent = header
		return nil
	}
}

// WithRequestID stamps every request lacking the given header with a
// random UUID.
func WithRequestID(header string) Option {
	return func(c *options) error {
		if header == "" {
			return errors.New("request id header must not be empty")
		}
		c.requestIDHeader = header
		return nil
	}
}

// WithThrottle enables token-bucket rate limiting with the given requests per second and burst capacity.
func WithThrottle(rps, burst int) Option {
	return func(c *options) error {
		cfg := throttle.Config{RPS: rps, Burst: burst}
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.throttle = &cfg
		return nil
	}
}

// WithCircuitBreaker stops sending requests after consecutive failures
// until the breaker half-opens again.
func WithCircuitBreaker(cfg breaker.Config) Option {
	return func(c *options) error {
		c.breaker = &cfg
		return nil
	}
}

// WithTracerProvider sets the provider used to trace executions. The
// global provider is used by default.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *options) error {
		if tp == nil {
			return errors.New("tracer provider must not be nil")
		}
		c.tracerProvider = tp
		return nil
	}
}

// WithPropagator sets the propagator injecting trace context into
// outgoing headers. The global propagator is used by default.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(c *options) error {
		if p == nil {
			return errors.New("propagator must not be nil")
		}
		c.propagator = p
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(c *options) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		c.logger = logger
		return nil
	}
}

// WithProgress logs buffered body progress at most once per second.
func WithProgress() Option {
	return func(c *options) error {
		c.progress = true
		return nil
	}
}

// userAgent is an http.RoundTripper, enabling the persistent User-Agent header.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if hasHeader(r.Header, "User-Agent") {
		return ua.base.RoundTrip(r)
	}

	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}

// requestID is an http.RoundTripper setting a UUID header when absent.
type requestID struct {
	header string
	base   http.RoundTripper
}

func (rid requestID) RoundTrip(r *http.Request) (*http.Response, error) {
	if hasHeader(r.Header, rid.header) {
		return rid.base.RoundTrip(r)
	}

	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generating request id: %w", err)
	}

	cpy := r.Clone(r.Context())
	cpy.Header.Set(rid.header, id.String())
	return rid.base.RoundTrip(cpy)
}

// hasHeader reports whether h carries name in any letter case. Header
// names supplied through a Descriptor are not canonicalized.
func hasHeader(h http.Header, name string) bool {
	for k, v := range h {
		if strings.EqualFold(k, name) && len(v) > 0 {
			return true
		}
	}
	return false
}
