// Package client exposes the courier HTTP client: a descriptor builder
// and an execution pipeline delivering buffered or streamed responses.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/adamwoolhether/courier/client/batch"
	"github.com/adamwoolhether/courier/client/breaker"
	"github.com/adamwoolhether/courier/client/throttle"
)

const tracerName = "github.com/adamwoolhether/courier/client"

var errNilDescriptor = errors.New("descriptor must not be nil")

// Client executes descriptors. It holds no per-request state and is
// safe for concurrent use.
type Client struct {
	dispatcher     *dispatcher
	logger         *slog.Logger
	defaultTimeout time.Duration
}

// Build creates a Client. If not specified, HTTP/1.1 transports with a
// 5s dial timeout and the default slog logger are used.
func Build(optFns ...Option) (*Client, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	client := &Client{
		logger: slog.Default(),
	}
	if opts.logger != nil {
		client.logger = opts.logger
	}
	if opts.timeout != nil {
		client.defaultTimeout = *opts.timeout
	}

	dialTimeout := defaultDialTimeout
	if opts.dialTimeout != nil {
		dialTimeout = *opts.dialTimeout
	}

	transports := defaultTransports(dialTimeout, opts.tlsConf)
	if opts.rt != nil {
		transports = Transports{Plain: opts.rt, Secure: opts.rt}
	}

	if opts.userAgent != "" {
		transports = transports.wrap(func(base http.RoundTripper) http.RoundTripper {
			return userAgent{value: opts.userAgent, base: base}
		})
	}
	if opts.requestIDHeader != "" {
		transports = transports.wrap(func(base http.RoundTripper) http.RoundTripper {
			return requestID{header: opts.requestIDHeader, base: base}
		})
	}

	logFn := func() *slog.Logger { return client.logger }
	if opts.breaker != nil {
		// Both schemes share one breaker; they target the same services.
		shared := breaker.NewRoundTripper(*opts.breaker, logFn, schemeRouter(transports))
		transports = Transports{Plain: shared, Secure: shared}
	}
	if opts.throttle != nil {
		rt, err := throttle.NewRoundTripper(*opts.throttle, logFn, schemeRouter(transports))
		if err != nil {
			return nil, fmt.Errorf("configuring throttle: %w", err)
		}
		transports = Transports{Plain: rt, Secure: rt}
	}

	tp := opts.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	propagator := opts.propagator
	if propagator == nil {
		propagator = otel.GetTextMapPropagator()
	}

	client.dispatcher = &dispatcher{
		transports: transports,
		assembler: &assembler{
			logger:   client.logger,
			progress: opts.progress,
		},
		logger:     client.logger,
		tracer:     tp.Tracer(tracerName),
		propagator: propagator,
	}

	return client, nil
}

// Execute performs exactly one request described by d and reports
// exactly one outcome: a finalized [Response], a live [Stream], or an
// error. Failures unwrap to [ErrUnsupportedProtocol], [ErrTransport],
// [ErrTimeout] or [ErrBufferLimitExceeded].
//
// d is not modified and may be reused.
func (c *Client) Execute(ctx context.Context, d *Descriptor) (Outcome, error) {
	if d == nil {
		return Outcome{}, errNilDescriptor
	}

	return c.execute(ctx, d.Clone())
}

// Do executes d in buffered mode regardless of its stream setting.
func (c *Client) Do(ctx context.Context, d *Descriptor) (*Response, error) {
	if d == nil {
		return nil, errNilDescriptor
	}

	snapshot := d.Clone()
	snapshot.StreamMode = false

	out, err := c.execute(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	return out.Response, nil
}

// Stream executes d in stream mode regardless of its stream setting.
// The caller must Close the returned Stream.
func (c *Client) Stream(ctx context.Context, d *Descriptor) (*Stream, error) {
	if d == nil {
		return nil, errNilDescriptor
	}

	snapshot := d.Clone()
	snapshot.StreamMode = true

	out, err := c.execute(ctx, snapshot)
	if err != nil {
		return nil, err
	}

	return out.Stream, nil
}

// Call is a buffered execution started by [Client.DoAsync].
type Call struct {
	*batch.Result
	resp *Response
}

// Response blocks until the call completes.
func (c *Call) Response() (*Response, error) {
	if err := c.Err(); err != nil {
		return nil, err
	}

	return c.resp, nil
}

// DoAsync starts a buffered execution of d on q and returns immediately.
// Cancelling the call aborts the request.
func (c *Client) DoAsync(ctx context.Context, q *batch.Queue, d *Descriptor) *Call {
	call := &Call{}
	call.Result = q.Start(ctx, func(ctx context.Context) error {
		if d == nil {
			return errNilDescriptor
		}

		resp, err := c.Do(ctx, d)
		if err != nil {
			return fmt.Errorf("%s %s: %w", d.Method, d.Target.Redacted(), err)
		}
		call.resp = resp
		return nil
	})

	return call
}

func (c *Client) execute(ctx context.Context, d *Descriptor) (Outcome, error) {
	if err := d.Validate(); err != nil {
		return Outcome{}, err
	}

	if d.Timeout == 0 {
		d.Timeout = c.defaultTimeout
	}

	return c.dispatcher.dispatch(ctx, d)
}

// schemeRouter adapts Transports to a single RoundTripper so middleware
// shared across schemes still dispatches by URL scheme.
type schemeRouter Transports

func (sr schemeRouter) RoundTrip(r *http.Request) (*http.Response, error) {
	rt, err := Transports(sr).Select(r.URL.Scheme)
	if err != nil {
		return nil, err
	}
	return rt.RoundTrip(r)
}
