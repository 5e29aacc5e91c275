package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// result is the value carried by a resultSlot. closeErr reports a failure
// to dispose of the response body after the outcome was decided.
type result struct {
	out      Outcome
	err      error
	closeErr error
}

// resultSlot is a single-assignment slot. The first resolve wins; every
// later call is a no-op that reports false.
type resultSlot struct {
	once sync.Once
	done chan result
}

func newResultSlot() *resultSlot {
	return &resultSlot{done: make(chan result, 1)}
}

func (s *resultSlot) resolve(out Outcome, err error) bool {
	return s.settle(result{out: out, err: err})
}

func (s *resultSlot) settle(r result) bool {
	var won bool
	s.once.Do(func() {
		s.done <- r
		won = true
	})

	return won
}

func (s *resultSlot) wait() (Outcome, error) {
	r := s.waitResult()
	return r.out, r.err
}

func (s *resultSlot) waitResult() result {
	return <-s.done
}

// execution holds the per-request resources owned by the dispatcher:
// the connection (through its context) and the timeout timer.
type execution struct {
	cancel  context.CancelFunc
	timer   *time.Timer
	expired atomic.Bool

	releaseOnce sync.Once
}

// release disarms the timer and tears down the connection.
func (ex *execution) release() {
	ex.releaseOnce.Do(func() {
		if ex.timer != nil {
			ex.timer.Stop()
		}
		ex.cancel()
	})
}

// dispatcher drives exactly one request to exactly one outcome.
type dispatcher struct {
	transports Transports
	assembler  *assembler
	logger     *slog.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func (dp *dispatcher) dispatch(ctx context.Context, d *Descriptor) (Outcome, error) {
	rt, err := dp.transports.Select(d.Target.Scheme)
	if err != nil {
		return Outcome{}, err
	}

	ctx, span := dp.tracer.Start(ctx, "courier.execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", strings.ToUpper(d.Method)),
			attribute.String("url.full", d.Target.Redacted()),
			attribute.Bool("courier.stream", d.StreamMode),
		),
	)
	defer span.End()

	ctx, cancel := context.WithCancel(ctx)
	ex := &execution{cancel: cancel}

	req, err := newWireRequest(ctx, d)
	if err != nil {
		ex.release()
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, fmt.Errorf("building request: %w", err)
	}
	dp.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	slot := newResultSlot()

	if d.Timeout > 0 {
		ex.timer = time.AfterFunc(d.Timeout, func() {
			ex.expired.Store(true)
			slot.resolve(Outcome{}, &TimeoutError{After: d.Timeout})
			ex.cancel()
		})
	}

	dp.logger.Debug("request dispatched", "method", req.Method, "url", d.Target.Redacted(), "stream", d.StreamMode)

	go func() {
		resp, err := rt.RoundTrip(req)
		if err != nil {
			slot.resolve(Outcome{}, &TransportError{Err: err})
			return
		}

		dp.assembler.assemble(resp, d, slot, ex)
	}()

	r := slot.waitResult()
	out, err := r.out, r.err
	if !out.IsStream() {
		ex.release()
	}

	// Logging stays on the caller's goroutine so every line is written
	// before the outcome is returned.
	dp.logOutcome(req, d, r)

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case out.IsStream():
		span.SetAttributes(attribute.Int("http.response.status_code", out.Stream.StatusCode))
	default:
		span.SetAttributes(
			attribute.Int("http.response.status_code", out.Response.StatusCode),
			attribute.Int("http.response.body.size", out.Response.Len()),
		)
	}

	return out, err
}

func (dp *dispatcher) logOutcome(req *http.Request, d *Descriptor, r result) {
	target := d.Target.Redacted()

	var (
		te  *TimeoutError
		ble *BufferLimitError
	)
	switch {
	case errors.As(r.err, &te):
		dp.logger.Warn("request timed out", "method", req.Method, "url", target, "timeout", te.After.String())
	case errors.As(r.err, &ble):
		dp.logger.Warn("response buffer limit exceeded", "method", req.Method, "url", target, "limit", ble.Limit)
	case r.out.IsStream():
		dp.logger.Debug("response received", "method", req.Method, "url", target, "statusCode", r.out.Stream.StatusCode)
	case r.out.Response != nil:
		dp.logger.Debug("response received", "method", req.Method, "url", target, "statusCode", r.out.Response.StatusCode)
	}

	if r.closeErr != nil {
		dp.logger.Error("failed to close response body", "url", target, "error", r.closeErr)
	}
}

// newWireRequest converts d into an *http.Request bound to ctx. Header
// names keep the caller's case, except User-Agent, which is stored under
// its canonical key so the transport does not add its own default.
// Content-Length and Host are carried on the request itself since the
// transport writes those fields.
func newWireRequest(ctx context.Context, d *Descriptor) (*http.Request, error) {
	var body io.Reader
	if d.hasBody() {
		body = bytes.NewReader(d.Body)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(d.Method), d.Target.String(), body)
	if err != nil {
		return nil, err
	}

	for name, value := range d.outgoingHeaders() {
		switch {
		case strings.EqualFold(name, "Content-Length"):
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return nil, errors.New("invalid content-length header: " + value)
			}
			req.ContentLength = n
		case strings.EqualFold(name, "Host"):
			req.Host = value
		case strings.EqualFold(name, "User-Agent"):
			req.Header["User-Agent"] = []string{value}
		default:
			req.Header[name] = []string{value}
		}
	}

	return req, nil
}
