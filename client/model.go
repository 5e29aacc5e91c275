package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// maxErrBodySize caps the amount of response body kept when
// building an error for an unexpected status code.
const maxErrBodySize = 4 << 10 // 4KB

var (
	// ErrUnsupportedProtocol is wrapped by [UnsupportedProtocolError].
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	// ErrTransport is wrapped by [TransportError].
	ErrTransport = errors.New("transport failure")
	// ErrTimeout is wrapped by [TimeoutError].
	ErrTimeout = errors.New("request timeout reached")
	// ErrBufferLimitExceeded is wrapped by [BufferLimitError].
	ErrBufferLimitExceeded = errors.New("response exceeded maximum buffer size")
	// ErrDecode is wrapped by [DecodeError].
	ErrDecode = errors.New("decoding response body")
	// ErrUnexpectedStatusCode is the sentinel error wrapped by [UnexpectedStatusError].
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	// ErrAuthFailure is joined with [ErrUnexpectedStatusCode] when the server
	// responds with 401 Unauthorized or 403 Forbidden.
	ErrAuthFailure = errors.New("auth failure")
)

// UnsupportedProtocolError is returned before any network I/O when the
// target URL's scheme has no matching transport.
type UnsupportedProtocolError struct {
	Scheme string
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("%v: %q", ErrUnsupportedProtocol, e.Scheme)
}

func (e *UnsupportedProtocolError) Unwrap() error {
	return ErrUnsupportedProtocol
}

// TransportError wraps a connection or read failure surfaced by the
// underlying transport. Both [ErrTransport] and the cause match [errors.Is].
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%v: %v", ErrTransport, e.Err)
}

func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// TimeoutError is returned when the armed timeout expires before the
// outcome resolved. The connection has been aborted.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v after %s", ErrTimeout, e.After)
}

func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// Timeout reports true, matching the net.Error convention.
func (e *TimeoutError) Timeout() bool { return true }

// BufferLimitError is returned when the assembled body grew past the
// configured ceiling. The connection has been aborted.
type BufferLimitError struct {
	Limit int64
}

func (e *BufferLimitError) Error() string {
	return fmt.Sprintf("%v: limit is %d bytes", ErrBufferLimitExceeded, e.Limit)
}

func (e *BufferLimitError) Unwrap() error {
	return ErrBufferLimitExceeded
}

// DecodeError is returned by the derived views of a [Response] when the
// body cannot be parsed.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%v: %v", ErrDecode, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}

// UnexpectedStatusError is returned by [Response.Expect] when the
// status code does not match the expected value.
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
}

func (e *UnexpectedStatusError) Unwrap() error {
	return e.Err
}

func newUnexpectedStatusError(code int, body []byte) *UnexpectedStatusError {
	if len(body) > maxErrBodySize {
		body = body[:maxErrBodySize]
	}

	err := ErrUnexpectedStatusCode
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		err = errors.Join(ErrAuthFailure, ErrUnexpectedStatusCode)
	}

	return &UnexpectedStatusError{
		StatusCode: code,
		Body:       string(body),
		Err:        err,
	}
}
