package client

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Outcome is the single terminal result of [Client.Execute]. Exactly one
// of Response or Stream is set, matching the descriptor's mode.
type Outcome struct {
	Response *Response
	Stream   *Stream
}

// IsStream reports whether the outcome is a live stream.
func (o Outcome) IsStream() bool {
	return o.Stream != nil
}

// Response is a fully received, buffered response. It is only handed
// out once finalized and is read-only from then on.
type Response struct {
	StatusCode int
	// Header is the header set as received, including the original
	// Content-Encoding when the body was decoded.
	Header http.Header

	body []byte
}

// appendChunk is only called by the assembler before finalization.
func (r *Response) appendChunk(p []byte) {
	r.body = append(r.body, p...)
}

// Len returns the body length in bytes.
func (r *Response) Len() int {
	return len(r.body)
}

// Bytes returns a copy of the body.
func (r *Response) Bytes() []byte {
	return bytes.Clone(r.body)
}

// Text decodes the body as UTF-8. Invalid sequences are replaced with
// the Unicode replacement character.
func (r *Response) Text() string {
	return strings.ToValidUTF8(string(r.body), "�")
}

// JSON decodes the body into dest, which must be a pointer.
func (r *Response) JSON(dest any) error {
	if err := json.Unmarshal(r.body, dest); err != nil {
		return &DecodeError{Err: err}
	}

	return nil
}

// Expect returns an [UnexpectedStatusError] if the status code differs
// from code.
func (r *Response) Expect(code int) error {
	if r.StatusCode == code {
		return nil
	}

	return newUnexpectedStatusError(r.StatusCode, r.body)
}

// Stream is a live response body tied to the underlying connection.
// The caller owns it and must Close it.
type Stream struct {
	StatusCode int
	Header     http.Header

	body *streamBody
}

// Read reads decoded body bytes. Once the request timeout has fired,
// read failures are reported as [TimeoutError].
func (s *Stream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

// Close aborts the connection if still open, disarms the timeout and
// releases resources. It is safe to call more than once.
func (s *Stream) Close() error {
	return s.body.Close()
}

type streamBody struct {
	r       io.Reader
	closers []io.Closer
	release func()
	expired *atomic.Bool
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func (b *streamBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	if err == nil || errors.Is(err, io.EOF) {
		return n, err
	}

	if b.expired != nil && b.expired.Load() {
		return n, &TimeoutError{After: b.timeout}
	}

	return n, &TransportError{Err: err}
}

func (b *streamBody) Close() error {
	b.closeOnce.Do(func() {
		var errs []error
		for _, c := range b.closers {
			errs = append(errs, c.Close())
		}
		if b.release != nil {
			b.release()
		}
		b.closeErr = errors.Join(errs...)
	})

	return b.closeErr
}
