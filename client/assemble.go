package client

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
)

// chunkSize bounds a single read from the response body.
const chunkSize = 32 << 10 // 32KB

// decoderFunc opens a decompressing reader over src.
type decoderFunc func(src io.Reader) (io.ReadCloser, error)

// decoderFor returns the decoder for a Content-Encoding value, or nil
// when the value is not exactly "gzip" or "deflate".
func decoderFor(contentEncoding string) decoderFunc {
	switch contentEncoding {
	case "gzip":
		return func(src io.Reader) (io.ReadCloser, error) {
			zr, err := gzip.NewReader(src)
			if err != nil {
				return nil, err
			}
			return zr, nil
		}
	case "deflate":
		// HTTP deflate is the zlib format.
		return func(src io.Reader) (io.ReadCloser, error) {
			return zlib.NewReader(src)
		}
	default:
		return nil
	}
}

// lazyDecoder defers opening the decoder until the first Read, since
// both gzip and zlib read their header eagerly.
type lazyDecoder struct {
	src  io.Reader
	open decoderFunc
	dec  io.ReadCloser
	err  error
}

func (l *lazyDecoder) Read(p []byte) (int, error) {
	if l.dec == nil {
		if l.err != nil {
			return 0, l.err
		}
		if l.dec, l.err = l.open(l.src); l.err != nil {
			return 0, l.err
		}
	}

	return l.dec.Read(p)
}

func (l *lazyDecoder) Close() error {
	if l.dec == nil {
		return nil
	}
	return l.dec.Close()
}

// assembler turns a raw response into the outcome the descriptor asked for.
// Each call to assemble owns its response and buffer exclusively.
type assembler struct {
	logger   *slog.Logger
	progress bool
}

// assemble resolves slot with a Stream, a finalized Response, or a
// failure. It always disposes of resp.Body unless a Stream took it over.
func (a *assembler) assemble(resp *http.Response, d *Descriptor, slot *resultSlot, ex *execution) {
	var src io.Reader = resp.Body
	closers := []io.Closer{resp.Body}
	total := resp.ContentLength

	if d.AcceptCompression {
		if open := decoderFor(resp.Header.Get("Content-Encoding")); open != nil {
			dec := &lazyDecoder{src: resp.Body, open: open}
			src = dec
			closers = []io.Closer{dec, resp.Body}
			// Content-Length counts encoded bytes; the decoded size is unknown.
			total = -1
		}
	}

	if d.StreamMode {
		a.stream(resp, src, closers, d, slot, ex)
		return
	}

	a.buffer(resp, src, closers, total, d, slot)
}

func (a *assembler) stream(resp *http.Response, src io.Reader, closers []io.Closer, d *Descriptor, slot *resultSlot, ex *execution) {
	s := &Stream{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		body: &streamBody{
			r:       src,
			closers: closers,
			release: ex.release,
			expired: &ex.expired,
			timeout: d.Timeout,
		},
	}

	if !slot.resolve(Outcome{Stream: s}, nil) {
		// The caller already holds the winning outcome and may have returned.
		_ = s.Close()
	}
}

// buffer reads src to the end into a Response. The source is closed before
// slot is settled so a close failure travels with the outcome.
func (a *assembler) buffer(resp *http.Response, src io.Reader, closers []io.Closer, total int64, d *Descriptor, slot *resultSlot) {
	var (
		closeOnce sync.Once
		closeErr  error
	)
	closeSource := func() error {
		closeOnce.Do(func() {
			var errs []error
			for _, c := range closers {
				errs = append(errs, c.Close())
			}
			closeErr = errors.Join(errs...)
		})
		return closeErr
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
	}

	var sink io.Writer = bodyWriter{out}
	if a.progress {
		sink = &progressWriter{
			w:         sink,
			logger:    a.logger,
			url:       d.Target.Redacted(),
			total:     total,
			startTime: time.Now(),
		}
	}

	r := fill(src, sink, out, d.MaxBufferBytes, closeSource)
	r.closeErr = closeSource()
	slot.settle(r)
}

// fill copies src into sink in chunks, stopping at the first chunk that
// takes out past limit.
func fill(src io.Reader, sink io.Writer, out *Response, limit int64, closeSource func() error) result {
	buf := make([]byte, chunkSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return result{err: &TransportError{Err: werr}}
			}

			if limit > 0 && int64(out.Len()) > limit {
				closeSource()
				return result{err: &BufferLimitError{Limit: limit}}
			}
		}

		switch {
		case errors.Is(err, io.EOF):
			return result{out: Outcome{Response: out}}
		case err != nil:
			return result{err: &TransportError{Err: err}}
		}
	}
}

// bodyWriter appends to a Response that has not been handed out yet.
type bodyWriter struct {
	r *Response
}

func (w bodyWriter) Write(p []byte) (int, error) {
	w.r.appendChunk(p)
	return len(p), nil
}
