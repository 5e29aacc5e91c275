package client

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

// chunkedReader hands out its chunks one Read at a time.
type chunkedReader struct {
	chunks [][]byte
	closed bool
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, errors.New("read on closed body")
	}
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func (r *chunkedReader) Close() error {
	r.closed = true
	return nil
}

func assembleOnce(t *testing.T, body *chunkedReader, header http.Header, d *Descriptor) (Outcome, error) {
	t.Helper()

	if d.Target == nil {
		d.Target, _ = url.Parse("http://example.com")
	}
	if header == nil {
		header = http.Header{}
	}

	resp := &http.Response{StatusCode: http.StatusOK, Header: header, Body: body, ContentLength: -1}
	slot := newResultSlot()
	ex := &execution{cancel: func() {}}

	a := &assembler{logger: slog.New(slog.DiscardHandler)}
	a.assemble(resp, d, slot, ex)

	return slot.wait()
}

func TestAssembler_Buffer_ConcatenatesChunks(t *testing.T) {
	body := &chunkedReader{chunks: [][]byte{[]byte("ab"), []byte("cd"), []byte("ef")}}

	out, err := assembleOnce(t, body, nil, &Descriptor{})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if got := out.Response.Text(); got != "abcdef" {
		t.Errorf("expected %q, got %q", "abcdef", got)
	}
	if !body.closed {
		t.Error("body must be closed once finalized")
	}
}

func TestAssembler_Buffer_LimitClosesSource(t *testing.T) {
	body := &chunkedReader{chunks: [][]byte{[]byte("1234"), []byte("5678"), []byte("never read")}}

	_, err := assembleOnce(t, body, nil, &Descriptor{MaxBufferBytes: 6})

	var ble *BufferLimitError
	if !errors.As(err, &ble) || ble.Limit != 6 {
		t.Fatalf("expected BufferLimitError with limit 6, got %v", err)
	}
	if !body.closed {
		t.Error("source must be closed on limit violation")
	}
	if len(body.chunks) != 1 {
		t.Errorf("expected reading to stop at the violating chunk, %d chunks left", len(body.chunks))
	}
}

func TestAssembler_Stream_TakesOwnership(t *testing.T) {
	body := &chunkedReader{chunks: [][]byte{[]byte("live")}}

	out, err := assembleOnce(t, body, nil, &Descriptor{StreamMode: true, MaxBufferBytes: 1})
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if body.closed {
		t.Fatal("stream body must stay open until the caller closes it")
	}

	got, err := io.ReadAll(out.Stream)
	if err != nil {
		t.Fatalf("reading stream: %v", err)
	}
	if string(got) != "live" {
		t.Errorf("expected %q, got %q", "live", got)
	}

	out.Stream.Close()
	if !body.closed {
		t.Error("closing the stream must close the body")
	}
}

func TestAssembler_Stream_LateResolveCloses(t *testing.T) {
	target, _ := url.Parse("http://example.com")
	body := &chunkedReader{chunks: [][]byte{[]byte("late")}}

	slot := newResultSlot()
	slot.resolve(Outcome{}, &TimeoutError{})

	a := &assembler{logger: slog.New(slog.DiscardHandler)}
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: body}
	a.assemble(resp, &Descriptor{Target: target, StreamMode: true}, slot, &execution{cancel: func() {}})

	if !body.closed {
		t.Error("a stream losing the race must be closed")
	}
}

func TestDecoderFor(t *testing.T) {
	for _, ce := range []string{"gzip", "deflate"} {
		if decoderFor(ce) == nil {
			t.Errorf("expected decoder for %q", ce)
		}
	}
	for _, ce := range []string{"", "br", "GZIP", "x-gzip", "gzip, deflate", "identity"} {
		if decoderFor(ce) != nil {
			t.Errorf("expected no decoder for %q", ce)
		}
	}
}

func TestLazyDecoder(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write([]byte(strings.Repeat("lazy", 100)))
	zw.Close()

	opened := false
	open := decoderFor("gzip")
	dec := &lazyDecoder{
		src: &buf,
		open: func(src io.Reader) (io.ReadCloser, error) {
			opened = true
			return open(src)
		},
	}

	if opened {
		t.Fatal("decoder must not open before the first read")
	}
	if err := dec.Close(); err != nil {
		t.Errorf("closing an unopened decoder: %v", err)
	}

	got, err := io.ReadAll(dec)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if string(got) != strings.Repeat("lazy", 100) {
		t.Errorf("unexpected decoded body of %d bytes", len(got))
	}

	bad := &lazyDecoder{src: strings.NewReader("not gzip"), open: open}
	if _, err := io.ReadAll(bad); err == nil {
		t.Error("expected error for corrupt input")
	}
	if _, err := bad.Read(make([]byte, 1)); err == nil {
		t.Error("the open error must be sticky")
	}
}

func TestAssembler_Buffer_ProgressTotalUnknownWhenDecoding(t *testing.T) {
	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	zw.Write(bytes.Repeat([]byte("decoded "), 2048))
	zw.Close()

	target, _ := url.Parse("http://example.com")
	resp := &http.Response{
		StatusCode:    http.StatusOK,
		Header:        http.Header{"Content-Encoding": {"gzip"}},
		Body:          io.NopCloser(bytes.NewReader(compressed.Bytes())),
		ContentLength: int64(compressed.Len()),
	}

	var logs bytes.Buffer
	a := &assembler{logger: slog.New(slog.NewTextHandler(&logs, nil)), progress: true}
	slot := newResultSlot()
	a.assemble(resp, &Descriptor{Target: target, AcceptCompression: true}, slot, &execution{cancel: func() {}})

	out, err := slot.wait()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if out.Response.Len() != 2048*len("decoded ") {
		t.Fatalf("unexpected decoded length %d", out.Response.Len())
	}

	got := logs.String()
	if !strings.Contains(got, "total=-1") || !strings.Contains(got, "progress=unknown") {
		t.Errorf("expected an unknown total while decoding, got:\n%s", got)
	}
	if strings.Contains(got, "body received") {
		t.Errorf("the encoded length must not mark the body complete, got:\n%s", got)
	}
}

// failingCloser reports an error on Close.
type failingCloser struct {
	io.Reader
}

func (failingCloser) Close() error { return errors.New("close failed") }

func TestAssembler_Buffer_CloseErrorTravelsWithOutcome(t *testing.T) {
	target, _ := url.Parse("http://example.com")
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{},
		Body:       failingCloser{strings.NewReader("body")},
	}

	slot := newResultSlot()
	a := &assembler{logger: slog.New(slog.DiscardHandler)}
	a.assemble(resp, &Descriptor{Target: target}, slot, &execution{cancel: func() {}})

	r := slot.waitResult()
	if r.err != nil {
		t.Fatalf("expected no error, got: %v", r.err)
	}
	if r.out.Response.Text() != "body" {
		t.Errorf("expected %q, got %q", "body", r.out.Response.Text())
	}
	if r.closeErr == nil {
		t.Error("expected the close failure to be carried with the outcome")
	}
}
