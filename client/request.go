package client

import (
	"errors"
	"fmt"
	"maps"
	"net/url"
	"path"
	"reflect"
	"slices"
	"strings"
	"time"
)

// ErrUnknownEncoding is returned when a payload's encoding cannot be guessed.
var ErrUnknownEncoding = errors.New("cannot guess the data encoding, the available types are `json`, `form` or `buffer`")

// Request builds a [Descriptor] for rawURL. Options accumulate in call
// order; the returned Descriptor is a snapshot the caller may keep
// reusing with [Client.Execute].
//
// The method defaults to "get".
func Request(rawURL string, opts ...RequestOption) (*Descriptor, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}

	settings := requestOpts{
		method:  "get",
		headers: make(map[string]string),
	}
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return nil, err
		}
	}

	for _, rel := range settings.paths {
		base := target.Path
		if base == "" {
			base = "/"
		}
		target.Path = path.Join(base, rel)
		target.RawPath = ""
	}

	if len(settings.query) > 0 {
		pairs := make([]string, 0, len(settings.query)+1)
		if target.RawQuery != "" {
			pairs = append(pairs, target.RawQuery)
		}
		for _, kv := range settings.query {
			pairs = append(pairs, url.QueryEscape(kv[0])+"="+url.QueryEscape(kv[1]))
		}
		target.RawQuery = strings.Join(pairs, "&")
	}

	d := Descriptor{
		Target:            target,
		Method:            settings.method,
		Headers:           settings.headers,
		Body:              settings.body,
		BodyEncoding:      settings.encoding,
		AcceptCompression: settings.compression,
		StreamMode:        settings.stream,
		MaxBufferBytes:    settings.maxBuffer,
		Timeout:           settings.timeout,
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	return &d, nil
}

// RequestOption is a functional option for [Request].
type RequestOption func(options *requestOpts) error

type requestOpts struct {
	method      string
	paths       []string
	headers     map[string]string
	query       [][2]string
	body        []byte
	encoding    BodyEncoding
	compression bool
	stream      bool
	maxBuffer   int64
	timeout     time.Duration
}

// WithMethod sets the request method. Any token is accepted.
func WithMethod(method string) RequestOption {
	return func(opts *requestOpts) error {
		if method == "" {
			return errors.New("method must not be empty")
		}
		opts.method = method

		return nil
	}
}

// WithPath joins rel onto the URL's path. Dot segments are resolved,
// so "../../posts" walks up from the base path.
func WithPath(rel string) RequestOption {
	return func(opts *requestOpts) error {
		opts.paths = append(opts.paths, rel)

		return nil
	}
}

// WithHeader sets a single header. The name's case is kept as given and
// a later call with the exact same name replaces the value.
func WithHeader(name, value string) RequestOption {
	return func(opts *requestOpts) error {
		if name == "" {
			return errors.New("header name must not be empty")
		}
		opts.headers[name] = value

		return nil
	}
}

// WithHeaders merges headers into the outgoing request.
func WithHeaders(headers map[string]string) RequestOption {
	return func(opts *requestOpts) error {
		maps.Copy(opts.headers, headers)

		return nil
	}
}

// WithContentType sets the Content-Type header, overriding the value
// derived from the body encoding.
func WithContentType(contentType string) RequestOption {
	return func(opts *requestOpts) error {
		if contentType == "" {
			return errors.New("cannot use empty content type")
		}
		opts.headers["Content-Type"] = contentType

		return nil
	}
}

// WithQuery appends a query parameter. Repeated keys are kept.
func WithQuery(key, value string) RequestOption {
	return func(opts *requestOpts) error {
		opts.query = append(opts.query, [2]string{key, value})

		return nil
	}
}

// WithQueryStrings appends every pair in queryKV, ordered by key.
func WithQueryStrings(queryKV map[string]string) RequestOption {
	return func(opts *requestOpts) error {
		for _, k := range slices.Sorted(maps.Keys(queryKV)) {
			opts.query = append(opts.query, [2]string{k, queryKV[k]})
		}

		return nil
	}
}

// WithPayload sets the request body, guessing its encoding: []byte is
// sent as-is, maps, slices, structs and pointers are JSON encoded.
// Anything else fails with [ErrUnknownEncoding]; use
// [WithEncodedPayload] to be explicit.
func WithPayload(body any) RequestOption {
	return func(opts *requestOpts) error {
		enc, err := guessEncoding(body)
		if err != nil {
			return err
		}

		return encodePayload(opts, body, enc)
	}
}

// WithEncodedPayload sets the request body using the given encoding.
func WithEncodedPayload(body any, enc BodyEncoding) RequestOption {
	return func(opts *requestOpts) error {
		return encodePayload(opts, body, enc)
	}
}

// WithCompression advertises gzip and deflate and transparently decodes
// responses using either.
func WithCompression(accept bool) RequestOption {
	return func(opts *requestOpts) error {
		opts.compression = accept

		return nil
	}
}

// WithStream delivers the response as a live [Stream] instead of a
// buffered [Response].
func WithStream(stream bool) RequestOption {
	return func(opts *requestOpts) error {
		opts.stream = stream

		return nil
	}
}

// WithMaxBufferSize caps the buffered body at n bytes. Zero removes the
// cap. It has no effect in stream mode.
func WithMaxBufferSize(n int64) RequestOption {
	return func(opts *requestOpts) error {
		if n < 0 {
			return errors.New("max buffer size must not be negative")
		}
		opts.maxBuffer = n

		return nil
	}
}

// WithResponseTimeout aborts the request if it has not completed within d.
// Zero disables the timeout.
func WithResponseTimeout(d time.Duration) RequestOption {
	return func(opts *requestOpts) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		opts.timeout = d

		return nil
	}
}

func guessEncoding(body any) (BodyEncoding, error) {
	if _, ok := body.([]byte); ok {
		return EncodingBuffer, nil
	}

	if body == nil {
		return EncodingNone, ErrUnknownEncoding
	}

	switch reflect.TypeOf(body).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		return EncodingJSON, nil
	default:
		return EncodingNone, ErrUnknownEncoding
	}
}

func encodePayload(opts *requestOpts, body any, enc BodyEncoding) error {
	var (
		b   []byte
		err error
	)

	switch enc {
	case EncodingJSON:
		b, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding json payload: %w", err)
		}
	case EncodingForm:
		b, err = encodeForm(body)
		if err != nil {
			return err
		}
	case EncodingBuffer:
		switch v := body.(type) {
		case []byte:
			b = v
		case string:
			b = []byte(v)
		default:
			return fmt.Errorf("buffer payload must be []byte or string, got %T", body)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEncoding, enc)
	}

	opts.body = b
	opts.encoding = enc

	return nil
}

func encodeForm(body any) ([]byte, error) {
	var values url.Values

	switch v := body.(type) {
	case url.Values:
		values = v
	case map[string]string:
		values = make(url.Values, len(v))
		for k, val := range v {
			values.Set(k, val)
		}
	case map[string]any:
		values = make(url.Values, len(v))
		for k, val := range v {
			values.Set(k, fmt.Sprint(val))
		}
	default:
		return nil, fmt.Errorf("form payload must be url.Values or a string keyed map, got %T", body)
	}

	return []byte(values.Encode()), nil
}
