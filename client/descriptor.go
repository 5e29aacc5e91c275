package client

import (
	"bytes"
	"fmt"
	"maps"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adamwoolhether/courier/internal/validate"
)

// BodyEncoding tags how a [Descriptor] body was serialized.
type BodyEncoding string

// Supported body encodings. The zero value means no body.
const (
	EncodingNone   BodyEncoding = ""
	EncodingJSON   BodyEncoding = "json"
	EncodingForm   BodyEncoding = "form"
	EncodingBuffer BodyEncoding = "buffer"
)

// supportedCompressions is advertised via Accept-Encoding, in order.
var supportedCompressions = []string{"gzip", "deflate"}

// Descriptor is the snapshot of a fully configured request. It is
// produced by [Request] and consumed by [Client.Execute], which never
// mutates it.
type Descriptor struct {
	Target            *url.URL          `json:"target" validate:"required"`
	Method            string            `json:"method" validate:"required"`
	Headers           map[string]string `json:"headers"`
	Body              []byte            `json:"-"`
	BodyEncoding      BodyEncoding      `json:"bodyEncoding" validate:"omitempty,oneof=json form buffer"`
	AcceptCompression bool              `json:"acceptCompression"`
	StreamMode        bool              `json:"streamMode"`
	MaxBufferBytes    int64             `json:"maxBufferBytes" validate:"gte=0"`
	Timeout           time.Duration     `json:"timeout" validate:"gte=0"`
}

// Clone returns a deep copy of d.
func (d *Descriptor) Clone() *Descriptor {
	cpy := *d
	if d.Target != nil {
		u := *d.Target
		if d.Target.User != nil {
			user := *d.Target.User
			u.User = &user
		}
		cpy.Target = &u
	}
	cpy.Headers = maps.Clone(d.Headers)
	cpy.Body = bytes.Clone(d.Body)

	return &cpy
}

// Validate reports whether d can be dispatched.
func (d *Descriptor) Validate() error {
	if err := validate.Check(d); err != nil {
		return fmt.Errorf("validating descriptor: %w", err)
	}

	return nil
}

// hasBody reports whether a payload will be written.
func (d *Descriptor) hasBody() bool {
	return len(d.Body) > 0
}

// outgoingHeaders returns the caller's headers plus any derived standard
// headers the caller did not set explicitly. d is left untouched.
func (d *Descriptor) outgoingHeaders() map[string]string {
	out := maps.Clone(d.Headers)
	if out == nil {
		out = make(map[string]string)
	}

	setDefault := func(name, value string) {
		for k := range out {
			if strings.EqualFold(k, name) {
				return
			}
		}
		out[name] = value
	}

	if d.hasBody() {
		switch d.BodyEncoding {
		case EncodingJSON:
			setDefault("content-type", "application/json")
		case EncodingForm:
			setDefault("content-type", "application/x-www-form-urlencoded")
		}

		setDefault("content-length", strconv.Itoa(len(d.Body)))
	}

	if d.AcceptCompression {
		setDefault("accept-encoding", strings.Join(supportedCompressions, ", "))
	}

	return out
}
