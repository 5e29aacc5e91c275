package client

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

const defaultDialTimeout = 5 * time.Second

// Transports holds the wire transport for each supported scheme.
type Transports struct {
	Plain  http.RoundTripper
	Secure http.RoundTripper
}

// Select returns the transport for scheme. Only "http" and "https" are
// supported; anything else fails with [UnsupportedProtocolError].
func (t Transports) Select(scheme string) (http.RoundTripper, error) {
	switch scheme {
	case "http":
		if t.Plain != nil {
			return t.Plain, nil
		}
	case "https":
		if t.Secure != nil {
			return t.Secure, nil
		}
	}

	return nil, &UnsupportedProtocolError{Scheme: scheme}
}

// wrap applies fn to both transports.
func (t Transports) wrap(fn func(http.RoundTripper) http.RoundTripper) Transports {
	return Transports{
		Plain:  fn(t.Plain),
		Secure: fn(t.Secure),
	}
}

// newWireTransport returns an HTTP/1.1-only transport that leaves
// content decoding to the caller. A nil tlsConf yields a plain transport.
func newWireTransport(dialTimeout time.Duration, tlsConf *tls.Config) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: dialTimeout,
		}).DialContext,
		TLSClientConfig:    tlsConf,
		DisableCompression: true,
		ForceAttemptHTTP2:  false,
		TLSNextProto:       make(map[string]func(string, *tls.Conn) http.RoundTripper),
	}
}

func defaultTransports(dialTimeout time.Duration, tlsConf *tls.Config) Transports {
	if tlsConf == nil {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return Transports{
		Plain:  newWireTransport(dialTimeout, nil),
		Secure: newWireTransport(dialTimeout, tlsConf),
	}
}
