// Package courier exposes the client builder and the request builder.
package courier

import (
	"github.com/adamwoolhether/courier/client"
)

// NewClient instantiates a new *Client with the provided options.
// If not specified, HTTP/1.1 transports and slog.Default are used.
func NewClient(opts ...client.Option) (*client.Client, error) {
	return client.Build(opts...)
}

// NewRequest builds a request descriptor for rawURL.
func NewRequest(rawURL string, opts ...client.RequestOption) (*client.Descriptor, error) {
	return client.Request(rawURL, opts...)
}
