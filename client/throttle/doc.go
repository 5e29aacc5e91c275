// Package throttle provides an [http.RoundTripper] that paces outbound
// requests with a token bucket from [golang.org/x/time/rate].
//
// Wrap a transport with [NewRoundTripper]:
//
//	rt, err := throttle.NewRoundTripper(
//		throttle.Config{RPS: 10, Burst: 5},
//		func() *slog.Logger { return slog.Default() },
//		http.DefaultTransport,
//	)
//
// Once the burst is spent, a request blocks until a token is available
// or its context ends. The courier client installs it via
// client.WithThrottle.
package throttle
