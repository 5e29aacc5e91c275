// Package client provides the core implementation of the courier HTTP
// client built on [net/http] transports.
//
// # Building a Client
//
// Use [Build] to create a [Client] with functional options:
//
//	c, err := client.Build(
//		client.WithTimeout(10 * time.Second),
//		client.WithUserAgent("myapp/1.0"),
//	)
//
// # Describing Requests
//
// [Request] accumulates options into an immutable [Descriptor]:
//
//	d, err := client.Request("https://api.example.com/v1",
//		client.WithPath("posts"),
//		client.WithMethod("post"),
//		client.WithPayload(map[string]string{"title": "hello"}),
//		client.WithCompression(true),
//		client.WithMaxBufferSize(1 << 20),
//	)
//
// # Executing
//
// [Client.Execute] resolves exactly once, with a buffered [Response], a
// live [Stream], or an error unwrapping to one of [ErrUnsupportedProtocol],
// [ErrTransport], [ErrTimeout] or [ErrBufferLimitExceeded]:
//
//	resp, err := c.Do(ctx, d)
//	if errors.Is(err, client.ErrBufferLimitExceeded) { ... }
//	var post Post
//	err = resp.JSON(&post)
//
// Streams must be closed by the caller, or handed to [Stream.SaveTo]:
//
//	s, err := c.Stream(ctx, d)
//	err = s.SaveTo(ctx, "/tmp/file.bin",
//		client.WithChecksum(sha256.New(), expectedHex),
//	)
//
// # Concurrent Executions
//
// [Client.DoAsync] runs buffered executions on a [batch.Queue] with a
// concurrency limit:
//
//	q := batch.NewQueue(4)
//	a := c.DoAsync(ctx, q, d1)
//	b := c.DoAsync(ctx, q, d2)
//	err = q.Wait()
//	resp, err := a.Response()
package client
