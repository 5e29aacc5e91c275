// Package batch runs independent units of work concurrently with an
// optional concurrency limit and collects their errors.
//
//	q := batch.NewQueue(4)
//	r := q.Start(ctx, func(ctx context.Context) error { ... })
//	// ... start more work ...
//	err := q.Wait() // all errors joined
//
// The courier client runs DoAsync calls on it.
package batch
