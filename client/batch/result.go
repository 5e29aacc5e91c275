package batch

import "context"

// Result represents one in-flight or completed unit of work.
type Result struct {
	done   chan struct{}
	err    error
	cancel context.CancelFunc
	queue  *Queue
}

// Done returns a channel closed when the work completes.
func (r *Result) Done() <-chan struct{} { return r.done }

// Err blocks until the work completes and returns its error.
func (r *Result) Err() error {
	<-r.done
	return r.err
}

// Wait blocks until all work in the owning queue completes.
func (r *Result) Wait() error {
	return r.queue.Wait()
}

// Cancel cancels the work's context.
func (r *Result) Cancel() {
	r.cancel()
}
