// Package future provides write-once deferred results for task launches.
package future

import (
	"context"
	"sync/atomic"
)

var nextID atomic.Uint64

// Future is a write-once deferred value produced by a task.
type Future struct {
	id   uint64
	done chan struct{}
	val  any
	err  error
}

// New returns an incomplete future.
func New() *Future {
	return &Future{id: nextID.Add(1), done: make(chan struct{})}
}

// Completed returns a future already resolved with the given value and error.
func Completed(v any, err error) *Future {
	f := New()
	f.Complete(v, err)
	return f
}

// ID returns the process-unique serial of this future.
func (f *Future) ID() uint64 { return f.id }

// Complete resolves the future. A future resolves exactly once; completing
// it a second time panics.
func (f *Future) Complete(v any, err error) {
	select {
	case <-f.done:
		panic("future: already completed")
	default:
	}
	f.val = v
	f.err = err
	close(f.done)
}

// Done returns a channel that is closed once the future has resolved.
func (f *Future) Done() <-chan struct{} { return f.done }

// Err returns the resolution error once the future has completed, and nil
// before then.
func (f *Future) Err() error {
	select {
	case <-f.done:
		return f.err
	default:
		return nil
	}
}

// Wait blocks until the future resolves or ctx is done, and returns the
// resolved value and error.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
