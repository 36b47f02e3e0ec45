package reconcile

import (
	"context"
	"fmt"
)

// Future is the result of an engine call running on its own goroutine.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn in a new goroutine and returns its future.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("panic: %v", r)
			}
		}()
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Done is closed when the result is ready.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the result is ready or ctx ends. Giving up on the
// future does not stop the work behind it.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete calls cb with the result once it is ready, for callers that
// want callbacks instead of blocking.
func OnComplete[T any](f *Future[T], cb func(T, error)) {
	go func() {
		<-f.done
		cb(f.val, f.err)
	}()
}
