package vt

import (
	"context"
	"io"
)

// Future is the pending result of an asynchronous operation. Every network
// operation of the client is available as an Async method returning a
// Future, and as a blocking method that drives that same Future to
// completion on the caller's goroutine.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// asyncScopeKey marks contexts handed to the body of an asynchronous
// operation.
type asyncScopeKey struct{}

// goAsync runs fn on its own goroutine and returns its Future. fn receives
// a context marked as an async scope, so a blocking form called from inside
// it fails with ErrBlockingInAsync instead of stalling.
func goAsync[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	future := &Future[T]{done: make(chan struct{})}
	scoped := context.WithValue(ctx, asyncScopeKey{}, true)

	go func() {
		defer close(future.done)

		future.value, future.err = fn(scoped)
	}()

	return future
}

// Done is closed when the operation completes.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await suspends until the operation completes or ctx is done. It is the
// way to compose operations inside other asynchronous operations.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T

		return zero, ctx.Err()
	}
}

// Result returns the outcome without waiting. It fails with ErrNotReady
// while the operation is still running.
func (f *Future[T]) Result() (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
		var zero T

		return zero, ErrNotReady
	}
}

// InAsyncScope reports whether ctx belongs to the body of an asynchronous
// operation.
func InAsyncScope(ctx context.Context) bool {
	scoped, _ := ctx.Value(asyncScopeKey{}).(bool)

	return scoped
}

// checkBlocking fails fast when a blocking form is invoked from inside an
// asynchronous operation.
func checkBlocking(ctx context.Context) error {
	if InAsyncScope(ctx) {
		return ErrBlockingInAsync
	}

	return nil
}

// block is the blocking adapter: it starts exactly one asynchronous
// operation and stalls the calling goroutine until it completes. It must not
// be used from inside an asynchronous operation; that case is detected and
// reported as ErrBlockingInAsync before start is called.
//
// When ctx ends first the caller never sees the result, so a result that
// still completes successfully is closed if it is an io.Closer.
func block[T any](ctx context.Context, start func(ctx context.Context) *Future[T]) (T, error) {
	err := checkBlocking(ctx)
	if err != nil {
		var zero T

		return zero, err
	}

	future := start(ctx)

	select {
	case <-future.done:
		return future.value, future.err
	case <-ctx.Done():
		go future.release()

		var zero T

		return zero, ctx.Err()
	}
}

// release waits for the operation and closes its result.
func (f *Future[T]) release() {
	<-f.done

	if f.err != nil {
		return
	}

	if closer, ok := any(f.value).(io.Closer); ok {
		_ = closer.Close()
	}
}
