package host

import (
	"context"

	"github.com/srg/blecentral/internal/groutine"
)

// Await runs fn on a named goroutine and returns its result, or ctx.Err() if
// ctx ends first. It serves library calls that take no context; an abandoned
// call finishes in the background and its result is dropped.
func Await[T any](ctx context.Context, name string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}

	ch := make(chan result, 1)
	groutine.Go(context.WithoutCancel(ctx), name, func(context.Context) {
		v, err := fn()
		ch <- result{v: v, err: err}
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.v, r.err
	}
}
