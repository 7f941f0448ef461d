package fanout

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is the settled outcome of one task.
type Result[T, R any] struct {
	Item  T
	Value R
	Err   error
}

// OK reports whether the task succeeded.
func (r Result[T, R]) OK() bool { return r.Err == nil }

// Settle runs fn for every item with at most limit tasks in flight and
// returns once all of them have finished. It never short-circuits: a failed
// task does not stop or cancel its siblings. Results keep the order of
// items; each task writes only its own slot. Tasks not yet started when ctx
// is cancelled record ctx.Err() without calling fn.
func Settle[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (R, error)) []Result[T, R] {
	results := make([]Result[T, R], len(items))
	if len(items) == 0 {
		return results
	}
	if limit < 1 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := range items {
		results[i].Item = items[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Value, results[i].Err = fn(ctx, items[i])
			return nil
		})
	}
	_ = g.Wait() // tasks report through results, never through the group
	return results
}

// Errors collects the non-nil errors of results, in order.
func Errors[T, R any](results []Result[T, R]) []error {
	var errs []error
	for i := range results {
		if results[i].Err != nil {
			errs = append(errs, results[i].Err)
		}
	}
	return errs
}
