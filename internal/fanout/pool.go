// Package fanout runs independent remote calls concurrently: a shared Pool
// caps in-flight requests against one API, and Settle launches a batch and
// waits for every task to finish.
package fanout

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool limits concurrent requests against one remote API using a weighted
// semaphore. Every caller of that API (webhook handlers and reconciliation
// passes alike) should go through the same Pool so the API's rate budget is
// shared instead of multiplied.
type Pool struct {
	sem *semaphore.Weighted
}

// NewPool creates a Pool that allows at most limit concurrent requests.
func NewPool(limit int) *Pool {
	if limit < 1 {
		limit = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(limit))}
}

// Run acquires a slot, runs fn, and releases the slot.
// Blocks if all slots are busy. Returns ctx.Err() if the context
// is cancelled while waiting for a slot.
// If the pool is nil, fn is executed directly without concurrency control.
func (p *Pool) Run(ctx context.Context, fn func() error) error {
	if p == nil || p.sem == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}
