package queue

import (
	"context"
	"sync"

	"github.com/runnelsdev/copybridge/internal/core"
)

// Future is a one-shot completion handle for an enqueued order. It settles
// exactly once; later resolve or reject calls are no-ops.
type Future struct {
	once   sync.Once
	done   chan struct{}
	result *core.OrderResult
	err    error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(result *core.OrderResult) {
	f.once.Do(func() {
		f.result = result
		close(f.done)
	})
}

func (f *Future) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed when the future settles.
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the future settles or ctx is cancelled.
func (f *Future) Wait(ctx context.Context) (*core.OrderResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.result, f.err
	}
}
