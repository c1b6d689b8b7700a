// Package retry provides context-aware retries with jittered exponential back-off.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines how an operation is retried.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy suits short RPC calls on the broker and policy servers.
var DefaultPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
}

// ReconnectPolicy suits long-lived stream reconnects: it never gives up and
// backs off further between attempts.
var ReconnectPolicy = Policy{
	MaxAttempts:    0, // unbounded
	InitialBackoff: time.Second,
	MaxBackoff:     30 * time.Second,
}

// IsTransientFunc decides whether an error is worth retrying.
type IsTransientFunc func(error) bool

// Do runs fn until it succeeds, a permanent error occurs, the attempt budget
// is exhausted, or ctx is cancelled. MaxAttempts <= 0 retries forever.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	backoff := policy.InitialBackoff
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if isTransient != nil && !isTransient(err) {
			return err
		}
		if policy.MaxAttempts > 0 && attempt >= policy.MaxAttempts-1 {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(backoff)):
		}
		backoff *= 2
		if backoff > policy.MaxBackoff {
			backoff = policy.MaxBackoff
		}
	}
}

// jittered adds random(0, 50%) of d on top of d.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(d/2)+1))
}
