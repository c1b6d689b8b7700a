package core

import "time"

// Clock abstracts monotonic time so rate windows and scheduled orders are
// testable. The zero-dependency SystemClock is used in production.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the wall-clock implementation of Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time                         { return time.Now() }
func (SystemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SleepCtx sleeps for d or until ctx is done, whichever comes first.
func SleepCtx(ctx interface{ Done() <-chan struct{} }, clock Clock, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-clock.After(d):
	}
}
