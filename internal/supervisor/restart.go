package supervisor

import (
	"time"

	"github.com/runnelsdev/copybridge/internal/core"
)

// restartTracker enforces the sliding-window restart budget for one role.
type restartTracker struct {
	window   time.Duration
	max      int
	clock    core.Clock
	restarts []time.Time
}

func newRestartTracker(window time.Duration, max int, clock core.Clock) *restartTracker {
	return &restartTracker{window: window, max: max, clock: clock}
}

// allow records a restart attempt and reports whether it is within budget.
// Attempts older than the window no longer count.
func (t *restartTracker) allow() bool {
	now := t.clock.Now()
	cutoff := now.Add(-t.window)

	kept := t.restarts[:0]
	for _, at := range t.restarts {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	t.restarts = kept

	if len(t.restarts) >= t.max {
		return false
	}
	t.restarts = append(t.restarts, now)
	return true
}

// count reports restarts currently inside the window.
func (t *restartTracker) count() int {
	cutoff := t.clock.Now().Add(-t.window)
	n := 0
	for _, at := range t.restarts {
		if at.After(cutoff) {
			n++
		}
	}
	return n
}
