//go:build linux

package uringloop

import "time"

// monotonicClock tracks the loop's notion of "now" the way the teacher's
// ring tracks SQ/CQ state: a single field updated at well-defined points,
// read everywhere else. Refreshed after the arming pass's submit syscall
// (spec.md §4.3.1: "the submit syscall may be long") and before the
// drift-corrected timeout recomputation in poller.go; the other submits
// (prepWithRetry, InvalidateFD) do not refresh it.
type monotonicClock struct {
	now time.Time
}

func newMonotonicClock() *monotonicClock {
	return &monotonicClock{now: time.Now()}
}

func (c *monotonicClock) refresh() {
	c.now = time.Now()
}

func (c *monotonicClock) elapsedSince(t time.Time) time.Duration {
	return c.now.Sub(t)
}
