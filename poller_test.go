//go:build linux

package uringloop

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func socketpair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestPollOneShotFiresOnce(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	a, b := socketpair(t)

	var fired int
	w := NewWatcher(a, PollReadable, true, func(events PollMask) {
		fired++
		assert.NotZero(t, events&PollReadable)
	})
	l.RegisterWatcher(w)

	_, err = syscall.Write(b, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, l.Poll(2*time.Second))
	assert.Equal(t, 1, fired)

	buf := make([]byte, 1)
	syscall.Read(a, buf)

	// One-shot: no rearm, so a second Poll with a short timeout sees
	// nothing even though there's more data potential.
	syscall.Write(b, []byte("y"))
	require.NoError(t, l.Poll(20*time.Millisecond))
	assert.Equal(t, 1, fired)
}

func TestPollLevelTriggeredRearms(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	a, b := socketpair(t)

	var fired int
	w := NewWatcher(a, PollReadable, false, func(events PollMask) {
		fired++
	})
	l.RegisterWatcher(w)

	syscall.Write(b, []byte("x"))
	require.NoError(t, l.Poll(2*time.Second))
	assert.Equal(t, 1, fired)

	// Data still unread: a level-triggered, rearmed watcher should fire
	// again on the next tick without any new write.
	require.NoError(t, l.Poll(2*time.Second))
	assert.Equal(t, 2, fired)
}

func TestPollNonBlockingReturnsImmediatelyWhenIdle(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	a, _ := socketpair(t)

	fired := false
	w := NewWatcher(a, PollReadable, false, func(PollMask) { fired = true })
	l.RegisterWatcher(w)

	start := time.Now()
	require.NoError(t, l.Poll(0))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.False(t, fired)
}

func TestPollTimeoutElapsesWithoutEvent(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	a, _ := socketpair(t)
	w := NewWatcher(a, PollReadable, false, func(PollMask) {})
	l.RegisterWatcher(w)

	start := time.Now()
	require.NoError(t, l.Poll(100*time.Millisecond))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

// Invariant: the signal-multiplexer watcher's callback always runs
// last in a drain, regardless of CQE arrival order.
func TestSignalWatcherDeferredToEnd(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	a1, b1 := socketpair(t)
	a2, b2 := socketpair(t)

	var order []string

	normal := NewWatcher(a1, PollReadable, true, func(PollMask) {
		order = append(order, "normal")
	})
	l.RegisterWatcher(normal)

	sig := NewWatcher(a2, PollReadable, true, func(PollMask) {
		order = append(order, "signal")
	})
	sig.IsSignal = true
	l.RegisterWatcher(sig)

	syscall.Write(b1, []byte("x"))
	syscall.Write(b2, []byte("y"))

	require.NoError(t, l.Poll(2*time.Second))

	if assert.NotEmpty(t, order) {
		assert.Equal(t, "signal", order[len(order)-1])
	}
}

func TestInvalidateFDDiscardsStaleCompletion(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	a, b := socketpair(t)

	fired := false
	w := NewWatcher(a, PollReadable, false, func(PollMask) { fired = true })
	l.RegisterWatcher(w)

	// Arm it, then invalidate before any data arrives.
	require.NoError(t, l.Poll(0))
	l.InvalidateFD(a)

	syscall.Write(b, []byte("z"))
	require.NoError(t, l.Poll(200*time.Millisecond))
	assert.False(t, fired)
}
