//go:build linux

package uringloop

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvalidateFDUnknownFDIsNoop(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	assert.NotPanics(t, func() { l.InvalidateFD(999999) })
}

func TestInvalidateFDNeverArmedWatcher(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	a, _ := socketpair(t)

	w := NewWatcher(a, PollReadable, false, func(PollMask) {})
	l.RegisterWatcher(w)

	// Still sitting on the pending-registration queue: Events == 0, so
	// InvalidateFD has nothing in flight to cancel via POLL_REMOVE.
	assert.NotPanics(t, func() { l.InvalidateFD(a) })

	_, ok := l.table.Get(a)
	assert.False(t, ok)
}

func TestInvalidateFDClearsTableBeforeNextArm(t *testing.T) {
	skipIfNoIOURing(t)

	l, err := NewLoop()
	require.NoError(t, err)
	defer l.Close()

	a, b := socketpair(t)

	fired := false
	w := NewWatcher(a, PollReadable, false, func(PollMask) { fired = true })
	l.RegisterWatcher(w)

	require.NoError(t, l.Poll(0))
	l.InvalidateFD(a)

	syscall.Write(b, []byte("late"))
	require.NoError(t, l.Poll(100*time.Millisecond))

	assert.False(t, fired)
	_, ok := l.table.Get(a)
	assert.False(t, ok)
}
