//go:build linux

package uringloop

import (
	"errors"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/behrlich/go-uringloop/internal/extloop"
	"github.com/behrlich/go-uringloop/ring"
)

// Loop is the public event-loop handle: the io_uring-backed core
// described by spec.md §1-§2. All of its methods must be called from
// the loop's own goroutine (spec.md §5 "Scheduling model") — this
// package adds no internal mutex around loop state, matching the
// teacher's own choice to keep the ring's SQ array as the only locked
// structure.
type Loop struct {
	r *ring.Ring

	syncLimit       uint32
	maxDatagramSize uint32
	logger          Logger
	metrics         *IdleMetrics
	profileSignal   syscall.Signal

	table   *extloop.Table[*Watcher]
	pending *pendingQueue
	clock   *monotonicClock

	signalWatcher *Watcher

	closed atomic.Bool
}

// NewLoop implements spec.md's platform_loop_init: allocates the ring
// context and zero-initializes the watcher table and pending queue.
func NewLoop(opts ...Option) (*Loop, error) {
	o := defaultLoopOptions()
	for _, opt := range opts {
		opt(o)
	}

	r, err := ring.New(o.sqEntries, ring.WithCQSize(o.sqEntries*2))
	if err != nil {
		if errors.Is(err, syscall.ENOSYS) {
			return nil, ErrRingUnsupported
		}
		return nil, newLoopError(KindFatal, "NewLoop", err)
	}

	logger := o.logger
	if !o.loggerSet {
		logger = defaultLogger()
	}

	l := &Loop{
		r:               r,
		syncLimit:       o.syncLimit,
		maxDatagramSize: o.maxDatagram,
		logger:          logger,
		metrics:         o.metrics,
		profileSignal:   o.profileSignal,
		table:           extloop.NewTable[*Watcher](),
		pending:         newPendingQueue(),
		clock:           newMonotonicClock(),
	}

	logInfof(l.logger, "loop initialized sq_entries=%d sync_limit=%d", o.sqEntries, o.syncLimit)
	return l, nil
}

// Close implements platform_loop_delete: tears down the ring. No public
// operation may be invoked between Close and a subsequent NewLoop
// (spec.md §4.1) — the guard is the closed flag consulted by ring().
func (l *Loop) Close() error {
	if l.closed.Swap(true) {
		return ErrLoopClosed
	}
	logInfof(l.logger, "loop closing")
	return l.r.Close()
}

// ring returns the live ring handle, or ErrLoopClosed once torn down.
// Every method that touches the ring goes through this accessor so the
// "invalid between destroy and init" invariant has one enforcement
// point.
func (l *Loop) ring() (*ring.Ring, error) {
	if l.closed.Load() {
		return nil, ErrLoopClosed
	}
	return l.r, nil
}

// RegisterWatcher adds w to the loop's fd table and, if its interest
// mask differs from what's currently armed, the pending-registration
// queue (spec.md §3 Watcher invariant).
func (l *Loop) RegisterWatcher(w *Watcher) {
	w.id = watcherCorrelationID()
	l.table.Set(w.FD, w)
	if w.IsSignal {
		l.signalWatcher = w
	}
	if w.PEvents != w.Events {
		l.pending.push(w)
	}
	logDebugf(l.logger, "watcher registered fd=%d pevents=%v id=%s", w.FD, w.PEvents, w.id)
}

// UnregisterWatcher removes w from the fd table, formalizing the
// Design Notes' "freed slot's later CQE decodes to a mismatch" rule:
// callers should pair this with InvalidateFD when the fd is also
// closing.
func (l *Loop) UnregisterWatcher(fd int) {
	if w, ok := l.table.Get(fd); ok && w.IsSignal {
		l.signalWatcher = nil
	}
	l.table.Clear(fd)
}

// CheckFD implements io_check_fd: a non-blocking readiness probe
// validating that fd is open and pollable. This intentionally does not
// go through the ring — it is meant to be cheap and synchronous, and
// spec.md describes it as a direct probe, not an async operation.
func (l *Loop) CheckFD(fd int) error {
	if fd < 0 {
		return syscall.EINVAL
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: int16(PollReadable | PollWritable)}}
	if _, err := unix.Poll(fds, 0); err != nil && !errors.Is(err, syscall.EINTR) {
		return err
	}
	if fds[0].Revents&unix.POLLNVAL != 0 {
		return syscall.EBADF
	}
	if fds[0].Revents&int16(PollError) != 0 && fds[0].Revents&int16(PollReadable|PollWritable) == 0 {
		return syscall.EINVAL
	}
	return nil
}

func watcherCorrelationID() string {
	return uuid.NewString()
}

// Config reports the tunables this loop was built with.
func (l *Loop) Config() Config {
	return Config{
		SQEntries:       l.r.SQEntries(),
		SyncLimit:       l.syncLimit,
		MaxDatagramSize: l.maxDatagramSize,
		Logger:          l.logger,
		Metrics:         l.metrics,
		ProfileSignal:   l.profileSignal,
	}
}
