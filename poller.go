//go:build linux

package uringloop

import (
	"errors"
	"runtime"
	"syscall"
	"time"
	"unsafe"

	"github.com/behrlich/go-uringloop/ring"
)

// indefiniteWait stands in for "block with no deadline" when computing
// the wait syscall's timeout argument; io_uring's enter() always wants
// a concrete timespec when EXT_ARG is in play, so -1 is translated to
// this practically-unbounded duration rather than threaded through as
// a sentinel.
const indefiniteWait = 365 * 24 * time.Hour

// Poll implements io_poll (spec.md §4.3): one arming pass over the
// pending-registration queue, followed by one or more wait+drain
// rounds until a callback ran, the timeout argument was 0, or the
// caller's deadline elapsed.
//
// A panic raised by programmerError anywhere below is recovered here
// and returned as a *LoopError, per errors.go.
func (l *Loop) Poll(timeout time.Duration) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			le, ok := rec.(*LoopError)
			if !ok {
				panic(rec)
			}
			logErrorf(l.logger, "poll: %v", le)
			err = le
		}
	}()

	r, err := l.ring()
	if err != nil {
		return err
	}

	if err := l.arm(r); err != nil {
		return err
	}

	entry := l.clock.now
	remaining := timeout
	firstWait := true

	for {
		waitFor := remaining
		if l.metrics != nil && firstWait {
			waitFor = 0
		}
		firstWait = false

		nevents, deferredFn := l.waitAndDrain(r, waitFor)

		if deferredFn != nil {
			deferredFn()
			return nil
		}
		if nevents > 0 || timeout == 0 {
			return nil
		}
		if timeout < 0 {
			continue
		}

		l.clock.refresh()
		remaining = timeout - l.clock.elapsedSince(entry)
		if remaining <= 0 {
			return nil
		}
	}
}

// arm implements spec.md §4.3.1: drain the pending-registration queue,
// prep a POLL_ADD per watcher tagged with the watcher's own address,
// apply the async-offload flag once SQReady crosses sync_limit, and
// submit the batch.
func (l *Loop) arm(r *ring.Ring) error {
	watchers := l.pending.popAll()
	for _, w := range watchers {
		w := w
		userData := uint64(uintptr(unsafe.Pointer(w)))
		mask := uint32(w.PEvents)
		if err := l.prepWithRetry(r, func() error {
			return r.PrepPollAdd(w.FD, mask, userData)
		}); err != nil {
			return err
		}
		l.offloadIfBusy(r)
		w.Events = w.PEvents
	}

	if _, err := r.Submit(); err != nil && !errors.Is(err, ring.ErrRingClosed) {
		// A busy kernel (CQ saturated) is spec.md's documented "treat as
		// 0 submitted" case, not a fatal condition: log and let the next
		// drain/arm cycle catch up.
		logWarnf(l.logger, "arm: submit: %v", err)
	}
	l.clock.refresh()
	return nil
}

// prepWithRetry implements the get_sqe auto-submit-and-retry discipline
// spec.md's Design Notes call for: if the submission queue is full,
// submit what's pending and try exactly once more; a second failure is
// a programmer error (the caller asked for more in-flight operations
// than sq_entries allows).
func (l *Loop) prepWithRetry(r *ring.Ring, prep func() error) error {
	err := prep()
	if err == nil {
		return nil
	}
	if !errors.Is(err, ring.ErrSQFull) {
		return newLoopError(KindFatal, "prep", err)
	}
	if _, serr := r.Submit(); serr != nil && !errors.Is(serr, ring.ErrRingClosed) {
		// Same busy-is-benign treatment as arm(): the retry below still
		// runs against whatever room the kernel freed up since.
		logWarnf(l.logger, "prep: submit: %v", serr)
	}
	err = prep()
	if err == nil {
		return nil
	}
	if errors.Is(err, ring.ErrSQFull) {
		programmerError("prep", err)
	}
	return newLoopError(KindFatal, "prep", err)
}

// offloadIfBusy sets IOSQE_ASYNC on the most recently prepared SQE once
// more than sync_limit submissions are already queued (spec.md §4.2).
func (l *Loop) offloadIfBusy(r *ring.Ring) {
	if r.SQReady() > l.syncLimit {
		r.SetSQEAsync()
	}
}

// waitAndDrain implements spec.md §4.3.2-4.3.3: wait for at least one
// CQE (skipping the wait entirely if one is already queued), then
// classify and dispatch every CQE currently available. The signal
// watcher, if one fired this round, is withheld from nevents and
// returned as deferredFn so Poll can run it last and return
// immediately, per spec.md's "always last in a drain" rule.
func (l *Loop) waitAndDrain(r *ring.Ring, timeout time.Duration) (nevents int, deferredFn func()) {
	if r.CQReady() == 0 {
		waitFor := timeout
		if waitFor < 0 {
			waitFor = indefiniteWait
		}
		if l.metrics != nil {
			l.metrics.Enter()
		}
		l.waitForCQE(r, waitFor)
		if l.metrics != nil {
			l.metrics.Exit()
		}
	}
	return l.drain(r)
}

// waitForCQE blocks for one CQE under the double signal-blocking
// discipline of spec.md §4.3.2: profileSignal, if configured, is
// blocked on the calling OS thread (the goroutine stays locked to that
// thread) for the duration of the call AND passed as a kernel-atomic
// sigmask to the wait syscall itself. Other threads of the process keep
// their own masks. EINTR is retried
// in place; EAGAIN/ETIME (nothing arrived before the deadline) return
// normally so the caller proceeds to drain an empty CQ. Any other
// error is a fatal programmer error.
func (l *Loop) waitForCQE(r *ring.Ring, timeout time.Duration) {
	var sigmaskPtr *uint64
	var mask uint64

	if l.profileSignal != 0 {
		mask = kernelSigmask(l.profileSignal)
		sigmaskPtr = &mask

		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		old, err := blockSignal(l.profileSignal)
		if err != nil {
			programmerError("block_signal", err)
		}
		defer restoreSignalMask(old)
	}

	for {
		_, _, _, err := r.WaitCQETimeoutMasked(timeout, sigmaskPtr)
		if err == nil {
			return
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ETIME) {
			return
		}
		programmerError("wait", err)
	}
}

// drain implements spec.md §4.3.3: classify every CQE currently queued
// by its tagged user-data and dispatch. Stale watcher CQEs (fd already
// invalidated, slot reused by a different watcher) are discarded.
func (l *Loop) drain(r *ring.Ring) (nevents int, deferredFn func()) {
	for {
		userData, res, _, ok := r.PeekCQE()
		if !ok {
			break
		}
		r.SeenCQE()

		if userData == 0 {
			continue
		}

		tag, ptr := classifyUserData(userData)
		switch tag {
		case tagSend:
			l.sendmsgDone((*sendRequest)(ptr), res)
		case tagRecv:
			l.recvmsgDone((*recvState)(ptr), res)
		case tagWatcher:
			w := (*Watcher)(ptr)
			if cur, ok := l.table.Get(w.FD); !ok || cur != w {
				continue
			}

			events := PollMask(res) & watchMask & (w.PEvents | PollError | PollHangup)
			if res < 0 {
				events = PollError
			}

			if !w.OneShot {
				w.Events = 0
				l.pending.push(w)
			} else {
				w.Events = 0
			}

			if w.IsSignal {
				deferredFn = func() {
					if l.metrics != nil {
						l.metrics.BeforeCallback()
					}
					w.Callback(events)
				}
				continue
			}

			if l.metrics != nil {
				l.metrics.BeforeCallback()
			}
			w.Callback(events)
			nevents++
		}
	}
	return nevents, deferredFn
}

// classifyUserData recovers the struct a CQE's user-data addresses and
// the tag identifying which kind it is, per the leading cqeTag field
// every tagged struct carries (watcher.go, udp.go).
func classifyUserData(userData uint64) (cqeTag, unsafe.Pointer) {
	ptr := unsafe.Pointer(uintptr(userData))
	return *(*cqeTag)(ptr), ptr
}
