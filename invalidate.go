//go:build linux

package uringloop

import (
	"errors"
	"unsafe"

	"github.com/behrlich/go-uringloop/ring"
)

// InvalidateFD implements platform_invalidate_fd (spec.md §4.6): clear
// the fd's table slot so any CQE still in flight for its old watcher
// decodes to "nothing here" (internal/extloop.Table.Clear is the
// mismatch mechanism), then post a zero-tagged POLL_REMOVE for the
// watcher's last-armed user-data and submit immediately — this does
// not wait for the next tick's batch submit.
func (l *Loop) InvalidateFD(fd int) {
	r, err := l.ring()
	if err != nil {
		return
	}

	w, ok := l.table.Get(fd)
	l.table.Clear(fd)
	if !ok {
		return
	}
	if w.IsSignal {
		l.signalWatcher = nil
	}

	if w.Events == 0 {
		// Never armed (still sitting on the pending queue, or armed and
		// already completed one-shot): nothing outstanding to cancel.
		return
	}

	targetUserData := uint64(uintptr(unsafe.Pointer(w)))
	if perr := l.prepWithRetry(r, func() error {
		return r.PrepPollRemove(targetUserData, 0)
	}); perr != nil {
		logWarnf(l.logger, "invalidate fd=%d: %v", fd, perr)
		return
	}

	if _, serr := r.Submit(); serr != nil && !errors.Is(serr, ring.ErrRingClosed) {
		logWarnf(l.logger, "invalidate fd=%d: submit: %v", fd, serr)
	}
}
