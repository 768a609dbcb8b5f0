//go:build linux

package uringloop

import (
	"container/list"

	"golang.org/x/sys/unix"
)

// PollMask is a readiness interest/event bitmask drawn from
// {readable, writable, error, hangup}, spec.md §3 "Watcher".
type PollMask uint32

const (
	PollReadable PollMask = unix.POLLIN
	PollWritable PollMask = unix.POLLOUT
	PollError    PollMask = unix.POLLERR
	PollHangup   PollMask = unix.POLLHUP
)

// watchMask is the set of readiness bits this package recognizes. Every
// callback dispatch is clamped to it and, further, to the watcher's own
// PEvents plus PollError and PollHangup (spec.md invariant 2).
const watchMask = PollReadable | PollWritable | PollError | PollHangup

// cqeTag discriminates what a CQE's user-data points at. Every tagged
// struct (Watcher, sendRequest, recvState) carries one of these as its
// first field, so classifyUserData (poller.go) can read one byte off
// the raw address instead of guessing from field layout, per spec.md's
// Design Notes recommendation to replace pointer-shape sniffing with an
// explicit tagged-variant identifier.
type cqeTag byte

const (
	tagWatcher cqeTag = iota + 1
	tagSend
	tagRecv
)

// Watcher binds a file descriptor to an interest mask and a callback,
// per spec.md §3. It is owned by the enclosing loop; this package only
// reads and mutates it through Loop methods called on the loop's own
// goroutine.
type Watcher struct {
	tag cqeTag // must stay the first field, see cqeTag

	FD       int
	PEvents  PollMask // interest the caller last asked for
	Events   PollMask // last-armed mask (0 if not currently armed)
	OneShot  bool
	IsSignal bool // the loop's signal-multiplexer watcher; always runs last in a drain

	Callback func(events PollMask)

	pending bool          // already enqueued on the loop's pending-registration queue
	elem    *list.Element // node in that queue, valid only while pending
	id      string        // debug correlation id, logged only
}

// NewWatcher returns a Watcher ready for Loop.RegisterWatcher.
func NewWatcher(fd int, events PollMask, oneShot bool, callback func(PollMask)) *Watcher {
	return &Watcher{
		tag:      tagWatcher,
		FD:       fd,
		PEvents:  events,
		OneShot:  oneShot,
		Callback: callback,
	}
}

// pendingQueue is the loop's pending-registration queue: watchers whose
// pevents changed since they were last armed (spec.md §3 invariant).
type pendingQueue struct {
	l *list.List
}

func newPendingQueue() *pendingQueue {
	return &pendingQueue{l: list.New()}
}

// push enqueues w if it is not already pending.
func (q *pendingQueue) push(w *Watcher) {
	if w.pending {
		return
	}
	w.pending = true
	w.elem = q.l.PushBack(w)
}

// popAll drains the queue, reinitializing each watcher's queue node, and
// returns the watchers in FIFO order. Per spec.md §4.3.1 step 1, each
// watcher is removed from the queue before an SQE is prepared for it.
func (q *pendingQueue) popAll() []*Watcher {
	out := make([]*Watcher, 0, q.l.Len())
	for e := q.l.Front(); e != nil; {
		next := e.Next()
		w := e.Value.(*Watcher)
		q.l.Remove(e)
		w.pending = false
		w.elem = nil
		out = append(out, w)
		e = next
	}
	return out
}

func (q *pendingQueue) len() int {
	return q.l.Len()
}
