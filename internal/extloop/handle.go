package extloop

// AllocFunc requests a buffer of up to max bytes from the enclosing
// loop's allocator for an in-flight recvmsg (spec.md §4.5 step 2). A
// nil or zero-length return means "no buffer available".
type AllocFunc func(max uint32) []byte

// FeedFunc queues a completed-work callback to run on the loop thread
// (spec.md §6's "io_feed" primitive). UDP send completions use this to
// hand control back to the enclosing loop once a request reaches
// write_completed_queue.
type FeedFunc func(fn func())

// StartStopper is the io_start/io_stop pair spec.md §6 attributes to
// the enclosing loop: hooks a UDP handle calls when it transitions
// between "has at least one outstanding operation" and "idle", so the
// enclosing loop can keep its own liveness bookkeeping (out of scope
// here) in sync.
type StartStopper interface {
	Start()
	Stop()
}

// NoopStartStopper is the zero-value StartStopper used by tests and by
// callers that don't need loop-liveness bookkeeping.
type NoopStartStopper struct{}

func (NoopStartStopper) Start() {}
func (NoopStartStopper) Stop()  {}
