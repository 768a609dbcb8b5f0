//go:build linux

package uringloop

import (
	"errors"
	"fmt"
	"syscall"
)

// Kind classifies an error surfaced by the loop so callers can tell a
// retryable condition from a programmer mistake without string-matching
// an errno.
type Kind int

const (
	// KindTransient conditions are expected during normal operation
	// (kernel busy, EINTR, a momentarily full socket buffer) and are
	// handled internally or are safe to retry.
	KindTransient Kind = iota
	// KindProgrammer conditions indicate a caller or loop invariant was
	// violated (unsupported address family, SQ full twice in a row).
	KindProgrammer
	// KindFatal conditions mean the ring itself is unusable (setup
	// failed, out of memory) and the loop cannot proceed.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindProgrammer:
		return "programmer"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// LoopError wraps an underlying error with a Kind so tests and callers
// can errors.As and branch without inspecting error strings.
type LoopError struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *LoopError) Error() string {
	return fmt.Sprintf("uringloop: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *LoopError) Unwrap() error {
	return e.Err
}

func newLoopError(kind Kind, op string, err error) *LoopError {
	return &LoopError{Kind: kind, Op: op, Err: err}
}

// Sentinel errors surfaced across the public API.
var (
	ErrLoopClosed      = errors.New("uringloop: loop closed")
	ErrRingUnsupported = errors.New("uringloop: io_uring not supported on this kernel")
	ErrNoBuffer        = fmt.Errorf("uringloop: allocator returned no buffer: %w", syscall.ENOBUFS)
	ErrBadFamily       = errors.New("uringloop: unsupported socket address family")
)

// programmerError panics with a *LoopError of KindProgrammer. It is the
// single call site for conditions spec.md's Design Notes call out as
// "must be treated as a programmer error" — second SQ-full after an
// auto-submit retry, an address family the send path cannot encode.
// Recovered at the loop's tick boundary in poller.go.
func programmerError(op string, err error) {
	panic(newLoopError(KindProgrammer, op, err))
}
