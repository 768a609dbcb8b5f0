//go:build linux

package uringloop

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// blockSignal blocks sig for the calling OS thread only (the mask of
// other threads is left as it is) and returns that thread's previous
// mask so it can be restored. This implements the explicit half of spec.md
// §4.3.2's double discipline: the wait primitive also receives a
// kernel-atomic sigmask argument (see poller.go), but that argument can
// early-return without ever having installed the mask, so an explicit
// block/unblock bracketing the call is required too.
func blockSignal(sig syscall.Signal) (unix.Sigset_t, error) {
	var set, old unix.Sigset_t
	addSignal(&set, sig)
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, &old); err != nil {
		return unix.Sigset_t{}, err
	}
	return old, nil
}

// restoreSignalMask reinstalls a mask previously returned by
// blockSignal.
func restoreSignalMask(old unix.Sigset_t) error {
	return unix.PthreadSigmask(unix.SIG_SETMASK, &old, nil)
}

// addSignal sets the bit for sig in set. unix.Sigset_t is a fixed-size
// array of uint64 words on linux/amd64; signal numbers are 1-indexed.
func addSignal(set *unix.Sigset_t, sig syscall.Signal) {
	n := uint(sig) - 1
	set.Val[n/64] |= 1 << (n % 64)
}

// kernelSigmask returns the 64-bit mask the ring's wait syscall expects
// for its EXT_ARG sigmask argument (sized for a standard 8-byte
// kernel_sigset_t, which covers signals 1-64).
func kernelSigmask(sig syscall.Signal) uint64 {
	return 1 << (uint(sig) - 1)
}
