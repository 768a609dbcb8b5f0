//go:build linux

package uringloop

import "syscall"

// Tuning defaults per spec.md §6 "Tuning".
const (
	DefaultSQEntries   = 4096
	DefaultSyncLimit   = 40
	DefaultMaxDatagram = 64 << 10
	defaultCQEntries   = DefaultSQEntries * 2
)

// Config holds the tunables a Loop is built with. Mirrors the teacher's
// ring.Option functional-option pattern, extended with the loop-level
// knobs spec.md §6 names: sync_limit lives here (not on the Ring)
// because the ring itself has no notion of "submit now" timing.
type Config struct {
	SQEntries       uint32
	SyncLimit       uint32
	MaxDatagramSize uint32
	Logger          Logger
	Metrics         *IdleMetrics
	ProfileSignal   syscall.Signal
}

// Option configures a Loop at construction time.
type Option func(*loopOptions)

// loopOptions accumulates Option applications before NewLoop builds the
// final Config and ring.Options slice.
type loopOptions struct {
	sqEntries     uint32
	syncLimit     uint32
	maxDatagram   uint32
	logger        Logger
	loggerSet     bool
	metrics       *IdleMetrics
	profileSignal syscall.Signal
}

func defaultLoopOptions() *loopOptions {
	return &loopOptions{
		sqEntries:   DefaultSQEntries,
		syncLimit:   DefaultSyncLimit,
		maxDatagram: DefaultMaxDatagram,
	}
}

// WithSQEntries overrides the ring's submission-queue depth (rounded up
// to a power of two by the kernel, per spec.md §4.1).
func WithSQEntries(n uint32) Option {
	return func(o *loopOptions) { o.sqEntries = n }
}

// WithSyncLimit overrides the async-offload threshold (spec.md §4.2).
func WithSyncLimit(n uint32) Option {
	return func(o *loopOptions) { o.syncLimit = n }
}

// WithMaxDatagram overrides the maximum buffer size requested from a
// UDP handle's allocator (spec.md §4.5, default 64 KiB).
func WithMaxDatagram(n uint32) Option {
	return func(o *loopOptions) { o.maxDatagram = n }
}

// WithLogger overrides the default logger. Passing nil silences all
// loop logging.
func WithLogger(l Logger) Option {
	return func(o *loopOptions) {
		o.logger = l
		o.loggerSet = true
	}
}

// WithMetrics attaches idle-time/wake/callback accounting (spec.md
// §4.3's "Metrics hook").
func WithMetrics(m *IdleMetrics) Option {
	return func(o *loopOptions) { o.metrics = m }
}

// WithProfileSignal designates a signal to be blocked around the wait
// syscall per the double discipline of spec.md §4.3.2.
func WithProfileSignal(sig syscall.Signal) Option {
	return func(o *loopOptions) { o.profileSignal = sig }
}
