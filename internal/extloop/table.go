// Package extloop stands in for the collaborators spec.md §6 lists as
// "From the enclosing loop (consumed by this core)": a per-fd watcher
// table, an io_feed completion-callback queue, and the io_start/io_stop
// contract on a UDP handle. The real timer/thread-pool/handle machinery
// those collaborators ultimately belong to is out of scope (spec.md
// §1), so this package holds only the narrow slice of their contract
// the core actually calls.
package extloop

// Table is a per-fd slot table, generic over the value a caller wants
// to key by file descriptor (the loop uses Table[*Watcher]). A cleared
// slot is the formal "stale" signal spec.md's Design Notes describe:
// once InvalidateFD clears a slot, a later CQE addressed at the old
// watcher finds nothing here and is discarded.
type Table[T comparable] struct {
	slots map[int]T
	zero  T
}

// NewTable returns an empty fd-keyed table.
func NewTable[T comparable]() *Table[T] {
	return &Table[T]{slots: make(map[int]T)}
}

// Set installs v at fd, growing the table if needed.
func (t *Table[T]) Set(fd int, v T) {
	t.slots[fd] = v
}

// Get returns the value at fd and whether the slot is populated (not
// the zero value).
func (t *Table[T]) Get(fd int) (T, bool) {
	v, ok := t.slots[fd]
	if !ok || v == t.zero {
		return t.zero, false
	}
	return v, true
}

// Clear empties the slot at fd. This is the mechanism by which a freed
// watcher's later, racing CQE decodes to "nothing here" instead of a
// use-after-free.
func (t *Table[T]) Clear(fd int) {
	delete(t.slots, fd)
}

// Len reports how many fds currently have a non-zero entry.
func (t *Table[T]) Len() int {
	return len(t.slots)
}
