// Package mailbox provides a single-slot, overwrite-on-write cell shared
// between any number of producers and one consumer.
package mailbox

import "sync/atomic"

// Mailbox holds at most one unconsumed value.
//
// Push never blocks and replaces whatever is waiting. DrainLatest takes the
// waiting value, leaving the slot empty. Memory stays bounded no matter how
// far the consumer falls behind.
type Mailbox[T any] struct {
	slot   atomic.Pointer[T]
	pushes atomic.Uint64
	drops  atomic.Uint64
}

// New returns an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{}
}

// Push stores v, overwriting any unread value. Safe for concurrent use.
func (m *Mailbox[T]) Push(v T) {
	p := new(T)
	*p = v
	m.pushes.Add(1)
	if old := m.slot.Swap(p); old != nil {
		m.drops.Add(1)
	}
}

// DrainLatest returns the most recent value pushed since the previous drain.
// ok is false when nothing arrived in between. Single consumer only.
func (m *Mailbox[T]) DrainLatest() (v T, ok bool) {
	p := m.slot.Swap(nil)
	if p == nil {
		return v, false
	}
	return *p, true
}

// Pending reports whether an unread value is waiting.
func (m *Mailbox[T]) Pending() bool {
	return m.slot.Load() != nil
}

// Drops is the number of values overwritten before they were drained.
func (m *Mailbox[T]) Drops() uint64 { return m.drops.Load() }

// Pushes is the total number of values pushed.
func (m *Mailbox[T]) Pushes() uint64 { return m.pushes.Load() }
