// Package mailbox provides the single-slot, overwrite-on-push, clear-on-pop cell
// used between the orchestrator and each stage goroutine.
//
// A Mailbox never holds more than one value. Put replaces any unconsumed value
// (newest wins), Take empties the slot. Newest-wins is a property of the
// structure, so callers never drain to find the latest item.
package mailbox

import (
	"sync"
	"time"
)

// Mailbox is a single-slot cell safe for one producer and one consumer.
// The zero value is not usable; call New.
type Mailbox[T any] struct {
	mu     sync.Mutex
	value  T
	full   bool
	closed bool
	drops  uint64
	notify chan struct{} // capacity 1, signals "slot became full"
}

// New returns an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{notify: make(chan struct{}, 1)}
}

// Put stores v, replacing any unconsumed value. It never blocks.
// It reports whether a pending value was overwritten. Put on a closed mailbox is a no-op.
func (m *Mailbox[T]) Put(v T) (overwrote bool) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if m.full {
		m.drops++
		overwrote = true
	}
	m.value = v
	m.full = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return overwrote
}

// TryTake empties the slot and returns its value without blocking.
func (m *Mailbox[T]) TryTake() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var zero T
	if !m.full {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.full = false
	return v, true
}

// Take waits up to timeout for a value. It returns false on timeout or when the
// mailbox is closed and empty.
func (m *Mailbox[T]) Take(timeout time.Duration) (T, bool) {
	if v, ok := m.TryTake(); ok {
		return v, true
	}
	if m.Closed() {
		var zero T
		return zero, false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-m.notify:
			if v, ok := m.TryTake(); ok {
				return v, true
			}
			if m.Closed() {
				var zero T
				return zero, false
			}
		case <-timer.C:
			return m.TryTake()
		}
	}
}

// Clear discards any unconsumed value.
func (m *Mailbox[T]) Clear() {
	m.TryTake()
}

// Len is 1 when a value is pending and 0 otherwise.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return 1
	}
	return 0
}

// Drops counts values that were overwritten before being consumed.
func (m *Mailbox[T]) Drops() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

// Close wakes any waiting consumer. Pending values can still be taken.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Closed reports whether Close was called.
func (m *Mailbox[T]) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
