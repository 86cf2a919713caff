package process

import "github.com/kestrel-os/kestrel/internal/abi"

// UpcallQueue is a fixed-capacity FIFO of pending upcalls for one process.
// Enqueue order is delivery order; a full queue drops the new event rather
// than displacing older ones, so an application observing its queue always
// sees a prefix of what actually happened.
type UpcallQueue struct {
	buf  []abi.Upcall
	head int
	n    int
}

// NewUpcallQueue creates a queue holding up to capacity entries.
func NewUpcallQueue(capacity int) *UpcallQueue {
	if capacity <= 0 {
		capacity = 8
	}
	return &UpcallQueue{buf: make([]abi.Upcall, capacity)}
}

// Len returns the number of pending upcalls.
func (q *UpcallQueue) Len() int { return q.n }

// Enqueue appends an upcall; it reports false when the queue is full.
func (q *UpcallQueue) Enqueue(u abi.Upcall) bool {
	if q.n == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.n)%len(q.buf)] = u
	q.n++
	return true
}

// Dequeue pops the oldest upcall.
func (q *UpcallQueue) Dequeue() (abi.Upcall, bool) {
	if q.n == 0 {
		return abi.Upcall{}, false
	}
	u := q.buf[q.head]
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return u, true
}

// DequeueMatching pops the oldest upcall for the given (driver, subscribe)
// pair, preserving the relative order of everything else. Used by
// yield-wait-for, which must not reorder unrelated deliveries.
func (q *UpcallQueue) DequeueMatching(driver, subscribe uint32) (abi.Upcall, bool) {
	for i := 0; i < q.n; i++ {
		idx := (q.head + i) % len(q.buf)
		if !q.buf[idx].Matches(driver, subscribe) {
			continue
		}
		u := q.buf[idx]
		for j := i; j > 0; j-- {
			dst := (q.head + j) % len(q.buf)
			src := (q.head + j - 1) % len(q.buf)
			q.buf[dst] = q.buf[src]
		}
		q.head = (q.head + 1) % len(q.buf)
		q.n--
		return u, true
	}
	return abi.Upcall{}, false
}

// HasMatching reports whether an upcall for the pair is pending.
func (q *UpcallQueue) HasMatching(driver, subscribe uint32) bool {
	for i := 0; i < q.n; i++ {
		if q.buf[(q.head+i)%len(q.buf)].Matches(driver, subscribe) {
			return true
		}
	}
	return false
}

// Clear drops all pending upcalls.
func (q *UpcallQueue) Clear() {
	q.head = 0
	q.n = 0
}
