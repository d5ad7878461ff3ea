package audioboot

import (
	"sync/atomic"
)

// SymbolQueue is a bounded single-producer, single-consumer ring of
// symbols.  The producer is the audio goroutine, the consumer the main
// loop; neither ever waits on the other.  A push into a full queue drops
// the symbol and latches the overflow flag, which the main loop treats as
// fatal.
type SymbolQueue struct {
	buf  []byte
	mask uint64

	head atomic.Uint64 // next read, consumer owned
	tail atomic.Uint64 // next write, producer owned

	overflow atomic.Bool
}

// NewSymbolQueue returns a queue holding at least capacity symbols.
// Capacity is rounded up to a power of two.
func NewSymbolQueue(capacity int) *SymbolQueue {
	var n = 1
	for n < capacity {
		n <<= 1
	}
	return &SymbolQueue{
		buf:  make([]byte, n),
		mask: uint64(n - 1),
	}
}

func (q *SymbolQueue) Cap() int {
	return len(q.buf)
}

// Len is a snapshot; it can only be trusted by one side at a time.
func (q *SymbolQueue) Len() int {
	return int(q.tail.Load() - q.head.Load())
}

// Push appends s.  Producer side only.
func (q *SymbolQueue) Push(s byte) bool {
	var tail = q.tail.Load()
	if tail-q.head.Load() >= uint64(len(q.buf)) {
		q.overflow.Store(true)
		return false
	}
	q.buf[tail&q.mask] = s
	q.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest symbol.  Consumer side only.
func (q *SymbolQueue) Pop() (byte, bool) {
	var head = q.head.Load()
	if head == q.tail.Load() {
		return 0, false
	}
	var s = q.buf[head&q.mask]
	q.head.Store(head + 1)
	return s, true
}

// Drain discards everything queued.  Consumer side only.
func (q *SymbolQueue) Drain() {
	q.head.Store(q.tail.Load())
}

func (q *SymbolQueue) Overflowed() bool {
	return q.overflow.Load()
}

// ClearOverflow is for reinitialisation only.
func (q *SymbolQueue) ClearOverflow() {
	q.overflow.Store(false)
}
