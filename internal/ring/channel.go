package ring

import "sync/atomic"

// Channel is a bounded, wait-free single-producer/single-consumer queue.
//
// Two monotonically increasing cursors track the producer and consumer
// positions; the slot index is the cursor masked by capacity-1. The producer
// writes the slot and then stores the write cursor; the consumer loads the
// write cursor before reading the slot, so a popped value is always fully
// published.
//
// Push must only be called from one goroutine and Pop/Clear from one (other)
// goroutine. Sharing either side between goroutines is not guarded.
type Channel[T any] struct {
	write atomic.Uint64
	_     [56]byte
	read  atomic.Uint64
	_     [56]byte

	buf  []T
	mask uint64
}

// New creates a channel holding capacity items. Capacity is rounded up to the
// next power of two; values below 1 become 1.
func New[T any](capacity int) *Channel[T] {
	size := NextPow2(capacity)
	return &Channel[T]{
		buf:  make([]T, size),
		mask: uint64(size - 1),
	}
}

// Push enqueues v. It returns false when the channel is full; the value is
// dropped and nothing already queued is overwritten.
func (c *Channel[T]) Push(v T) bool {
	w := c.write.Load()
	r := c.read.Load()
	if w-r == uint64(len(c.buf)) {
		return false
	}
	c.buf[w&c.mask] = v
	c.write.Store(w + 1)
	return true
}

// Pop dequeues the oldest value. ok is false when the channel is empty.
func (c *Channel[T]) Pop() (v T, ok bool) {
	r := c.read.Load()
	w := c.write.Load()
	if r == w {
		return v, false
	}
	slot := &c.buf[r&c.mask]
	v = *slot
	var zero T
	*slot = zero
	c.read.Store(r + 1)
	return v, true
}

// Available reports the number of queued values.
func (c *Channel[T]) Available() int {
	r := c.read.Load()
	w := c.write.Load()
	return int(w - r)
}

// Capacity returns the fixed number of slots.
func (c *Channel[T]) Capacity() int {
	return len(c.buf)
}

// Clear discards every pending value. Consumer side only.
func (c *Channel[T]) Clear() {
	c.read.Store(c.write.Load())
}

// NextPow2 returns the smallest power of two >= n (1 for n <= 1).
func NextPow2(n int) int {
	size := 1
	for size < n {
		size <<= 1
	}
	return size
}
