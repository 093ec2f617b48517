package ring

import (
	"context"
	"errors"
	"runtime"
	"time"

	"go.uber.org/atomic"
)

var ErrClosed = errors.New("ring closed")

// MaxCapacity is the largest slot count New allocates.
const MaxCapacity uint32 = 1 << 20

// Ring is a lock-free single producer, single consumer queue. Push and Close
// must only be called from the producer goroutine, the Pop family only from
// the consumer goroutine.
type Ring[T any] struct {
	buffer []T
	head   atomic.Uint32 // next slot to read, owned by the consumer
	tail   atomic.Uint32 // next slot to write, owned by the producer
	closed atomic.Bool
	mask   uint32
	size   uint32
}

func New[T any](capacity uint32) *Ring[T] {
	// round up to a power of 2
	if capacity > MaxCapacity {
		capacity = MaxCapacity
	} else if capacity < 2 {
		capacity = 2
	} else if (capacity & (capacity - 1)) != 0 {
		capacity--
		capacity |= capacity >> 1
		capacity |= capacity >> 2
		capacity |= capacity >> 4
		capacity |= capacity >> 8
		capacity |= capacity >> 16
		capacity++
	}

	return &Ring[T]{
		buffer: make([]T, capacity),
		mask:   capacity - 1,
		size:   capacity,
	}
}

// TryPush adds item unless the ring is full.
func (r *Ring[T]) TryPush(item T) bool {
	tail := r.tail.Load()
	next := (tail + 1) & r.mask
	if next == r.head.Load() {
		return false
	}

	r.buffer[tail] = item
	r.tail.Store(next)
	return true
}

// Push adds item, spinning while the ring is full.
func (r *Ring[T]) Push(item T) {
	backoff := 0
	for !r.TryPush(item) {
		if backoff < 32 {
			backoff++
			continue
		}
		runtime.Gosched()
	}
}

func (r *Ring[T]) PushTimeout(item T, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for !r.TryPush(item) {
		if !time.Now().Before(deadline) {
			return false
		}
		runtime.Gosched()
	}
	return true
}

func (r *Ring[T]) Pop() (T, bool) {
	var zero T

	head := r.head.Load()
	if head == r.tail.Load() {
		return zero, false
	}

	item := r.buffer[head]
	r.buffer[head] = zero
	r.head.Store((head + 1) & r.mask)
	return item, true
}

// PopBatch pops up to maxItems items.
func (r *Ring[T]) PopBatch(maxItems int) []T {
	n := min(uint32(max(maxItems, 0)), r.Size())
	if n == 0 {
		return nil
	}

	var zero T
	head := r.head.Load()
	items := make([]T, 0, n)
	for i := uint32(0); i < n; i++ {
		slot := (head + i) & r.mask
		items = append(items, r.buffer[slot])
		r.buffer[slot] = zero
	}
	r.head.Store((head + n) & r.mask)
	return items
}

// PopContext waits for an item. It returns ErrClosed once the ring is closed
// and drained.
func (r *Ring[T]) PopContext(ctx context.Context) (T, error) {
	backoff := 0
	for {
		if item, ok := r.Pop(); ok {
			return item, nil
		}
		if r.closed.Load() {
			// an item may have landed between Pop and the closed check
			if item, ok := r.Pop(); ok {
				return item, nil
			}
			var zero T
			return zero, ErrClosed
		}

		switch {
		case backoff < 32:
			backoff++
		case backoff < 64:
			backoff++
			runtime.Gosched()
		default:
			select {
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			case <-time.After(100 * time.Microsecond):
			}
		}
	}
}

// Close marks the end of the stream. Items already pushed can still be popped.
func (r *Ring[T]) Close() {
	r.closed.Store(true)
}

func (r *Ring[T]) IsClosed() bool {
	return r.closed.Load()
}

func (r *Ring[T]) Size() uint32 {
	return (r.tail.Load() - r.head.Load()) & r.mask
}

// Capacity is the number of items the ring can hold at once.
func (r *Ring[T]) Capacity() uint32 {
	return r.size - 1
}

func (r *Ring[T]) IsEmpty() bool {
	return r.head.Load() == r.tail.Load()
}

func (r *Ring[T]) IsFull() bool {
	return ((r.tail.Load() + 1) & r.mask) == r.head.Load()
}
