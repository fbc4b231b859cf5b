package capture

import (
	"sync"
	"time"
)

// ringBuffer is a bounded FIFO of one-second audio chunks shared between the
// capture goroutine (sole writer) and ReadBlock (sole reader). Admission
// never blocks: when full, the oldest chunk is evicted to make room.
type ringBuffer struct {
	ch        chan []float32
	done      chan struct{}
	closeOnce sync.Once
}

func newRingBuffer(capacity int) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer{
		ch:   make(chan []float32, capacity),
		done: make(chan struct{}),
	}
}

// TryPush inserts a chunk without blocking, evicting the oldest resident
// chunk if the buffer is at capacity. Returns false only after Close.
func (r *ringBuffer) TryPush(chunk []float32) bool {
	select {
	case <-r.done:
		return false
	default:
	}

	for {
		select {
		case r.ch <- chunk:
			return true
		default:
			// Full: drop the oldest and retry. Single producer, so the
			// retry is bounded.
			select {
			case <-r.ch:
			default:
			}
		}
	}
}

// Pop blocks until a chunk is available or timeout elapses. The second
// return value is false on timeout or once the buffer is closed and drained.
func (r *ringBuffer) Pop(timeout time.Duration) ([]float32, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case chunk := <-r.ch:
		return chunk, true
	case <-timer.C:
		return nil, false
	case <-r.done:
		// Deliver anything still buffered, then report closed.
		select {
		case chunk := <-r.ch:
			return chunk, true
		default:
			return nil, false
		}
	}
}

// Len is an advisory occupancy count; it may be stale under concurrency.
func (r *ringBuffer) Len() int {
	return len(r.ch)
}

// Close unblocks all pending and future Pop calls. Idempotent.
func (r *ringBuffer) Close() {
	r.closeOnce.Do(func() {
		close(r.done)
	})
}
