package router

import (
	"sync"

	"github.com/basketproof/sentinel/internal/frame"
)

// frameQueue is a thread-safe FIFO queue feeding the router's Run loop.
//
// The queue is unbounded so ingestion bursts never block the transport
// goroutine. Thread-safety covers external enqueuing (transport, replay
// triggers) while the single Run loop dequeues.
//
// A buffered signal channel of size 1 coalesces wakeups and lets the Run
// loop wait with context awareness.
type frameQueue struct {
	mu     sync.Mutex
	frames []frame.Frame
	closed bool
	signal chan struct{}
}

func newFrameQueue() *frameQueue {
	return &frameQueue{
		frames: make([]frame.Frame, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a frame to the back of the queue.
// Safe from any goroutine. Returns false once the queue is closed.
func (q *frameQueue) Enqueue(f frame.Frame) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.frames = append(q.frames, f)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes and returns the front frame without blocking.
func (q *frameQueue) TryDequeue() (frame.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return frame.Frame{}, false
	}

	f := q.frames[0]
	if len(q.frames) == 1 {
		q.frames = q.frames[:0]
	} else {
		q.frames = q.frames[1:]
	}
	return f, true
}

// Wait returns a channel that signals when frames may be available.
// The channel closes when the queue closes, waking all waiters.
func (q *frameQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue depth.
func (q *frameQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Closed reports whether the queue has been closed.
func (q *frameQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close marks the queue closed and wakes any blocked waiters.
func (q *frameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
