package capture

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// FrameQueue is a bounded frame buffer with drop-oldest-on-full semantics.
// When a push finds the queue full, the single oldest buffered frame is
// discarded (and its Mat closed) to admit the new one. This bounds end-to-end
// latency at the cost of occasionally dropping frames, which is the right
// trade-off for a live tracking feed where only the freshest frame matters.
//
// Ownership: the queue owns every frame it buffers. Frames dropped by the
// queue are closed by the queue; frames returned by Pop belong to the caller,
// who must close them.
type FrameQueue struct {
	mu sync.Mutex
	ch chan gocv.Mat
}

// NewFrameQueue creates a FrameQueue with the given capacity.
// Capacities below 1 are raised to 1.
func NewFrameQueue(capacity int) *FrameQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &FrameQueue{
		ch: make(chan gocv.Mat, capacity),
	}
}

// Push inserts a frame, discarding the oldest buffered frame if the queue is
// full. The drop-and-insert pair is atomic with respect to other pushers.
func (q *FrameQueue) Push(frame gocv.Mat) {
	q.mu.Lock()
	defer q.mu.Unlock()

	select {
	case q.ch <- frame:
		return
	default:
	}

	// Full: drop the oldest, then insert. A concurrent Pop may win the race
	// for the oldest frame, in which case the channel now has room anyway.
	select {
	case old := <-q.ch:
		old.Close()
	default:
	}
	q.ch <- frame
}

// Pop removes the oldest frame, blocking up to timeout.
// The second return value is false if the timeout expired.
func (q *FrameQueue) Pop(timeout time.Duration) (gocv.Mat, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case frame := <-q.ch:
		return frame, true
	case <-timer.C:
		return gocv.Mat{}, false
	}
}

// TryPop removes the oldest frame without blocking.
func (q *FrameQueue) TryPop() (gocv.Mat, bool) {
	select {
	case frame := <-q.ch:
		return frame, true
	default:
		return gocv.Mat{}, false
	}
}

// Len returns the number of buffered frames.
func (q *FrameQueue) Len() int {
	return len(q.ch)
}

// Drain removes and closes all buffered frames.
func (q *FrameQueue) Drain() {
	for {
		select {
		case frame := <-q.ch:
			frame.Close()
		default:
			return
		}
	}
}
