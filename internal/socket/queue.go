package socket

import "time"

// queuedFrame is an outbound payload held while disconnected.
type queuedFrame struct {
	payload    []byte
	enqueuedAt time.Time
	retries    int
}

// frameQueue is a bounded FIFO of frames awaiting the next successful open.
type frameQueue struct {
	limit  int
	frames []queuedFrame
}

// push appends f unless the queue is full. Overflow drops the newest frame,
// so push reports false and f is discarded.
func (q *frameQueue) push(f queuedFrame) bool {
	if q.limit > 0 && len(q.frames) >= q.limit {
		return false
	}
	q.frames = append(q.frames, f)
	return true
}

// drain removes and returns all queued frames in enqueue order.
func (q *frameQueue) drain() []queuedFrame {
	out := q.frames
	q.frames = nil
	return out
}

func (q *frameQueue) len() int {
	return len(q.frames)
}
