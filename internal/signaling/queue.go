package signaling

import "sync"

// sendQueue is a byte-bounded FIFO of outbound frames. Enqueue never blocks,
// so a slow reader cannot stall the relay paths that write to it.
type sendQueue struct {
	mu       sync.Mutex
	ready    *sync.Cond
	closed   bool
	maxBytes int
	curBytes int
	frames   [][]byte
	dropped  uint64
}

func newSendQueue(maxBytes int) *sendQueue {
	q := &sendQueue{maxBytes: maxBytes}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// Enqueue reports false, counting a drop, if the queue is closed or the frame
// does not fit in the remaining budget.
func (q *sendQueue) Enqueue(frame []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.curBytes+len(frame) > q.maxBytes {
		q.dropped++
		return false
	}
	q.frames = append(q.frames, frame)
	q.curBytes += len(frame)
	q.ready.Signal()
	return true
}

// Dequeue blocks until a frame is available. It returns false once the queue
// is closed; frames still queued at that point are discarded.
func (q *sendQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.ready.Wait()
	}
	if q.closed {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	q.curBytes -= len(frame)
	return frame, true
}

func (q *sendQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.curBytes = 0
	q.mu.Unlock()
	q.ready.Broadcast()
}
