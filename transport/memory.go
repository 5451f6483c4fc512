package transport

import (
	"context"
	"sync"
	"time"
)

const ringCapacity = 64

// ringBuffer is a bounded FIFO of raw frames, overwriting the oldest
// entry when full to keep memory bounded. Generalized from the
// nrfcomm stub driver's ring buffer.
type ringBuffer struct {
	data       [ringCapacity][]byte
	head, tail int
	count      int
}

func (rb *ringBuffer) push(frame []byte) {
	if rb.count == ringCapacity {
		rb.data[rb.tail] = nil
		rb.head = (rb.head + 1) % ringCapacity
		rb.count--
	}
	rb.data[rb.tail] = frame
	rb.tail = (rb.tail + 1) % ringCapacity
	rb.count++
}

func (rb *ringBuffer) pop() ([]byte, bool) {
	if rb.count == 0 {
		return nil, false
	}
	frame := rb.data[rb.head]
	rb.data[rb.head] = nil
	rb.head = (rb.head + 1) % ringCapacity
	rb.count--
	return frame, true
}

// MemoryEnd is one side of an in-memory bus link: frames Send writes
// land in the peer's inbox, and Recv drains this end's own inbox.
type MemoryEnd struct {
	mu    sync.Mutex
	inbox ringBuffer
	peer  *MemoryEnd
}

// NewMemoryPair builds two directly connected in-memory ends, useful
// for deterministic client/server tests without a real bus.
func NewMemoryPair() (a, b *MemoryEnd) {
	a = &MemoryEnd{}
	b = &MemoryEnd{}
	a.peer = b
	b.peer = a
	return a, b
}

func (e *MemoryEnd) Send(ctx context.Context, frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	e.peer.mu.Lock()
	e.peer.inbox.push(cp)
	e.peer.mu.Unlock()
	return nil
}

func (e *MemoryEnd) Recv(ctx context.Context, deadline time.Time) ([]byte, error) {
	for {
		e.mu.Lock()
		frame, ok := e.inbox.pop()
		e.mu.Unlock()
		if ok {
			return frame, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(time.Millisecond)
	}
}
