// Package eventlog implements the bounded per-server event ring (spec
// §4.B): a FIFO of capacity H holding the most recent emitted events,
// keyed by a monotonically assigned offset that wraps modulo 2³².
package eventlog

import (
	"time"

	"github.com/titanclass/flip-flop-protocol/protocol"
)

// entry pairs a stored event's offset and payload with the wall-clock
// instant it was emitted, so Select can compute t_delta as age-at-egress.
type entry struct {
	offset  uint32
	body    []byte
	emitted time.Time
}

// Log is a bounded ring of the last H emitted events for one server.
// It is not safe for concurrent use; callers producing events from a
// concurrent context must serialize Append calls themselves (spec §5).
type Log struct {
	capacity   int
	entries    []entry
	head       int // index of oldest entry
	count      int
	nextOffset uint32
}

// New builds a Log with the given ring capacity. capacity must be >= 2
// per spec §5's resource budget.
func New(capacity int) *Log {
	if capacity < 2 {
		capacity = 2
	}
	return &Log{
		capacity: capacity,
		entries:  make([]entry, capacity),
	}
}

// NewAt builds an empty Log whose first Append assigns startOffset.
// Used when a server resumes from a persisted next_offset counter
// after a restart.
func NewAt(capacity int, startOffset uint32) *Log {
	l := New(capacity)
	l.nextOffset = startOffset
	return l
}

// Append assigns offset = next_offset, stores body, and advances
// next_offset modulo 2³², evicting the oldest entry if the ring is full.
func (l *Log) Append(body []byte) uint32 {
	offset := l.nextOffset
	l.nextOffset++

	idx := (l.head + l.count) % l.capacity
	if l.count == l.capacity {
		idx = l.head
		l.head = (l.head + 1) % l.capacity
	} else {
		l.count++
	}

	cp := make([]byte, len(body))
	copy(cp, body)
	l.entries[idx] = entry{offset: offset, body: cp, emitted: time.Now()}

	return offset
}

// NextOffset reports the offset that will be assigned to the next
// appended event.
func (l *Log) NextOffset() uint32 { return l.nextOffset }

// Len reports how many events are currently stored.
func (l *Log) Len() int { return l.count }

// Select implements the selection rule from spec §4.B, precise:
//  1. If any stored event has offset == clientLast+1 (mod 2³²), return it.
//  2. Else if any stored event has offset == clientLast, return (zero, false).
//  3. Else return the oldest stored event (resynchronization).
//
// The t_delta returned is computed at selection time as now minus the
// event's emission instant, so it reflects age-at-egress.
func (l *Log) Select(clientLast uint32) (protocol.Event, bool) {
	if l.count == 0 {
		return protocol.Event{}, false
	}

	want := clientLast + 1
	if e, ok := l.find(want); ok {
		return l.toEvent(e), true
	}
	if _, ok := l.find(clientLast); ok {
		return protocol.Event{}, false
	}
	return l.toEvent(l.oldest()), true
}

func (l *Log) find(offset uint32) (entry, bool) {
	for i := 0; i < l.count; i++ {
		e := l.entries[(l.head+i)%l.capacity]
		if e.offset == offset {
			return e, true
		}
	}
	return entry{}, false
}

func (l *Log) oldest() entry {
	return l.entries[l.head]
}

func (l *Log) toEvent(e entry) protocol.Event {
	return protocol.Event{
		Offset: e.offset,
		TDelta: int32(time.Since(e.emitted).Milliseconds()),
		Body:   e.body,
	}
}

// Snapshot returns the currently stored events in insertion (ascending
// offset, modulo wrap) order, oldest first. Intended for introspection
// and tests, not the hot exchange path.
func (l *Log) Snapshot() []protocol.Event {
	out := make([]protocol.Event, l.count)
	for i := 0; i < l.count; i++ {
		out[i] = l.toEvent(l.entries[(l.head+i)%l.capacity])
	}
	return out
}
