package protocol

import (
	"encoding/binary"
	"fmt"
)

// Event is the plaintext body of a server->client reply frame:
// `u32 offset (big-endian), i32 t_delta (big-endian, ms), bytes body`.
type Event struct {
	Offset uint32
	TDelta int32
	Body   []byte
}

// EmptyEvent builds the reply a server sends when it has nothing new
// for a client already caught up to lastOffset: offset = lastOffset,
// t_delta = 0, zero-length body.
func EmptyEvent(lastOffset uint32) Event {
	return Event{Offset: lastOffset, TDelta: 0, Body: nil}
}

// IsEmpty reports whether e carries no new data.
func (e Event) IsEmpty() bool {
	return len(e.Body) == 0
}

// EncodeEvent serializes e into its on-air plaintext form.
func EncodeEvent(e Event) []byte {
	out := make([]byte, 8+len(e.Body))
	binary.BigEndian.PutUint32(out[0:4], e.Offset)
	binary.BigEndian.PutUint32(out[4:8], uint32(e.TDelta))
	copy(out[8:], e.Body)
	return out
}

// DecodeEvent parses an event plaintext body.
func DecodeEvent(data []byte) (Event, error) {
	if len(data) < 8 {
		return Event{}, fmt.Errorf("%w: event shorter than 8 bytes", ErrInvalidPayload)
	}
	return Event{
		Offset: binary.BigEndian.Uint32(data[0:4]),
		TDelta: int32(binary.BigEndian.Uint32(data[4:8])),
		Body:   data[8:],
	}, nil
}
