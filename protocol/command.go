package protocol

import (
	"encoding/binary"
	"fmt"
)

// EventID is the command id reserved for "poll, no action".
const EventID byte = 0

// Command is the plaintext body of a client->server exchange frame:
// `u8 id, u32 last_offset (big-endian), bytes body`.
type Command struct {
	ID         byte
	LastOffset uint32
	Body       []byte
}

// EncodeCommand serializes c into its on-air plaintext form.
func EncodeCommand(c Command) []byte {
	out := make([]byte, 0, 5+len(c.Body))
	out = append(out, c.ID)
	var offset [4]byte
	binary.BigEndian.PutUint32(offset[:], c.LastOffset)
	out = append(out, offset[:]...)
	out = append(out, c.Body...)
	return out
}

// DecodeCommand parses a command plaintext body.
func DecodeCommand(data []byte) (Command, error) {
	if len(data) < 5 {
		return Command{}, fmt.Errorf("%w: command shorter than 5 bytes", ErrInvalidPayload)
	}
	return Command{
		ID:         data[0],
		LastOffset: binary.BigEndian.Uint32(data[1:5]),
		Body:       data[5:],
	}, nil
}
