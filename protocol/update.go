package protocol

import (
	"encoding/binary"
	"fmt"
)

// PrepareUpdate is the unicast payload a client sends to each targeted
// server before a broadcast update, sealed under that server's
// per-server key (spec §4.E, §6):
// `u16 major, u16 minor, u16 patch, u8 ports_mask, u32 total_bytes,
//  [16]u8 update_key, u16 signed_len`.
type PrepareUpdate struct {
	Major      uint16
	Minor      uint16
	Patch      uint16
	PortsMask  byte
	TotalBytes uint32
	UpdateKey  [16]byte
	SignedLen  uint16
}

const prepareUpdateSize = 2 + 2 + 2 + 1 + 4 + 16 + 2

// EncodePrepareUpdate serializes p into its on-air plaintext form.
func EncodePrepareUpdate(p PrepareUpdate) []byte {
	out := make([]byte, prepareUpdateSize)
	binary.BigEndian.PutUint16(out[0:2], p.Major)
	binary.BigEndian.PutUint16(out[2:4], p.Minor)
	binary.BigEndian.PutUint16(out[4:6], p.Patch)
	out[6] = p.PortsMask
	binary.BigEndian.PutUint32(out[7:11], p.TotalBytes)
	copy(out[11:27], p.UpdateKey[:])
	binary.BigEndian.PutUint16(out[27:29], p.SignedLen)
	return out
}

// DecodePrepareUpdate parses a prepare-update plaintext body.
func DecodePrepareUpdate(data []byte) (PrepareUpdate, error) {
	if len(data) != prepareUpdateSize {
		return PrepareUpdate{}, fmt.Errorf("%w: prepare-update must be %d bytes, got %d", ErrInvalidPayload, prepareUpdateSize, len(data))
	}
	var p PrepareUpdate
	p.Major = binary.BigEndian.Uint16(data[0:2])
	p.Minor = binary.BigEndian.Uint16(data[2:4])
	p.Patch = binary.BigEndian.Uint16(data[4:6])
	p.PortsMask = data[6]
	p.TotalBytes = binary.BigEndian.Uint32(data[7:11])
	copy(p.UpdateKey[:], data[11:27])
	p.SignedLen = binary.BigEndian.Uint16(data[27:29])
	return p, nil
}

// Chunk is a broadcast update payload: `u32 offset, bytes data`.
type Chunk struct {
	Offset uint32
	Data   []byte
}

// EncodeChunk serializes c into its on-air plaintext form.
func EncodeChunk(c Chunk) []byte {
	out := make([]byte, 4+len(c.Data))
	binary.BigEndian.PutUint32(out[0:4], c.Offset)
	copy(out[4:], c.Data)
	return out
}

// DecodeChunk parses a chunk plaintext body.
func DecodeChunk(data []byte) (Chunk, error) {
	if len(data) < 4 {
		return Chunk{}, fmt.Errorf("%w: chunk shorter than 4 bytes", ErrInvalidPayload)
	}
	return Chunk{
		Offset: binary.BigEndian.Uint32(data[0:4]),
		Data:   data[4:],
	}, nil
}
