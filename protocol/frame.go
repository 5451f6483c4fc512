package protocol

import "fmt"

// Opened is the result of successfully authenticating a received frame.
type Opened struct {
	Source  Source
	Addr    byte
	Port    byte
	Payload []byte
}

// KeyLookup resolves the key to use for a given address. Discovery
// traffic uses the well-known key regardless of addr; update chunks use
// the ephemeral update key for the broadcast address; normal exchange
// traffic looks the per-server key up by addr and returns ok=false for
// unknown addresses.
type KeyLookup func(addr byte) (key [16]byte, ok bool)

// Seal packs a header for (src, addr, port, ctr) and authenticates
// plaintext under key using AES-CCM (M=4, L=2, N=13), returning the
// complete on-air frame: header || ciphertext || MIC.
func Seal(src Source, addr, port, ctr byte, plaintext []byte, key [16]byte) ([]byte, error) {
	if addr > MaxAddr {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAddr, addr)
	}
	if port > MaxPort {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	if len(plaintext) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPayload, len(plaintext))
	}

	header := packHeader(src, addr, port, byte(len(plaintext)), ctr)
	nonce := deriveNonce(header)

	sealed, err := sealCCM(key, nonce, header[:], plaintext)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 0, HeaderSize+len(sealed))
	frame = append(frame, header[:]...)
	frame = append(frame, sealed...)
	return frame, nil
}

// PeekHeader unpacks a frame's header without authenticating it, for
// demultiplexing by port/addr before the right key is known (e.g.
// routing update-port traffic to a different key lookup than
// exchange-port traffic). Returned fields are untrusted until Open
// succeeds.
func PeekHeader(frame []byte) (src Source, addr, port byte, ok bool) {
	if len(frame) < HeaderSize+MICSize {
		return 0, 0, 0, false
	}
	var header [HeaderSize]byte
	copy(header[:], frame[:HeaderSize])
	s, a, p, _, _ := unpackHeader(header)
	return s, a, p, true
}

// Open parses and authenticates a received frame. keyFor resolves the
// key for the frame's addr byte; it is consulted only after the
// declared length has been validated against the buffer, per spec
// §4.A ("reject any frame whose declared length would overflow the
// input buffer before MIC verification").
func Open(frame []byte, keyFor KeyLookup) (Opened, error) {
	if len(frame) < HeaderSize+MICSize {
		return Opened{}, ErrTooShort
	}

	var header [HeaderSize]byte
	copy(header[:], frame[:HeaderSize])

	src, addr, port, length, _ := unpackHeader(header)

	if HeaderSize+int(length)+MICSize != len(frame) {
		return Opened{}, ErrBadLen
	}

	key, ok := keyFor(addr)
	if !ok {
		return Opened{}, ErrUnknownAddr
	}

	nonce := deriveNonce(header)
	plaintext, err := openCCM(key, nonce, header[:], frame[HeaderSize:])
	if err != nil {
		return Opened{}, ErrBadMic
	}

	return Opened{Source: src, Addr: addr, Port: port, Payload: plaintext}, nil
}

func packHeader(src Source, addr, port, length, ctr byte) [HeaderSize]byte {
	var h [HeaderSize]byte
	h[0] = byte(src)<<7 | addr&0x7F
	h[1] = (port & 0x07) << 5
	h[2] = length
	h[3] = ctr
	return h
}

func unpackHeader(h [HeaderSize]byte) (src Source, addr, port, length, ctr byte) {
	src = Source(h[0] >> 7)
	addr = h[0] & 0x7F
	port = h[1] >> 5
	length = h[2]
	ctr = h[3]
	return
}

// deriveNonce builds the 13-byte AES-CCM nonce per spec §6:
// [src|addr byte, port byte, ctr byte, 0x00 * 10].
func deriveNonce(header [HeaderSize]byte) [ccmNonceSize]byte {
	var n [ccmNonceSize]byte
	n[0] = header[0]
	n[1] = header[1]
	n[2] = header[3]
	return n
}
