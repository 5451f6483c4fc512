package protocol

import "errors"

// Error taxonomy for Open, per spec: a frame is always dropped silently
// on any of the first four, returning the link to Idle with no NACK.
// The last three are returned by Seal and by the payload decoders.
var (
	ErrTooShort       = errors.New("protocol: frame shorter than header + MIC")
	ErrBadLen         = errors.New("protocol: declared length does not match input")
	ErrBadMic         = errors.New("protocol: MIC verification failed")
	ErrUnknownAddr    = errors.New("protocol: no key registered for address")
	ErrInvalidPayload = errors.New("protocol: invalid payload size")
	ErrInvalidAddr    = errors.New("protocol: address exceeds 7 bits")
	ErrInvalidPort    = errors.New("protocol: port exceeds 3 bits")
)
