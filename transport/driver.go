// Package transport defines the abstract datagram shim the exchange,
// discovery and update protocols send sealed frames through (spec
// §4.F). Flip-Flop frames are self-delimited by their length byte;
// the shim adds no framing of its own and is responsible only for
// bus direction switching and atomic transmission.
package transport

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Recv when no frame arrives before the
// deadline passed in.
var ErrTimeout = errors.New("transport: receive deadline exceeded")

// Shim is the contract every link-layer driver implements: non-blocking
// send, deadline-bounded receive. A frame is delimited entirely by its
// own length byte, so Shim never buffers partial frames across calls.
type Shim interface {
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context, deadline time.Time) ([]byte, error)
}
