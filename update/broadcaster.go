package update

import (
	"context"
	"time"

	"github.com/titanclass/flip-flop-protocol/protocol"
	"github.com/titanclass/flip-flop-protocol/transport"
)

// Target is one server a Broadcaster prepares before sending an update.
type Target struct {
	Addr byte
	Key  [16]byte
}

// Broadcaster drives the client side of spec §4.E: generate an
// ephemeral update key, unicast-prepare each target, then broadcast
// the payload in paced chunks under that key.
type Broadcaster struct {
	PrepProcDelay time.Duration
	FlushQuantum  int
	FlushDelay    time.Duration
	MaxChunk      int

	updateKey  [16]byte
	ctr        byte
	onProgress func(sent, total uint32)
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithFlushQuantum overrides the default byte count between broadcast
// pacing pauses.
func WithFlushQuantum(n int) Option {
	return func(b *Broadcaster) { b.FlushQuantum = n }
}

// WithFlushDelay overrides the default pacing pause duration.
func WithFlushDelay(d time.Duration) Option {
	return func(b *Broadcaster) { b.FlushDelay = d }
}

// WithPrepProcDelay overrides the default T_prep_proc pacing between
// per-server unicast PrepareUpdate sends.
func WithPrepProcDelay(d time.Duration) Option {
	return func(b *Broadcaster) { b.PrepProcDelay = d }
}

// WithProgress registers a callback invoked after every chunk is sent,
// reporting cumulative bytes sent against the transfer total.
func WithProgress(fn func(sent, total uint32)) Option {
	return func(b *Broadcaster) { b.onProgress = fn }
}

// NewBroadcaster builds a Broadcaster with spec-default pacing.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		PrepProcDelay: protocol.DefaultPrepProcDelay,
		FlushQuantum:  protocol.DefaultFlushQuantum,
		FlushDelay:    protocol.DefaultFlushDelay,
		MaxChunk:      protocol.MaxPayload - 4,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PrepareServers generates a fresh ephemeral update key and unicasts a
// PrepareUpdate to every target, sealed under that target's per-server
// key, waiting PrepProcDelay between sends (spec §4.E client step 1).
// It returns the ephemeral key; b keeps the same key and Broadcast
// seals chunks under it.
func (b *Broadcaster) PrepareServers(ctx context.Context, shim transport.Shim, targets []Target, version Version, portsMask byte, totalBytes uint32, signedLen uint16) ([16]byte, error) {
	b.updateKey = protocol.GenerateKey()

	pu := protocol.PrepareUpdate{
		Major:      version.Major,
		Minor:      version.Minor,
		Patch:      version.Patch,
		PortsMask:  portsMask,
		TotalBytes: totalBytes,
		UpdateKey:  b.updateKey,
		SignedLen:  signedLen,
	}
	plaintext := protocol.EncodePrepareUpdate(pu)

	for _, t := range targets {
		ctr := b.ctr
		b.ctr++
		sealed, err := protocol.Seal(protocol.SourceClient, t.Addr, protocol.UpdatePort, ctr, plaintext, t.Key)
		if err != nil {
			return b.updateKey, err
		}
		if err := shim.Send(ctx, sealed); err != nil {
			return b.updateKey, err
		}

		select {
		case <-ctx.Done():
			return b.updateKey, ctx.Err()
		case <-time.After(b.PrepProcDelay):
		}
	}

	return b.updateKey, nil
}

// Broadcast sends data in chunks of at most MaxChunk bytes, broadcast
// (addr=0, port=1) and sealed under the ephemeral update key, pausing
// FlushDelay every FlushQuantum bytes and once unconditionally after
// the last chunk (spec §4.E client steps 2-4).
func (b *Broadcaster) Broadcast(ctx context.Context, shim transport.Shim, data []byte) error {
	total := uint32(len(data))
	sinceFlush := 0
	for offset := 0; offset < len(data); {
		end := offset + b.MaxChunk
		if end > len(data) {
			end = len(data)
		}
		chunk := protocol.Chunk{Offset: uint32(offset), Data: data[offset:end]}
		plaintext := protocol.EncodeChunk(chunk)

		ctr := b.ctr
		b.ctr++
		sealed, err := protocol.Seal(protocol.SourceClient, protocol.BroadcastAddr, protocol.UpdatePort, ctr, plaintext, b.updateKey)
		if err != nil {
			return err
		}
		if err := shim.Send(ctx, sealed); err != nil {
			return err
		}

		sent := end - offset
		offset = end
		sinceFlush += sent

		if b.onProgress != nil {
			b.onProgress(uint32(offset), total)
		}

		if sinceFlush >= b.FlushQuantum {
			sinceFlush = 0
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(b.FlushDelay):
			}
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.FlushDelay):
	}
	return nil
}
