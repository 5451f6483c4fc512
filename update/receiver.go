package update

import (
	"errors"

	"github.com/titanclass/flip-flop-protocol/metrics"
	"github.com/titanclass/flip-flop-protocol/protocol"
)

// ErrGap describes a chunk whose offset does not match the next
// expected byte position. HandleChunk does not return it: on a gap it
// drops update_key and returns nil.
var ErrGap = errors.New("update: chunk offset gap, update_key dropped")

// SignatureVerifier checks an update's signature trailer against an
// out-of-band signing key (spec §4.E, "verify the trailer using an
// out-of-band signing key").
type SignatureVerifier interface {
	Verify(data, signature []byte) bool
}

// Receiver runs the server side of spec §4.E: authenticate a unicast
// PrepareUpdate under the per-server key, then accumulate broadcast
// chunks under the resulting ephemeral update_key, watching for gaps
// and optionally verifying a signature trailer on completion.
type Receiver struct {
	Addr byte
	Key  [16]byte

	Verifier        SignatureVerifier
	OnVersionChange func(Version)

	// Metrics, when non-nil, records MIC failures, accepted payload
	// bytes and offset-gap aborts observed during a transfer.
	Metrics *metrics.Metrics

	updateKey  *[16]byte
	pending    *protocol.PrepareUpdate
	buf        []byte
	nextOffset uint32
}

// NewReceiver builds a Receiver for one server, authenticating
// unicast PrepareUpdate frames under key.
func NewReceiver(addr byte, key [16]byte) *Receiver {
	return &Receiver{Addr: addr, Key: key}
}

// HandlePrepare authenticates and applies a unicast PrepareUpdate
// frame addressed to this server. Any MIC failure drops the frame
// silently (spec §7, KeyUnknown/BadMic).
func (r *Receiver) HandlePrepare(frame []byte) error {
	opened, err := protocol.Open(frame, func(addr byte) ([16]byte, bool) {
		if addr == r.Addr {
			return r.Key, true
		}
		return [16]byte{}, false
	})
	if err != nil {
		if r.Metrics != nil && errors.Is(err, protocol.ErrBadMic) {
			r.Metrics.MICFailuresTotal.Inc()
		}
		return nil
	}
	if opened.Port != protocol.UpdatePort {
		return nil
	}

	pu, err := protocol.DecodePrepareUpdate(opened.Payload)
	if err != nil {
		return nil
	}

	key := pu.UpdateKey
	r.updateKey = &key
	r.pending = &pu
	r.buf = make([]byte, pu.TotalBytes)
	r.nextOffset = 0
	return nil
}

// HandleChunk authenticates and applies a broadcast update chunk.
// Any gap in offsets drops update_key and ceases participation (spec
// §4.E server rule); a completed transfer triggers signature
// verification and, on success, OnVersionChange.
func (r *Receiver) HandleChunk(frame []byte) error {
	if r.updateKey == nil || r.pending == nil {
		return nil
	}

	opened, err := protocol.Open(frame, func(addr byte) ([16]byte, bool) {
		if addr == protocol.BroadcastAddr {
			return *r.updateKey, true
		}
		return [16]byte{}, false
	})
	if err != nil {
		if r.Metrics != nil && errors.Is(err, protocol.ErrBadMic) {
			r.Metrics.MICFailuresTotal.Inc()
		}
		return nil
	}
	if opened.Port != protocol.UpdatePort {
		return nil
	}

	chunk, err := protocol.DecodeChunk(opened.Payload)
	if err != nil {
		return nil
	}

	if chunk.Offset != r.nextOffset {
		r.updateKey = nil
		r.pending = nil
		r.buf = nil
		if r.Metrics != nil {
			r.Metrics.UpdateGapsTotal.Inc()
		}
		return nil
	}

	n := copy(r.buf[chunk.Offset:], chunk.Data)
	r.nextOffset += uint32(n)
	if r.Metrics != nil {
		r.Metrics.UpdateBytesTotal.Add(float64(n))
	}

	if r.nextOffset != uint32(len(r.buf)) {
		return nil
	}

	return r.finish()
}

func (r *Receiver) finish() error {
	pending := r.pending
	buf := r.buf
	r.updateKey = nil
	r.pending = nil
	r.buf = nil

	if pending.SignedLen > 0 {
		if len(buf) < int(pending.SignedLen) {
			return nil
		}
		split := len(buf) - int(pending.SignedLen)
		data, sig := buf[:split], buf[split:]
		if r.Verifier == nil || !r.Verifier.Verify(data, sig) {
			return nil
		}
	}

	if r.OnVersionChange != nil {
		r.OnVersionChange(Version{Major: pending.Major, Minor: pending.Minor, Patch: pending.Patch})
	}
	return nil
}

// Active reports whether this receiver currently holds a live
// update_key and is mid-transfer.
func (r *Receiver) Active() bool { return r.updateKey != nil }
