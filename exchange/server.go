package exchange

import (
	"context"
	"errors"
	"time"

	"github.com/titanclass/flip-flop-protocol/eventlog"
	"github.com/titanclass/flip-flop-protocol/metrics"
	"github.com/titanclass/flip-flop-protocol/protocol"
	"github.com/titanclass/flip-flop-protocol/transport"
)

// CommandHandler processes a non-poll command (id != 0) against a
// server's event log. Implementations append events via log.Append;
// the core never interprets id or body (spec §9, "polymorphism over
// command/event payloads").
type CommandHandler func(id byte, body []byte, log *eventlog.Log)

// Server holds one server's exclusively owned state (spec §3,
// "Server state"): address, key, event log and update bookkeeping.
type Server struct {
	Addr byte
	Key  [16]byte
	Log  *eventlog.Log

	// UpdateKey holds an update key for this server (spec §4.E). Server
	// never sets or clears it; the key of a running transfer is tracked
	// by update.Receiver.
	UpdateKey *[16]byte

	// Metrics, when non-nil, records MIC failures observed while
	// opening incoming command frames.
	Metrics *metrics.Metrics

	handler CommandHandler
	ctr     byte
}

// NewServer builds a Server with a fresh event log of the given
// capacity. handler may be nil for a server with no application
// commands (pure event source).
func NewServer(addr byte, key [16]byte, logCapacity int, handler CommandHandler) *Server {
	return &Server{
		Addr:    addr,
		Key:     key,
		Log:     eventlog.New(logCapacity),
		handler: handler,
	}
}

// ServeOnce implements the server-side link state machine of spec
// §4.C for exactly one exchange-port command frame: dispatch the
// handler (if id != 0), select a reply event, seal and send it. It is
// the caller's responsibility to keep the time between Recv and Send
// under T_resp_max — the half-duplex turn boundary is a real-time
// property this abstraction cannot itself enforce.
//
// Any MIC failure, length mismatch or unknown address causes the
// frame to be silently dropped (spec §4.C, §7): ServeOnce returns nil
// with no reply sent.
func (s *Server) ServeOnce(ctx context.Context, shim transport.Shim, frame []byte) error {
	opened, err := protocol.Open(frame, func(addr byte) ([16]byte, bool) {
		if addr == s.Addr {
			return s.Key, true
		}
		return [16]byte{}, false
	})
	if err != nil {
		if s.Metrics != nil && errors.Is(err, protocol.ErrBadMic) {
			s.Metrics.MICFailuresTotal.Inc()
		}
		return nil
	}
	if opened.Port != protocol.WellKnownPort {
		return nil
	}

	cmd, err := protocol.DecodeCommand(opened.Payload)
	if err != nil {
		return nil
	}

	if cmd.ID != protocol.EventID && s.handler != nil {
		s.handler(cmd.ID, cmd.Body, s.Log)
	}

	event, ok := s.Log.Select(cmd.LastOffset)
	if !ok {
		event = protocol.EmptyEvent(cmd.LastOffset)
	}

	plaintext := protocol.EncodeEvent(event)
	ctr := s.ctr
	s.ctr++

	sealed, err := protocol.Seal(protocol.SourceServer, s.Addr, protocol.WellKnownPort, ctr, plaintext, s.Key)
	if err != nil {
		return err
	}
	return shim.Send(ctx, sealed)
}

// Run drives ServeOnce in a loop, receiving one frame per iteration
// with the given per-receive deadline budget, until ctx is canceled.
func (s *Server) Run(ctx context.Context, shim transport.Shim, recvBudget time.Duration) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frame, err := shim.Recv(ctx, time.Now().Add(recvBudget))
		if err != nil {
			continue
		}
		if err := s.ServeOnce(ctx, shim, frame); err != nil {
			return err
		}
	}
}
