package exchange

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/titanclass/flip-flop-protocol/metrics"
	"github.com/titanclass/flip-flop-protocol/protocol"
	"github.com/titanclass/flip-flop-protocol/transport"
)

// Outcome classifies the result of one Tick call, for callers that
// feed flipflop_exchanges_total{result=...} (spec §5.1) or otherwise
// need to distinguish a transport failure from a protocol-level one.
type Outcome string

const (
	OutcomeNone           Outcome = "none"
	OutcomeDelivered      Outcome = "delivered"
	OutcomeEmpty          Outcome = "empty"
	OutcomeLossOfSync     Outcome = "loss_of_sync"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeTransportError Outcome = "transport_error"
)

// ServerRecord is the client's per-server bookkeeping (spec §3,
// "Client-tracked server record"): address, key, last accepted
// offset and last-seen time. Records are created by AddServer
// (discovery does not add them itself), mutated by the exchange engine
// when a reply arrives, and destroyed by explicit removal — the client
// exclusively owns this table.
type ServerRecord struct {
	Addr              byte
	Key               [16]byte
	LastOffset        uint32
	LastSeenMonotonic time.Time
	ctr               byte
}

// Option configures a Client.
type Option func(*Client)

// WithResponseTimeout overrides the default T_resp client-side
// response deadline.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *Client) { c.respTimeout = d }
}

// WithLossOfSyncHandler registers a callback invoked whenever a
// reply's offset breaks the expected successor relationship (spec
// §4.C step 4, §9's wrap-recovery decision). The client does not
// overwrite LastOffset until this callback returns, so the host is
// notified before resynchronization; once it returns, LastOffset is
// always moved to the received offset (the callback cannot veto it).
func WithLossOfSyncHandler(fn func(*LossOfSyncError)) Option {
	return func(c *Client) { c.onLossOfSync = fn }
}

// WithEventHandler registers a callback invoked on every accepted,
// non-empty event.
func WithEventHandler(fn func(addr byte, e protocol.Event)) Option {
	return func(c *Client) { c.onEvent = fn }
}

// WithTransportErrorHandler registers a callback invoked when a
// server fails to reply within T_resp.
func WithTransportErrorHandler(fn func(addr byte, err error)) Option {
	return func(c *Client) { c.onTransportError = fn }
}

// WithMetrics feeds MIC failures observed while opening replies into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// Client runs the round-robin poller described in spec §4.C.
// Scheduling is single-threaded cooperative: Tick processes exactly
// one exchange with the current server per call (spec §5).
type Client struct {
	mu      sync.Mutex
	shim    transport.Shim
	servers []*ServerRecord
	cursor  int

	respTimeout time.Duration

	onLossOfSync     func(*LossOfSyncError)
	onEvent          func(addr byte, e protocol.Event)
	onTransportError func(addr byte, err error)
	metrics          *metrics.Metrics
}

// NewClient builds a Client bound to shim, applying any options.
func NewClient(shim transport.Shim, opts ...Option) *Client {
	c := &Client{
		shim:        shim,
		respTimeout: protocol.DefaultTResp,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddServer adds addr to the client's server table with a fresh
// last_offset of 0. Calling AddServer for an address already present
// replaces its key and resets its offset tracking.
func (c *Client) AddServer(addr byte, key [16]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.servers {
		if s.Addr == addr {
			s.Key = key
			s.LastOffset = 0
			return
		}
	}
	c.servers = append(c.servers, &ServerRecord{Addr: addr, Key: key})
}

// RemoveServer destroys addr's record.
func (c *Client) RemoveServer(addr byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, s := range c.servers {
		if s.Addr == addr {
			c.servers = append(c.servers[:i], c.servers[i+1:]...)
			if c.cursor > i {
				c.cursor--
			}
			return
		}
	}
}

// Servers returns a snapshot of the tracked server table.
func (c *Client) Servers() []ServerRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ServerRecord, len(c.servers))
	for i, s := range c.servers {
		out[i] = *s
	}
	return out
}

// Tick runs one exchange with the current server in the round-robin
// cursor and then advances it (spec §4.C, client side, steps 1-5).
// id/body let the caller ride an application command alongside the
// implicit poll; pass protocol.EventID and a nil body for a bare poll.
// The returned Outcome tells the caller what actually happened — a
// nil error alone does not distinguish a delivered event from a
// timeout or a dropped reply.
func (c *Client) Tick(ctx context.Context, id byte, body []byte) (Outcome, error) {
	c.mu.Lock()
	if len(c.servers) == 0 {
		c.mu.Unlock()
		return OutcomeNone, nil
	}
	srv := c.servers[c.cursor]
	c.mu.Unlock()

	cmd := protocol.Command{ID: id, LastOffset: srv.LastOffset, Body: body}
	plaintext := protocol.EncodeCommand(cmd)

	ctr := srv.ctr
	srv.ctr++

	sealed, err := protocol.Seal(protocol.SourceClient, srv.Addr, protocol.WellKnownPort, ctr, plaintext, srv.Key)
	if err != nil {
		c.advanceCursor()
		return OutcomeTransportError, err
	}
	if err := c.shim.Send(ctx, sealed); err != nil {
		c.reportTransportError(srv.Addr, err)
		c.advanceCursor()
		return OutcomeTransportError, nil
	}

	reply, err := c.shim.Recv(ctx, time.Now().Add(c.respTimeout))
	if err != nil {
		c.reportTransportError(srv.Addr, err)
		c.advanceCursor()
		if errors.Is(err, transport.ErrTimeout) {
			return OutcomeTimeout, nil
		}
		return OutcomeTransportError, nil
	}

	opened, err := protocol.Open(reply, func(addr byte) ([16]byte, bool) {
		if addr == srv.Addr {
			return srv.Key, true
		}
		return [16]byte{}, false
	})
	if err != nil {
		if c.metrics != nil && errors.Is(err, protocol.ErrBadMic) {
			c.metrics.MICFailuresTotal.Inc()
		}
		c.reportTransportError(srv.Addr, err)
		c.advanceCursor()
		return OutcomeTransportError, nil
	}

	event, err := protocol.DecodeEvent(opened.Payload)
	if err != nil {
		c.advanceCursor()
		return OutcomeTransportError, err
	}

	outcome := c.acceptReply(srv, event)
	c.advanceCursor()
	return outcome, nil
}

// acceptReply applies spec §4.C step 4's three-way comparison and
// reports which branch fired. A modular successor match (last_offset+1
// mod 2^32) is only treated as forward progress when it doesn't also
// regress under raw unsigned comparison — a 32-bit offset wrap
// satisfies the modular-successor equality but must still surface as
// LossOfSync so the host can reset its tracking for that server.
func (c *Client) acceptReply(srv *ServerRecord, e protocol.Event) Outcome {
	srv.LastSeenMonotonic = time.Now()

	expected := srv.LastOffset + 1
	switch {
	case e.Offset < srv.LastOffset:
		loss := &LossOfSyncError{Addr: srv.Addr, Expected: expected, Got: e.Offset}
		if c.onLossOfSync != nil {
			c.onLossOfSync(loss)
		}
		srv.LastOffset = e.Offset
		return OutcomeLossOfSync
	case e.Offset == expected:
		srv.LastOffset = e.Offset
		if c.onEvent != nil && !e.IsEmpty() {
			c.onEvent(srv.Addr, e)
		}
		return OutcomeDelivered
	case e.Offset == srv.LastOffset:
		return OutcomeEmpty
	default:
		loss := &LossOfSyncError{Addr: srv.Addr, Expected: expected, Got: e.Offset}
		if c.onLossOfSync != nil {
			c.onLossOfSync(loss)
		}
		srv.LastOffset = e.Offset
		return OutcomeLossOfSync
	}
}

func (c *Client) advanceCursor() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.servers) == 0 {
		return
	}
	c.cursor = (c.cursor + 1) % len(c.servers)
}

func (c *Client) reportTransportError(addr byte, err error) {
	if c.onTransportError != nil {
		c.onTransportError(addr, err)
	}
}
