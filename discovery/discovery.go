// Package discovery implements the stochastic address-allocation
// protocol of spec §4.D: a client broadcasts an "identify" bit-field
// under a well-known key, servers not already claimed in that
// bit-field reply in a random slot with a candidate address, and the
// client iterates until a round produces zero collisions and zero
// conflicts.
package discovery

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/titanclass/flip-flop-protocol/metrics"
	"github.com/titanclass/flip-flop-protocol/protocol"
	"github.com/titanclass/flip-flop-protocol/transport"
)

// ErrGiveUp is returned by Client.Run when MaxRounds is exceeded
// without a clean round (spec §7, "DiscoveryConflict ... host notified
// only on give-up after N rounds").
var ErrGiveUp = fmt.Errorf("discovery: gave up after max rounds")

// Client runs the client-side discovery procedure (spec §4.D).
type Client struct {
	Key       [16]byte
	Window    time.Duration
	MaxRounds int
	known     protocol.Identify
	ctr       byte

	// RoundsRun, Collisions and Conflicts accumulate across every
	// Round call: rounds run, replies that failed to open, and
	// addresses claimed more than once. They are plain counters; Round
	// feeds Metrics separately.
	RoundsRun  int
	Collisions int
	Conflicts  int

	// Metrics, when non-nil, is fed directly from Round: a count of
	// discovery rounds, rounds that ended uncleanly, and MIC failures
	// observed while collecting replies.
	Metrics *metrics.Metrics
}

// NewClient builds a Client sharing the well-known key K0.
func NewClient(k0 [16]byte) *Client {
	return &Client{
		Key:       k0,
		Window:    protocol.DefaultDiscoveryWindow,
		MaxRounds: protocol.DefaultDiscoveryMaxRounds,
	}
}

// Known returns the bit-field of addresses committed so far.
func (c *Client) Known() protocol.Identify { return c.known }

// Round runs one round of the procedure (spec §4.D client steps 1-4),
// broadcasting the identify payload and collecting replies for Window.
// It returns the set of newly committed addresses this round, and
// whether the round was clean (no collisions, no conflicts).
func (c *Client) Round(ctx context.Context, shim transport.Shim) (committed []byte, clean bool, err error) {
	plaintext := c.known[:]
	ctr := c.ctr
	c.ctr++

	sealed, err := protocol.Seal(protocol.SourceClient, protocol.BroadcastAddr, protocol.WellKnownPort, ctr, plaintext, c.Key)
	if err != nil {
		return nil, false, err
	}
	if err := shim.Send(ctx, sealed); err != nil {
		return nil, false, err
	}

	deadline := time.Now().Add(c.Window)
	seen := map[byte]int{}
	badMic := 0
	micFailures := 0

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		frame, err := shim.Recv(ctx, deadline)
		if err != nil {
			break
		}
		opened, oerr := protocol.Open(frame, func(byte) ([16]byte, bool) { return c.Key, true })
		if oerr != nil {
			badMic++
			if errors.Is(oerr, protocol.ErrBadMic) {
				micFailures++
			}
			continue
		}
		if opened.Port != protocol.WellKnownPort || opened.Source != protocol.SourceServer {
			continue
		}
		seen[opened.Addr]++
	}

	c.RoundsRun++
	c.Collisions += badMic
	if c.Metrics != nil {
		c.Metrics.DiscoveryRoundsTotal.Inc()
		if micFailures > 0 {
			c.Metrics.MICFailuresTotal.Add(float64(micFailures))
		}
	}

	clean = badMic == 0
	for addr, count := range seen {
		switch {
		case count > 1:
			clean = false // conflict: addr remains unassigned this round
			c.Conflicts++
		case !c.known.IsSet(addr):
			c.known.Set(addr)
			committed = append(committed, addr)
		}
	}

	if !clean && c.Metrics != nil {
		c.Metrics.DiscoveryCollisions.Inc()
	}

	return committed, clean, nil
}

// Run repeats Round until a clean round occurs or MaxRounds is
// exhausted, returning ErrGiveUp in the latter case (spec §4.D
// "repeat until a round produces zero collisions and zero conflicts",
// §7 give-up-after-N-rounds).
func (c *Client) Run(ctx context.Context, shim transport.Shim) error {
	for round := 0; round < c.MaxRounds; round++ {
		_, clean, err := c.Round(ctx, shim)
		if err != nil {
			return err
		}
		if clean {
			return nil
		}
	}
	return ErrGiveUp
}

// Responder runs the server-side procedure (spec §4.D server steps).
type Responder struct {
	Key       [16]byte
	Committed *byte // nil until an address has been committed
	Window    time.Duration
	ctr       byte

	// Metrics, when non-nil, records MIC failures observed while
	// authenticating incoming identify frames.
	Metrics *metrics.Metrics
}

// NewResponder builds a Responder sharing the well-known key K0.
func NewResponder(k0 [16]byte) *Responder {
	return &Responder{Key: k0, Window: protocol.DefaultDiscoveryWindow}
}

// HandleIdentify processes one received identify frame. If this
// responder already holds a committed address that is set in the
// frame's bit-field, it stays silent. Otherwise it picks a candidate
// address uniformly from the unclaimed set and replies at a random
// instant inside [0, Window-txBudget].
func (r *Responder) HandleIdentify(ctx context.Context, shim transport.Shim, frame []byte, txBudget time.Duration) error {
	opened, err := protocol.Open(frame, func(byte) ([16]byte, bool) { return r.Key, true })
	if err != nil {
		if r.Metrics != nil && errors.Is(err, protocol.ErrBadMic) {
			r.Metrics.MICFailuresTotal.Inc()
		}
		return nil
	}
	if opened.Port != protocol.WellKnownPort || opened.Source != protocol.SourceClient {
		return nil
	}

	var known protocol.Identify
	copy(known[:], opened.Payload)

	if r.Committed != nil && known.IsSet(*r.Committed) {
		return nil
	}

	candidate, ok := pickRandomAddress(known)
	if !ok {
		return nil
	}

	slotMax := r.Window - txBudget
	if slotMax < 0 {
		slotMax = 0
	}
	delay, err := randomDuration(slotMax)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
	}

	ctr := r.ctr
	r.ctr++
	sealed, err := protocol.Seal(protocol.SourceServer, candidate, protocol.WellKnownPort, ctr, []byte{candidate}, r.Key)
	if err != nil {
		return err
	}
	if err := shim.Send(ctx, sealed); err != nil {
		return err
	}

	// Optimistic self-commit: don't wait for the next identify round
	// to learn our own address back, grounded on the original source's
	// server::task setting *server_address immediately after the send.
	r.Committed = &candidate
	return nil
}

// pickRandomAddress chooses uniformly among addresses 1..MaxAddr not
// set in known, grounded on the original source's with_random_address.
//
// spec §3/§4.D describe a 1..=255 address space, but §6's bit-packed
// header only reserves 7 bits for addr (src(1)|addr(7)) — a candidate
// above 127 could never be placed in a frame header. This
// implementation treats §6's wire layout as authoritative (see
// DESIGN.md) and restricts the allocatable range to 1..=MaxAddr; the
// Identify bit-field itself stays the full 256-bit payload §6 names,
// since bits above MaxAddr are simply never set by a real candidate.
func pickRandomAddress(known protocol.Identify) (byte, bool) {
	var spare []byte
	for addr := 1; addr <= protocol.MaxAddr; addr++ {
		if !known.IsSet(byte(addr)) {
			spare = append(spare, byte(addr))
		}
	}
	if len(spare) == 0 {
		return 0, false
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(spare))))
	if err != nil {
		return 0, false
	}
	return spare[n.Int64()], true
}

func randomDuration(max time.Duration) (time.Duration, error) {
	if max <= 0 {
		return 0, nil
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return time.Duration(n.Int64()), nil
}
