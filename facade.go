// Package flipflop re-exports the core Flip-Flop protocol types so
// callers can depend on one import instead of reaching into
// protocol/exchange/discovery/update/transport directly, following the
// teacher's own top-level re-export façade.
package flipflop

import (
	"github.com/titanclass/flip-flop-protocol/discovery"
	"github.com/titanclass/flip-flop-protocol/eventlog"
	"github.com/titanclass/flip-flop-protocol/exchange"
	"github.com/titanclass/flip-flop-protocol/protocol"
	"github.com/titanclass/flip-flop-protocol/transport"
	"github.com/titanclass/flip-flop-protocol/update"
)

// Re-export types for a single-import API surface.
type (
	Event              = protocol.Event
	Command            = protocol.Command
	Source             = protocol.Source
	Opened             = protocol.Opened
	Log                = eventlog.Log
	ExchangeClient     = exchange.Client
	ExchangeServer     = exchange.Server
	ServerRecord       = exchange.ServerRecord
	DiscoveryClient    = discovery.Client
	DiscoveryResponder = discovery.Responder
	Broadcaster        = update.Broadcaster
	Receiver           = update.Receiver
	Version            = update.Version
	Shim               = transport.Shim
)

// Error constants exposed in the public API.
var (
	ErrTooShort         = protocol.ErrTooShort
	ErrBadLen           = protocol.ErrBadLen
	ErrBadMic           = protocol.ErrBadMic
	ErrUnknownAddr      = protocol.ErrUnknownAddr
	ErrGiveUp           = discovery.ErrGiveUp
	ErrTransportTimeout = transport.ErrTimeout
)

// Constants exposed in the public API.
const (
	SourceClient = protocol.SourceClient
	SourceServer = protocol.SourceServer

	WellKnownPort = protocol.WellKnownPort
	UpdatePort    = protocol.UpdatePort
	BroadcastAddr = protocol.BroadcastAddr
)
