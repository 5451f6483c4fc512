package flipflop

import (
	"github.com/titanclass/flip-flop-protocol/discovery"
	"github.com/titanclass/flip-flop-protocol/eventlog"
	"github.com/titanclass/flip-flop-protocol/exchange"
	"github.com/titanclass/flip-flop-protocol/transport"
	"github.com/titanclass/flip-flop-protocol/transport/udp"
)

// NewTestPair builds a client and server wired together over an
// in-memory pair from transport.NewMemoryPair, for tests and local experimentation
// that never touch a real socket. The returned transport.Shim is the
// server's end; the caller drives server.Run(ctx, serverEnd, ...)
// alongside client.Tick calls.
func NewTestPair(addr byte, key [16]byte, logCapacity int, handler exchange.CommandHandler, opts ...exchange.Option) (*exchange.Client, *exchange.Server, transport.Shim) {
	clientEnd, serverEnd := transport.NewMemoryPair()

	client := exchange.NewClient(clientEnd, opts...)
	client.AddServer(addr, key)

	server := exchange.NewServer(addr, key, logCapacity, handler)

	return client, server, serverEnd
}

// NewUDPClient dials a UDP socket and wires it into an exchange.Client.
func NewUDPClient(listenAddr, remoteAddr string, opts ...exchange.Option) (*exchange.Client, *udp.Driver, error) {
	d, err := udp.Dial(listenAddr, remoteAddr)
	if err != nil {
		return nil, nil, err
	}
	return exchange.NewClient(d, opts...), d, nil
}

// NewUDPServer listens on a UDP socket and wires it into an
// exchange.Server with a fresh event log.
func NewUDPServer(listenAddr string, addr byte, key [16]byte, logCapacity int, handler exchange.CommandHandler) (*exchange.Server, *udp.Driver, error) {
	d, err := udp.Listen(listenAddr)
	if err != nil {
		return nil, nil, err
	}
	return exchange.NewServer(addr, key, logCapacity, handler), d, nil
}

// NewDiscoveryPair builds a discovery client and responder sharing K0,
// for wiring into the address-allocation procedure before exchange
// server tables are populated.
func NewDiscoveryPair(k0 [16]byte) (*discovery.Client, *discovery.Responder) {
	return discovery.NewClient(k0), discovery.NewResponder(k0)
}

// NewEventLog builds a fresh bounded event log of the given capacity,
// the same constructor exchange.NewServer uses internally.
func NewEventLog(capacity int) *eventlog.Log {
	return eventlog.New(capacity)
}
