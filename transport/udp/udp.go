// Package udp is a real, non-core transport.Shim over net.PacketConn,
// standing in for the serial/RS-485 bus so the cmd/ binaries have
// something to run over on a LAN or loopback. It is the acknowledged
// analogue of the "tokio/UDP example harness" spec §1 names explicitly
// out of THE CORE: nothing under protocol/, exchange/, discovery/ or
// update/ imports this package.
package udp

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/titanclass/flip-flop-protocol/transport"
)

var errNoPeer = errors.New("udp: no peer has sent a datagram yet")

// Driver implements transport.Shim over a single UDP socket talking to
// one fixed remote address (Dial) or to the last peer heard from
// (Listen). Flip-Flop frames are self-delimited by
// their own length byte, so one UDP datagram carries exactly one frame.
type Driver struct {
	conn   *net.UDPConn
	remote *net.UDPAddr

	mu       sync.Mutex
	lastPeer *net.UDPAddr
}

// Dial opens a UDP socket bound to listenAddr (":0" for an ephemeral
// port) that sends to remoteAddr by default.
func Dial(listenAddr, remoteAddr string) (*Driver, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &Driver{conn: conn, remote: raddr}, nil
}

// Listen opens a UDP socket bound to listenAddr with no fixed remote
// peer; its Send replies to whatever address last sent it a datagram,
// and fails until one has.
func Listen(listenAddr string) (*Driver, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}
	return &Driver{conn: conn}, nil
}

func (d *Driver) Close() error { return d.conn.Close() }

func (d *Driver) Send(ctx context.Context, frame []byte) error {
	if d.remote != nil {
		_, err := d.conn.WriteToUDP(frame, d.remote)
		return err
	}
	d.mu.Lock()
	peer := d.lastPeer
	d.mu.Unlock()
	if peer == nil {
		return errNoPeer
	}
	_, err := d.conn.WriteToUDP(frame, peer)
	return err
}

func (d *Driver) Recv(ctx context.Context, deadline time.Time) ([]byte, error) {
	if err := d.conn.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	buf := make([]byte, 512)
	n, addr, err := d.conn.ReadFromUDP(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, transport.ErrTimeout
		}
		return nil, err
	}
	d.mu.Lock()
	d.lastPeer = addr
	d.mu.Unlock()
	return buf[:n], nil
}

var _ transport.Shim = (*Driver)(nil)
