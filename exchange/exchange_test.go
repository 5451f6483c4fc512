package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/titanclass/flip-flop-protocol/eventlog"
	"github.com/titanclass/flip-flop-protocol/metrics"
	"github.com/titanclass/flip-flop-protocol/protocol"
	"github.com/titanclass/flip-flop-protocol/transport"
)

func testKey() [16]byte {
	var k [16]byte
	copy(k[:], []byte("0123456789ABCDEF"))
	return k
}

func TestEmptyPoll(t *testing.T) {
	// S1: server log empty, next_offset=100, client last_offset=100.
	key := testKey()
	clientEnd, serverEnd := transport.NewMemoryPair()

	srv := NewServer(1, key, 4, nil)
	srv.Log = eventlog.NewAt(4, 100)

	cli := NewClient(clientEnd, WithResponseTimeout(50*time.Millisecond))
	cli.AddServer(1, key)
	cli.servers[0].LastOffset = 100

	runOneExchange(t, cli, srv, serverEnd)

	if got := cli.Servers()[0].LastOffset; got != 100 {
		t.Errorf("LastOffset = %d, want 100 (unchanged)", got)
	}
}

func TestNormalDelivery(t *testing.T) {
	// S2: log [100,101,102] = A,B,C; client last_offset=100.
	key := testKey()
	clientEnd, serverEnd := transport.NewMemoryPair()

	srv := NewServer(1, key, 4, nil)
	srv.Log = eventlog.NewAt(4, 100)
	srv.Log.Append([]byte("A"))
	srv.Log.Append([]byte("B"))
	srv.Log.Append([]byte("C"))

	cli := NewClient(clientEnd, WithResponseTimeout(50*time.Millisecond))
	cli.AddServer(1, key)
	cli.servers[0].LastOffset = 100

	var gotEvent protocol.Event
	cli.onEvent = func(addr byte, e protocol.Event) { gotEvent = e }

	runOneExchange(t, cli, srv, serverEnd)

	if gotEvent.Offset != 101 || string(gotEvent.Body) != "B" {
		t.Fatalf("event = %+v, want offset=101 body=B", gotEvent)
	}
	if got := cli.Servers()[0].LastOffset; got != 101 {
		t.Errorf("LastOffset = %d, want 101", got)
	}
}

func TestFallBehindRecovery(t *testing.T) {
	// S3: log holds [200..203] (H=4), client last_offset=100.
	key := testKey()
	clientEnd, serverEnd := transport.NewMemoryPair()

	srv := NewServer(1, key, 4, nil)
	srv.Log = eventlog.NewAt(4, 200)
	for i := 0; i < 4; i++ {
		srv.Log.Append([]byte{byte('A' + i)})
	}

	cli := NewClient(clientEnd, WithResponseTimeout(50*time.Millisecond))
	cli.AddServer(1, key)
	cli.servers[0].LastOffset = 100

	var loss *LossOfSyncError
	cli.onLossOfSync = func(e *LossOfSyncError) { loss = e }

	runOneExchange(t, cli, srv, serverEnd)

	if loss == nil {
		t.Fatal("expected LossOfSync, got none")
	}
	if loss.Expected != 101 || loss.Got != 200 {
		t.Errorf("LossOfSyncError = %+v, want expected=101 got=200", loss)
	}
}

func TestOffsetWrap(t *testing.T) {
	// S4: client last_offset = 2^32-1, server appends event at offset 0.
	key := testKey()
	clientEnd, serverEnd := transport.NewMemoryPair()

	srv := NewServer(1, key, 4, nil)
	srv.Log.Append([]byte("wrap")) // first Append on a fresh Log lands at offset 0

	cli := NewClient(clientEnd, WithResponseTimeout(50*time.Millisecond))
	cli.AddServer(1, key)
	cli.servers[0].LastOffset = ^uint32(0)

	var loss *LossOfSyncError
	cli.onLossOfSync = func(e *LossOfSyncError) { loss = e }

	runOneExchange(t, cli, srv, serverEnd)

	if loss == nil {
		t.Fatal("expected LossOfSync on wrap, got none")
	}
	if loss.Got != 0 {
		t.Errorf("LossOfSyncError.Got = %d, want 0", loss.Got)
	}
	if got := cli.Servers()[0].LastOffset; got != 0 {
		t.Errorf("LastOffset after wrap = %d, want 0", got)
	}
}

func TestServeOnceFeedsMICFailureMetric(t *testing.T) {
	key := testKey()
	_, serverEnd := transport.NewMemoryPair()

	srv := NewServer(1, key, 4, nil)
	m := metrics.New()
	srv.Metrics = m

	var wrongKey [16]byte
	copy(wrongKey[:], []byte("WRONGWRONGWRONG!"))
	cmd := protocol.Command{ID: protocol.EventID, LastOffset: 0}
	sealed, err := protocol.Seal(protocol.SourceClient, 1, protocol.WellKnownPort, 0, protocol.EncodeCommand(cmd), wrongKey)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	if err := srv.ServeOnce(context.Background(), serverEnd, sealed); err != nil {
		t.Fatalf("ServeOnce() error = %v", err)
	}

	if got := testutil.ToFloat64(m.MICFailuresTotal); got != 1 {
		t.Errorf("MICFailuresTotal = %v, want 1", got)
	}
}

func TestCursorRoundRobin(t *testing.T) {
	key := testKey()
	clientEnd, _ := transport.NewMemoryPair()
	cli := NewClient(clientEnd, WithResponseTimeout(5*time.Millisecond))
	cli.AddServer(1, key)
	cli.AddServer(2, key)
	cli.AddServer(3, key)

	for i := 0; i < 3; i++ {
		cli.Tick(context.Background(), protocol.EventID, nil)
	}
	if cli.cursor != 0 {
		t.Errorf("cursor = %d, want 0 after full round", cli.cursor)
	}
}

func runOneExchange(t *testing.T, cli *Client, srv *Server, serverEnd transport.Shim) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		frame, err := serverEnd.Recv(context.Background(), time.Now().Add(200*time.Millisecond))
		if err != nil {
			t.Errorf("server Recv() error = %v", err)
			return
		}
		if err := srv.ServeOnce(context.Background(), serverEnd, frame); err != nil {
			t.Errorf("ServeOnce() error = %v", err)
		}
	}()

	if _, err := cli.Tick(context.Background(), protocol.EventID, nil); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
	<-done
}
