package update

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/titanclass/flip-flop-protocol/metrics"
	"github.com/titanclass/flip-flop-protocol/protocol"
	"github.com/titanclass/flip-flop-protocol/transport"
)

const testServerAddr = 5

func testServerKey() [16]byte {
	var k [16]byte
	copy(k[:], []byte("SERVERSHAREDKEY!"))
	return k
}

// runReceiver drains frames from end and routes them to r until ctx is
// done, demultiplexing on addr via protocol.PeekHeader per spec §4.E's
// unicast-prepare-then-broadcast-chunk shape.
func runReceiver(ctx context.Context, end transport.Shim, r *Receiver) {
	for {
		frame, err := end.Recv(ctx, time.Now().Add(50*time.Millisecond))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		_, addr, _, ok := protocol.PeekHeader(frame)
		if !ok {
			continue
		}
		if addr == protocol.BroadcastAddr {
			r.HandleChunk(frame)
		} else {
			r.HandlePrepare(frame)
		}
	}
}

func TestBroadcasterReceiverFullTransfer(t *testing.T) {
	clientEnd, serverEnd := transport.NewMemoryPair()

	r := NewReceiver(testServerAddr, testServerKey())
	versionCh := make(chan Version, 1)
	r.OnVersionChange = func(v Version) { versionCh <- v }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runReceiver(ctx, serverEnd, r)

	b := NewBroadcaster()
	b.PrepProcDelay = time.Millisecond
	b.FlushDelay = time.Millisecond
	b.FlushQuantum = 8

	targets := []Target{{Addr: testServerAddr, Key: testServerKey()}}
	version := Version{Major: 1, Minor: 2, Patch: 3}
	payload := []byte("the quick brown fox jumps over the lazy dog")

	if _, err := b.PrepareServers(ctx, clientEnd, targets, version, 0x01, uint32(len(payload)), 0); err != nil {
		t.Fatalf("PrepareServers() error = %v", err)
	}
	if err := b.Broadcast(ctx, clientEnd, payload); err != nil {
		t.Fatalf("Broadcast() error = %v", err)
	}

	select {
	case got := <-versionCh:
		if got != version {
			t.Errorf("OnVersionChange got %v, want %v", got, version)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for OnVersionChange")
	}
}

func TestReceiverDropsOnOffsetGap(t *testing.T) {
	r := NewReceiver(testServerAddr, testServerKey())

	pu := protocol.PrepareUpdate{
		Major: 1, Minor: 0, Patch: 0,
		TotalBytes: 20,
		UpdateKey:  testServerKey(),
	}
	prepFrame, err := protocol.Seal(protocol.SourceClient, testServerAddr, protocol.UpdatePort, 0, protocol.EncodePrepareUpdate(pu), testServerKey())
	if err != nil {
		t.Fatalf("Seal(prepare) error = %v", err)
	}
	if err := r.HandlePrepare(prepFrame); err != nil {
		t.Fatalf("HandlePrepare() error = %v", err)
	}
	if !r.Active() {
		t.Fatal("Active() = false after HandlePrepare, want true")
	}

	// Chunk at offset 10 when 0 is expected: a gap, must drop update_key.
	gapChunk := protocol.Chunk{Offset: 10, Data: []byte("0123456789")}
	chunkFrame, err := protocol.Seal(protocol.SourceClient, protocol.BroadcastAddr, protocol.UpdatePort, 0, protocol.EncodeChunk(gapChunk), testServerKey())
	if err != nil {
		t.Fatalf("Seal(chunk) error = %v", err)
	}
	if err := r.HandleChunk(chunkFrame); err != nil {
		t.Fatalf("HandleChunk() error = %v", err)
	}

	if r.Active() {
		t.Error("Active() = true after offset gap, want false (update_key dropped)")
	}
}

func TestReceiverFeedsMetrics(t *testing.T) {
	m := metrics.New()
	r := NewReceiver(testServerAddr, testServerKey())
	r.Metrics = m

	pu := protocol.PrepareUpdate{
		Major: 1, TotalBytes: 10,
		UpdateKey: testServerKey(),
	}
	prepFrame, err := protocol.Seal(protocol.SourceClient, testServerAddr, protocol.UpdatePort, 0, protocol.EncodePrepareUpdate(pu), testServerKey())
	if err != nil {
		t.Fatalf("Seal(prepare) error = %v", err)
	}
	if err := r.HandlePrepare(prepFrame); err != nil {
		t.Fatalf("HandlePrepare() error = %v", err)
	}

	chunk := protocol.Chunk{Offset: 0, Data: []byte("0123456789")}
	chunkFrame, err := protocol.Seal(protocol.SourceClient, protocol.BroadcastAddr, protocol.UpdatePort, 0, protocol.EncodeChunk(chunk), testServerKey())
	if err != nil {
		t.Fatalf("Seal(chunk) error = %v", err)
	}
	if err := r.HandleChunk(chunkFrame); err != nil {
		t.Fatalf("HandleChunk() error = %v", err)
	}

	if got := testutil.ToFloat64(m.UpdateBytesTotal); got != 10 {
		t.Errorf("UpdateBytesTotal = %v, want 10", got)
	}

	// A second, out-of-order prepare/chunk pair should count as a gap.
	if err := r.HandlePrepare(prepFrame); err != nil {
		t.Fatalf("HandlePrepare() error = %v", err)
	}
	gapChunk := protocol.Chunk{Offset: 5, Data: []byte("x")}
	gapFrame, err := protocol.Seal(protocol.SourceClient, protocol.BroadcastAddr, protocol.UpdatePort, 1, protocol.EncodeChunk(gapChunk), testServerKey())
	if err != nil {
		t.Fatalf("Seal(gap chunk) error = %v", err)
	}
	if err := r.HandleChunk(gapFrame); err != nil {
		t.Fatalf("HandleChunk() error = %v", err)
	}

	if got := testutil.ToFloat64(m.UpdateGapsTotal); got != 1 {
		t.Errorf("UpdateGapsTotal = %v, want 1", got)
	}
}

type rejectVerifier struct{}

func (rejectVerifier) Verify(data, signature []byte) bool { return false }

func TestReceiverAbortsOnSignatureFailure(t *testing.T) {
	r := NewReceiver(testServerAddr, testServerKey())
	r.Verifier = rejectVerifier{}

	versionCh := make(chan Version, 1)
	r.OnVersionChange = func(v Version) { versionCh <- v }

	payload := []byte("payload")
	sig := []byte("BADSIGNATURE")
	data := append(payload, sig...)

	pu := protocol.PrepareUpdate{
		Major: 1, TotalBytes: uint32(len(data)), UpdateKey: testServerKey(), SignedLen: uint16(len(sig)),
	}
	prepFrame, err := protocol.Seal(protocol.SourceClient, testServerAddr, protocol.UpdatePort, 0, protocol.EncodePrepareUpdate(pu), testServerKey())
	if err != nil {
		t.Fatalf("Seal(prepare) error = %v", err)
	}
	if err := r.HandlePrepare(prepFrame); err != nil {
		t.Fatalf("HandlePrepare() error = %v", err)
	}

	chunk := protocol.Chunk{Offset: 0, Data: data}
	chunkFrame, err := protocol.Seal(protocol.SourceClient, protocol.BroadcastAddr, protocol.UpdatePort, 0, protocol.EncodeChunk(chunk), testServerKey())
	if err != nil {
		t.Fatalf("Seal(chunk) error = %v", err)
	}
	if err := r.HandleChunk(chunkFrame); err != nil {
		t.Fatalf("HandleChunk() error = %v", err)
	}

	select {
	case v := <-versionCh:
		t.Errorf("OnVersionChange fired with %v, want no callback on signature failure", v)
	default:
	}
}
