package transport

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestMemoryPairRoundTrip(t *testing.T) {
	a, b := NewMemoryPair()

	want := []byte{1, 2, 3, 4, 5}
	if err := a.Send(context.Background(), want); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got, err := b.Recv(context.Background(), time.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Recv() = %v, want %v", got, want)
	}
}

func TestMemoryPairTimeout(t *testing.T) {
	a, _ := NewMemoryPair()

	_, err := a.Recv(context.Background(), time.Now().Add(5*time.Millisecond))
	if err != ErrTimeout {
		t.Errorf("Recv() error = %v, want ErrTimeout", err)
	}
}

func TestMemoryPairBidirectional(t *testing.T) {
	a, b := NewMemoryPair()

	if err := a.Send(context.Background(), []byte("ping")); err != nil {
		t.Fatalf("a.Send() error = %v", err)
	}
	if err := b.Send(context.Background(), []byte("pong")); err != nil {
		t.Fatalf("b.Send() error = %v", err)
	}

	gotAtB, err := b.Recv(context.Background(), time.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("b.Recv() error = %v", err)
	}
	if !bytes.Equal(gotAtB, []byte("ping")) {
		t.Errorf("b.Recv() = %q, want %q", gotAtB, "ping")
	}

	gotAtA, err := a.Recv(context.Background(), time.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("a.Recv() error = %v", err)
	}
	if !bytes.Equal(gotAtA, []byte("pong")) {
		t.Errorf("a.Recv() = %q, want %q", gotAtA, "pong")
	}
}

func TestMemoryPairRingOverwritesOldest(t *testing.T) {
	a, b := NewMemoryPair()

	for i := 0; i < ringCapacity+5; i++ {
		if err := a.Send(context.Background(), []byte{byte(i)}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	first, err := b.Recv(context.Background(), time.Now().Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Recv() error = %v", err)
	}
	if first[0] != 5 {
		t.Errorf("first surviving frame = %d, want 5 (oldest 5 evicted)", first[0])
	}
}

func TestMemoryPairContextCancellation(t *testing.T) {
	a, _ := NewMemoryPair()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Recv(ctx, time.Now().Add(time.Second))
	if err != context.Canceled {
		t.Errorf("Recv() error = %v, want context.Canceled", err)
	}
}
