// Command flipflop-server runs one addressed server over a UDP stand-in
// for the serial bus, answering client polls from a bounded event log.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/titanclass/flip-flop-protocol/eventlog"
	"github.com/titanclass/flip-flop-protocol/exchange"
	"github.com/titanclass/flip-flop-protocol/transport/udp"
)

func main() {
	var (
		listenAddr  string
		busAddr     uint8
		keyHex      string
		logCapacity int
		recvBudget  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "flipflop-server",
		Short: "Run one Flip-Flop server endpoint over UDP",
		Long: `flipflop-server answers client command polls for a single bus
address, serving events out of a bounded in-memory log.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listenAddr, busAddr, keyHex, logCapacity, recvBudget)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":9100", "UDP address to listen on")
	cmd.Flags().Uint8Var(&busAddr, "addr", 1, "bus address (0-127) this server answers to")
	cmd.Flags().StringVar(&keyHex, "key", "", "hex-encoded 16-byte per-server key (required)")
	cmd.Flags().IntVar(&logCapacity, "log-capacity", 64, "bounded event log capacity")
	cmd.Flags().DurationVar(&recvBudget, "recv-budget", time.Second, "per-receive deadline budget")
	_ = cmd.MarkFlagRequired("key")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(listenAddr string, busAddr uint8, keyHex string, logCapacity int, recvBudget time.Duration) error {
	key, err := parseKey(keyHex)
	if err != nil {
		return err
	}

	d, err := udp.Listen(listenAddr)
	if err != nil {
		return fmt.Errorf("flipflop-server: listen: %w", err)
	}
	defer d.Close()

	srv := exchange.NewServer(byte(busAddr), key, logCapacity, func(id byte, body []byte, l *eventlog.Log) {
		if id != 0 {
			l.Append(body)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	log.Printf("[flipflop-server] listening on %s for addr=%d", listenAddr, busAddr)
	if err := srv.Run(ctx, d, recvBudget); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func parseKey(s string) ([16]byte, error) {
	var key [16]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, fmt.Errorf("flipflop-server: invalid --key: %w", err)
	}
	if len(raw) != 16 {
		return key, fmt.Errorf("flipflop-server: --key must decode to 16 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}
