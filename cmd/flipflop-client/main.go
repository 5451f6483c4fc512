// Command flipflop-client polls a set of Flip-Flop servers over UDP in
// round-robin, exposing health, metrics and a server-table snapshot
// over an admin HTTP API.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/titanclass/flip-flop-protocol/admin"
	"github.com/titanclass/flip-flop-protocol/exchange"
	"github.com/titanclass/flip-flop-protocol/metrics"
	"github.com/titanclass/flip-flop-protocol/protocol"
	"github.com/titanclass/flip-flop-protocol/transport/udp"
)

func main() {
	var (
		listenAddr string
		remoteAddr string
		adminAddr  string
		servers    []string
		tickPeriod time.Duration
	)

	cmd := &cobra.Command{
		Use:   "flipflop-client",
		Short: "Poll a set of Flip-Flop servers over UDP",
		Long: `flipflop-client round-robins command polls across a configured
server table and exposes health, metrics and server state over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listenAddr, remoteAddr, adminAddr, servers, tickPeriod)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":0", "UDP address to listen on")
	cmd.Flags().StringVar(&remoteAddr, "remote", "", "UDP address of the server-side bus endpoint (required)")
	cmd.Flags().StringVar(&adminAddr, "admin", ":8080", "address for the admin HTTP API")
	cmd.Flags().StringSliceVar(&servers, "server", nil, "addr:hexkey pairs to track, repeatable")
	cmd.Flags().DurationVar(&tickPeriod, "tick-period", 100*time.Millisecond, "delay between exchange ticks")
	_ = cmd.MarkFlagRequired("remote")
	_ = cmd.MarkFlagRequired("server")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(listenAddr, remoteAddr, adminAddr string, servers []string, tickPeriod time.Duration) error {
	d, err := udp.Dial(listenAddr, remoteAddr)
	if err != nil {
		return fmt.Errorf("flipflop-client: dial: %w", err)
	}
	defer d.Close()

	m := metrics.New()

	client := exchange.NewClient(d,
		exchange.WithLossOfSyncHandler(func(e *exchange.LossOfSyncError) {
			log.Printf("[flipflop-client] loss of sync: %v", e)
		}),
		exchange.WithTransportErrorHandler(func(addr byte, err error) {
			log.Printf("[flipflop-client] transport error addr=%d: %v", addr, err)
		}),
		exchange.WithMetrics(m),
	)

	for _, spec := range servers {
		addr, key, err := parseServerSpec(spec)
		if err != nil {
			return err
		}
		client.AddServer(addr, key)
	}

	adminSrv := admin.New(client, m)
	httpSrv := &http.Server{Addr: adminAddr, Handler: adminSrv}
	go func() {
		log.Printf("[flipflop-client] admin API listening on %s", adminAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[flipflop-client] admin server error: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = httpSrv.Shutdown(context.Background())
			return nil
		case <-ticker.C:
			start := time.Now()
			outcome, err := client.Tick(ctx, protocol.EventID, nil)
			if err != nil {
				log.Printf("[flipflop-client] tick error: %v", err)
			}
			m.ObserveExchange(outcomeToResult(outcome), time.Since(start))
			if outcome == exchange.OutcomeDelivered || outcome == exchange.OutcomeEmpty {
				adminSrv.MarkHealthy()
			}
		}
	}
}

// outcomeToResult maps an exchange.Outcome onto the metrics label
// space (SPEC_FULL.md §5.1's flipflop_exchanges_total{result=...}).
func outcomeToResult(o exchange.Outcome) metrics.Result {
	switch o {
	case exchange.OutcomeDelivered:
		return metrics.ResultDelivered
	case exchange.OutcomeEmpty:
		return metrics.ResultEmpty
	case exchange.OutcomeLossOfSync:
		return metrics.ResultLossOfSync
	case exchange.OutcomeTimeout:
		return metrics.ResultTimeout
	case exchange.OutcomeNone:
		return metrics.ResultEmpty
	default:
		return metrics.ResultTransportErr
	}
}

func parseServerSpec(spec string) (byte, [16]byte, error) {
	var key [16]byte
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, key, fmt.Errorf("flipflop-client: --server must be addr:hexkey, got %q", spec)
	}
	var addr uint8
	if _, err := fmt.Sscanf(parts[0], "%d", &addr); err != nil {
		return 0, key, fmt.Errorf("flipflop-client: invalid address in %q: %w", spec, err)
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil || len(raw) != 16 {
		return 0, key, fmt.Errorf("flipflop-client: --server key must be 16 hex-encoded bytes, got %q", parts[1])
	}
	copy(key[:], raw)
	return byte(addr), key, nil
}
