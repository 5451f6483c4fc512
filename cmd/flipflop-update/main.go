// Command flipflop-update prepares a set of servers for a software
// update and broadcasts the update payload over UDP.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/titanclass/flip-flop-protocol/transport/udp"
	"github.com/titanclass/flip-flop-protocol/update"
)

func main() {
	var (
		listenAddr string
		remoteAddr string
		targets    []string
		version    string
		portsMask  uint8
		file       string
		signedLen  uint16
	)

	cmd := &cobra.Command{
		Use:   "flipflop-update",
		Short: "Prepare and broadcast a Flip-Flop software update",
		Long: `flipflop-update unicasts a PrepareUpdate to each targeted server
under its per-server key, then broadcasts the update payload in
paced chunks under a freshly generated ephemeral key.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listenAddr, remoteAddr, targets, version, portsMask, file, signedLen)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":0", "UDP address to listen on")
	cmd.Flags().StringVar(&remoteAddr, "remote", "", "UDP address of the bus broadcast endpoint (required)")
	cmd.Flags().StringSliceVar(&targets, "target", nil, "addr:hexkey pairs to prepare, repeatable")
	cmd.Flags().StringVar(&version, "version", "", "major.minor.patch[-alpha.N|-beta.N] (required)")
	cmd.Flags().Uint8Var(&portsMask, "ports-mask", 0, "bitmask of ports this update affects")
	cmd.Flags().StringVar(&file, "file", "", "path to the update payload (required)")
	cmd.Flags().Uint16Var(&signedLen, "signed-len", 0, "trailing signature length in bytes, 0 for unsigned")
	_ = cmd.MarkFlagRequired("remote")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("version")
	_ = cmd.MarkFlagRequired("file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(listenAddr, remoteAddr string, targetSpecs []string, versionStr string, portsMask uint8, file string, signedLen uint16) error {
	ver, err := update.ParseVersion(versionStr)
	if err != nil {
		return err
	}

	targets, err := parseTargets(targetSpecs)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("flipflop-update: read %s: %w", file, err)
	}

	d, err := udp.Dial(listenAddr, remoteAddr)
	if err != nil {
		return fmt.Errorf("flipflop-update: dial: %w", err)
	}
	defer d.Close()

	b := update.NewBroadcaster(update.WithProgress(func(sent, total uint32) {
		log.Printf("[flipflop-update] %d/%d bytes sent", sent, total)
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if _, err := b.PrepareServers(ctx, d, targets, ver, portsMask, uint32(len(data)), signedLen); err != nil {
		return fmt.Errorf("flipflop-update: prepare: %w", err)
	}
	log.Printf("[flipflop-update] prepared %d server(s) for version %s", len(targets), ver)

	if err := b.Broadcast(ctx, d, data); err != nil {
		return fmt.Errorf("flipflop-update: broadcast: %w", err)
	}
	log.Printf("[flipflop-update] broadcast complete: %d bytes", len(data))
	return nil
}

func parseTargets(specs []string) ([]update.Target, error) {
	var out []update.Target
	for _, spec := range specs {
		parts := strings.SplitN(spec, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("flipflop-update: --target must be addr:hexkey, got %q", spec)
		}
		var addr uint8
		if _, err := fmt.Sscanf(parts[0], "%d", &addr); err != nil {
			return nil, fmt.Errorf("flipflop-update: invalid address in %q: %w", spec, err)
		}
		raw, err := hex.DecodeString(parts[1])
		if err != nil || len(raw) != 16 {
			return nil, fmt.Errorf("flipflop-update: --target key must be 16 hex-encoded bytes, got %q", parts[1])
		}
		var key [16]byte
		copy(key[:], raw)
		out = append(out, update.Target{Addr: byte(addr), Key: key})
	}
	return out, nil
}
