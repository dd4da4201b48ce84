// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Query-farm/plcontainer-go/benchmark"
	"github.com/Query-farm/plcontainer-go/conformance"
	"github.com/Query-farm/plcontainer-go/plc"
	"github.com/Query-farm/plcontainer-go/plc/plcotel"
)

var (
	unixFlag        string
	functionSetFlag string
)

var runtimeCmd = &cobra.Command{
	Use:   "runtime",
	Short: "Serve a built-in function set as a container runtime",
	Long: `Serve the conformance or benchmark functions over stdin/stdout, the way a
host launches a runtime, or on a unix socket with --unix.`,
	RunE: runRuntime,
}

func init() {
	runtimeCmd.Flags().StringVar(&unixFlag, "unix", "", "listen on this unix socket instead of stdio")
	runtimeCmd.Flags().StringVar(&functionSetFlag, "functions", "conformance", "function set to serve: conformance or benchmark")
	rootCmd.AddCommand(runtimeCmd)
}

func runRuntime(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt := plc.NewRuntime()
	rt.SetDebugErrors(cfg.DebugErrors)
	rt.SetChannelOptions(plc.WithCompression(cfg.Compression))
	switch functionSetFlag {
	case "conformance":
		conformance.RegisterFunctions(rt)
	case "benchmark":
		benchmark.RegisterFunctions(rt)
	default:
		return fmt.Errorf("unknown function set %q", functionSetFlag)
	}

	if traceFlag {
		shutdown, err := setupTelemetry("plc-runtime")
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
		plcotel.InstrumentRuntime(rt, plcotel.DefaultConfig())
	}

	if unixFlag == "" {
		rt.RunStdio()
		return nil
	}

	os.Remove(unixFlag)
	listener, err := net.Listen("unix", unixFlag)
	if err != nil {
		return fmt.Errorf("listening on unix socket: %w", err)
	}
	defer os.Remove(unixFlag)
	fmt.Printf("UNIX:%s\n", unixFlag)
	os.Stdout.Sync()

	// Catch SIGTERM/SIGINT so the process exits cleanly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		listener.Close()
	}()

	return rt.ServeListener(cmd.Context(), listener)
}
