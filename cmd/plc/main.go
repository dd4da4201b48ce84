// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Command plc runs either side of the plc protocol: "plc runtime" serves a
// built-in function set as a container runtime, "plc call" invokes a
// function from the host side.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Query-farm/plcontainer-go/internal/config"
	"github.com/Query-farm/plcontainer-go/plc"
)

var (
	configFlag   string
	logLevelFlag string
	traceFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "plc",
	Short: "plc - run function bodies in isolated runtimes",
	Long: `plc executes user-defined function bodies in separate runtime processes
or containers and marshals arguments, results, log lines and SQL callbacks
across the boundary.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ./plc.yaml or $HOME/.plc/plc.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().BoolVar(&traceFlag, "trace", false, "export traces and metrics to stderr")
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFlag)
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}
	level := plc.ParseLogLevel(cfg.LogLevel).SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
