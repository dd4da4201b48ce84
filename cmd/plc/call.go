// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Query-farm/plcontainer-go/internal/config"
	"github.com/Query-farm/plcontainer-go/plc"
	"github.com/Query-farm/plcontainer-go/plc/plcotel"

	_ "modernc.org/sqlite"
)

var (
	functionsFlag string
	connectFlag   string
)

var callCmd = &cobra.Command{
	Use:   "call <function> [args...]",
	Short: "Invoke a function in its runtime",
	Long: `Invoke a function from the catalog and print its result. Arguments are
parsed according to the declared argument types: NULL is the missing value
and arrays are written as JSON, e.g. '[[1,2],[3,null]]'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&functionsFlag, "functions", "", "YAML function catalog (default: functions_file from config, else the database)")
	callCmd.Flags().StringVar(&connectFlag, "connect", "", "unix socket of a running runtime instead of launching containers")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	catalog, err := openCatalog(ctx, cfg, db)
	if err != nil {
		return err
	}

	var resolver plc.Resolver
	if connectFlag != "" {
		resolver = &plc.SocketResolver{Network: "unix", Address: connectFlag, Compress: cfg.Compression}
	} else {
		pool := plc.NewPool(cfg.ContainerSpecs()...)
		defer pool.Close()
		resolver = pool
	}

	handler := plc.NewHandler(resolver, plc.NewDBExecutor(db))
	handler.SetLogLevel(plc.ParseLogLevel(cfg.RuntimeLevel))
	if traceFlag {
		shutdown, err := setupTelemetry("plc-host")
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
		plcotel.InstrumentHandler(handler, plcotel.DefaultConfig())
	}

	cache := plc.NewFunctionCache(catalog)
	fn, err := cache.Get(ctx, args[0])
	if err != nil {
		return err
	}
	callArgs, err := parseArgs(fn, args[1:])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !fn.Def.ReturnsSet {
		v, err := handler.Call(ctx, fn, callArgs)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, formatValue(v))
		return nil
	}
	for first := true; ; first = false {
		v, ok, err := handler.InvokeSet(ctx, fn, callArgs, first)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fmt.Fprintln(out, formatValue(v))
	}
}

func openCatalog(ctx context.Context, cfg *config.Config, db *sql.DB) (plc.Catalog, error) {
	path := functionsFlag
	if path == "" {
		path = cfg.FunctionsFile
	}
	if path != "" {
		return config.Catalog(path)
	}
	cat := plc.NewDBCatalog(db)
	if err := cat.Init(ctx); err != nil {
		return nil, err
	}
	return cat, nil
}

func parseArgs(fn *plc.Function, raw []string) ([]any, error) {
	if len(raw) != len(fn.ArgTypes) {
		return nil, fmt.Errorf("%s takes %d arguments, got %d", fn.Name(), len(fn.ArgTypes), len(raw))
	}
	out := make([]any, len(raw))
	for i, s := range raw {
		v, err := parseArg(fn.ArgTypes[i], s)
		if err != nil {
			return nil, fmt.Errorf("argument %d (%s): %w", i+1, fn.ArgTypes[i], err)
		}
		out[i] = v
	}
	return out, nil
}

func parseArg(t *plc.TypeDesc, s string) (any, error) {
	if strings.EqualFold(s, "null") {
		return nil, nil
	}
	switch t.Kind() {
	case plc.KindArray:
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil, err
		}
		return v, nil
	case plc.KindInt1, plc.KindInt2, plc.KindInt4, plc.KindInt8:
		return strconv.ParseInt(s, 10, 64)
	case plc.KindFloat4, plc.KindFloat8:
		return strconv.ParseFloat(s, 64)
	default:
		return s, nil
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}
