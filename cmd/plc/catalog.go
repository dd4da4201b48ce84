// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Query-farm/plcontainer-go/internal/config"
	"github.com/Query-farm/plcontainer-go/plc"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the function catalog stored in the database",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <functions.yaml>",
	Short: "Import function definitions from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, db, err := openDBCatalog(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		defs, err := config.LoadFunctions(args[0])
		if err != nil {
			return err
		}
		for i := range defs {
			if _, err := plc.NewFunction(&defs[i]); err != nil {
				return err
			}
			if err := cat.Put(cmd.Context(), &defs[i]); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "imported %d functions\n", len(defs))
		return nil
	},
}

var catalogShowCmd = &cobra.Command{
	Use:   "show <function>",
	Short: "Print a function definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cat, db, err := openDBCatalog(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		def, err := cat.LookupFunction(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fn, err := plc.NewFunction(def)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "name:        %s\n", def.Name)
		fmt.Fprintf(out, "container:   %s (shared=%t)\n", fn.Container, fn.Shared)
		for i, t := range fn.ArgTypes {
			fmt.Fprintf(out, "arg %d:       %s %s\n", i, fn.ArgNames[i], t)
		}
		fmt.Fprintf(out, "returns:     %s (set=%t)\n", fn.ReturnType, def.ReturnsSet)
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd, catalogShowCmd)
	rootCmd.AddCommand(catalogCmd)
}

func openDBCatalog(cmd *cobra.Command) (*plc.DBCatalog, *sql.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	cat := plc.NewDBCatalog(db)
	if err := cat.Init(cmd.Context()); err != nil {
		db.Close()
		return nil, nil, err
	}
	return cat, db, nil
}
