// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// DBCatalog is a Catalog stored in the plc_functions table of a database.
type DBCatalog struct {
	db *sql.DB
}

// NewDBCatalog creates a catalog backed by db. Call Init once to create the
// table.
func NewDBCatalog(db *sql.DB) *DBCatalog {
	return &DBCatalog{db: db}
}

// Init creates the plc_functions table if it does not exist.
func (c *DBCatalog) Init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS plc_functions (
			name        TEXT PRIMARY KEY,
			src         TEXT NOT NULL,
			arg_names   TEXT NOT NULL DEFAULT '[]',
			arg_types   TEXT NOT NULL DEFAULT '[]',
			return_type TEXT NOT NULL,
			returns_set INTEGER NOT NULL DEFAULT 0,
			is_trigger  INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("creating plc_functions: %w", err)
	}
	return nil
}

// Put inserts or replaces a function definition.
func (c *DBCatalog) Put(ctx context.Context, def *FunctionDef) error {
	argNames, err := json.Marshal(nonNil(def.ArgNames))
	if err != nil {
		return err
	}
	argTypes, err := json.Marshal(nonNil(def.ArgTypes))
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO plc_functions (name, src, arg_names, arg_types, return_type, returns_set, is_trigger)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		def.Name, def.Src, string(argNames), string(argTypes), def.ReturnType, def.ReturnsSet, def.IsTrigger,
	)
	if err != nil {
		return fmt.Errorf("storing function %q: %w", def.Name, err)
	}
	return nil
}

// LookupFunction implements Catalog.
func (c *DBCatalog) LookupFunction(ctx context.Context, name string) (*FunctionDef, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT name, src, arg_names, arg_types, return_type, returns_set, is_trigger
		FROM plc_functions WHERE name = ?`, name)

	var def FunctionDef
	var argNames, argTypes string
	err := row.Scan(&def.Name, &def.Src, &argNames, &argTypes, &def.ReturnType, &def.ReturnsSet, &def.IsTrigger)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%q: %w", name, ErrFunctionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up function %q: %w", name, err)
	}
	if err := json.Unmarshal([]byte(argNames), &def.ArgNames); err != nil {
		return nil, fmt.Errorf("function %q arg_names: %w", name, err)
	}
	if err := json.Unmarshal([]byte(argTypes), &def.ArgTypes); err != nil {
		return nil, fmt.Errorf("function %q arg_types: %w", name, err)
	}
	return &def, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
