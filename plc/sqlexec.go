// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"context"
	"database/sql"
	"fmt"
)

// DBExecutor is a SQLHandler running queries on a database/sql handle.
//
// Column types are inferred from the values: a column whose non-null values
// are all integers is int8, one mixing integers and floats is float8, and
// anything else is text.
type DBExecutor struct {
	db *sql.DB
}

// NewDBExecutor creates an executor for db.
func NewDBExecutor(db *sql.DB) *DBExecutor {
	return &DBExecutor{db: db}
}

// Execute implements SQLHandler.
func (e *DBExecutor) Execute(ctx context.Context, query string) (Message, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("running query: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var values [][]any
	for rows.Next() {
		row := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		for i, v := range row {
			if b, ok := v.([]byte); ok {
				row[i] = string(b)
			}
		}
		values = append(values, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	res := &Result{Names: names, Types: make([]*TypeDesc, len(names)), Rows: make([][]Cell, len(values))}
	for c := range names {
		res.Types[c] = Scalar(inferColumnKind(values, c))
	}
	for r, row := range values {
		cells := make([]Cell, len(row))
		for c, v := range row {
			cell, err := EncodeValue(res.Types[c], v)
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", r, names[c], err)
			}
			cells[c] = cell
		}
		res.Rows[r] = cells
	}
	return res, nil
}

func inferColumnKind(rows [][]any, col int) Kind {
	kind := KindInvalid
	for _, row := range rows {
		switch row[col].(type) {
		case nil:
			continue
		case int64, int32, int:
			if kind == KindInvalid {
				kind = KindInt8
			}
		case float64, float32:
			if kind == KindInvalid || kind == KindInt8 {
				kind = KindFloat8
			}
		default:
			return KindText
		}
	}
	if kind == KindInvalid {
		return KindText
	}
	return kind
}
