// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"context"
	"errors"
	"fmt"
)

// CallContext provides invocation-scoped information and the host callbacks
// to function bodies running in a runtime.
type CallContext struct {
	// Ctx is the invocation context.
	Ctx context.Context
	// RequestID is the host-assigned identifier of this invocation.
	RequestID string
	// Function is the name of the function being run.
	Function string
	// LogLevel is the least severe level the host asked for. Log lines
	// below it are discarded by [CallContext.Log].
	LogLevel LogLevel

	ch    *Channel
	stats *CallStatistics
}

// Log sends a log line to the host right away. Lines below the host's
// requested level are dropped.
func (c *CallContext) Log(level LogLevel, msg string) error {
	if !c.LogLevel.Admits(level) {
		return nil
	}
	if level == LogException {
		level = LogError
	}
	if c.stats != nil {
		c.stats.Logs++
	}
	return c.ch.Send(c.Ctx, &Log{Level: level, Message: msg})
}

// Logf is Log with fmt.Sprintf formatting.
func (c *CallContext) Logf(level LogLevel, format string, args ...any) error {
	return c.Log(level, fmt.Sprintf(format, args...))
}

// QueryResult is the decoded reply to a query.
type QueryResult struct {
	Columns []string
	Rows    [][]any
}

// Query asks the host to run query and waits for the rows. A query the host
// fails to run comes back as a *RemoteError.
func (c *CallContext) Query(query string) (*QueryResult, error) {
	if c.stats != nil {
		c.stats.SQLQueries++
	}
	if err := c.ch.Send(c.Ctx, &SQL{Query: query}); err != nil {
		return nil, err
	}
	msg, err := c.ch.Receive(c.Ctx)
	if err != nil {
		if errors.Is(err, ErrChannelClosed) {
			return nil, &TransportError{Op: "receive", Err: err}
		}
		return nil, err
	}
	if c.stats != nil {
		c.stats.recordMessage(msg)
	}

	switch m := msg.(type) {
	case *Result:
		return decodeQueryResult(m)
	case *Exception:
		return nil, m.Err()
	default:
		return nil, &TransportError{Op: "receive", Err: fmt.Errorf("%w: %s while waiting for query rows", ErrUnhandledMessage, msg.Kind())}
	}
}

func decodeQueryResult(res *Result) (*QueryResult, error) {
	out := &QueryResult{Columns: res.Names, Rows: make([][]any, len(res.Rows))}
	for r, row := range res.Rows {
		vals := make([]any, len(row))
		for c, cell := range row {
			v, err := DecodeValue(res.Types[c], cell)
			if err != nil {
				return nil, fmt.Errorf("query row %d column %q: %w", r, res.Names[c], err)
			}
			vals[c] = v
		}
		out.Rows[r] = vals
	}
	return out, nil
}
