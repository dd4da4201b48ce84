// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// SQLHandler runs queries issued by a function body. The reply, typically a
// *Result, is sent back to the runtime; a nil reply sends nothing.
type SQLHandler interface {
	Execute(ctx context.Context, query string) (Message, error)
}

// Releaser is implemented by sessions that are handed out exclusively by
// their resolver and must be given back once an invocation ends.
type Releaser interface {
	Release()
}

// Handler runs function invocations on the host. Each invocation resolves a
// session for the function's container, sends the call, and serves log and
// SQL callbacks from the runtime until a result or an exception arrives.
type Handler struct {
	resolver     Resolver
	sql          SQLHandler
	logger       *slog.Logger
	logLevel     LogLevel
	dispatchHook DispatchHook
}

// NewHandler creates a handler. sql may be nil, in which case SQL callbacks
// are answered with an exception.
func NewHandler(resolver Resolver, sql SQLHandler) *Handler {
	return &Handler{
		resolver: resolver,
		sql:      sql,
		logger:   slog.Default(),
		logLevel: LogInfo,
	}
}

// SetLogger sets the logger remote log lines are emitted to.
func (h *Handler) SetLogger(logger *slog.Logger) {
	h.logger = logger
}

// SetLogLevel sets the least severe level runtimes are asked to forward.
func (h *Handler) SetLogLevel(level LogLevel) {
	h.logLevel = level
}

// SetDispatchHook registers a hook that is called around each invocation.
func (h *Handler) SetDispatchHook(hook DispatchHook) {
	h.dispatchHook = hook
}

// Call runs a scalar function and returns its single value.
func (h *Handler) Call(ctx context.Context, fn *Function, args []any) (any, error) {
	cur, err := h.run(ctx, fn, args, DispatchCallScalar)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	return cur.Next()
}

// CallSet runs a set-returning function. The caller owns the returned cursor
// and must Close it if it stops before the last row.
func (h *Handler) CallSet(ctx context.Context, fn *Function, args []any) (*RowCursor, error) {
	return h.run(ctx, fn, args, DispatchCallSet)
}

// InvokeSet runs one step of the per-row protocol for set-returning
// functions. With first set, the function is invoked and its result kept on
// fn; every call, including the first, then yields the next row. The boolean
// is false once the rows are exhausted, at which point the result is freed.
func (h *Handler) InvokeSet(ctx context.Context, fn *Function, args []any, first bool) (any, bool, error) {
	fn.mu.Lock()
	defer fn.mu.Unlock()

	if first {
		if fn.pending != nil {
			fn.pending.Close()
			fn.pending = nil
		}
		cur, err := h.run(ctx, fn, args, DispatchCallSet)
		if err != nil {
			return nil, false, err
		}
		fn.pending = cur
	}
	if fn.pending == nil {
		return nil, false, fmt.Errorf("function %q: no result pending", fn.Name())
	}
	if fn.pending.Done() {
		fn.pending.Close()
		fn.pending = nil
		return nil, false, nil
	}
	v, err := fn.pending.Next()
	if err != nil {
		fn.pending.Close()
		fn.pending = nil
		return nil, false, err
	}
	return v, true, nil
}

// run performs one invocation and returns a cursor over its result.
func (h *Handler) run(ctx context.Context, fn *Function, args []any, callType string) (*RowCursor, error) {
	req, err := h.buildRequest(fn, args, callType == DispatchCallSet)
	if err != nil {
		return nil, err
	}

	sess := h.resolver.Find(fn.Container)
	if sess == nil {
		sess, err = h.resolver.Start(ctx, fn.Container, fn.Shared)
		if err != nil {
			return nil, &ResourceError{Container: fn.Container, Err: err}
		}
	}

	info := DispatchInfo{
		Function:  fn.Name(),
		CallType:  callType,
		Container: fn.Container,
		RequestID: req.RequestID,
		Shared:    fn.Shared,

		TransportMetadata: req.TraceContext,
	}
	stats := &CallStatistics{}

	ctx, hook := startHook(ctx, h.dispatchHook, h.logger, info)

	res, err := h.exchange(ctx, fn, sess, req, stats)
	h.releaseSession(sess, fn.Shared, err)

	var cur *RowCursor
	if err == nil {
		cur, err = newRowCursor(fn.Name(), res)
	}

	hook.end(ctx, info, stats, err)
	return cur, err
}

func (h *Handler) buildRequest(fn *Function, args []any, returnsSet bool) (*CallRequest, error) {
	if len(args) != len(fn.ArgTypes) {
		return nil, fmt.Errorf("function %q takes %d arguments, got %d", fn.Name(), len(fn.ArgTypes), len(args))
	}
	req := &CallRequest{
		RequestID:  uuid.NewString(),
		Proc:       Proc{Name: fn.Name(), Src: fn.Def.Src},
		Args:       make([]Arg, len(args)),
		ReturnType: fn.ReturnType,
		ReturnsSet: returnsSet,
		LogLevel:   h.logLevel,

		TraceContext: make(map[string]string),
	}
	for i, v := range args {
		cell, err := EncodeValue(fn.ArgTypes[i], v)
		if err != nil {
			return nil, fmt.Errorf("function %q argument %d: %w", fn.Name(), i, err)
		}
		req.Args[i] = Arg{Name: fn.ArgNames[i], Type: fn.ArgTypes[i], Value: cell}
	}
	return req, nil
}

// exchange sends the call and serves callbacks until the call ends.
func (h *Handler) exchange(ctx context.Context, fn *Function, sess Session, req *CallRequest, stats *CallStatistics) (*Result, error) {
	if err := sess.Send(ctx, req); err != nil {
		return nil, asTransportError("send", err)
	}
	for {
		msg, err := sess.Receive(ctx)
		if err != nil {
			return nil, asTransportError("receive", err)
		}
		stats.recordMessage(msg)

		switch m := msg.(type) {
		case *Result:
			return m, nil
		case *Exception:
			return nil, m.Err()
		case *Log:
			h.logger.Log(ctx, m.Level.SlogLevel(), m.Message,
				"function", fn.Name(), "container", sess.Name())
		case *SQL:
			if err := h.serveSQL(ctx, sess, m); err != nil {
				return nil, err
			}
		default:
			return nil, &TransportError{Op: "receive", Err: fmt.Errorf("%w: %s", ErrUnhandledMessage, msg.Kind())}
		}
	}
}

// serveSQL runs one query for the runtime and sends the reply. Query failures
// are reported to the runtime, not to the caller.
func (h *Handler) serveSQL(ctx context.Context, sess Session, m *SQL) error {
	var reply Message
	if h.sql == nil {
		reply = &Exception{Type: "SQLError", Message: "SQL callbacks are not enabled"}
	} else {
		var err error
		reply, err = h.sql.Execute(ctx, m.Query)
		if err != nil {
			h.logger.Warn("sql callback failed", "query", m.Query, "err", err)
			reply = &Exception{Type: "SQLError", Message: err.Error()}
		}
	}
	if reply == nil {
		return nil
	}
	if err := sess.Send(ctx, reply); err != nil {
		return asTransportError("send", err)
	}
	return nil
}

// releaseSession ends the handler's use of a session. Shared sessions whose
// resolver takes them back are released; all others, and any session whose
// transport failed, are closed.
func (h *Handler) releaseSession(sess Session, shared bool, err error) {
	var te *TransportError
	if r, ok := sess.(Releaser); ok && shared && !errors.As(err, &te) {
		r.Release()
		return
	}
	if cerr := sess.Close(); cerr != nil {
		h.logger.Debug("closing session", "container", sess.Name(), "err", cerr)
	}
}

func asTransportError(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// RowCursor reads a function result one row at a time. It owns the result
// and frees it after the last row or on Close.
type RowCursor struct {
	function string
	result   *Result
	rows     int
	row      int
}

func newRowCursor(function string, res *Result) (*RowCursor, error) {
	if res == nil {
		return nil, fmt.Errorf("function %q: empty result", function)
	}
	return &RowCursor{function: function, result: res, rows: res.NumRows()}, nil
}

// Rows returns the number of rows in the result.
func (c *RowCursor) Rows() int { return c.rows }

// Done reports whether every row has been consumed.
func (c *RowCursor) Done() bool { return c.row >= c.rows }

// Next decodes the value of the next row. Results with more than one column
// are rejected with ErrMultiColumn; reading past the last row returns
// ErrRowOutOfRange.
func (c *RowCursor) Next() (any, error) {
	if c.row >= c.rows || c.result == nil {
		return nil, marshalErr("consume", KindInvalid,
			fmt.Errorf("%w: function %q row %d of %d", ErrRowOutOfRange, c.function, c.row, c.rows))
	}
	if c.result.NumCols() > 1 {
		return nil, marshalErr("consume", KindInvalid, ErrMultiColumn)
	}
	if c.result.NumCols() == 0 {
		return nil, marshalErr("consume", KindInvalid, fmt.Errorf("%w: result has no columns", ErrTypeMismatch))
	}

	v, err := DecodeValue(c.result.Types[0], c.result.Rows[c.row][0])
	c.row++
	if c.row >= c.rows {
		c.Close()
	}
	return v, err
}

// Close frees the result. Further calls to Next fail.
func (c *RowCursor) Close() {
	c.result = nil
}
