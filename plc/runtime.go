// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
)

// Body is a scalar function body. args holds the decoded arguments: nil for
// null, int64, float64 or string for scalars and []any for arrays.
type Body func(ctx context.Context, call *CallContext, args []any) (any, error)

// SetBody is a set-returning function body; each element of the returned
// slice is one result row.
type SetBody func(ctx context.Context, call *CallContext, args []any) ([]any, error)

// bodyInfo stores the registration of one function body.
type bodyInfo struct {
	Name  string
	Body  Body
	Set   SetBody
	IsSet bool
}

// Runtime is the container side of the protocol: it receives calls, runs
// the registered function bodies and sends back their results.
type Runtime struct {
	bodies       map[string]*bodyInfo
	logger       *slog.Logger
	dispatchHook DispatchHook
	debugErrors  bool
	channelOpts  []ChannelOption
}

// NewRuntime creates a runtime with no registered functions.
func NewRuntime() *Runtime {
	return &Runtime{
		bodies: make(map[string]*bodyInfo),
		logger: slog.Default(),
	}
}

// Register registers a scalar function body under name.
func (rt *Runtime) Register(name string, body Body) {
	rt.bodies[name] = &bodyInfo{Name: name, Body: body}
}

// RegisterSet registers a set-returning function body under name.
func (rt *Runtime) RegisterSet(name string, body SetBody) {
	rt.bodies[name] = &bodyInfo{Name: name, Set: body, IsSet: true}
}

// SetLogger sets the logger for serve loop diagnostics. These stay local to
// the runtime; use [CallContext.Log] to reach the host.
func (rt *Runtime) SetLogger(logger *slog.Logger) {
	rt.logger = logger
}

// SetDispatchHook registers a hook that is called around each invocation.
func (rt *Runtime) SetDispatchHook(hook DispatchHook) {
	rt.dispatchHook = hook
}

// SetDebugErrors controls whether exceptions sent to the host carry a Go
// stack trace. When false (the default) they carry only the error type and
// message.
func (rt *Runtime) SetDebugErrors(enabled bool) {
	rt.debugErrors = enabled
}

// SetChannelOptions sets the options of channels created by Serve and
// RunStdio.
func (rt *Runtime) SetChannelOptions(opts ...ChannelOption) {
	rt.channelOpts = opts
}

// RunStdio runs the serve loop reading from stdin and writing to stdout.
// If stdin or stdout is connected to a terminal, a warning is printed to
// stderr.
func (rt *Runtime) RunStdio() {
	// Ignore SIGPIPE so writes to closed pipes return errors instead of
	// killing the process.
	signal.Ignore(syscall.SIGPIPE)

	if isTerminal(os.Stdin) || isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr,
			"WARNING: This process communicates via framed Arrow IPC on stdin/stdout "+
				"and is not intended to be run interactively.\n"+
				"It should be launched by a host as a container runtime.")
	}
	rt.Serve(os.Stdin, os.Stdout)
}

// isTerminal reports whether f is connected to a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

// Serve runs the serve loop on the given reader/writer pair.
func (rt *Runtime) Serve(r io.Reader, w io.Writer) {
	rt.ServeWithContext(context.Background(), r, w)
}

// ServeWithContext runs the serve loop on the given reader/writer pair with a
// context.
func (rt *Runtime) ServeWithContext(ctx context.Context, r io.Reader, w io.Writer) {
	ch := NewChannel(r, w, rt.channelOpts...)
	defer ch.Close()
	if err := rt.ServeChannel(ctx, ch); err != nil && !isTransportClosed(err) {
		rt.logger.Error("serve loop error", "err", err)
	}
}

// ServeChannel serves calls arriving on ch until the host closes it. It
// returns nil on an orderly close.
func (rt *Runtime) ServeChannel(ctx context.Context, ch *Channel) error {
	for {
		err := rt.serveOne(ctx, ch)
		if err != nil {
			if errors.Is(err, ErrChannelClosed) {
				return nil
			}
			return err
		}
	}
}

// serveOne handles one complete invocation.
func (rt *Runtime) serveOne(ctx context.Context, ch *Channel) error {
	msg, err := ch.Receive(ctx)
	if err != nil {
		return err
	}
	req, ok := msg.(*CallRequest)
	if !ok {
		// Callbacks only arrive while a body runs; anything else here is a
		// protocol error the host should hear about.
		return ch.Send(ctx, &Exception{
			Type:    "ProtocolError",
			Message: fmt.Sprintf("unexpected %s message outside of a call", msg.Kind()),
		})
	}

	info, ok := rt.bodies[req.Proc.Name]
	if !ok {
		return ch.Send(ctx, &Exception{
			Type:    "LookupError",
			Message: fmt.Sprintf("Unknown function: '%s'. Available functions: %v", req.Proc.Name, rt.availableFunctions()),
		})
	}

	callType := DispatchCallScalar
	if req.ReturnsSet {
		callType = DispatchCallSet
	}
	dispatchInfo := DispatchInfo{
		Function:  req.Proc.Name,
		CallType:  callType,
		RequestID: req.RequestID,

		TransportMetadata: req.TraceContext,
	}
	stats := &CallStatistics{MessagesReceived: 1}

	ctx, hook := startHook(ctx, rt.dispatchHook, rt.logger, dispatchInfo)

	res, callErr := rt.invoke(ctx, ch, req, info, stats)
	var transportErr error
	if callErr != nil {
		var te *TransportError
		if errors.As(callErr, &te) {
			transportErr = callErr
		} else {
			transportErr = ch.Send(ctx, exceptionFromError(callErr, rt.debugErrors))
		}
	} else {
		stats.ResultRows = int64(res.NumRows())
		transportErr = ch.Send(ctx, res)
	}

	hook.end(ctx, dispatchInfo, stats, callErr)
	return transportErr
}

// invoke decodes the arguments, runs the body and encodes its result.
func (rt *Runtime) invoke(ctx context.Context, ch *Channel, req *CallRequest, info *bodyInfo, stats *CallStatistics) (res *Result, err error) {
	if req.ReturnType == nil {
		return nil, &RemoteError{Type: "TypeError", Message: "call carries no return type"}
	}
	if info.IsSet && !req.ReturnsSet {
		return nil, &RemoteError{Type: "TypeError", Message: fmt.Sprintf("function %q returns a set", info.Name)}
	}

	args := make([]any, len(req.Args))
	for i, a := range req.Args {
		v, err := DecodeValue(a.Type, a.Value)
		if err != nil {
			return nil, &RemoteError{Type: "TypeError", Message: fmt.Sprintf("argument %d: %v", i, err)}
		}
		args[i] = v
	}

	callCtx := &CallContext{
		Ctx:       ctx,
		RequestID: req.RequestID,
		Function:  req.Proc.Name,
		LogLevel:  req.LogLevel,
		ch:        ch,
		stats:     stats,
	}
	if callCtx.LogLevel == "" {
		callCtx.LogLevel = LogTrace // default: allow all, host filters
	}

	var rows []any
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				err = panicError(rv, rt.debugErrors)
			}
		}()
		if info.IsSet {
			rows, err = info.Set(ctx, callCtx, args)
			return
		}
		var v any
		v, err = info.Body(ctx, callCtx, args)
		if err != nil {
			return
		}
		if !req.ReturnsSet {
			rows = []any{v}
			return
		}
		if v == nil {
			return
		}
		list, ok := asList(v)
		if !ok {
			err = &RemoteError{Type: "TypeError", Message: fmt.Sprintf("set-returning function %q returned %T", info.Name, v)}
			return
		}
		rows = list
	}()
	if err != nil {
		return nil, err
	}

	res = &Result{
		Names: []string{req.Proc.Name},
		Types: []*TypeDesc{req.ReturnType},
		Rows:  make([][]Cell, len(rows)),
	}
	for i, v := range rows {
		cell, err := EncodeValue(req.ReturnType, v)
		if err != nil {
			return nil, &RemoteError{Type: "TypeError", Message: fmt.Sprintf("result row %d: %v", i, err)}
		}
		res.Rows[i] = []Cell{cell}
	}
	return res, nil
}

// panicError converts a recovered panic into the error reported to the host.
func panicError(rv any, debug bool) *RemoteError {
	exc := exceptionFromError(fmt.Errorf("%v", rv), debug)
	return &RemoteError{Type: "RuntimeError", Message: exc.Message, Stacktrace: exc.Stacktrace}
}

// isTransportClosed returns true for errors that indicate the transport was
// closed normally.
func isTransportClosed(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, ErrChannelClosed) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "EOF")
}

func (rt *Runtime) availableFunctions() []string {
	names := make([]string, 0, len(rt.bodies))
	for name := range rt.bodies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
