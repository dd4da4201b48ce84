// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"context"
	"log/slog"
)

// Call type string constants for DispatchInfo.CallType.
const (
	DispatchCallScalar = "scalar"
	DispatchCallSet    = "set"
)

// DispatchHook provides observability callpoints around one function
// invocation on the host. Implementations must be safe for concurrent use.
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// hookRun is one dispatch passed through a hook. Panics inside the hook are
// logged and swallowed; a start that panicked skips the end call.
type hookRun struct {
	hook   DispatchHook
	logger *slog.Logger
	token  HookToken
	active bool
}

func startHook(ctx context.Context, hook DispatchHook, logger *slog.Logger, info DispatchInfo) (out context.Context, run *hookRun) {
	out, run = ctx, &hookRun{hook: hook, logger: logger}
	if hook == nil {
		return out, run
	}
	defer func() {
		if rv := recover(); rv != nil {
			logger.Error("dispatch hook start panic", "function", info.Function, "err", rv)
		}
	}()
	hookCtx, token := hook.OnDispatchStart(ctx, info)
	run.token, run.active = token, true
	if hookCtx != nil {
		out = hookCtx
	}
	return out, run
}

func (r *hookRun) end(ctx context.Context, info DispatchInfo, stats *CallStatistics, err error) {
	if !r.active {
		return
	}
	defer func() {
		if rv := recover(); rv != nil {
			r.logger.Error("dispatch hook end panic", "function", info.Function, "err", rv)
		}
	}()
	r.hook.OnDispatchEnd(ctx, r.token, info, stats, err)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries invocation metadata passed to hooks.
type DispatchInfo struct {
	Function  string // function name
	CallType  string // DispatchCallScalar or DispatchCallSet
	Container string // container the body runs in
	RequestID string // host-assigned request identifier
	Shared    bool   // whether the session is shared between invocations

	// TransportMetadata holds trace headers sent with the call. Host hooks
	// may add entries in OnDispatchStart; runtime hooks read what the host
	// sent.
	TransportMetadata map[string]string
}

// CallStatistics holds per-invocation counters.
type CallStatistics struct {
	MessagesReceived int64
	Logs             int64
	SQLQueries       int64
	ResultRows       int64
}

// recordMessage counts one message received from the runtime.
func (s *CallStatistics) recordMessage(msg Message) {
	s.MessagesReceived++
	switch m := msg.(type) {
	case *Log:
		s.Logs++
	case *SQL:
		s.SQLQueries++
	case *Result:
		s.ResultRows += int64(m.NumRows())
	}
}
