// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// pipeResolver starts an in-process runtime for every session.
type pipeResolver struct {
	rt   *Runtime
	opts []ChannelOption
}

func (p *pipeResolver) Find(string) Session { return nil }

func (p *pipeResolver) Start(_ context.Context, name string, _ bool) (Session, error) {
	host, runtime := channelPair(p.opts...)
	go func() {
		defer runtime.Close()
		_ = p.rt.ServeChannel(context.Background(), runtime)
	}()
	return NewChannelSession(name, host), nil
}

func newTestRuntime() *Runtime {
	rt := NewRuntime()
	rt.SetLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	rt.Register("double", func(_ context.Context, _ *CallContext, args []any) (any, error) {
		if args[0] == nil {
			return nil, nil
		}
		return args[0].(int64) * 2, nil
	})
	rt.Register("chatty", func(_ context.Context, call *CallContext, args []any) (any, error) {
		for _, level := range []LogLevel{LogTrace, LogDebug, LogInfo, LogWarn, LogException} {
			if err := call.Logf(level, "at %s", level); err != nil {
				return nil, err
			}
		}
		return args[0], nil
	})
	rt.Register("query", func(_ context.Context, call *CallContext, args []any) (any, error) {
		res, err := call.Query(args[0].(string))
		var remote *RemoteError
		if errors.As(err, &remote) {
			return "failed: " + remote.Message, nil
		}
		if err != nil {
			return nil, err
		}
		return fmt.Sprintf("%v %v", res.Columns, res.Rows), nil
	})
	rt.Register("fail", func(_ context.Context, _ *CallContext, args []any) (any, error) {
		return nil, errors.New(args[0].(string))
	})
	rt.Register("explode", func(_ context.Context, _ *CallContext, args []any) (any, error) {
		panic(args[0].(string))
	})
	rt.RegisterSet("series", func(_ context.Context, _ *CallContext, args []any) ([]any, error) {
		rows := make([]any, args[0].(int64))
		for i := range rows {
			rows[i] = []any{int64(i), int64(i * i)}
		}
		return rows, nil
	})
	rt.Register("words", func(_ context.Context, _ *CallContext, _ []any) (any, error) {
		return []string{"x", "y"}, nil
	})
	return rt
}

func newPipeHandler(rt *Runtime, sql SQLHandler) (*Handler, *bytes.Buffer) {
	h := NewHandler(&pipeResolver{rt: rt}, sql)
	var logs bytes.Buffer
	h.SetLogger(slog.New(slog.NewJSONHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return h, &logs
}

func TestRuntimeScalarCall(t *testing.T) {
	h, _ := newPipeHandler(newTestRuntime(), nil)
	fn := namedFunction(t, "double", "# container: rt", "int4", "int4")

	v, err := h.Call(context.Background(), fn, []any{int64(21)})
	require.NoError(t, err)
	require.Equal(t, int64(42), v)

	v, err = h.Call(context.Background(), fn, []any{nil})
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestRuntimeForwardsLogsAtRequestedLevel(t *testing.T) {
	h, logs := newPipeHandler(newTestRuntime(), nil)
	h.SetLogLevel(LogInfo)
	fn := namedFunction(t, "chatty", "# container: rt", "text", "text")

	v, err := h.Call(context.Background(), fn, []any{"done"})
	require.NoError(t, err)
	require.Equal(t, "done", v)

	out := logs.String()
	require.Equal(t, 3, bytes.Count(logs.Bytes(), []byte("\n")), out)
	require.NotContains(t, out, "at DEBUG")
	require.NotContains(t, out, "at TRACE")
	require.Contains(t, out, `"msg":"at INFO"`)
	// EXCEPTION is reserved for exception messages and is sent as ERROR.
	require.Contains(t, out, `"level":"ERROR","msg":"at EXCEPTION"`)
}

func TestRuntimeQuery(t *testing.T) {
	sql := &countingSQL{}
	h, _ := newPipeHandler(newTestRuntime(), sql)
	fn := namedFunction(t, "query", "# container: rt", "text", "text")

	v, err := h.Call(context.Background(), fn, []any{"select 1"})
	require.NoError(t, err)
	require.Equal(t, "[?column?] [[1]]", v)
	require.Equal(t, []string{"select 1"}, sql.queries)

	sql.err = errors.New("syntax error")
	v, err = h.Call(context.Background(), fn, []any{"select"})
	require.NoError(t, err)
	require.Equal(t, "failed: syntax error", v)
}

func TestRuntimeErrorsBecomeExceptions(t *testing.T) {
	h, _ := newPipeHandler(newTestRuntime(), nil)

	_, err := h.Call(context.Background(), namedFunction(t, "fail", "# container: rt", "text", "text"), []any{"nope"})
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "*errors.errorString", remote.Type)
	require.Equal(t, "nope", remote.Message)
	require.Empty(t, remote.Stacktrace)

	_, err = h.Call(context.Background(), namedFunction(t, "explode", "# container: rt", "text", "text"), []any{"kaboom"})
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "RuntimeError", remote.Type)
	require.Equal(t, "kaboom", remote.Message)
}

func TestRuntimeDebugErrorsCarryStack(t *testing.T) {
	rt := newTestRuntime()
	rt.SetDebugErrors(true)
	h, _ := newPipeHandler(rt, nil)

	_, err := h.Call(context.Background(), namedFunction(t, "explode", "# container: rt", "text", "text"), []any{"kaboom"})
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Contains(t, remote.Stacktrace, "goroutine")
}

func TestRuntimeUnknownFunction(t *testing.T) {
	h, _ := newPipeHandler(newTestRuntime(), nil)

	_, err := h.Call(context.Background(), namedFunction(t, "missing", "# container: rt", "int4"), nil)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "LookupError", remote.Type)
	require.Contains(t, remote.Message, "Unknown function: 'missing'")
	require.Contains(t, remote.Message, "double")
}

func TestRuntimeSetFunctions(t *testing.T) {
	h, _ := newPipeHandler(newTestRuntime(), nil)
	ctx := context.Background()

	series := namedFunction(t, "series", "# container: rt", "int8[]", "int4")
	cur, err := h.CallSet(ctx, series, []any{int64(3)})
	require.NoError(t, err)
	var rows []any
	for !cur.Done() {
		v, err := cur.Next()
		require.NoError(t, err)
		rows = append(rows, v)
	}
	require.Equal(t, []any{
		[]any{int64(0), int64(0)},
		[]any{int64(1), int64(1)},
		[]any{int64(2), int64(4)},
	}, rows)

	cur, err = h.CallSet(ctx, series, []any{int64(0)})
	require.NoError(t, err)
	require.True(t, cur.Done())

	// A scalar body returning a list serves a set-returning function.
	words := namedFunction(t, "words", "# container: rt", "text")
	cur, err = h.CallSet(ctx, words, nil)
	require.NoError(t, err)
	require.Equal(t, 2, cur.Rows())

	// A set body cannot serve a scalar call.
	_, err = h.Call(ctx, series, []any{int64(1)})
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "TypeError", remote.Type)
}

func TestRuntimeOverCompressedChannel(t *testing.T) {
	rt := newTestRuntime()
	h := NewHandler(&pipeResolver{rt: rt, opts: []ChannelOption{WithCompression(true)}}, nil)

	v, err := h.Call(context.Background(), namedFunction(t, "double", "# container: rt", "int8", "int8"), []any{int64(1 << 40)})
	require.NoError(t, err)
	require.Equal(t, int64(1<<41), v)
}

func TestRuntimeRejectsMessagesOutsideCall(t *testing.T) {
	host, runtime := channelPair()
	defer host.Close()
	done := make(chan error, 1)
	go func() {
		defer runtime.Close()
		done <- newTestRuntime().ServeChannel(context.Background(), runtime)
	}()

	ctx := context.Background()
	require.NoError(t, host.Send(ctx, &SQL{Query: "select 1"}))
	msg, err := host.Receive(ctx)
	require.NoError(t, err)
	exc, ok := msg.(*Exception)
	require.True(t, ok, "got %T", msg)
	require.Equal(t, "ProtocolError", exc.Type)

	require.NoError(t, host.Close())
	require.NoError(t, <-done)
}

type countingHook struct {
	mu    sync.Mutex
	stats []*CallStatistics
	infos []DispatchInfo
}

func (c *countingHook) OnDispatchStart(ctx context.Context, _ DispatchInfo) (context.Context, HookToken) {
	return ctx, nil
}

func (c *countingHook) OnDispatchEnd(_ context.Context, _ HookToken, info DispatchInfo, stats *CallStatistics, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infos = append(c.infos, info)
	c.stats = append(c.stats, stats)
}

func (c *countingHook) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.stats)
}

func TestRuntimeDispatchHook(t *testing.T) {
	rt := newTestRuntime()
	hook := &countingHook{}
	rt.SetDispatchHook(hook)
	h, _ := newPipeHandler(rt, &countingSQL{})
	h.SetLogLevel(LogWarn)

	_, err := h.Call(context.Background(), namedFunction(t, "chatty", "# container: rt", "text", "text"), []any{"x"})
	require.NoError(t, err)
	_, err = h.Call(context.Background(), namedFunction(t, "query", "# container: rt", "text", "text"), []any{"select 1"})
	require.NoError(t, err)

	// The end hook runs on the runtime goroutine after the result is sent.
	require.Eventually(t, func() bool { return hook.calls() == 2 }, time.Second, time.Millisecond)
	hook.mu.Lock()
	defer hook.mu.Unlock()
	require.Equal(t, "chatty", hook.infos[0].Function)
	require.Equal(t, int64(2), hook.stats[0].Logs)
	require.Equal(t, int64(1), hook.stats[0].ResultRows)
	require.Equal(t, int64(1), hook.stats[1].SQLQueries)
	require.Equal(t, int64(2), hook.stats[1].MessagesReceived)
}
