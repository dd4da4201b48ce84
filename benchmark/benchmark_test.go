// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package benchmark

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Query-farm/plcontainer-go/plc"
)

// liveSession is a shared in-process session: one serve loop handles every
// call, the way a shared container runtime does.
type liveSession struct {
	*plc.ChannelSession
}

func (liveSession) Release() {}

type liveResolver struct{ sess liveSession }

func (r *liveResolver) Find(string) plc.Session { return r.sess }

func (r *liveResolver) Start(context.Context, string, bool) (plc.Session, error) {
	return r.sess, nil
}

func newLiveHandler(tb testing.TB, compress bool) (*plc.Handler, *plc.FunctionCache) {
	tb.Helper()
	rt := plc.NewRuntime()
	rt.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	RegisterFunctions(rt)

	hostR, rtW := io.Pipe()
	rtR, hostW := io.Pipe()
	rtCh := plc.NewChannel(rtR, rtW, plc.WithCompression(compress), plc.WithCloser(rtW))
	go func() {
		defer rtCh.Close()
		_ = rt.ServeChannel(context.Background(), rtCh)
	}()
	host := plc.NewChannel(hostR, hostW, plc.WithCompression(compress), plc.WithCloser(hostW))
	tb.Cleanup(func() { host.Close() })

	res := &liveResolver{sess: liveSession{plc.NewChannelSession("bench", host)}}
	return plc.NewHandler(res, nil), plc.NewFunctionCache(Catalog("bench", true))
}

func call(tb testing.TB, h *plc.Handler, cache *plc.FunctionCache, name string, args ...any) any {
	tb.Helper()
	fn, err := cache.Get(context.Background(), name)
	require.NoError(tb, err)
	v, err := h.Call(context.Background(), fn, args)
	require.NoError(tb, err)
	return v
}

func floats(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func TestFixture(t *testing.T) {
	h, cache := newLiveHandler(t, false)

	require.Nil(t, call(t, h, cache, "noop"))
	require.Equal(t, 3.5, call(t, h, cache, "add", 1.25, 2.25))
	require.Equal(t, "Hello, plc!", call(t, h, cache, "greet", "plc"))
	require.Equal(t, []any{int64(1), nil, int64(3)}, call(t, h, cache, "roundtrip_array", []any{int64(1), nil, int64(3)}))
	require.Equal(t, []any{0.0, nil, 4.0}, call(t, h, cache, "transform", []any{0.0, nil, 2.0}, 2.0))

	fn, err := cache.Get(context.Background(), "generate")
	require.NoError(t, err)
	cur, err := h.CallSet(context.Background(), fn, []any{int64(3)})
	require.NoError(t, err)
	var rows []any
	for !cur.Done() {
		v, err := cur.Next()
		require.NoError(t, err)
		rows = append(rows, v)
	}
	require.Equal(t, []any{int64(0), int64(10), int64(20)}, rows)
}

func BenchmarkNoop(b *testing.B) {
	h, cache := newLiveHandler(b, false)
	b.ResetTimer()
	for b.Loop() {
		call(b, h, cache, "noop")
	}
}

func BenchmarkAdd(b *testing.B) {
	h, cache := newLiveHandler(b, false)
	b.ResetTimer()
	for b.Loop() {
		call(b, h, cache, "add", 1.0, 2.0)
	}
}

func BenchmarkGreet(b *testing.B) {
	h, cache := newLiveHandler(b, false)
	b.ResetTimer()
	for b.Loop() {
		call(b, h, cache, "greet", "benchmark")
	}
}

func BenchmarkTransform(b *testing.B) {
	for _, bc := range []struct {
		name     string
		compress bool
	}{{"plain", false}, {"zstd", true}} {
		b.Run(bc.name, func(b *testing.B) {
			h, cache := newLiveHandler(b, bc.compress)
			values := floats(10_000)
			b.ResetTimer()
			for b.Loop() {
				call(b, h, cache, "transform", values, 1.5)
			}
		})
	}
}

func BenchmarkGenerate(b *testing.B) {
	h, cache := newLiveHandler(b, false)
	fn, err := cache.Get(context.Background(), "generate")
	require.NoError(b, err)
	b.ResetTimer()
	for b.Loop() {
		cur, err := h.CallSet(context.Background(), fn, []any{int64(1000)})
		if err != nil {
			b.Fatal(err)
		}
		for !cur.Done() {
			if _, err := cur.Next(); err != nil {
				b.Fatal(err)
			}
		}
		cur.Close()
	}
}
