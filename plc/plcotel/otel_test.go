// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package plcotel

import (
	"context"
	"errors"
	"testing"

	"github.com/Query-farm/plcontainer-go/plc"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func testConfig() (OtelConfig, *tracetest.SpanRecorder, *sdkmetric.ManualReader) {
	recorder := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	cfg := DefaultConfig()
	cfg.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	cfg.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	cfg.CustomAttributes = []attribute.KeyValue{attribute.String("env", "test")}
	return cfg, recorder, reader
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func counterTotal(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is %T", name, m.Data)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestHookRecordsSpanAndMetrics(t *testing.T) {
	cfg, recorder, reader := testConfig()
	hook := NewHook(cfg, trace.SpanKindClient, "plc.host")

	info := plc.DispatchInfo{Function: "scale", CallType: plc.DispatchCallScalar, Container: "py", RequestID: "r1", Shared: true}
	ctx, token := hook.OnDispatchStart(context.Background(), info)
	require.True(t, trace.SpanFromContext(ctx).SpanContext().IsValid())
	hook.OnDispatchEnd(ctx, token, info, &plc.CallStatistics{MessagesReceived: 4, Logs: 2, SQLQueries: 1, ResultRows: 1}, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	span := spans[0]
	require.Equal(t, "plc/scale", span.Name())
	require.Equal(t, trace.SpanKindClient, span.SpanKind())
	require.Equal(t, codes.Ok, span.Status().Code)

	attrs := spanAttrs(span)
	require.Equal(t, "py", attrs["plc.container"].AsString())
	require.True(t, attrs["plc.shared"].AsBool())
	require.Equal(t, "test", attrs["env"].AsString())
	require.Equal(t, int64(2), attrs["plc.logs"].AsInt64())
	require.Equal(t, int64(1), attrs["plc.sql_queries"].AsInt64())

	require.Equal(t, int64(1), counterTotal(t, reader, "plc.host.calls"))
	require.Equal(t, int64(3), counterTotal(t, reader, "plc.host.callbacks"))
}

func TestHookRecordsErrors(t *testing.T) {
	cfg, recorder, _ := testConfig()
	hook := NewHook(cfg, trace.SpanKindServer, "plc.runtime")

	info := plc.DispatchInfo{Function: "fail", CallType: plc.DispatchCallSet}
	ctx, token := hook.OnDispatchStart(context.Background(), info)
	hook.OnDispatchEnd(ctx, token, info, &plc.CallStatistics{}, &plc.RemoteError{Type: "ValueError", Message: "bad"})

	span := recorder.Ended()[0]
	require.Equal(t, trace.SpanKindServer, span.SpanKind())
	require.Equal(t, codes.Error, span.Status().Code)
	require.Equal(t, "ValueError", spanAttrs(span)["plc.error_type"].AsString())
	_, hasContainer := spanAttrs(span)["plc.container"]
	require.False(t, hasContainer)
	require.Len(t, span.Events(), 1, "the error is recorded as an exception event")
}

func TestErrorType(t *testing.T) {
	require.Equal(t, "ValueError", errorType(&plc.RemoteError{Type: "ValueError"}))
	require.Equal(t, "TransportError", errorType(&plc.TransportError{Op: "send", Err: errors.New("pipe")}))
	require.Equal(t, "MarshalError", errorType(&plc.MarshalError{Op: "consume", Err: plc.ErrMultiColumn}))
	require.Equal(t, "*errors.errorString", errorType(errors.New("x")))
}

func TestTracingDisabled(t *testing.T) {
	cfg, recorder, reader := testConfig()
	cfg.EnableTracing = false
	hook := NewHook(cfg, trace.SpanKindClient, "plc.host")

	info := plc.DispatchInfo{Function: "f", CallType: plc.DispatchCallScalar}
	ctx, token := hook.OnDispatchStart(context.Background(), info)
	hook.OnDispatchEnd(ctx, token, info, nil, nil)

	require.Empty(t, recorder.Ended())
	require.Equal(t, int64(1), counterTotal(t, reader, "plc.host.calls"))
}

// replaySession answers every call with a fixed result.
type replaySession struct {
	reply plc.Message
	sent  []plc.Message
}

func (s *replaySession) Name() string { return "replay" }
func (s *replaySession) Send(_ context.Context, m plc.Message) error {
	s.sent = append(s.sent, m)
	return nil
}
func (s *replaySession) Receive(context.Context) (plc.Message, error) { return s.reply, nil }
func (s *replaySession) Close() error { return nil }
func (s *replaySession) Find(string) plc.Session { return nil }
func (s *replaySession) Start(context.Context, string, bool) (plc.Session, error) {
	return s, nil
}

func TestInstrumentHandler(t *testing.T) {
	cfg, recorder, _ := testConfig()
	td := plc.Scalar(plc.KindInt4)
	cell, err := plc.EncodeValue(td, int64(5))
	require.NoError(t, err)
	sess := &replaySession{reply: &plc.Result{Types: []*plc.TypeDesc{td}, Rows: [][]plc.Cell{{cell}}}}

	h := plc.NewHandler(sess, nil)
	InstrumentHandler(h, cfg)
	fn, err := plc.NewFunction(&plc.FunctionDef{Name: "five", Src: "# container: replay", ReturnType: "int4"})
	require.NoError(t, err)

	v, err := h.Call(context.Background(), fn, nil)
	require.NoError(t, err)
	require.Equal(t, int64(5), v)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "plc/five", spans[0].Name())
	require.Equal(t, int64(1), spanAttrs(spans[0])["plc.result_rows"].AsInt64())
}

func TestTraceContextPropagation(t *testing.T) {
	cfg, recorder, _ := testConfig()
	cfg.Propagator = propagation.TraceContext{}

	td := plc.Scalar(plc.KindInt4)
	cell, err := plc.EncodeValue(td, int64(1))
	require.NoError(t, err)
	sess := &replaySession{reply: &plc.Result{Types: []*plc.TypeDesc{td}, Rows: [][]plc.Cell{{cell}}}}

	h := plc.NewHandler(sess, nil)
	InstrumentHandler(h, cfg)
	fn, err := plc.NewFunction(&plc.FunctionDef{Name: "one", Src: "# container: replay", ReturnType: "int4"})
	require.NoError(t, err)
	_, err = h.Call(context.Background(), fn, nil)
	require.NoError(t, err)

	require.Len(t, sess.sent, 1)
	req, ok := sess.sent[0].(*plc.CallRequest)
	require.True(t, ok)
	require.Contains(t, req.TraceContext, "traceparent")

	// The runtime side continues the host's trace.
	hook := NewHook(cfg, trace.SpanKindServer, "plc.runtime")
	info := plc.DispatchInfo{Function: "one", CallType: plc.DispatchCallScalar, TransportMetadata: req.TraceContext}
	ctx, token := hook.OnDispatchStart(context.Background(), info)
	hook.OnDispatchEnd(ctx, token, info, nil, nil)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	host, runtime := spans[0], spans[1]
	require.Equal(t, trace.SpanKindClient, host.SpanKind())
	require.Equal(t, trace.SpanKindServer, runtime.SpanKind())
	require.Equal(t, host.SpanContext().TraceID(), runtime.SpanContext().TraceID())
	require.Equal(t, host.SpanContext().SpanID(), runtime.Parent().SpanID())
}
