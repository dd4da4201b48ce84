// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package plcotel provides OpenTelemetry instrumentation for plc hosts and
// runtimes. It implements the [plc.DispatchHook] interface to add tracing
// and metrics to function invocations.
//
// Usage:
//
//	handler := plc.NewHandler(pool, plc.NewDBExecutor(db))
//	plcotel.InstrumentHandler(handler, plcotel.DefaultConfig())
package plcotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Query-farm/plcontainer-go/plc"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "plc"

// OtelConfig configures OpenTelemetry instrumentation.
type OtelConfig struct {
	// TracerProvider supplies the tracer. Defaults to otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// Propagator carries trace context between host and runtime in call
	// metadata. Defaults to otel.GetTextMapPropagator().
	Propagator propagation.TextMapPropagator
	// EnableTracing enables span creation. Default true.
	EnableTracing bool
	// EnableMetrics enables counter and histogram recording. Default true.
	EnableMetrics bool
	// RecordExceptions calls RecordError on the span for failed invocations.
	// Default true.
	RecordExceptions bool
	// CustomAttributes are added to every span.
	CustomAttributes []attribute.KeyValue
}

// DefaultConfig returns an OtelConfig with tracing, metrics and exception
// recording enabled. Providers and the propagator are resolved from the
// global OTel SDK at instrumentation time.
func DefaultConfig() OtelConfig {
	return OtelConfig{
		EnableTracing:    true,
		EnableMetrics:    true,
		RecordExceptions: true,
	}
}

// InstrumentHandler attaches instrumentation to a host-side handler. Spans
// are client spans named "plc/<function>".
func InstrumentHandler(h *plc.Handler, cfg OtelConfig) {
	h.SetDispatchHook(NewHook(cfg, trace.SpanKindClient, "plc.host"))
}

// InstrumentRuntime attaches instrumentation to a runtime. Spans are server
// spans named "plc/<function>".
func InstrumentRuntime(rt *plc.Runtime, cfg OtelConfig) {
	rt.SetDispatchHook(NewHook(cfg, trace.SpanKindServer, "plc.runtime"))
}

// NewHook builds the dispatch hook. side names the metric prefix, e.g.
// "plc.host" records plc.host.calls and plc.host.duration.
func NewHook(cfg OtelConfig, kind trace.SpanKind, side string) plc.DispatchHook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}
	if cfg.Propagator == nil {
		cfg.Propagator = otel.GetTextMapPropagator()
	}

	h := &hook{
		cfg:    cfg,
		kind:   kind,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		h.meters = newMeters(cfg.MeterProvider.Meter(instrumentationName), side)
	}
	return h
}

// meters holds the instruments for one side. Instruments that failed to
// register are nil and skipped.
type meters struct {
	calls     metric.Int64Counter
	callbacks metric.Int64Counter
	duration  metric.Float64Histogram
}

func newMeters(m metric.Meter, side string) *meters {
	ms := &meters{}
	ms.calls, _ = m.Int64Counter(side+".calls",
		metric.WithUnit("{call}"),
		metric.WithDescription("Number of function invocations"))
	ms.callbacks, _ = m.Int64Counter(side+".callbacks",
		metric.WithUnit("{message}"),
		metric.WithDescription("Log and SQL callbacks served during invocations"))
	ms.duration, _ = m.Float64Histogram(side+".duration",
		metric.WithUnit("s"),
		metric.WithDescription("Duration of function invocations"))
	return ms
}

func (ms *meters) record(ctx context.Context, info plc.DispatchInfo, elapsed time.Duration, stats *plc.CallStatistics, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "error"
	}
	fn := attribute.String("plc.function", info.Function)
	common := metric.WithAttributes(fn,
		attribute.String("plc.call_type", info.CallType),
		attribute.String("status", outcome))

	if ms.calls != nil {
		ms.calls.Add(ctx, 1, common)
	}
	if ms.duration != nil {
		ms.duration.Record(ctx, elapsed.Seconds(), common)
	}
	if ms.callbacks == nil || stats == nil {
		return
	}
	ms.callbacks.Add(ctx, stats.Logs, metric.WithAttributes(fn, attribute.String("plc.callback", "log")))
	ms.callbacks.Add(ctx, stats.SQLQueries, metric.WithAttributes(fn, attribute.String("plc.callback", "sql")))
}

type hook struct {
	cfg    OtelConfig
	kind   trace.SpanKind
	tracer trace.Tracer
	meters *meters
}

// invocation is the HookToken handed back to OnDispatchEnd. span is nil
// when tracing is off.
type invocation struct {
	began time.Time
	span  trace.Span
}

// OnDispatchStart starts a span for the invocation. Runtime spans continue
// the trace the host sent; host spans are injected into the call.
func (h *hook) OnDispatchStart(ctx context.Context, info plc.DispatchInfo) (context.Context, plc.HookToken) {
	if h.kind == trace.SpanKindServer && info.TransportMetadata != nil {
		ctx = h.cfg.Propagator.Extract(ctx, propagation.MapCarrier(info.TransportMetadata))
	}
	inv := &invocation{began: time.Now()}
	if !h.cfg.EnableTracing {
		return ctx, inv
	}

	ctx, inv.span = h.tracer.Start(ctx, "plc/"+info.Function,
		trace.WithSpanKind(h.kind),
		trace.WithAttributes(h.startAttributes(info)...),
	)
	if h.kind == trace.SpanKindClient && info.TransportMetadata != nil {
		h.cfg.Propagator.Inject(ctx, propagation.MapCarrier(info.TransportMetadata))
	}
	return ctx, inv
}

func (h *hook) startAttributes(info plc.DispatchInfo) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 5+len(h.cfg.CustomAttributes))
	attrs = append(attrs,
		attribute.String("plc.function", info.Function),
		attribute.String("plc.call_type", info.CallType),
		attribute.String("plc.request_id", info.RequestID),
	)
	if info.Container != "" {
		attrs = append(attrs,
			attribute.String("plc.container", info.Container),
			attribute.Bool("plc.shared", info.Shared),
		)
	}
	return append(attrs, h.cfg.CustomAttributes...)
}

// OnDispatchEnd records metrics and finishes the span.
func (h *hook) OnDispatchEnd(ctx context.Context, token plc.HookToken, info plc.DispatchInfo, stats *plc.CallStatistics, err error) {
	inv, ok := token.(*invocation)
	if !ok {
		return
	}
	if h.meters != nil {
		h.meters.record(ctx, info, time.Since(inv.began), stats, err != nil)
	}
	if inv.span != nil {
		h.finish(inv.span, stats, err)
	}
}

func (h *hook) finish(span trace.Span, stats *plc.CallStatistics, err error) {
	defer span.End()
	if !span.IsRecording() {
		return
	}
	if stats != nil {
		span.SetAttributes(
			attribute.Int64("plc.messages_received", stats.MessagesReceived),
			attribute.Int64("plc.logs", stats.Logs),
			attribute.Int64("plc.sql_queries", stats.SQLQueries),
			attribute.Int64("plc.result_rows", stats.ResultRows),
		)
	}
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String("plc.error_type", errorType(err)))
	if h.cfg.RecordExceptions {
		span.RecordError(err)
	}
}

// errorType names err for the plc.error_type attribute: the remote
// exception type when there is one, otherwise the plc error class.
func errorType(err error) string {
	var remote *plc.RemoteError
	if errors.As(err, &remote) && remote.Type != "" {
		return remote.Type
	}
	var te *plc.TransportError
	if errors.As(err, &te) {
		return "TransportError"
	}
	var me *plc.MarshalError
	if errors.As(err, &me) {
		return "MarshalError"
	}
	return fmt.Sprintf("%T", err)
}
