package logging

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"WARN":    zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"bogus":   zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		l, err := New("debug", format)
		if err != nil {
			t.Fatalf("New(%q): %v", format, err)
		}
		if !l.Core().Enabled(zapcore.DebugLevel) {
			t.Errorf("format %q: debug should be enabled", format)
		}
	}
}

func TestWithTrace_AddsSpanFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	WithTrace(ctx, base).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["trace_id"] != traceID.String() {
		t.Errorf("trace_id = %v, want %s", fields["trace_id"], traceID)
	}
	if fields["span_id"] != spanID.String() {
		t.Errorf("span_id = %v, want %s", fields["span_id"], spanID)
	}
}

func TestWithTrace_NoSpanLeavesLoggerUntouched(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithTrace(context.Background(), zap.New(core)).Info("plain")
	if _, ok := logs.All()[0].ContextMap()["trace_id"]; ok {
		t.Error("trace_id should be absent without a span")
	}
	if WithTrace(context.Background(), nil) == nil {
		t.Error("nil logger should become a no-op logger")
	}
}
