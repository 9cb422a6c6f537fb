package otel

import (
	"context"
	"testing"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"custodial-ledger/backend/internal/telemetry"
)

func TestNewEventEmitter_NilProvider_ReturnsNoop(t *testing.T) {
	em := NewEventEmitter(nil)
	if em == nil {
		t.Fatal("NewEventEmitter(nil) returned nil")
	}
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("noop Emit(ctx, nil): %v", err)
	}
	if err := em.Emit(context.Background(), &telemetry.Event{Type: "x"}); err != nil {
		t.Errorf("noop Emit(ctx, event): %v", err)
	}
}

func TestEmit_NilEvent_ReturnsNil(t *testing.T) {
	provider := sdklog.NewLoggerProvider()
	defer func() { _ = provider.Shutdown(context.Background()) }()
	em := NewEventEmitter(provider)
	if err := em.Emit(context.Background(), nil); err != nil {
		t.Errorf("Emit(ctx, nil): %v", err)
	}
}

// recordCapture stores the last Record passed to Emit for assertion.
type recordCapture struct {
	rec otellog.Record
}

func (r *recordCapture) Emit(ctx context.Context, rec otellog.Record) {
	r.rec = rec
}

func attrsOf(rec otellog.Record) map[string]string {
	attrs := make(map[string]string)
	rec.WalkAttributes(func(kv otellog.KeyValue) bool {
		attrs[kv.Key] = kv.Value.AsString()
		return true
	})
	return attrs
}

func TestEmit_AttributeAndBodyMapping(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	created := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	event := &telemetry.Event{
		Type:       telemetry.EventTransferSettled,
		AccountID:  "acct-1",
		TransferID: "tr-1",
		Amount:     "40.00",
		Status:     "success",
		Flow:       "otp",
		CreatedAt:  created,
	}
	if err := em.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	rec := cap.rec
	if got := rec.Body().AsString(); got != telemetry.EventTransferSettled {
		t.Errorf("body = %q", got)
	}
	if !rec.Timestamp().Equal(created) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp(), created)
	}
	want := map[string]string{
		"event_type": "transfer_settled", "account_id": "acct-1", "transfer_id": "tr-1",
		"amount": "40.00", "status": "success", "flow": "otp",
	}
	attrs := attrsOf(rec)
	for k, v := range want {
		if attrs[k] != v {
			t.Errorf("attr %q = %q, want %q", k, attrs[k], v)
		}
	}
	if _, ok := attrs["kind"]; ok {
		t.Error("empty kind should not be set")
	}
}

func TestEmit_ZeroTimestamp_SetsCurrentTime(t *testing.T) {
	cap := &recordCapture{}
	em := NewEventEmitterWithLogger(cap)
	before := time.Now().UTC()
	if err := em.Emit(context.Background(), &telemetry.Event{Type: telemetry.EventChallengeIssued, Kind: "tax"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	after := time.Now().UTC()
	ts := cap.rec.Timestamp()
	if ts.Before(before) || ts.After(after) {
		t.Errorf("timestamp = %v, should be between %v and %v", ts, before, after)
	}
	if attrsOf(cap.rec)["kind"] != "tax" {
		t.Error("kind attribute missing")
	}
}
