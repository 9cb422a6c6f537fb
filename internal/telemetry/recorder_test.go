package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func counterTotals(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				out[m.Name] += dp.Value
			}
		}
	}
	return out
}

func TestRecorder_CountsAndEmits(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	emitter := newMockEmitter(4)
	r, err := NewRecorder(emitter, mp.Meter("test"), nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	ctx := context.Background()
	r.Record(ctx, Event{Type: EventTransferCreated, Flow: "otp"})
	r.Record(ctx, Event{Type: EventTransferCreated, Flow: "challenge"})
	r.Record(ctx, Event{Type: EventChallengeIssued, Kind: "tax"})
	r.Record(ctx, Event{Type: EventTransferVerified})
	emitter.wait(t, 4)

	totals := counterTotals(t, reader)
	if totals["ledger.transfers.created"] != 2 {
		t.Errorf("transfers.created = %d, want 2", totals["ledger.transfers.created"])
	}
	if totals["ledger.challenges.issued"] != 1 {
		t.Errorf("challenges.issued = %d, want 1", totals["ledger.challenges.issued"])
	}
	if _, ok := totals["ledger.transfers.settled"]; ok && totals["ledger.transfers.settled"] != 0 {
		t.Errorf("transfers.settled = %d, want 0", totals["ledger.transfers.settled"])
	}
	for _, ev := range emitter.getEvents() {
		if ev.CreatedAt.IsZero() {
			t.Errorf("event %s has no timestamp", ev.Type)
		}
	}
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), Event{Type: EventTransferCreated})

	r, err := NewRecorder(nil, nil, nil)
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	r.Record(context.Background(), Event{Type: EventTransferSettled})
}
