package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// Recorder counts lifecycle events and forwards them to an EventEmitter. A nil *Recorder is a no-op.
type Recorder struct {
	emitter  EventEmitter
	log      *zap.Logger
	now      func() time.Time
	counters map[string]metric.Int64Counter
}

var counterNames = map[string]string{
	EventTransferCreated:  "ledger.transfers.created",
	EventTransferSettled:  "ledger.transfers.settled",
	EventTransferDeclined: "ledger.transfers.declined",
	EventChallengeIssued:  "ledger.challenges.issued",
}

// NewRecorder returns a Recorder. meter may be nil (no counters); emitter may be nil (no log records).
func NewRecorder(emitter EventEmitter, meter metric.Meter, log *zap.Logger) (*Recorder, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("ledger")
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Recorder{
		emitter:  emitter,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		counters: make(map[string]metric.Int64Counter, len(counterNames)),
	}
	for eventType, name := range counterNames {
		c, err := meter.Int64Counter(name)
		if err != nil {
			return nil, err
		}
		r.counters[eventType] = c
	}
	return r, nil
}

// Record increments the counter for ev.Type (if any) and emits ev asynchronously.
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil {
		return
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	if c, ok := r.counters[ev.Type]; ok {
		var attrs []attribute.KeyValue
		if ev.Flow != "" {
			attrs = append(attrs, attribute.String("flow", ev.Flow))
		}
		if ev.Kind != "" {
			attrs = append(attrs, attribute.String("kind", ev.Kind))
		}
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	EmitAsync(ctx, r.emitter, &ev, r.log)
}
