package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"custodial-ledger/backend/internal/telemetry"
)

// recordEmitter is the part of otellog.Logger the adapter uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger("custodial-ledger.events"))
}

// NewEventEmitterWithLogger returns an EventEmitter writing to logger directly.
func NewEventEmitterWithLogger(logger recordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.Event) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record with the event type as body. Empty fields are omitted.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetBody(otellog.StringValue(event.Type))
	for _, kv := range []struct{ key, val string }{
		{"event_type", event.Type},
		{"account_id", event.AccountID},
		{"transfer_id", event.TransferID},
		{"amount", event.Amount},
		{"status", event.Status},
		{"flow", event.Flow},
		{"kind", event.Kind},
	} {
		if kv.val != "" {
			rec.AddAttributes(otellog.String(kv.key, kv.val))
		}
	}
	e.logger.Emit(ctx, rec)
	return nil
}
