// Package telemetry records transfer lifecycle events as OTel log records and counters.
package telemetry

import (
	"context"
	"time"
)

// Event types emitted by the engine.
const (
	EventTransferCreated   = "transfer_created"
	EventTransferVerified  = "transfer_verified"
	EventTransferSettled   = "transfer_settled"
	EventTransferFailed    = "transfer_failed"
	EventTransferDeclined  = "transfer_declined"
	EventChallengeIssued   = "challenge_issued"
	EventChallengeVerified = "challenge_verified"
)

// Event is one lifecycle event. Amount is the fixed two-decimal rendering; codes are never carried.
type Event struct {
	Type       string
	AccountID  string
	TransferID string
	Amount     string
	Status     string
	Flow       string
	Kind       string
	CreatedAt  time.Time
}

// EventEmitter emits telemetry events (e.g. to OTel Logs). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
