package domain

import "time"

// EventType is what happened to an account's challenge state.
type EventType string

const (
	// EventIssued records a freshly generated code for Kind; it replaces any earlier code of that kind.
	EventIssued EventType = "issued"
	// EventVerified records that DeviceID presented the current code for Kind.
	EventVerified EventType = "verified"
	// EventCleared drops every current code and forgets DeviceID once it completed all enabled kinds.
	EventCleared EventType = "cleared"
	// EventReset drops every current code and every device (administrative).
	EventReset EventType = "reset"
	// EventEvicted forgets DeviceID's verified kinds after it fell out of the retained device set.
	// Current codes are kept.
	EventEvicted EventType = "evicted"
)

// Event is one append-only entry in an account's challenge log. Kind and CodeHash are only meaningful
// for issued and verified events; DeviceID only for verified, cleared and evicted.
type Event struct {
	Seq       int64
	ID        string
	AccountID string
	DeviceID  string
	Kind      Kind
	Type      EventType
	CodeHash  string
	CreatedAt time.Time
}
