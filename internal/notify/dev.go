package notify

import (
	"context"

	"custodial-ledger/backend/internal/devotp"
)

// DevNotifier stores plaintext codes in a devotp.Store for GET /dev/codes/:key.
type DevNotifier struct {
	store devotp.Store
}

// NewDevNotifier returns a notifier backed by store.
func NewDevNotifier(store devotp.Store) *DevNotifier {
	return &DevNotifier{store: store}
}

// Notify stores msg.Code under msg.Key until it expires.
func (n *DevNotifier) Notify(ctx context.Context, msg Message) error {
	n.store.Put(ctx, msg.Key, msg.Code, msg.ExpiresAt)
	return nil
}
