// Package notify delivers verification codes out of band. Dispatch runs after the engine has
// committed and released its locks; a failed delivery never changes ledger state.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Purpose says what a delivered code unlocks.
type Purpose string

const (
	PurposeTransferOTP Purpose = "transfer_otp"
	PurposeChallenge   Purpose = "challenge"
	PurposeEmailCode   Purpose = "email_code"
)

// Message is one code delivery. Key identifies the code for dev retrieval.
type Message struct {
	Key         string    `json:"key"`
	AccountID   string    `json:"account_id"`
	Destination string    `json:"destination"`
	Purpose     Purpose   `json:"purpose"`
	Kind        string    `json:"kind,omitempty"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// TransferKey is the key of a transfer's OTP.
func TransferKey(transferID string) string { return "transfer:" + transferID }

// ChallengeKey is the key of an account's tiered challenge code of the given kind.
func ChallengeKey(accountID, kind string) string { return "challenge:" + accountID + ":" + kind }

// EmailKey is the key of an account's single email code.
func EmailKey(accountID string) string { return "email:" + accountID }

// Notifier delivers a message. Implementations must not log Message.Code.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, msg Message) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, msg Message) error { return f(ctx, msg) }

// Multi fans a message out to every notifier and joins their errors.
type Multi []Notifier

// Notify delivers msg through every non-nil notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DefaultDispatchTimeout bounds a single asynchronous delivery.
const DefaultDispatchTimeout = 10 * time.Second

// Dispatcher runs deliveries in the background, each bounded by a timeout. A nil *Dispatcher
// drops messages.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      *zap.Logger
	wg       sync.WaitGroup
}

// NewDispatcher returns a Dispatcher for n. timeout <= 0 uses DefaultDispatchTimeout.
func NewDispatcher(n Notifier, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{notifier: n, timeout: timeout, log: log}
}

// Dispatch delivers msgs in a goroutine detached from ctx cancellation.
func (d *Dispatcher) Dispatch(ctx context.Context, msgs ...Message) {
	if d == nil || d.notifier == nil || len(msgs) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for _, msg := range msgs {
			sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
			err := d.notifier.Notify(sendCtx, msg)
			cancel()
			if err != nil {
				d.log.Warn("notify: delivery failed",
					zap.String("key", msg.Key),
					zap.String("purpose", string(msg.Purpose)),
					zap.Error(err))
				continue
			}
			d.log.Debug("notify: delivered", zap.String("key", msg.Key), zap.String("purpose", string(msg.Purpose)))
		}
	}()
}

// Wait blocks until every dispatched delivery has finished. Used on shutdown and in tests.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
