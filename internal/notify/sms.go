package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Sender sends a code to a phone number, e.g. *sms.SMSLocalClient.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// SMSNotifier delivers through a Sender behind a circuit breaker.
type SMSNotifier struct {
	sender  Sender
	breaker *gobreaker.CircuitBreaker
}

// NewSMSNotifier returns an SMSNotifier. The breaker opens after 5 consecutive failures and
// probes again after 30s.
func NewSMSNotifier(sender Sender, log *zap.Logger) *SMSNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "sms",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("notify: circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &SMSNotifier{sender: sender, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Notify sends msg.Code to msg.Destination.
func (n *SMSNotifier) Notify(ctx context.Context, msg Message) error {
	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.sender.Send(ctx, msg.Destination, msg.Code)
	})
	if err != nil {
		return fmt.Errorf("sms: %w", err)
	}
	return nil
}

// State reports the breaker state (closed, half-open, open).
func (n *SMSNotifier) State() string {
	return n.breaker.State().String()
}
