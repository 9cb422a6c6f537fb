package notify

import (
	"context"
	"errors"
	"testing"
)

type fakeSender struct {
	calls int
	err   error
	phone string
	code  string
}

func (s *fakeSender) Send(ctx context.Context, phone, code string) error {
	s.calls++
	s.phone, s.code = phone, code
	return s.err
}

func TestSMSNotifier_Sends(t *testing.T) {
	s := &fakeSender{}
	n := NewSMSNotifier(s, nil)
	if err := n.Notify(context.Background(), Message{Destination: "+15550100", Code: "111222"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if s.phone != "+15550100" || s.code != "111222" {
		t.Errorf("sent %q to %q", s.code, s.phone)
	}
}

func TestSMSNotifier_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	s := &fakeSender{err: errors.New("provider down")}
	n := NewSMSNotifier(s, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := n.Notify(ctx, Message{}); err == nil {
			t.Fatalf("attempt %d should fail", i)
		}
	}
	if n.State() != "open" {
		t.Fatalf("State = %s, want open", n.State())
	}
	if err := n.Notify(ctx, Message{}); err == nil {
		t.Error("open breaker should reject")
	}
	if s.calls != 5 {
		t.Errorf("sender calls = %d, want 5", s.calls)
	}
}
