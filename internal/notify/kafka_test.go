package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaNotifier_DisabledWithoutBrokers(t *testing.T) {
	if NewKafkaNotifier(nil, "topic") != nil {
		t.Error("no brokers should disable the notifier")
	}
	if NewKafkaNotifier([]string{"localhost:9092"}, "") != nil {
		t.Error("no topic should disable the notifier")
	}
	var p *KafkaNotifier
	if err := p.Notify(context.Background(), Message{}); err != nil {
		t.Errorf("nil Notify: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestKafkaNotifier_WritesJSONKeyedByAccount(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaNotifier{writer: w}
	msg := Message{Key: "transfer:t1", AccountID: "a1", Destination: "+15550100", Purpose: PurposeTransferOTP, Code: "000123"}

	if err := p.Notify(context.Background(), msg); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(w.msgs) != 1 || string(w.msgs[0].Key) != "a1" {
		t.Fatalf("written = %+v", w.msgs)
	}
	var got Message
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Key != msg.Key || got.Code != msg.Code || got.Purpose != PurposeTransferOTP {
		t.Errorf("payload = %+v", got)
	}

	w.err = errors.New("broker down")
	if err := p.Notify(context.Background(), msg); err == nil {
		t.Error("write error should be returned")
	}
	_ = p.Close()
	if !w.closed {
		t.Error("Close should close the writer")
	}
}
