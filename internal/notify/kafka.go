package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the notifier uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes messages to the notification topic; cmd/worker consumes and delivers them.
type KafkaNotifier struct {
	writer messageWriter
}

// NewKafkaNotifier creates a notifier writing to topic. Returns nil when brokers or topic are empty.
// Call Close when shutting down.
func NewKafkaNotifier(brokers []string, topic string) *KafkaNotifier {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return &KafkaNotifier{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

// Notify serializes msg as JSON keyed by account, so one account's codes stay ordered on a partition.
func (p *KafkaNotifier) Notify(ctx context.Context, msg Message) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.AccountID),
		Value: payload,
	})
}

// Close closes the Kafka writer. Safe to call on a nil notifier.
func (p *KafkaNotifier) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
