package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/telemetry/loki"
)

// messageReader is the part of *kafka.Reader the worker uses.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// OutcomeSink records delivery outcomes, e.g. *loki.Client.
type OutcomeSink interface {
	PushOutcome(ctx context.Context, o loki.Outcome) error
}

// Worker consumes the notification topic and delivers each message. Messages are committed
// after the delivery attempt whether or not it succeeded; the user can request a resend.
// Codes already past their expiry are recorded as expired and not delivered.
type Worker struct {
	reader   messageReader
	deliver  Notifier
	outcomes OutcomeSink
	channel  string
	timeout  time.Duration
	now      func() time.Time
	log      *zap.Logger
}

// NewWorker returns a Worker. outcomes may be nil.
func NewWorker(reader messageReader, deliver Notifier, channel string, outcomes OutcomeSink, log *zap.Logger) *Worker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{
		reader:   reader,
		deliver:  deliver,
		outcomes: outcomes,
		channel:  channel,
		timeout:  DefaultDispatchTimeout,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log,
	}
}

// Run processes messages until ctx is done. Returns nil on cancellation.
func (w *Worker) Run(ctx context.Context) error {
	for {
		m, err := w.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		w.handle(ctx, m)
		if err := w.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("notify: commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

func (w *Worker) handle(ctx context.Context, m kafka.Message) {
	var msg Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		w.log.Warn("notify: skipping malformed message", zap.Int64("offset", m.Offset), zap.Error(err))
		return
	}
	outcome := loki.Outcome{
		AccountID: msg.AccountID,
		Purpose:   string(msg.Purpose),
		Channel:   w.channel,
		At:        w.now(),
	}
	if !msg.ExpiresAt.IsZero() && !msg.ExpiresAt.After(outcome.At) {
		outcome.Expired = true
		w.log.Info("notify: skipping expired code", zap.String("key", msg.Key), zap.Time("expires_at", msg.ExpiresAt))
	} else {
		sendCtx, cancel := context.WithTimeout(ctx, w.timeout)
		err := w.deliver.Notify(sendCtx, msg)
		cancel()
		outcome.Delivered = err == nil
		if err != nil {
			outcome.Error = err.Error()
			w.log.Warn("notify: delivery failed", zap.String("key", msg.Key), zap.Error(err))
		}
	}
	if w.outcomes == nil {
		return
	}
	if perr := w.outcomes.PushOutcome(ctx, outcome); perr != nil {
		w.log.Warn("notify: push outcome failed", zap.Error(perr))
	}
}
