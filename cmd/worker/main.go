// Worker consumes code notifications from Kafka, delivers them by SMS and pushes each delivery
// outcome to Loki. Set KAFKA_BROKERS, NOTIFY_KAFKA_TOPIC, KAFKA_GROUP_ID, SMS_LOCAL_API_KEY and
// optionally LOKI_URL.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"custodial-ledger/backend/internal/config"
	"custodial-ledger/backend/internal/logging"
	"custodial-ledger/backend/internal/mfa/sms"
	"custodial-ledger/backend/internal/notify"
	"custodial-ledger/backend/internal/telemetry/loki"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		logger.Fatal("worker: KAFKA_BROKERS is required")
	}
	if cfg.SMSLocalAPIKey == "" {
		logger.Fatal("worker: SMS_LOCAL_API_KEY is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          cfg.NotifyKafkaTopic,
		GroupID:        cfg.KafkaGroupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        1 * time.Second,
	})
	defer reader.Close()

	var outcomes notify.OutcomeSink
	if cfg.LokiURL != "" {
		outcomes = loki.NewClient(cfg.LokiURL)
	} else {
		logger.Warn("worker: LOKI_URL is empty; delivery outcomes are only logged")
	}

	deliver := notify.NewSMSNotifier(sms.NewSMSLocalClient(cfg.SMSLocalAPIKey, cfg.SMSLocalBaseURL, cfg.SMSLocalSender), logger)
	worker := notify.NewWorker(reader, deliver, "sms", outcomes, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("worker: consuming",
		zap.String("topic", cfg.NotifyKafkaTopic),
		zap.String("group", cfg.KafkaGroupID),
		zap.Bool("loki", outcomes != nil))
	if err := worker.Run(ctx); err != nil {
		logger.Error("worker: stopped with error", zap.Error(err))
		return
	}
	logger.Info("worker: stopped")
}
