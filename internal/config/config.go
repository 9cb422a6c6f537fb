// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the gRPC health server listens on (e.g. :9090).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty means the in-memory store is used (development only).
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr enables Redis-backed distributed locks and rate-limit storage when set (e.g. localhost:6379).
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// JWTPrivateKey is the PEM-encoded private key or path to file; only needed by cmd/seed to mint dev tokens.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file used to validate access tokens.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the expected iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the expected aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime used when minting tokens (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`

	// SMSLocalAPIKey is the API key for SMS Local; the worker delivers codes through it.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender string `mapstructure:"SMS_LOCAL_SENDER"`
	// SMSLocalBaseURL is the SMS Local API base URL.
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`

	// KafkaBrokers is a comma-separated list of Kafka broker addresses. When set, codes are published to NotifyKafkaTopic.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// NotifyKafkaTopic is the Kafka topic for code notifications.
	NotifyKafkaTopic string `mapstructure:"NOTIFY_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the notification worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the worker pushes delivery outcomes (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OpenTelemetry collector endpoint; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces a plaintext connection to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is json or console.
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// OTPReturnToClient enables the dev code store and GET /dev/codes/:key. Must not be true when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`

	// OTPTTL is how long a one-time code stays valid (e.g. "5m").
	OTPTTL string `mapstructure:"OTP_TTL"`
	// OTPResendCooldown is the minimum gap between two issued one-time codes (e.g. "1m").
	OTPResendCooldown string `mapstructure:"OTP_RESEND_COOLDOWN"`
	// ChallengeMaxDevices caps the verified-device entries retained per account.
	ChallengeMaxDevices int `mapstructure:"CHALLENGE_MAX_DEVICES"`
	// ChallengeDeviceTTL is how long an idle device entry is retained (e.g. "720h").
	ChallengeDeviceTTL string `mapstructure:"CHALLENGE_DEVICE_TTL"`
	// AutoSettleLimit is the largest internal transfer the default settlement policy settles without approval; "0" disables.
	AutoSettleLimit string `mapstructure:"AUTO_SETTLE_LIMIT"`

	// RateLimitMax is the number of verification attempts allowed per principal per RateLimitWindow.
	RateLimitMax int `mapstructure:"RATE_LIMIT_MAX"`
	// RateLimitWindow is the limiter window (e.g. "1m").
	RateLimitWindow string `mapstructure:"RATE_LIMIT_WINDOW"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "ledger-auth")
	v.SetDefault("JWT_AUDIENCE", "ledger-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("NOTIFY_KAFKA_TOPIC", "ledger-notifications")
	v.SetDefault("KAFKA_GROUP_ID", "ledger-notify-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "custodial-ledger")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("OTP_TTL", "5m")
	v.SetDefault("OTP_RESEND_COOLDOWN", "1m")
	v.SetDefault("CHALLENGE_MAX_DEVICES", 16)
	v.SetDefault("CHALLENGE_DEVICE_TTL", "720h")
	v.SetDefault("AUTO_SETTLE_LIMIT", "0")
	v.SetDefault("RATE_LIMIT_MAX", 10)
	v.SetDefault("RATE_LIMIT_WINDOW", "1m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}
	if cfg.OTPReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if cfg.DatabaseURL == "" && cfg.Env == "production" {
		return nil, errors.New("config: DATABASE_URL must be set when APP_ENV=production")
	}
	if cfg.ChallengeMaxDevices <= 0 {
		return nil, errors.New("config: CHALLENGE_MAX_DEVICES must be positive")
	}
	if _, err := decimal.NewFromString(cfg.AutoSettleLimit); err != nil {
		return nil, errors.New("config: AUTO_SETTLE_LIMIT must be a decimal amount")
	}
	if cfg.RateLimitMax <= 0 {
		return nil, errors.New("config: RATE_LIMIT_MAX must be positive")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDurationOr(c.JWTAccessTTL, 15*time.Minute)
}

// CodeTTL parses OTPTTL. Returns 5m if unset or invalid.
func (c *Config) CodeTTL() time.Duration {
	return parseDurationOr(c.OTPTTL, 5*time.Minute)
}

// ResendCooldown parses OTPResendCooldown. Returns 1m if unset or invalid.
func (c *Config) ResendCooldown() time.Duration {
	return parseDurationOr(c.OTPResendCooldown, time.Minute)
}

// DeviceTTL parses ChallengeDeviceTTL. Returns 30 days if unset or invalid.
func (c *Config) DeviceTTL() time.Duration {
	return parseDurationOr(c.ChallengeDeviceTTL, 30*24*time.Hour)
}

// LimiterWindow parses RateLimitWindow. Returns 1m if unset or invalid.
func (c *Config) LimiterWindow() time.Duration {
	return parseDurationOr(c.RateLimitWindow, time.Minute)
}

// AutoSettleAmount returns AutoSettleLimit as a decimal; zero when unparsable.
func (c *Config) AutoSettleAmount() decimal.Decimal {
	d, err := decimal.NewFromString(c.AutoSettleLimit)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means Kafka notifications are disabled.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
