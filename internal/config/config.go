// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Config is the full environment surface for both the server and the worker.
// cmd/* loads a .env via godotenv before calling Load, so every field comes
// from plain environment variables.
type Config struct {
	// Postgres
	DatabaseURL string

	// Redis (outbox + dead-letter streams)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RabbitMQ (status broadcaster); empty URL disables broadcasting
	AmqpURL           string
	BroadcastExchange string

	// Outbound transport (WhatsApp-style cloud API)
	TransportBaseURL string
	TransportToken   string
	TransportPhoneID string

	// Public base URL for links embedded in follow-up messages (QR images)
	PublicBaseURL string

	// Inbound webhook
	WebhookVerifyToken string

	// Stream topology
	OutboxStream  string
	DLQStream     string
	ConsumerGroup string
	ConsumerName  string

	// Worker tuning
	Concurrency    int
	TargetRPS      float64
	MaxRetries     int
	IdleClaimAfter time.Duration
	AutoClaimBatch int
	PollIdleSleep  time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration

	HTTPAddr string
	LogLevel string
}

// Load reads the configuration from the environment, applying defaults for
// everything that can safely default.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		RedisDB:            getInt("REDIS_DB", 0),
		AmqpURL:            os.Getenv("AMQP_URL"),
		BroadcastExchange:  getEnv("BROADCAST_EXCHANGE", "guest_status"),
		TransportBaseURL:   getEnv("TRANSPORT_BASE_URL", "https://graph.facebook.com/v19.0"),
		TransportToken:     os.Getenv("TRANSPORT_TOKEN"),
		TransportPhoneID:   os.Getenv("TRANSPORT_PHONE_ID"),
		PublicBaseURL:      getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		WebhookVerifyToken: os.Getenv("WEBHOOK_VERIFY_TOKEN"),
		OutboxStream:       getEnv("OUTBOX_STREAM", "invite_sends"),
		DLQStream:          getEnv("DLQ_STREAM", "invite_sends_dlq"),
		ConsumerGroup:      getEnv("CONSUMER_GROUP", "invite_workers"),
		ConsumerName:       getEnv("CONSUMER_NAME", defaultConsumerName()),
		Concurrency:        getInt("WORKER_CONCURRENCY", 4),
		TargetRPS:          getFloat("TARGET_RPS", 10),
		MaxRetries:         getInt("MAX_RETRIES", 3),
		IdleClaimAfter:     getDuration("IDLE_CLAIM_AFTER", time.Minute),
		AutoClaimBatch:     getInt("AUTO_CLAIM_BATCH", 20),
		PollIdleSleep:      getDuration("POLL_IDLE_SLEEP", 2*time.Second),
		BackoffBase:        getDuration("BACKOFF_BASE", 500*time.Millisecond),
		BackoffMax:         getDuration("BACKOFF_MAX", 10*time.Second),
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate fails fast on configuration the processes cannot run without.
// This is the only error path that aborts startup.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.TransportToken == "" {
		return fmt.Errorf("TRANSPORT_TOKEN is required")
	}
	if c.TransportPhoneID == "" {
		return fmt.Errorf("TRANSPORT_PHONE_ID is required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1")
	}
	if c.TargetRPS <= 0 {
		return fmt.Errorf("TARGET_RPS must be positive")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1")
	}
	return nil
}

// defaultConsumerName gives each instance a stable-enough identity for the
// consumer group without requiring explicit configuration.
func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
