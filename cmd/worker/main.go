// cmd/worker/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/gatherly/invites-backend/internal/broadcast"
	"github.com/gatherly/invites-backend/internal/config"
	"github.com/gatherly/invites-backend/internal/db"
	"github.com/gatherly/invites-backend/internal/ratelimit"
	"github.com/gatherly/invites-backend/internal/repository"
	"github.com/gatherly/invites-backend/internal/service"
	"github.com/gatherly/invites-backend/internal/stream"
	"github.com/gatherly/invites-backend/internal/transport"
)

// shutdownGrace bounds how long in-flight sends may finish after a stop
// signal; anything still claimed afterwards is recovered by auto-claim on
// another instance.
const shutdownGrace = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()
	sugar := logger.Sugar()

	conn, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		sugar.Fatalw("database connection failed", "err", err)
	}
	defer conn.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()

	guestRepo := &repository.GuestRepository{DB: conn}

	var caster broadcast.Broadcaster = broadcast.Nop{}
	if cfg.AmqpURL != "" {
		amqpConn, err := amqp.Dial(cfg.AmqpURL)
		if err != nil {
			sugar.Fatalw("rabbitmq connection failed", "err", err)
		}
		defer amqpConn.Close()

		b, err := broadcast.NewAMQPBroadcaster(amqpConn, cfg.BroadcastExchange, sugar)
		if err != nil {
			sugar.Fatalw("broadcaster setup failed", "err", err)
		}
		defer b.Close()
		caster = b
	}

	sender := transport.NewClient(cfg.TransportBaseURL, cfg.TransportPhoneID, cfg.TransportToken)

	// one bucket shared by every consumer goroutine: the rate cap is the
	// process's aggregate outbound budget, not per-worker
	limiter := ratelimit.NewTokenBucket(cfg.TargetRPS, cfg.Concurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// the group must exist before any consumer reads
	bootstrap := stream.NewOutbox(rdb, stream.Options{
		Stream:    cfg.OutboxStream,
		DLQStream: cfg.DLQStream,
		Group:     cfg.ConsumerGroup,
		Consumer:  cfg.ConsumerName,
	})
	if err := bootstrap.EnsureGroup(ctx); err != nil {
		sugar.Fatalw("consumer group setup failed", "err", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		outbox := stream.NewOutbox(rdb, stream.Options{
			Stream:         cfg.OutboxStream,
			DLQStream:      cfg.DLQStream,
			Group:          cfg.ConsumerGroup,
			Consumer:       fmt.Sprintf("%s-%d", cfg.ConsumerName, i),
			IdleClaimAfter: cfg.IdleClaimAfter,
			AutoClaimBatch: int64(cfg.AutoClaimBatch),
		})

		worker := service.NewWorker(service.WorkerConfig{
			Outbox:        outbox,
			Guests:        guestRepo,
			Transport:     sender,
			Broadcast:     caster,
			Limiter:       limiter,
			Log:           sugar.With("consumer", fmt.Sprintf("%s-%d", cfg.ConsumerName, i)),
			MaxRetries:    cfg.MaxRetries,
			BackoffBase:   cfg.BackoffBase,
			BackoffMax:    cfg.BackoffMax,
			PollIdleSleep: cfg.PollIdleSleep,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	sugar.Infow("worker running", "concurrency", cfg.Concurrency, "rps", cfg.TargetRPS)
	<-ctx.Done()
	sugar.Info("shutdown signal received, draining in-flight sends")

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		sugar.Info("all workers drained")
	case <-time.After(shutdownGrace):
		sugar.Warn("grace period elapsed, abandoning remaining claims to auto-claim")
	}
}

func newLogger(level string) *zap.Logger {
	if level == "debug" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
