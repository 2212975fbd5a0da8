// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/streadway/amqp"
	"go.uber.org/zap"

	"github.com/gatherly/invites-backend/internal/broadcast"
	"github.com/gatherly/invites-backend/internal/config"
	"github.com/gatherly/invites-backend/internal/controller"
	"github.com/gatherly/invites-backend/internal/db"
	"github.com/gatherly/invites-backend/internal/handler"
	"github.com/gatherly/invites-backend/internal/repository"
	"github.com/gatherly/invites-backend/internal/service"
	"github.com/gatherly/invites-backend/internal/stream"
	"github.com/gatherly/invites-backend/internal/transport"
)

func main() {
	// Load .env
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
	eventRepo := &repository.EventRepository{DB: conn}

	outbox := stream.NewOutbox(rdb, stream.Options{
		Stream:    cfg.OutboxStream,
		DLQStream: cfg.DLQStream,
		Group:     cfg.ConsumerGroup,
		Consumer:  cfg.ConsumerName,
	})

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
	} else {
		sugar.Warn("AMQP_URL not set, status broadcasting disabled")
	}

	sender := transport.NewClient(cfg.TransportBaseURL, cfg.TransportPhoneID, cfg.TransportToken)

	producer := service.NewProducer(outbox, sugar)

	callbacks := &service.CallbackService{
		Guests:        guestRepo,
		Events:        eventRepo,
		Transport:     sender,
		Broadcast:     caster,
		PublicBaseURL: cfg.PublicBaseURL,
		Log:           sugar,
	}

	inviteController := &controller.InviteController{
		Guests:   guestRepo,
		Events:   eventRepo,
		Producer: producer,
		Log:      sugar,
	}

	webhookHandler := &handler.WebhookHandler{
		Callbacks:   callbacks,
		VerifyToken: cfg.WebhookVerifyToken,
		Log:         sugar,
	}

	r := chi.NewRouter()

	// Invite routes
	r.Post("/events/{id}/invites/send", inviteController.SendInvites)
	r.Post("/events/{id}/invites/retry-failed", inviteController.RetryFailed)
	r.Get("/events/{id}/counters", inviteController.Counters)

	// Provider webhook routes
	r.Get("/webhook", webhookHandler.Verify)
	r.Post("/webhook", webhookHandler.Receive)

	sugar.Infow("server running", "addr", cfg.HTTPAddr)
	sugar.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}

func newLogger(level string) *zap.Logger {
	if level == "debug" {
		l, _ := zap.NewDevelopment()
		return l
	}
	l, _ := zap.NewProduction()
	return l
}
