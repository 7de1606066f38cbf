package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"realtime_core/internal/auth"
	"realtime_core/internal/broker"
	"realtime_core/internal/chat"
	"realtime_core/internal/config"
	"realtime_core/internal/events"
	"realtime_core/internal/httpapi"
	"realtime_core/internal/notify"
	"realtime_core/internal/outbox"
	"realtime_core/internal/pkg/logger"
	"realtime_core/internal/presence"
	"realtime_core/internal/push"
	"realtime_core/internal/readstate"
	"realtime_core/internal/repository"
	"realtime_core/internal/ws"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// roomStore is what the chat side needs from persistence.
type roomStore interface {
	chat.Store
	readstate.Store
	auth.UserStore
	ws.Membership
}

type notificationStore interface {
	notify.Store
	notify.Inbox
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg.LogLevel, cfg.Development())
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nodeID := uuid.New().String()
	log = log.With(zap.String("node_id", nodeID))

	// 1. Storage
	var (
		rooms         roomStore
		notifications notificationStore
		presenceRepo  presence.Repository
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DBConnStr)
		if err != nil {
			log.Fatal("failed to open database", zap.Error(err))
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatal("failed to reach database", zap.Error(err))
		}
		rooms = repository.NewChatRepository(db)
		notifications = repository.NewNotificationRepository(db)
		presenceRepo = presence.NewPostgresRepository(db)
	default:
		mem := repository.NewMemoryStore()
		rooms, notifications = mem, mem
		presenceRepo = presence.NewMemoryRepository()
	}
	registry := presence.NewRegistry(presenceRepo, nodeID, cfg.LivenessTTL)

	// 2. Group fanout
	var transport ws.GroupTransport
	if cfg.AMQPURL != "" {
		mq, err := broker.NewRabbitMQClient(cfg.AMQPURL, nodeID, log)
		if err != nil {
			log.Fatal("failed to connect to RabbitMQ", zap.Error(err))
		}
		defer mq.Close()
		transport = mq
	}
	hub := ws.NewHub(log, transport)
	go hub.Run(ctx)

	// 3. Domain events
	bus := events.NewBus(log)
	var publisher events.Publisher = bus
	if cfg.StreamURI != "" {
		env, err := broker.NewStreamEnvironment(cfg.StreamURI, cfg.StreamName)
		if err != nil {
			log.Fatal("failed to connect to event stream", zap.Error(err))
		}
		defer env.Close()

		sp, err := outbox.NewStreamPublisher(env, cfg.StreamName)
		if err != nil {
			log.Fatal("failed to create stream producer", zap.Error(err))
		}
		defer sp.Close()
		publisher = sp

		consumer := outbox.NewStreamConsumer(env, bus, cfg.StreamName, log)
		go func() {
			if err := consumer.Start(ctx); err != nil {
				log.Error("stream consumer stopped", zap.Error(err))
			}
		}()
	}

	// 4. Services
	reads := readstate.NewReconciler(rooms, registry, hub, log)
	pusher := push.NewPusher(registry, hub, log)
	notify.NewDispatcher(notifications, rooms, registry, pusher, log).Register(bus)
	chatSvc := chat.NewService(rooms, reads, hub, publisher, registry, log)
	resolver := auth.NewResolver(auth.NewVerifier(cfg.JWTSecret), rooms)

	opts := ws.Options{
		PongWait:        cfg.PongWait,
		WriteWait:       cfg.WriteWait,
		PingPeriod:      cfg.PingPeriod(),
		MaxMessageBytes: cfg.MaxMessageBytes,
		FrameRate:       cfg.FrameRate,
		FrameBurst:      cfg.FrameBurst,
		AllowedOrigins:  cfg.Origins(),
	}

	// 5. HTTP
	router := httpapi.NewRouter(&httpapi.Deps{
		Log:            log,
		Auth:           resolver,
		Rooms:          chatSvc,
		Notifications:  notify.NewService(notifications),
		Events:         publisher,
		ChatWS:         ws.NewChatProtocol(hub, resolver, auth.TokenFromRequest, rooms, registry, reads, chatSvc, log, opts),
		NotificationWS: ws.NewNotificationProtocol(hub, resolver, auth.TokenFromRequest, registry, log, opts),
		AllowedOrigins: cfg.Origins(),
		InternalToken:  cfg.InternalEventsToken,
	})

	// No write timeout: websocket sessions are long-lived.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down server")
	case err := <-serverErr:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", zap.Error(err))
	}
	// Hijacked websocket connections are not tracked by the http server.
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Error("sessions did not drain", zap.Error(err))
	}
	stop()
	log.Info("server stopped")
}
