package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"moto-chat/internal/assistant"
	"moto-chat/internal/chat"
	"moto-chat/internal/config"
	"moto-chat/internal/db"
	"moto-chat/internal/logger"
	myMiddleware "moto-chat/internal/middleware"
	"moto-chat/internal/relay"
	"moto-chat/internal/user"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Config & Logging
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database
	database, err := db.NewDatabase(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer database.Close()
	log.Info("connected to postgres")

	if err := database.AutoMigrate(ctx); err != nil {
		return err
	}

	// 3. Connect to Redis when configured. Without it fan-out stays local.
	var bus relay.Bus
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "ping redis")
		}
		bus = relay.NewRedisBus(redisClient, cfg.RedisChannel, log)
		log.Info("connected to redis", zap.String("channel", cfg.RedisChannel))
	}

	// 4. Riders
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService, log)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 5. Chat storage & assistant
	chatRepo := chat.NewRepository(database.Conn)
	chatHandler := chat.NewHandler(chatRepo, log)

	gen := assistant.Chain{assistant.NewScripted()}
	if cfg.AssistantAPIKey != "" {
		gen = assistant.Chain{
			assistant.NewLLM(cfg.AssistantAPIURL, cfg.AssistantAPIKey, cfg.AssistantModel, cfg.AssistantTimeout),
			assistant.NewScripted(),
		}
	}
	assistantHandler := assistant.NewHandler(gen, cfg.AssistantTimeout, log)

	// 6. Relay
	var verifier relay.IdentityVerifier = relay.TokenVerifier{Validator: userService}
	if cfg.TrustClientIdentity {
		log.Warn("relay trusts client-supplied identity")
		verifier = relay.TrustingVerifier{}
	}
	chatRelay := relay.New(relay.NewRegistry(), chatRepo, relay.Options{
		Verifier:        verifier,
		Bus:             bus,
		Assistant:       gen,
		GenerateTimeout: cfg.AssistantTimeout,
		Logger:          log,
	})
	relayHandler := relay.NewHandler(ctx, chatRelay, nil, log)

	relayDone := make(chan error, 1)
	go func() { relayDone <- chatRelay.Run(ctx) }()

	// 7. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", relayHandler.Health)
	r.Post("/api/ai/chat", assistantHandler.Chat)

	// The socket authenticates with an auth frame, not a header.
	r.Get("/ws", relayHandler.ServeWs)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/rooms/{roomID}/messages", chatHandler.GetRoomHistory)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", cfg.Addr))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		stop()
		<-relayDone
		return errors.Wrap(err, "listen")
	case err := <-relayDone:
		if ctx.Err() == nil {
			// Run only returns on shutdown; anything else leaves fan-out dead.
			srv.Close()
			if err == nil {
				err = errors.New("relay stopped unexpectedly")
			}
			return errors.Wrap(err, "relay")
		}
		relayDone <- err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if err := <-relayDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Error("relay stopped", zap.Error(err))
	}
	return nil
}
