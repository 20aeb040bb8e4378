package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/anwado/backend/internal/agent"
	"github.com/anwado/backend/internal/anwalt"
	"github.com/anwado/backend/internal/api"
	"github.com/anwado/backend/internal/auth"
	"github.com/anwado/backend/internal/blob"
	"github.com/anwado/backend/internal/chat"
	"github.com/anwado/backend/internal/config"
	"github.com/anwado/backend/internal/database"
	"github.com/anwado/backend/internal/events"
	"github.com/anwado/backend/internal/mail"
	"github.com/anwado/backend/internal/middleware"
	"github.com/anwado/backend/internal/monitoring"
	"github.com/anwado/backend/internal/ocr"
	"github.com/anwado/backend/internal/summary"
	"github.com/anwado/backend/internal/webhooks"
)

func main() {
	// .env is a development convenience; in production the variables are
	// injected by the platform.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	store, err := database.New(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer store.Close()

	bootCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := store.Ping(bootCtx); err != nil {
		cancel()
		log.Fatalf("Postgres is unreachable: %v", err)
	}
	cancel()
	log.Println("📦 Postgres connected")

	metrics := monitoring.NewMetrics()
	authSvc := auth.NewService(cfg.Auth.Secret)
	blobs := blob.New(cfg.Storage)
	agents := &chat.PlatformAgents{Client: agent.NewClient(cfg.Agent)}
	ocrClient := ocr.NewClient(cfg.OCR)
	mailer := mail.New(cfg.SMTP)
	directory := anwalt.NewClient(cfg.Directory)

	urlExpiry := time.Duration(cfg.Tuning.Summary.URLExpirySeconds) * time.Second
	summaries := summary.NewService(store, blobs, agents.Client, urlExpiry)

	// The conversation lock keeps a second device from writing into a live
	// dialogue. Redis makes it cluster-wide; without Redis a per-process map
	// covers the single-instance deployment.
	var lock chat.WriterLock
	lockTTL := time.Duration(cfg.Tuning.Chat.LockTTLSeconds) * time.Second
	if cfg.Redis.Addr != "" {
		redisLock, err := chat.NewRedisLock(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, lockTTL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		lock = redisLock
		log.Println("🔒 Conversation locks backed by Redis")
	} else {
		lock = chat.NewMemoryLock(lockTTL)
		log.Println("🔒 Conversation locks in memory (REDIS_ADDR not set)")
	}

	orchestrator := chat.NewOrchestrator(store, agents, summaries, blobs, ocrClient, cfg.Tuning.Agents.Initial)
	chatHandler := chat.NewHandler(authSvc, store, orchestrator, lock, metrics, cfg.Tuning.Chat)
	eventStream := events.NewStream(authSvc, store, metrics, cfg.Tuning.Events)
	webhook := webhooks.NewLawyerHandler(store, mailer, metrics, cfg.Webhook.LawyerSecret, cfg.SMTP.LinkBaseURL)
	limiter := middleware.NewRateLimiter(cfg.Tuning.RateLimit)

	server := api.NewServer(api.Deps{
		Config:    cfg,
		Store:     store,
		Blobs:     blobs,
		OCR:       ocrClient,
		Directory: directory,
		Auth:      authSvc,
		Metrics:   metrics,
		Summaries: summaries,
		Limiter:   limiter,
		Chat:      chatHandler,
		Events:    eventStream,
		Webhook:   webhook,
	})
	httpServer := server.HTTPServer(cfg.Server.Port)

	// Graceful shutdown: finish in-flight requests, close sockets.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal, shutting down gracefully...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Intake backend starting on port %s (env=%s)", cfg.Server.Port, cfg.Server.Env)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
	log.Println("Server stopped")
}
