// Zeus - Artist Assistant Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/api"
	"github.com/flow23flow23/artistrm-360-sub002/internal/assistant"
	"github.com/flow23flow23/artistrm-360-sub002/internal/bootstrap"
	"github.com/flow23flow23/artistrm-360-sub002/internal/config"
	"github.com/flow23flow23/artistrm-360-sub002/internal/dialog"
	"github.com/flow23flow23/artistrm-360-sub002/internal/identity"
	"github.com/flow23flow23/artistrm-360-sub002/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(),
		"store", cfg.StoreBackend, "inference", cfg.Inference.Backend)

	// Initialize dependencies.
	repo, err := bootstrap.OpenRepository(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Store connected")

	llm, closeLLM, err := bootstrap.NewInferenceClient(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize inference client", "error", err)
		os.Exit(1)
	}
	defer closeLLM()

	messages, err := assistant.DefaultMessages(cfg.DefaultLanguage)
	if err != nil {
		slog.Error("Failed to load message catalog", "error", err)
		os.Exit(1)
	}

	conversationLogger, err := assistant.NewConversationLogger(assistant.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	registry := dialog.NewRegistry()
	limiter := dialog.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, registry, cfg.DefaultLanguage)
	assistantHandler := api.NewAssistantHandler(baseHandler)
	healthHandler := api.NewHealthHandler(repo)
	wsHandler := dialog.NewHandler(dialog.Config{
		Repo:            repo,
		Inference:       llm,
		Messages:        messages,
		Log:             conversationLogger,
		Registry:        registry,
		RateLimiter:     limiter,
		AllowedOrigin:   cfg.FrontendURL,
		IsDev:           cfg.IsDevelopment(),
		DefaultLanguage: cfg.DefaultLanguage,
		Logger:          logger,
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// All routes use identity middleware (no auth needed).
	assistantHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/assistant", wsHandler.ServeHTTP)

	// WebSocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	// Hijacked WebSocket connections are not tracked by srv.Shutdown.
	registry.CloseAll("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
