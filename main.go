package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/convoflow/convoflow-engine/pkg/auth"
	"github.com/convoflow/convoflow-engine/pkg/config"
	"github.com/convoflow/convoflow-engine/pkg/database"
	"github.com/convoflow/convoflow-engine/pkg/handlers"
	"github.com/convoflow/convoflow-engine/pkg/history"
	"github.com/convoflow/convoflow-engine/pkg/llm"
	"github.com/convoflow/convoflow-engine/pkg/logging"
	"github.com/convoflow/convoflow-engine/pkg/middleware"
	"github.com/convoflow/convoflow-engine/pkg/repositories"
	"github.com/convoflow/convoflow-engine/pkg/services"
	"github.com/convoflow/convoflow-engine/pkg/tools"
	"github.com/convoflow/convoflow-engine/pkg/tracking"
	"github.com/convoflow/convoflow-engine/pkg/webhook"
	"github.com/convoflow/convoflow-engine/pkg/workflow"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.Bool("auth_enabled", cfg.Auth.Enabled),
		zap.Bool("redis_enabled", cfg.Redis.Host != ""))

	// Database pool and migrations.
	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	migrationDB, err := sql.Open("pgx", cfg.Database.URL())
	if err != nil {
		return err
	}
	if err := database.RunMigrations(migrationDB, cfg.Database.MigrationsPath, logger); err != nil {
		_ = migrationDB.Close()
		return err
	}
	_ = migrationDB.Close()

	// Optional Redis; an empty host means the in-memory tracker.
	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		return err
	}
	var tracker tracking.Store
	if redisClient != nil {
		defer redisClient.Close()
		tracker = tracking.NewRedisStore(redisClient,
			time.Duration(cfg.Tracking.MaxAgeHours)*time.Hour, logger)
	} else {
		tracker = tracking.NewMemoryStore(logger)
	}

	// Completion backend with circuit breaker.
	llmClient, err := llm.NewFromConfig(&cfg.LLM, logger)
	if err != nil {
		return err
	}

	// Repositories and services.
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	messageRepo := repositories.NewMessageRepository(db)

	historyStore := history.NewService(sessionRepo, messageRepo, logger)
	invoker := tools.NewInvoker(logger)
	defer invoker.Close()

	engine := workflow.NewEngine(llmClient, historyStore, invoker, logger,
		workflow.WithHistoryLimit(cfg.History.WindowLimit))

	dispatcher := webhook.NewDispatcher(&cfg.Webhook, logger)
	tokens := auth.NewTokenService(&cfg.Auth, logger)

	chatSvc := services.NewChatService(engine, tracker, dispatcher, logger)
	userSvc := services.NewUserService(userRepo, tokens, logger)
	sessionSvc := services.NewSessionService(sessionRepo, messageRepo, logger)

	authMw := auth.NewMiddleware(tokens, cfg.Auth.Enabled, logger)

	// HTTP surface.
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, db, logger).RegisterRoutes(mux)
	handlers.NewAuthHandler(userSvc, logger).RegisterRoutes(mux)
	handlers.NewChatHandler(chatSvc, logger).RegisterRoutes(mux, authMw)
	handlers.NewSessionHandler(sessionSvc, logger).RegisterRoutes(mux, authMw)
	handlers.NewUserHandler(userSvc, logger).RegisterRoutes(mux, authMw)

	handler := middleware.RequestID(middleware.RequestLogger(logger)(mux))

	server := &http.Server{
		Addr:              cfg.BindAddr + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Periodic tracker sweep so completed entries do not accumulate.
	go sweepTracker(ctx, tracker, time.Duration(cfg.Tracking.MaxAgeHours)*time.Hour, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting convoflow-engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sweepTracker removes stale tracked requests once an hour.
func sweepTracker(ctx context.Context, tracker tracking.Store, maxAge time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := tracker.Sweep(ctx, maxAge); err != nil {
				logger.Warn("Tracker sweep failed", zap.Error(err))
			}
		}
	}
}

// newLogger builds the process logger: production JSON encoding with the
// level taken from config, console encoding for local development.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Env == "local" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
