// med-z4 clinical context portal
// Entry point for the web server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/medz/medz4/internal/config"
	"github.com/medz/medz4/internal/handlers"
	"github.com/medz/medz4/internal/logging"
	"github.com/medz/medz4/internal/services/auth"
	"github.com/medz/medz4/internal/services/ccow"
	"github.com/medz/medz4/internal/services/monitoring"
	"github.com/medz/medz4/internal/services/patient"
	"github.com/medz/medz4/internal/storage"
	"github.com/medz/medz4/web"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	cleanupInterval = 5 * time.Minute
)

func main() {
	envFile := flag.String("env", ".env", "optional .env file")
	createUser := flag.String("create-user", "", "create a user with this email and exit")
	password := flag.String("password", "", "password for -create-user")
	displayName := flag.String("display-name", "", "display name for -create-user")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*envFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.App.LogLevel, cfg.App.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Initialize services
	authService := auth.NewService(cfg, db, logger)
	patientService := patient.NewService(db, logger)
	vault := ccow.NewClient(cfg.CCOW, logger)
	monitor := monitoring.NewService(cfg, db, vault, logger)

	if *createUser != "" {
		if *password == "" {
			logger.Fatal("-password is required with -create-user")
		}
		name := *displayName
		if name == "" {
			name = *createUser
		}
		user, err := authService.CreateUser(ctx, *createUser, name, *password)
		if err != nil {
			logger.Fatal("failed to create user", zap.Error(err))
		}
		logger.Info("user created", zap.String("email", user.Email), zap.String("user_id", user.ID.String()))
		return
	}

	// Initialize handlers
	h, err := handlers.New(cfg, web.FS, authService, patientService, vault, monitor, logger)
	if err != nil {
		logger.Fatal("failed to initialize handlers", zap.Error(err))
	}

	go cleanupSessions(ctx, authService, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("app", cfg.App.Name),
			zap.String("version", cfg.App.Version),
			zap.String("addr", server.Addr),
			zap.String("db_driver", db.Driver()),
			zap.String("ccow", cfg.CCOW.BaseURL),
			zap.Int("session_timeout_minutes", cfg.Session.TimeoutMinutes),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// cleanupSessions periodically deactivates expired sessions until ctx is done.
func cleanupSessions(ctx context.Context, authService *auth.Service, logger *zap.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := authService.CleanupExpiredSessions(ctx)
			if err != nil {
				logger.Warn("session cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("expired sessions deactivated", zap.Int64("count", n))
			}
		}
	}
}
