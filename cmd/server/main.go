package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"budget-tracker/internal/auth"
	"budget-tracker/internal/config"
	"budget-tracker/internal/handlers"
	applog "budget-tracker/internal/log"
	"budget-tracker/internal/storage"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := applog.New(applog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	applog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *applog.Logger) error {
	if cfg.InsecureSecret() {
		logger.Warn("SECRET_KEY is not set, using the development key")
	}

	db, err := storage.NewDB(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	storeLog := logger.WithComponent(applog.ComponentStorage)
	if n, err := db.CleanExpiredSessions(context.Background()); err != nil {
		storeLog.Warn("failed to clean expired sessions", "error", err)
	} else if n > 0 {
		storeLog.Info("removed expired sessions", "count", n)
	}

	if users, err := db.UserCount(context.Background()); err != nil {
		storeLog.Warn("failed to count users", "error", err)
	} else {
		storeLog.Info("database ready", "users", users)
	}

	var templates fs.FS
	if cfg.TemplateDir != "" {
		templates = os.DirFS(cfg.TemplateDir)
	}

	h, err := handlers.NewHandlers(db, auth.NewSigner(cfg.SecretKey), handlers.Options{
		TemplateFS:      templates,
		SecureCookie:    cfg.SecureCookie,
		SessionDuration: cfg.SessionTTL,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("init handlers: %w", err)
	}

	srv := &http.Server{
		Addr:           ":" + cfg.Port,
		Handler:        setupRouter(h, logger),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 16,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "port", cfg.Port, "db", cfg.DBPath())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped gracefully")
	return nil
}

// setupRouter returns the application's routing table.
func setupRouter(h *handlers.Handlers, logger *applog.Logger) http.Handler {
	return handlers.NewRouter(h, logger)
}
