// dsync — SCIM 2.0 Directory Sync service
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boxyhq/dsync/internal/api"
	"github.com/boxyhq/dsync/internal/api/handler"
	"github.com/boxyhq/dsync/internal/config"
	"github.com/boxyhq/dsync/internal/db"
	"github.com/boxyhq/dsync/internal/event"
	"github.com/boxyhq/dsync/internal/health"
	"github.com/boxyhq/dsync/internal/observability"
	"github.com/boxyhq/dsync/internal/scim"
	"github.com/boxyhq/dsync/internal/seed"
	"github.com/boxyhq/dsync/internal/store"
	"github.com/boxyhq/dsync/internal/version"
	"github.com/boxyhq/dsync/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability -------------------------------------------------------
	obs, log, err := observability.New(ctx, &observability.Config{
		ServiceName:    "dsync",
		ServiceVersion: version.Version,
		LogLevel:       cfg.Log.Level,
		LogFormat:      cfg.Log.Format,
		OTLPEndpoint:   cfg.OTel.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}
	defer obs.Shutdown(context.Background())
	slog.SetDefault(log)
	log.Info("starting dsync", "version", version.Version, "commit", version.Commit, "db_driver", cfg.DB.Driver)

	// --- Database ------------------------------------------------------------
	gormDB, err := db.New(ctx, &cfg.DB)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	log.Info("database ready", "driver", cfg.DB.Driver)

	// --- Seed admin ----------------------------------------------------------
	if err := seed.EnsureAdmin(ctx, gormDB, seed.AdminOptions{
		Email:    cfg.App.SeedAdminEmail,
		Password: cfg.App.SeedAdminPassword,
	}, log); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	// --- Stores and event bus ------------------------------------------------
	bus := event.NewBus()
	users := store.NewUsers(gormDB)
	groups := store.NewGroups(gormDB)
	logs := store.NewWebhookLogs(gormDB, cfg.Webhook.LogTTL)
	admins := store.NewAdmins(gormDB)
	directories := store.NewDirectories(gormDB, users, groups, logs, bus, cfg.HTTP.ExternalURL)

	// --- Webhook delivery ----------------------------------------------------
	webhookClient := &http.Client{Timeout: cfg.Webhook.Timeout}
	var processor *webhook.BatchProcessor
	if cfg.Webhook.BatchEnabled {
		queue := store.NewQueue(gormDB)
		lock := store.NewLock(gormDB, cfg.Webhook.LockTTL)
		bus.Subscribe(webhook.QueueSubscriber(queue, log))
		processor = webhook.NewBatchProcessor(queue, directories, logs, lock, webhookClient,
			cfg.Webhook.Interval, cfg.Webhook.LockTTL, cfg.Webhook.BatchSize, log)
		processor.Start(ctx)
		defer processor.Stop()
		log.Info("webhook batch delivery enabled", "interval", cfg.Webhook.Interval, "batch_size", cfg.Webhook.BatchSize)
	} else {
		sender := webhook.NewSender(directories, logs, webhookClient,
			cfg.Webhook.RetryAttempts, cfg.Webhook.RetryDelay, log)
		bus.Subscribe(sender.Subscriber())
		log.Info("webhook inline delivery enabled", "attempts", cfg.Webhook.RetryAttempts)
	}

	// --- HTTP routes ---------------------------------------------------------
	scimHandler := scim.NewHandler(directories, users, groups, bus, log)

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, api.Handlers{
		Health:      health.New(db.NewPinger(gormDB)),
		Auth:        handler.NewAuthHandler(admins, cfg.JWT.Secret, cfg.JWT.AccessTTL, log),
		Directories: handler.NewDirectoryHandler(directories, groups, log),
		Events:      handler.NewEventsHandler(logs, directories, log),
		SCIM:        api.NewSCIMHandler(scimHandler),
		JWTSecret:   cfg.JWT.Secret,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Start server --------------------------------------------------------
	log.Info("http server listening", "addr", srv.Addr)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	return nil
}
