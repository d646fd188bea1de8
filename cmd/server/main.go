// Package main runs the babylog gateway: the SQLite store, the REST routes,
// the realtime feed and the feeding reminder.
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

	"github.com/kimhsiao/babylog/internal/api"
	"github.com/kimhsiao/babylog/internal/config"
	"github.com/kimhsiao/babylog/internal/db"
	"github.com/kimhsiao/babylog/internal/entities"
	"github.com/kimhsiao/babylog/internal/identity"
	"github.com/kimhsiao/babylog/internal/logging"
	"github.com/kimhsiao/babylog/internal/realtime"
	"github.com/kimhsiao/babylog/internal/reminder"
)

// Version is set at build time.
var Version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Init(os.Stdout, cfg.LogLevel())

	conn, err := db.Open(cfg.Database.Dir)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.NewEmbeddedMigrator(conn.DB).Up(); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	hub := realtime.NewHub(0)
	store := db.NewStore(conn.DB, hub, entities.Tables()...)
	defer store.Close()

	sessions := cfg.Sessions()
	users := identity.NewResolver(sessions, cfg.Identity.FallbackUserID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feeding, err := reminder.NewFeedingReminder(
		reminder.BackendSource{Backend: store, Users: users},
		reminder.LogNotifier{},
		reminder.Config{Interval: cfg.Reminder.FeedingInterval, Schedule: cfg.Reminder.CheckSchedule},
	)
	if err != nil {
		return err
	}
	feeding.Start(ctx)
	defer feeding.Stop()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(api.Options{
			Backend:        store,
			Sessions:       sessions,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Version:        Version,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logging.Info("babylog server starting", map[string]interface{}{
			"addr":          cfg.Server.Addr,
			"data_dir":      cfg.Database.Dir,
			"fallback_user": users.Fallback(),
			"version":       Version,
		})
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info("Shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
