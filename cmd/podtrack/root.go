package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nathant8883/mtg-leaderboard/internal/api"
	"github.com/nathant8883/mtg-leaderboard/internal/config"
	"github.com/nathant8883/mtg-leaderboard/internal/connectivity"
	"github.com/nathant8883/mtg-leaderboard/internal/queue"
	"github.com/nathant8883/mtg-leaderboard/internal/service"
	"github.com/nathant8883/mtg-leaderboard/internal/syncer"
	"github.com/nathant8883/mtg-leaderboard/internal/transport"
	"github.com/nathant8883/mtg-leaderboard/internal/update"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "podtrack",
	Short: "Podtrack - offline match queue for the commander leaderboard",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// 3. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize queue store (migrations, WAL mode, crash recovery)
	store, err := queue.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("queue store initialized", "path", cfg.Database.Path)

	// 5. Transport to the leaderboard server
	client := transport.New(cfg.Server.BaseURL, cfg.Server.APIToken, store.ClientID())
	slog.Info("transport initialized", "server", cfg.Server.BaseURL)

	// 6. Sync engine and coordinator
	engine := syncer.New(store, client, syncer.Config{
		BackoffMin:   time.Duration(cfg.Sync.BackoffMin),
		BackoffMax:   time.Duration(cfg.Sync.BackoffMax),
		SyncedWindow: time.Duration(cfg.Queue.DedupWindow),
	})
	svc, err := service.New(ctx, store, engine, service.Config{
		DedupWindow: time.Duration(cfg.Queue.DedupWindow),
		UndoGrace:   time.Duration(cfg.Queue.UndoGrace),
	})
	if err != nil {
		return err
	}

	// 7. Connectivity monitor gates automatic syncing and triggers a
	// pass whenever the server becomes reachable again.
	monitor := connectivity.NewMonitor(client, time.Duration(cfg.Connectivity.HealthInterval))
	engine.SetGate(monitor.Allow)
	monitor.OnOnline(func(ctx context.Context) {
		if _, err := svc.SyncAll(ctx, service.SyncAuto, service.SyncAllCallbacks{}); err != nil {
			slog.Error("sync on reconnect failed", "error", err)
		}
	})

	// 8. Update gate over the pending count
	drained := make(chan struct{}, 1)
	svc.OnDrained(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})
	gate := update.NewGate(svc, drained)

	// 9. Local companion API
	handler := api.NewHandler(svc, monitor, gate, Version)
	router := api.NewRouter(handler)

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Listen.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Listen.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Listen.WriteTimeout),
	}

	// 10. Background workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "connectivity", monitor.Run)
	startWorker(ctx, &wg, "autosync", func(ctx context.Context) {
		autoSyncLoop(ctx, svc, time.Duration(cfg.Sync.AutoInterval))
	})

	// 11. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 12. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 13. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Listen.ShutdownTimeout))
	defer shutdownCancel()

	// 13a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 13b. Wait for workers, stop scheduled retries
	wg.Wait()
	engine.Close()

	// 13c. Close store
	if err := store.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// autoSyncLoop periodically drains the queue while the gate allows it.
// Connectivity transitions trigger their own pass; this loop catches
// records whose backoff elapsed while the app was idle.
func autoSyncLoop(ctx context.Context, svc *service.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.SyncAll(ctx, service.SyncAuto, service.SyncAllCallbacks{}); err != nil {
				slog.Error("automatic sync pass failed", "error", err)
			}
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects context cancellation.
// Workers are tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
