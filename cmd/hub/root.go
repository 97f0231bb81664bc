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

	"github.com/iotgrid/hub/internal/api"
	"github.com/iotgrid/hub/internal/cloud"
	"github.com/iotgrid/hub/internal/config"
	"github.com/iotgrid/hub/internal/progress"
	"github.com/iotgrid/hub/internal/store"
	hubsync "github.com/iotgrid/hub/internal/sync"
	"github.com/iotgrid/hub/internal/worker"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "hub",
	Short: "IoT Grid Hub - local node gateway and cloud sync engine",
	RunE:  run,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(nodeCmd)
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
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	slog.Info("configuration loaded", "log_level", cfg.Log.Level)

	// 4. Initialize store (migrations, WAL mode)
	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Cloud boundary + sync engine
	client := cloud.NewHTTPClient(cfg.Cloud)
	registry := hubsync.NewJobRegistry()
	hub := progress.NewHub(progress.Options{
		BufferSize:   cfg.Progress.BufferSize,
		WriteTimeout: time.Duration(cfg.Progress.WriteTimeout),
		PingInterval: time.Duration(cfg.Progress.PingInterval),
	})
	engine := hubsync.NewOrchestrator(db, client, registry, hub,
		cfg.Cloud.ReadingBatchSize, logger)
	slog.Info("sync engine initialized",
		"cloud_configured", client.IsConfigured(),
		"batch_size", cfg.Cloud.ReadingBatchSize)

	// 6. HTTP router
	handler := api.NewHandler(db, engine, hub.WebSocketHandler(),
		client.IsConfigured(), Version, cfg.Auth.APIKey)
	router := api.NewRouter(handler)

	// 7. Configure HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 8. Background workers
	var wg sync.WaitGroup
	if interval := time.Duration(cfg.Sync.AutoSyncInterval); interval > 0 {
		coordinator := worker.NewSyncCoordinator(db, engine, interval)
		startWorker(ctx, &wg, "sync-coordinator", coordinator.Run)
	}

	// 9. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called gracefully.
		// Any other error indicates an actual server failure that should trigger shutdown.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel() // Trigger shutdown on server failure
		}
	}()

	// 10. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 11. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	// 11a. Stop HTTP server (drains in-flight requests)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// 11b. Cancel in-flight sync jobs; each records its terminal state
	// before releasing its slot.
	registry.CancelAll()
	for registry.ActiveCount() > 0 {
		if shutdownCtx.Err() != nil {
			slog.Warn("sync jobs still active at shutdown deadline",
				"active", registry.ActiveCount())
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	// 11c. Wait for workers to complete
	wg.Wait()

	// 11d. Drop progress subscribers and close the store
	hub.CloseAll()
	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
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
