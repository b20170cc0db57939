// Command pressq-server is the pressq message routing server process.
// It loads configuration, initialises instance identity, and starts the
// dispatch pipeline and HTTP transport.
//
// Usage:
//
//	pressq-server [--config path/to/config.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/pressq/pressq/internal/action"
	"github.com/pressq/pressq/internal/config"
	"github.com/pressq/pressq/internal/devto"
	"github.com/pressq/pressq/internal/dispatch"
	"github.com/pressq/pressq/internal/ident"
	"github.com/pressq/pressq/internal/metrics"
	"github.com/pressq/pressq/internal/notify"
	"github.com/pressq/pressq/internal/queue"
	"github.com/pressq/pressq/internal/store"
	transphttp "github.com/pressq/pressq/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pressq: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── 1. Load configuration ────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// ── 2. Set up structured logger ──────────────────────────────────────────
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// ── 3. Initialise instance identity ──────────────────────────────────────
	srv, err := ident.NewServer(cfg.Server.DataDir, cfg.Server.ID)
	if err != nil {
		return fmt.Errorf("init identity: %w", err)
	}

	slog.Info("pressq starting",
		"server_id", srv.ID(),
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"data_dir", srv.DataDir(),
		"workers", cfg.Dispatch.Workers,
	)

	// ── 4. Open the result store and start retention sweeping ────────────────
	results, err := store.Open(filepath.Join(cfg.Server.DataDir, "results.db"))
	if err != nil {
		return fmt.Errorf("open result store: %w", err)
	}
	retention, _ := cfg.RetentionDuration()
	sweepEvery, _ := cfg.SweepIntervalDuration()
	results.StartSweeper(retention, sweepEvery)

	// ── 5. Build the queue, registry, adapter, and aggregator ────────────────
	q, err := queue.New(queue.Config{
		Capacity:    cfg.Queue.Capacity,
		BlockOnFull: cfg.Queue.BlockOnFull,
	})
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}

	registry := action.NewRegistry()

	adapter := devto.New(cfg.Devto.BaseURL,
		devto.WithAPIKey(cfg.Devto.APIKey),
		devto.WithTimeout(time.Duration(cfg.Devto.TimeoutMs)*time.Millisecond),
	)

	agg := metrics.NewAggregator(&metrics.Registry{})

	// ── 6. Start the dispatcher ──────────────────────────────────────────────
	d := dispatch.New(dispatch.Config{
		Workers:     cfg.Dispatch.Workers,
		MaxRetries:  cfg.Dispatch.MaxRetries,
		BackoffBase: time.Duration(cfg.Dispatch.BackoffBaseMs) * time.Millisecond,
		BackoffMax:  time.Duration(cfg.Dispatch.BackoffMaxMs) * time.Millisecond,
	}, q, registry, adapter, results, agg)
	d.Start(context.Background())

	// ── 7. Start the webhook notifier ────────────────────────────────────────
	nm := notify.NewManager()
	events, unsubscribe := d.Subscribe()
	nm.Start(context.Background(), events)

	// ── 8. Start HTTP / WebSocket transport ──────────────────────────────────
	httpSrv := transphttp.New(d, agg, nm, adapter, cfg, string(srv.ID()))
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Serve in a background goroutine so we can handle signals.
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("pressq ready", "server_id", srv.ID(), "addr", addr)
		if err := httpSrv.ListenAndServe(addr); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		} else {
			serveErr <- nil
		}
	}()

	// ── 9. Graceful shutdown on SIGINT / SIGTERM ─────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	// Give in-flight requests 5 seconds to complete.
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown error", "err", err)
	}

	d.Stop()
	unsubscribe()
	nm.Stop()

	if err := results.Close(); err != nil {
		slog.Warn("result store close error", "err", err)
	}

	slog.Info("pressq stopped")
	return nil
}
