package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/papervault/paperfetch/internal/api"
	"github.com/papervault/paperfetch/internal/archive"
	"github.com/papervault/paperfetch/internal/catalog"
	"github.com/papervault/paperfetch/internal/core"
	"github.com/papervault/paperfetch/internal/fetch"
	"github.com/papervault/paperfetch/internal/metrics"
	"github.com/papervault/paperfetch/internal/orchestrator"
	"github.com/papervault/paperfetch/internal/scheduler"
	"github.com/papervault/paperfetch/internal/server"
	"github.com/papervault/paperfetch/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := server.LoadConfig()
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("failed to create data directory", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	// Storage tiers: fast in-process map, optional durable NATS KV,
	// sqlite fallback.
	fast := store.NewMemory()

	var durable store.CASTier
	if cfg.NatsURL != "" {
		kv, err := store.OpenNATS(context.Background(), cfg.NatsURL, cfg.NatsBucket)
		if err != nil {
			slog.Warn("durable tier unavailable, degrading to fallback", "url", cfg.NatsURL, "error", err)
		} else {
			durable = kv
			defer kv.Close()
			slog.Info("connected to NATS", "url", cfg.NatsURL, "bucket", cfg.NatsBucket)
		}
	}

	fallback, err := store.OpenSQLite(cfg.FallbackDBPath())
	if err != nil {
		slog.Error("failed to open fallback tier", "path", cfg.FallbackDBPath(), "error", err)
		os.Exit(1)
	}
	defer fallback.Close()

	jobStore := store.NewTiered(fast, durable, fallback)

	metrics.Init(core.Version)

	enum := catalog.NewHTTPEnumerator(cfg.CatalogURL, cfg.AttemptTimeout)
	fetcher := fetch.NewFetcher(cfg.AttemptTimeout, cfg.MaxAttempts)
	governor := fetch.NewGovernor(int64(cfg.ConcurrentDownloads), cfg.PolitenessDelay)
	assembler := archive.NewAssembler(cfg.StagingDir(), cfg.ArchiveDir())

	orch := orchestrator.New(jobStore, enum, fetcher, governor, assembler, cfg.StagingDir())
	defer orch.Stop()

	reaper := scheduler.New(jobStore, assembler, cfg.StagingDir(), cfg.JobTTL, cfg.ReaperInterval)
	reaper.Start()
	defer reaper.Stop()

	router := server.NewRouter(api.NewHandler(orch, reaper))
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		slog.Info("paperfetch server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	reaper.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}
