// FraudLens - Batch fraud screening with explanations you can read.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/fraudlens/internal/api"
	"github.com/opensource-finance/fraudlens/internal/bus"
	"github.com/opensource-finance/fraudlens/internal/cache"
	"github.com/opensource-finance/fraudlens/internal/config"
	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/narrative"
	"github.com/opensource-finance/fraudlens/internal/pipeline"
	"github.com/opensource-finance/fraudlens/internal/repository"
	"github.com/opensource-finance/fraudlens/internal/rules"
	"github.com/opensource-finance/fraudlens/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	configPath := flag.String("config", os.Getenv("FRAUDLENS_CONFIG"), "path to YAML config file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	slog.SetDefault(newLogger(cfg))

	// Log startup
	slog.Info("starting fraudlens",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"contamination", cfg.Detection.Contamination,
		"trees", cfg.Detection.Trees,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Repository
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Initialize severity classifiers and narrative phrases
	engine, err := rules.NewDefaultEngine(cfg.Narrative.Classifiers)
	if err != nil {
		slog.Error("failed to initialize rule engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()
	slog.Info("rule engine initialized", "classifiers", engine.Count())

	dict, err := narrative.DefaultDictionary().WithOverrides(cfg.Narrative.Phrases)
	if err != nil {
		slog.Error("failed to load narrative phrases", "error", err)
		os.Exit(1)
	}

	// Initialize Pipeline
	p, err := pipeline.New(cfg.Detection, engine, dict)
	if err != nil {
		slog.Error("failed to initialize pipeline", "error", err)
		os.Exit(1)
	}

	// Initialize async Worker
	var asyncWorker *worker.Worker
	if cfg.Worker.Enabled {
		asyncWorker = worker.NewWorker(busImpl, repo, p,
			worker.WithCache(cacheImpl, cfg.Cache.SummaryTTL),
			worker.WithMaxRows(cfg.Limits.MaxRows),
		)

		workerCfg := worker.Config{
			TenantIDs:   cfg.Worker.Tenants,
			WorkerCount: cfg.Worker.Concurrency,
		}

		if err := asyncWorker.Start(workerCfg); err != nil {
			slog.Error("failed to start async worker", "error", err)
			asyncWorker = nil
		} else {
			slog.Info("async worker started", "tenant_count", len(cfg.Worker.Tenants))
		}
	}

	// Initialize Server
	srv := api.NewServer(cfg, api.Deps{
		Repo:     repo,
		Cache:    cacheImpl,
		Bus:      busImpl,
		Pipeline: p,
		Engine:   engine,
	}, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("fraudlens is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting uploads before draining the worker
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	if asyncWorker != nil {
		stats := asyncWorker.GetStats()
		slog.Info("draining async worker",
			"queued", stats.Queued,
			"running", stats.Running,
		)
		if err := asyncWorker.Stop(); err != nil {
			slog.Error("failed to stop async worker", "error", err)
		}
	}

	slog.Info("fraudlens shutdown complete")
}

func newLogger(cfg *domain.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: config.LogLevel(cfg)}
	if cfg.Logging.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  ╔═══════════════════════════════════════════╗")
	fmt.Println("  ║               FRAUDLENS                   ║")
	fmt.Println("  ║     Batch Fraud Screening Engine          ║")
	fmt.Println("  ║      Every flag comes with a reason.      ║")
	fmt.Println("  ╚═══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    POST /analyze                        - Score a CSV dataset")
	fmt.Println("    POST /simulate                       - Heuristic check of one transaction")
	fmt.Println("    GET  /runs                           - List runs")
	fmt.Println("    GET  /runs/{id}                      - Run summary or status")
	fmt.Println("    GET  /runs/{id}/transactions         - Filtered rows with risk tiers")
	fmt.Println("    GET  /runs/{id}/transactions/{txId}  - Row with full attribution")
	fmt.Println("    GET  /runs/{id}/trends               - Flagged trends and feature impact")
	fmt.Println("    GET  /runs/{id}/report               - HTML report")
	fmt.Println("    GET  /runs/{id}/export               - CSV result table")
	fmt.Println("    DELETE /runs/{id}                    - Delete a run")
	fmt.Println("    GET  /classifiers                    - List severity classifiers")
	fmt.Println("    PUT  /classifiers/{feature}          - Replace a classifier")
	fmt.Println("    GET  /health                         - Health check")
	fmt.Println("    GET  /metrics                        - Prometheus metrics")
	fmt.Println()
}
