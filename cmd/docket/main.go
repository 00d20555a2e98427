// Docket - Stage-based billing for legal cases.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/docket/internal/api"
	"github.com/opensource-finance/docket/internal/automation"
	"github.com/opensource-finance/docket/internal/billing"
	"github.com/opensource-finance/docket/internal/bus"
	"github.com/opensource-finance/docket/internal/cache"
	"github.com/opensource-finance/docket/internal/compliance"
	"github.com/opensource-finance/docket/internal/config"
	"github.com/opensource-finance/docket/internal/domain"
	"github.com/opensource-finance/docket/internal/fee"
	"github.com/opensource-finance/docket/internal/notify"
	"github.com/opensource-finance/docket/internal/repository"
	"github.com/opensource-finance/docket/internal/scheduler"
	"github.com/opensource-finance/docket/internal/worker"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logger
	opts := &slog.HandlerOptions{Level: config.LogLevel(cfg.Logging)}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	slog.Info("starting docket",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"compliance_version", cfg.Compliance.Version,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	// Regulatory constants and exchange rates are fixed for the process lifetime.
	rules, err := compliance.NewTable(cfg.Compliance)
	if err != nil {
		slog.Error("invalid compliance configuration", "error", err)
		os.Exit(1)
	}
	rates, err := fee.ParseRateSnapshot(cfg.Exchange)
	if err != nil {
		slog.Error("invalid exchange rates", "error", err)
		os.Exit(1)
	}
	slog.Info("compliance rules loaded",
		"version", rules.Version(),
		"rate_version", rates.Version(),
	)

	conditions, err := automation.NewConditions()
	if err != nil {
		slog.Error("failed to initialize automation conditions", "error", err)
		os.Exit(1)
	}
	sink := notify.NewBusSink(busImpl, cacheImpl, notify.DefaultThrottleWindow)
	runner := automation.NewRunner(repo, repo, sink, conditions)
	engine := billing.NewEngine(repo, repo, rules, runner, busImpl)
	fees := fee.NewComputer(rules, rates)

	// Sweep worker consumes the scheduler's messages.
	sweepWorker := worker.NewWorker(busImpl, engine)
	if err := sweepWorker.Start(worker.Config{}); err != nil {
		slog.Error("failed to start sweep worker", "error", err)
		os.Exit(1)
	}

	sched := scheduler.New(repo, busImpl, cfg.Scheduler.SweepSchedule)
	if err := sched.Start(); err != nil {
		slog.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	// Initialize Server
	srv := api.NewServer(cfg.Server, repo, cacheImpl, busImpl, engine, fees, Version)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			cancel()
		}
	}()

	slog.Info("docket is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(cfg, Version)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop producing sweeps before draining the worker.
	select {
	case <-sched.Stop().Done():
	case <-shutdownCtx.Done():
		slog.Warn("scheduler did not stop in time")
	}
	if err := sweepWorker.Stop(); err != nil {
		slog.Error("failed to stop sweep worker", "error", err)
	}

	slog.Info("docket shutdown complete")
}

func printBanner(cfg *domain.Config, version string) {
	fmt.Println()
	fmt.Println("  +-------------------------------------------+")
	fmt.Println("  |                  DOCKET                   |")
	fmt.Println("  |     Stage-based billing for legal cases   |")
	fmt.Println("  +-------------------------------------------+")
	fmt.Println()
	fmt.Printf("  Version:  %s\n", version)
	fmt.Printf("  Tier:     %s\n", cfg.Tier)
	fmt.Printf("  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	if cfg.Scheduler.SweepSchedule != "" {
		fmt.Printf("  Sweeps:   %s\n", cfg.Scheduler.SweepSchedule)
	}
	fmt.Println()
	fmt.Println("  Endpoints:")
	fmt.Println("    PUT  /cases/{id}                          - Upsert a case")
	fmt.Println("    POST /cases/{id}/payments                 - Record a payment")
	fmt.Println("    POST /cases/{id}/stage-billing            - Create billing nodes")
	fmt.Println("    PUT  /cases/{id}/stage-billing/config     - Update billing configuration")
	fmt.Println("    GET  /cases/{id}/stage-billing/progress   - Billing progress")
	fmt.Println("    GET  /cases/{id}/stage-billing/suggestions - Billing suggestions")
	fmt.Println("    POST /cases/{id}/stage-billing/automation - Run automation")
	fmt.Println("    POST /billing-nodes/{id}/validate         - Validate a completion")
	fmt.Println("    POST /billing-nodes/{id}/complete         - Complete a milestone")
	fmt.Println("    POST /fees/calculate                      - Compute a fee")
	fmt.Println("    GET  /health                              - Health check")
	fmt.Println()
}
