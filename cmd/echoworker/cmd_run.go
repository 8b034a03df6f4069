// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Hamidph/echo-ai-sub000/services/visibility/analysis"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/config"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/datatypes"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/experiment"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/provider"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/storage/badgerstore"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/telemetry"
)

var (
	runOnce bool

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the experiment worker loop",
		Long: `Polls the store for pending experiments and executes them until
interrupted. With --once, performs a single sweep and exits.`,
		RunE: runWorker,
	}
)

func init() {
	runCmd.Flags().BoolVar(&runOnce, "once", false, "execute one sweep of pending experiments and exit")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	path, err := storagePath()
	if err != nil {
		return err
	}
	storeCfg := badgerstore.DefaultConfig(path)
	storeCfg.SyncWrites = cfg.Storage.SyncWrites
	storeCfg.Logger = logger.Logger
	store, err := badgerstore.Open(storeCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("store close failed", "error", err)
		}
	}()

	exporter, err := stdoutmetric.New()
	if err != nil {
		return fmt.Errorf("create metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(time.Minute))),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metric provider shutdown failed", "error", err)
		}
	}()

	metrics, err := telemetry.NewMetrics(meterProvider.Meter("echoworker"))
	if err != nil {
		return err
	}

	ctrl, err := experiment.New(store, store, experiment.Config{
		Providers:      providerFactory(cfg, logger.Logger),
		MaxIterations:  cfg.Worker.MaxIterations,
		MaxConcurrency: cfg.Worker.MaxConcurrency,
		Analyzer: analysis.New(analysis.Config{
			PairSampleCap: cfg.Analysis.PairSampleCap,
			Logger:        logger.Logger,
		}),
		Logger:  logger.Logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	if runOnce {
		picked, err := ctrl.RunPending(ctx)
		if err != nil {
			return err
		}
		logger.Info("sweep finished", "picked_up", picked)
		return nil
	}

	logger.Info("worker started",
		"poll_interval", cfg.Worker.PollInterval,
		"storage_path", path)

	ticker := time.NewTicker(cfg.Worker.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutting down")
			return nil
		case <-ticker.C:
			if _, err := ctrl.RunPending(ctx); err != nil && ctx.Err() == nil {
				logger.Error("sweep failed", "error", err)
			}
		}
	}
}

// providerFactory resolves experiment provider configs against the
// worker's credentials, layering retry and rate-limit middleware on
// every adapter.
func providerFactory(cfg config.Config, logger *slog.Logger) experiment.ProviderFactory {
	return func(pc datatypes.ProviderConfig) (provider.Provider, error) {
		params := provider.Params{
			Model:        pc.Model,
			Temperature:  pc.Temperature,
			MaxTokens:    pc.MaxTokens,
			SystemPrompt: pc.SystemPrompt,
			Timeout:      cfg.Worker.RequestTimeout,
		}

		var p provider.Provider
		var err error
		switch pc.Name {
		case "openai":
			p, err = provider.NewOpenAIProvider(cfg.Providers.OpenAI.APIKey, params, logger)
		case "perplexity":
			p, err = provider.NewPerplexityProvider(cfg.Providers.Perplexity.APIKey, cfg.Providers.Perplexity.BaseURL, params, logger)
		default:
			return nil, fmt.Errorf("unknown provider %q", pc.Name)
		}
		if err != nil {
			return nil, err
		}

		p = provider.WithRetry(p, cfg.Worker.RetryAttempts, logger)
		p = provider.WithRateLimit(p, cfg.Worker.RateLimitPerSecond, 1)
		return p, nil
	}
}
