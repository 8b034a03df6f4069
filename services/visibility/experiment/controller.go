// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package experiment owns the batch lifecycle: validation, atomic
// quota reservation, execution, analysis, and the compensation path
// that refunds the full reservation when a started batch aborts.
package experiment

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Hamidph/echo-ai-sub000/services/visibility/analysis"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/datatypes"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/provider"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/runner"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/telemetry"
)

// DefaultMaxIterations caps the iteration count of a single batch.
const DefaultMaxIterations = 100

// ProviderFactory resolves an experiment's provider config into a
// ready-to-call provider (including any retry or rate-limit wrapping).
type ProviderFactory func(cfg datatypes.ProviderConfig) (provider.Provider, error)

// Config tunes the Controller. Providers is required.
type Config struct {
	Providers ProviderFactory

	// MaxIterations rejects oversized experiments before reservation.
	// Zero means DefaultMaxIterations.
	MaxIterations int

	// MaxConcurrency is handed to the runner. Zero means the runner's
	// default.
	MaxConcurrency int

	Analyzer *analysis.Analyzer
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
}

// Controller executes experiments end to end. Safe for concurrent use;
// per-experiment exclusion is enforced by the store's atomic StartRun.
type Controller struct {
	store    Store
	ledger   QuotaLedger
	runner   *runner.Runner
	analyzer *analysis.Analyzer

	providers      ProviderFactory
	maxIterations  int
	maxConcurrency int
	logger         *slog.Logger
	metrics        *telemetry.Metrics
}

// New creates a Controller.
func New(store Store, ledger QuotaLedger, cfg Config) (*Controller, error) {
	if store == nil {
		return nil, fmt.Errorf("experiment: store is required")
	}
	if ledger == nil {
		return nil, fmt.Errorf("experiment: quota ledger is required")
	}
	if cfg.Providers == nil {
		return nil, fmt.Errorf("experiment: provider factory is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Analyzer == nil {
		cfg.Analyzer = analysis.New(analysis.Config{Logger: cfg.Logger})
	}

	return &Controller{
		store:          store,
		ledger:         ledger,
		runner:         runner.New(cfg.Logger, cfg.Metrics),
		analyzer:       cfg.Analyzer,
		providers:      cfg.Providers,
		maxIterations:  cfg.MaxIterations,
		maxConcurrency: cfg.MaxConcurrency,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
	}, nil
}

// Execute runs one experiment through its full lifecycle.
//
// Phase 1 (reserve) validates the config and atomically deducts quota,
// creates the batch run, and moves the experiment to running; a
// rejection here leaves the experiment pending with nothing deducted.
// Phase 2 (execute) and phase 3 (finalize) run without holding any
// lock; a failure in either marks the run failed and refunds the full
// reservation, returning a *BatchAborted.
func (c *Controller) Execute(ctx context.Context, id uuid.UUID) (*datatypes.BatchRun, error) {
	exp, err := c.store.Experiment(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.validate(exp); err != nil {
		return nil, err
	}

	prov, err := c.providers(exp.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: provider %q: %v", ErrConfigInvalid, exp.Provider.Name, err)
	}

	run := &datatypes.BatchRun{
		ID:              uuid.New(),
		ExperimentID:    exp.ID,
		Provider:        exp.Provider.Name,
		Model:           exp.Provider.Model,
		Status:          datatypes.StatusRunning,
		StartedAt:       time.Now().UTC(),
		TotalIterations: exp.Iterations,
	}
	if err := c.store.StartRun(ctx, exp, run); err != nil {
		return nil, err
	}
	c.logger.Info("batch run reserved",
		"experiment_id", exp.ID,
		"batch_run_id", run.ID,
		"provider", run.Provider,
		"iterations", run.TotalIterations)

	result, err := c.runner.RunBatch(ctx, run.ID, prov, exp.Prompt, runner.Config{
		Iterations:     exp.Iterations,
		MaxConcurrency: c.maxConcurrency,
	})
	if err != nil {
		return nil, c.abort(ctx, exp, run, "execute", err)
	}
	if ctx.Err() != nil {
		return nil, c.abort(ctx, exp, run, "execute", ctx.Err())
	}

	if err := c.finalize(ctx, exp, run, result); err != nil {
		return nil, c.abort(ctx, exp, run, "finalize", err)
	}

	if c.metrics != nil {
		c.metrics.RecordBatch(ctx, string(datatypes.StatusCompleted))
	}
	c.logger.Info("batch run completed",
		"experiment_id", exp.ID,
		"batch_run_id", run.ID,
		"successful", run.SuccessfulIterations,
		"failed", run.FailedIterations)
	return run, nil
}

// RunPending executes every pending experiment once, sequentially, and
// returns how many were picked up. Per-experiment failures are logged
// and do not stop the sweep.
func (c *Controller) RunPending(ctx context.Context) (int, error) {
	pending, err := c.store.PendingExperiments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending experiments: %w", err)
	}

	for _, exp := range pending {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if _, err := c.Execute(ctx, exp.ID); err != nil {
			c.logger.Error("experiment execution failed",
				"experiment_id", exp.ID, "error", err)
		}
	}
	return len(pending), nil
}

// validate rejects bad configs before anything is reserved.
func (c *Controller) validate(exp *datatypes.Experiment) error {
	switch exp.Status {
	case datatypes.StatusPending:
	case datatypes.StatusRunning:
		return fmt.Errorf("%w: experiment %s", ErrAlreadyRunning, exp.ID)
	default:
		return fmt.Errorf("%w: experiment %s is %s", ErrConfigInvalid, exp.ID, exp.Status)
	}

	if strings.TrimSpace(exp.Prompt) == "" {
		return fmt.Errorf("%w: prompt is empty", ErrConfigInvalid)
	}
	if strings.TrimSpace(exp.TargetBrand) == "" {
		return fmt.Errorf("%w: target brand is empty", ErrConfigInvalid)
	}
	if exp.Provider.Name == "" {
		return fmt.Errorf("%w: provider name is empty", ErrConfigInvalid)
	}
	if exp.Iterations <= 0 || exp.Iterations > c.maxIterations {
		return fmt.Errorf("%w: iterations must be in 1..%d, got %d",
			ErrConfigInvalid, c.maxIterations, exp.Iterations)
	}
	return nil
}

// finalize analyzes the records and persists everything.
func (c *Controller) finalize(ctx context.Context, exp *datatypes.Experiment, run *datatypes.BatchRun, result *runner.Result) error {
	metrics := c.analyzer.Analyze(run.ID, result.Records, exp.Brands(), exp.DomainWhitelist)

	blob, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("marshal batch metrics: %w", err)
	}

	run.Status = datatypes.StatusCompleted
	run.CompletedAt = time.Now().UTC()
	run.DurationMS = float64(result.Duration.Microseconds()) / 1000.0
	run.SuccessfulIterations = result.Successes
	run.FailedIterations = result.Failures
	run.Metrics = blob

	if err := c.store.SaveIterations(ctx, run.ID, metrics.Records); err != nil {
		return fmt.Errorf("save iteration records: %w", err)
	}
	if err := c.store.CompleteRun(ctx, exp, run); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// abort is the compensation path: mark the run failed and refund the
// full reservation. It runs detached from ctx cancellation so a
// cancelled batch still settles its quota.
func (c *Controller) abort(ctx context.Context, exp *datatypes.Experiment, run *datatypes.BatchRun, phase string, cause error) error {
	ctx = context.WithoutCancel(ctx)

	if err := c.store.FailRun(ctx, exp, run, cause.Error()); err != nil {
		c.logger.Error("failed to mark run failed",
			"batch_run_id", run.ID, "error", err)
	}

	refunded := run.TotalIterations
	refundErr := c.ledger.Refund(ctx, exp.OwnerID, refunded)
	if refundErr != nil {
		// One retry on the detached context before giving up; a lost
		// refund must never pass silently.
		c.logger.Warn("quota refund failed, retrying",
			"batch_run_id", run.ID, "owner_id", exp.OwnerID,
			"units", refunded, "error", refundErr)
		refundErr = c.ledger.Refund(ctx, exp.OwnerID, refunded)
	}
	if refundErr != nil {
		c.logger.Error("quota refund lost",
			"batch_run_id", run.ID, "owner_id", exp.OwnerID,
			"units", refunded, "error", refundErr)
		refunded = 0
	}

	if c.metrics != nil {
		c.metrics.RecordBatch(ctx, string(datatypes.StatusFailed))
		c.metrics.RecordRefund(ctx, refunded)
	}
	c.logger.Warn("batch run aborted",
		"batch_run_id", run.ID, "phase", phase,
		"refunded", refunded, "cause", cause)

	return &BatchAborted{RunID: run.ID, Phase: phase, Refunded: refunded, RefundErr: refundErr, Err: cause}
}
