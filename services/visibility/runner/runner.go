// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package runner executes the iterations of one batch with bounded
// parallelism. It is the probabilistic execution engine: the same
// prompt is dispatched N times and every call is isolated, so a
// classified failure on one iteration never aborts its siblings.
//
// The runner performs no retries and no persistence; both are
// collaborator concerns. Completion order is unconstrained — the
// iteration index is the only stable identity.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Hamidph/echo-ai-sub000/services/visibility/datatypes"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/provider"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/telemetry"
)

// DefaultMaxConcurrency bounds in-flight provider calls regardless of
// how many iterations a batch requests.
const DefaultMaxConcurrency = 10

// Progress is called after each iteration resolves, with the number of
// completed iterations so far. Callbacks must be fast; they run on the
// iteration goroutine.
type Progress func(completed, total int, record *datatypes.IterationRecord)

// Config tunes one batch execution.
type Config struct {
	// Iterations is the number of independent calls. Must be > 0.
	Iterations int

	// MaxConcurrency is the permit pool size. Zero means
	// DefaultMaxConcurrency.
	MaxConcurrency int

	// OnProgress, when set, receives completion updates.
	OnProgress Progress
}

// Result is the in-memory outcome of a batch: one record per
// requested iteration, indexed 0..N-1.
type Result struct {
	BatchRunID uuid.UUID
	Records    []datatypes.IterationRecord
	Successes  int
	Failures   int
	Duration   time.Duration
}

// Runner drives batches. The zero value is not usable; construct with
// New.
type Runner struct {
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// New creates a Runner. Both arguments may be nil.
func New(logger *slog.Logger, metrics *telemetry.Metrics) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger, metrics: metrics}
}

// RunBatch executes exactly cfg.Iterations calls of prompt against p
// under a fixed-size permit pool. Every index 0..N-1 is attempted
// exactly once. Per-call failures become failed records carrying an
// error class; they never propagate as errors. The only error return
// is an invalid config.
//
// Cancellation is cooperative: once ctx is done, no new call is
// dispatched (permit acquisition fails and the iteration is recorded
// as failed), while calls already in flight finish or time out
// naturally.
func (r *Runner) RunBatch(ctx context.Context, batchRunID uuid.UUID, p provider.Provider, prompt string, cfg Config) (*Result, error) {
	if cfg.Iterations <= 0 {
		return nil, fmt.Errorf("runner: iterations must be positive, got %d", cfg.Iterations)
	}
	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	r.logger.Info("batch started",
		"batch_run_id", batchRunID,
		"provider", p.Name(),
		"iterations", cfg.Iterations,
		"max_concurrency", maxConcurrency)

	start := time.Now()
	sem := NewSemaphore(maxConcurrency)
	records := make([]datatypes.IterationRecord, cfg.Iterations)

	var wg sync.WaitGroup
	var completed atomic.Int64

	for i := 0; i < cfg.Iterations; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()

			rec := r.runIteration(ctx, sem, batchRunID, index, p, prompt)
			// Each goroutine owns exactly one slot; no lock needed.
			records[index] = rec

			done := int(completed.Add(1))
			if cfg.OnProgress != nil {
				cfg.OnProgress(done, cfg.Iterations, &rec)
			}
		}(i)
	}
	wg.Wait()

	result := &Result{
		BatchRunID: batchRunID,
		Records:    records,
		Duration:   time.Since(start),
	}
	for i := range records {
		if records[i].Success {
			result.Successes++
		} else {
			result.Failures++
		}
	}

	if r.metrics != nil {
		r.metrics.BatchDuration.Record(ctx, result.Duration.Seconds())
	}
	r.logger.Info("batch completed",
		"batch_run_id", batchRunID,
		"successful", result.Successes,
		"failed", result.Failures,
		"duration_ms", float64(result.Duration.Microseconds())/1000.0)

	return result, nil
}

// runIteration resolves one index to a record. It never returns an
// error: every failure mode is folded into a failed record with its
// classification, which is what keeps iterations isolated.
func (r *Runner) runIteration(ctx context.Context, sem *Semaphore, batchRunID uuid.UUID, index int, p provider.Provider, prompt string) datatypes.IterationRecord {
	if err := sem.Acquire(ctx); err != nil {
		// Batch cancelled before this iteration was dispatched.
		return r.failedRecord(ctx, batchRunID, index, 0, err)
	}
	defer sem.Release()

	start := time.Now()
	resp, err := p.Invoke(ctx, prompt)
	elapsed := time.Since(start)

	if err != nil {
		kind := provider.Classify(err)
		switch kind {
		case provider.KindAuthFailed:
			r.logger.Error("iteration auth error", "index", index, "error", err)
		default:
			r.logger.Warn("iteration failed", "index", index, "kind", kind, "error", err)
		}
		return r.failedRecord(ctx, batchRunID, index, elapsed, err)
	}

	latency := resp.Latency
	if latency == 0 {
		latency = elapsed
	}
	if r.metrics != nil {
		r.metrics.RecordIteration(ctx, "success", latency.Seconds())
	}

	return datatypes.IterationRecord{
		BatchRunID: batchRunID,
		Index:      index,
		Success:    true,
		LatencyMS:  float64(latency.Microseconds()) / 1000.0,
		Response:   resp.Text,
		Citations:  resp.Citations,
	}
}

func (r *Runner) failedRecord(ctx context.Context, batchRunID uuid.UUID, index int, latency time.Duration, err error) datatypes.IterationRecord {
	kind := provider.Classify(err)
	if r.metrics != nil {
		r.metrics.RecordIteration(ctx, string(kind), latency.Seconds())
	}
	return datatypes.IterationRecord{
		BatchRunID:   batchRunID,
		Index:        index,
		Success:      false,
		LatencyMS:    float64(latency.Microseconds()) / 1000.0,
		ErrorClass:   string(kind),
		ErrorMessage: err.Error(),
	}
}
