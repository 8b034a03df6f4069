// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package telemetry holds the pre-registered OpenTelemetry instruments
// for the visibility core. All metrics use the "visibility_" prefix.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics contains the instruments recorded by the runner and the
// lifecycle controller.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// BatchesTotal counts finished batches by terminal status.
	BatchesTotal metric.Int64Counter

	// BatchDuration records total batch wall time in seconds.
	BatchDuration metric.Float64Histogram

	// IterationsTotal counts iterations by outcome ("success" or an
	// error class).
	IterationsTotal metric.Int64Counter

	// IterationLatency records per-iteration provider latency in
	// seconds.
	IterationLatency metric.Float64Histogram

	// QuotaRefundsTotal counts refunded quota units.
	QuotaRefundsTotal metric.Int64Counter
}

// NewMetrics registers all instruments with the provided meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.BatchesTotal, err = meter.Int64Counter(
		"visibility_batches_total",
		metric.WithDescription("Finished batch runs by status"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create batches_total: %w", err)
	}

	m.BatchDuration, err = meter.Float64Histogram(
		"visibility_batch_duration_seconds",
		metric.WithDescription("Batch execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create batch_duration: %w", err)
	}

	m.IterationsTotal, err = meter.Int64Counter(
		"visibility_iterations_total",
		metric.WithDescription("Iterations by outcome"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create iterations_total: %w", err)
	}

	m.IterationLatency, err = meter.Float64Histogram(
		"visibility_iteration_latency_seconds",
		metric.WithDescription("Per-iteration provider latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create iteration_latency: %w", err)
	}

	m.QuotaRefundsTotal, err = meter.Int64Counter(
		"visibility_quota_refunds_total",
		metric.WithDescription("Quota units refunded after aborted batches"),
		metric.WithUnit("{unit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create quota_refunds_total: %w", err)
	}

	return m, nil
}

// RecordIteration records one resolved iteration.
func (m *Metrics) RecordIteration(ctx context.Context, outcome string, latencySeconds float64) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.IterationsTotal.Add(ctx, 1, attrs)
	if latencySeconds > 0 {
		m.IterationLatency.Record(ctx, latencySeconds, attrs)
	}
}

// RecordRefund records quota units returned after an aborted batch.
func (m *Metrics) RecordRefund(ctx context.Context, units int) {
	if units > 0 {
		m.QuotaRefundsTotal.Add(ctx, int64(units))
	}
}

// RecordBatch records one finished batch by terminal status.
func (m *Metrics) RecordBatch(ctx context.Context, status string) {
	m.BatchesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
