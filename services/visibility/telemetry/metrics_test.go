// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersAllInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)
	require.NotNil(t, m.BatchesTotal)
	require.NotNil(t, m.IterationsTotal)
	require.NotNil(t, m.IterationLatency)
	require.NotNil(t, m.BatchDuration)
	require.NotNil(t, m.QuotaRefundsTotal)
}

func TestRecordIteration(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	m, err := NewMetrics(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	m.RecordIteration(ctx, "success", 0.25)
	m.RecordIteration(ctx, "rate_limited", 0.1)
	m.RecordBatch(ctx, "completed")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	names := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metricData := range sm.Metrics {
			names[metricData.Name] = true
		}
	}
	assert.True(t, names["visibility_iterations_total"])
	assert.True(t, names["visibility_iteration_latency_seconds"])
	assert.True(t, names["visibility_batches_total"])
}
