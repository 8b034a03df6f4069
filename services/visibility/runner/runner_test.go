// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hamidph/echo-ai-sub000/services/visibility/datatypes"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/provider"
)

// fakeProvider resolves every call through fn.
type fakeProvider struct {
	fn func(ctx context.Context, index int64) (*provider.Response, error)

	calls atomic.Int64
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Invoke(ctx context.Context, prompt string) (*provider.Response, error) {
	n := f.calls.Add(1)
	return f.fn(ctx, n-1)
}

func TestRunBatch_AllIterationsAttemptedOnce(t *testing.T) {
	p := &fakeProvider{fn: func(ctx context.Context, _ int64) (*provider.Response, error) {
		return &provider.Response{Text: "hello", Latency: time.Millisecond}, nil
	}}

	r := New(nil, nil)
	result, err := r.RunBatch(context.Background(), uuid.New(), p, "prompt", Config{Iterations: 25})
	require.NoError(t, err)

	assert.Equal(t, int64(25), p.calls.Load())
	assert.Equal(t, 25, result.Successes)
	assert.Zero(t, result.Failures)
	require.Len(t, result.Records, 25)

	// Index i lives at slot i regardless of completion order.
	for i, rec := range result.Records {
		assert.Equal(t, i, rec.Index)
		assert.True(t, rec.Success)
		assert.Equal(t, "hello", rec.Response)
	}
}

func TestRunBatch_ConcurrencyNeverExceedsPermitPool(t *testing.T) {
	const iterations = 50
	const limit = 10

	var inFlight, peak atomic.Int64
	release := make(chan struct{})

	p := &fakeProvider{fn: func(ctx context.Context, _ int64) (*provider.Response, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		// Block until the test releases all calls, forcing maximum
		// possible overlap.
		<-release
		return &provider.Response{Text: "ok"}, nil
	}}

	r := New(nil, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var result *Result
	var runErr error
	go func() {
		defer wg.Done()
		result, runErr = r.RunBatch(context.Background(), uuid.New(), p, "q", Config{
			Iterations:     iterations,
			MaxConcurrency: limit,
		})
	}()

	// Give the runner time to saturate the permit pool.
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, inFlight.Load(), int64(limit))
	close(release)
	wg.Wait()

	require.NoError(t, runErr)
	assert.Equal(t, iterations, result.Successes)
	assert.LessOrEqual(t, peak.Load(), int64(limit), "permit pool must bound in-flight calls")
	assert.Equal(t, int64(limit), peak.Load(), "pool should saturate under a blocked provider")
}

func TestRunBatch_FailureIsolation(t *testing.T) {
	// Iterations at odd dispatch order fail; the rest succeed.
	p := &fakeProvider{fn: func(ctx context.Context, n int64) (*provider.Response, error) {
		if n%2 == 1 {
			return nil, &provider.Error{Kind: provider.KindTransient, Provider: "fake", Err: errors.New("502")}
		}
		return &provider.Response{Text: "fine"}, nil
	}}

	r := New(nil, nil)
	result, err := r.RunBatch(context.Background(), uuid.New(), p, "q", Config{Iterations: 10})
	require.NoError(t, err)

	assert.Equal(t, 5, result.Successes)
	assert.Equal(t, 5, result.Failures)

	for _, rec := range result.Records {
		if rec.Success {
			assert.Empty(t, rec.ErrorClass)
			continue
		}
		// A failed record always carries a classification.
		assert.Equal(t, string(provider.KindTransient), rec.ErrorClass)
		assert.NotEmpty(t, rec.ErrorMessage)
		assert.Empty(t, rec.Response)
	}
}

func TestRunBatch_SevenOfTenScenario(t *testing.T) {
	// 7 succeed mentioning the brand, 3 fail transient; the batch
	// still resolves fully with a failure count, never an error.
	var failed atomic.Int64
	p := &fakeProvider{fn: func(ctx context.Context, n int64) (*provider.Response, error) {
		if n < 3 {
			failed.Add(1)
			return nil, &provider.Error{Kind: provider.KindTransient, Provider: "fake", Err: errors.New("boom")}
		}
		return &provider.Response{Text: "Acme is the clear leader."}, nil
	}}

	r := New(nil, nil)
	result, err := r.RunBatch(context.Background(), uuid.New(), p, "q", Config{Iterations: 10, MaxConcurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 7, result.Successes)
	assert.Equal(t, 3, result.Failures)
}

func TestRunBatch_CancellationStopsNewDispatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	p := &fakeProvider{fn: func(ctx context.Context, _ int64) (*provider.Response, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		// In-flight calls are allowed to finish naturally.
		<-release
		return &provider.Response{Text: "late but fine"}, nil
	}}

	r := New(nil, nil)

	done := make(chan *Result, 1)
	go func() {
		result, err := r.RunBatch(ctx, uuid.New(), p, "q", Config{Iterations: 20, MaxConcurrency: 1})
		require.NoError(t, err)
		done <- result
	}()

	<-started
	cancel()
	close(release)
	result := <-done

	// The one in-flight call completed; everything not yet dispatched
	// was recorded as failed, not silently dropped.
	assert.Equal(t, 20, len(result.Records))
	assert.GreaterOrEqual(t, result.Failures, 1)
	assert.Equal(t, 20, result.Successes+result.Failures)
	for _, rec := range result.Records {
		if !rec.Success {
			assert.NotEmpty(t, rec.ErrorClass)
		}
	}
}

func TestRunBatch_ProgressCallback(t *testing.T) {
	p := &fakeProvider{fn: func(ctx context.Context, _ int64) (*provider.Response, error) {
		return &provider.Response{Text: "ok"}, nil
	}}

	var mu sync.Mutex
	var seen []int
	r := New(nil, nil)
	_, err := r.RunBatch(context.Background(), uuid.New(), p, "q", Config{
		Iterations: 5,
		OnProgress: func(completed, total int, rec *datatypes.IterationRecord) {
			mu.Lock()
			seen = append(seen, completed)
			mu.Unlock()
			assert.Equal(t, 5, total)
		},
	})
	require.NoError(t, err)
	assert.Len(t, seen, 5)
}

func TestRunBatch_RejectsZeroIterations(t *testing.T) {
	r := New(nil, nil)
	_, err := r.RunBatch(context.Background(), uuid.New(), &fakeProvider{}, "q", Config{Iterations: 0})
	assert.Error(t, err)
}
