// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// retryInitialInterval is the first backoff delay. Overridden in tests.
var retryInitialInterval = 2 * time.Second

// retryingProvider retries rate-limited and transient failures with
// exponential backoff. Retry lives here, outside the batch runner, so
// the runner stays retry-free per its contract.
type retryingProvider struct {
	inner       Provider
	maxAttempts uint64
	logger      *slog.Logger
}

// WithRetry wraps p with exponential-backoff retries (2s initial, 60s
// cap) for retryable failures. maxAttempts counts the first call;
// values below 1 mean no retries.
func WithRetry(p Provider, maxAttempts int, logger *slog.Logger) Provider {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingProvider{inner: p, maxAttempts: uint64(maxAttempts), logger: logger}
}

func (r *retryingProvider) Name() string { return r.inner.Name() }

func (r *retryingProvider) Invoke(ctx context.Context, prompt string) (*Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = 60 * time.Second

	attempt := 0
	return backoff.RetryWithData(func() (*Response, error) {
		attempt++
		resp, err := r.inner.Invoke(ctx, prompt)
		if err == nil {
			return resp, nil
		}
		if !Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		r.logger.Warn("provider call failed, retrying",
			"provider", r.inner.Name(),
			"attempt", attempt,
			"kind", Classify(err),
			"error", err)
		return nil, err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, r.maxAttempts-1), ctx))
}

// pacedProvider spaces calls with a token bucket so a large batch does
// not burst straight into the provider's rate limit.
type pacedProvider struct {
	inner   Provider
	limiter *rate.Limiter
}

// WithRateLimit wraps p with client-side pacing at rps requests per
// second and the given burst. rps <= 0 returns p unchanged.
func WithRateLimit(p Provider, rps float64, burst int) Provider {
	if rps <= 0 {
		return p
	}
	if burst < 1 {
		burst = 1
	}
	return &pacedProvider{inner: p, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (p *pacedProvider) Name() string { return p.inner.Name() }

func (p *pacedProvider) Invoke(ctx context.Context, prompt string) (*Response, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, newError(KindTransient, p.inner.Name(), err)
	}
	return p.inner.Invoke(ctx, prompt)
}
