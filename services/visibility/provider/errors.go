// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind classifies a provider failure. Every error that leaves this
// package carries exactly one Kind.
type Kind string

const (
	// KindRateLimited means the provider rejected the call with a rate
	// limit (HTTP 429). Retryable.
	KindRateLimited Kind = "rate_limited"

	// KindAuthFailed means authentication or authorization failed
	// (HTTP 401/403). Not retryable.
	KindAuthFailed Kind = "auth_failed"

	// KindTransient covers server-side failures (HTTP 5xx) and network
	// errors. Retryable.
	KindTransient Kind = "transient"

	// KindMalformed means the request or the provider's response was
	// structurally invalid (HTTP 4xx other than auth/rate, or an
	// unparseable body). Not retryable.
	KindMalformed Kind = "malformed"

	// KindTimeout means the bounded per-call timeout elapsed.
	KindTimeout Kind = "timeout"
)

// Error is the classified provider failure the runner records.
type Error struct {
	Kind     Kind
	Provider string

	// StatusCode is the HTTP status, when one was received.
	StatusCode int

	// RetryAfter is the provider's requested backoff, when given.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Provider, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newError builds a classified error, folding context expiry into
// KindTimeout so callers see one consistent class for slow calls.
func newError(kind Kind, providerName string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Provider: providerName, Err: err}
}

// Classify returns the Kind of err. Unclassified errors (which should
// not escape an adapter) count as transient, matching how the runner
// records unexpected failures.
func Classify(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransient
}

// Retryable reports whether err is worth retrying: rate limits and
// transient server failures only. Auth and malformed failures never
// heal on retry, and timeouts already consumed the caller's patience.
func Retryable(err error) bool {
	switch Classify(err) {
	case KindRateLimited, KindTransient:
		return true
	default:
		return false
	}
}

// classifyStatus maps an HTTP status code to a Kind.
func classifyStatus(status int) Kind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindAuthFailed
	case status >= 500:
		return KindTransient
	default:
		return KindMalformed
	}
}
