// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package provider defines the LLM provider contract consumed by the
// batch runner, the classified failure taxonomy, and the concrete
// adapters (OpenAI, Perplexity) plus retry and rate-limit decorators.
//
// Every adapter must classify every failure into one of the Kind
// values before it reaches the runner, enforce a bounded per-call
// timeout, and keep no shared mutable state between calls.
package provider

import (
	"context"
	"time"
)

// DefaultTimeout bounds a single provider call when Params.Timeout is
// unset.
const DefaultTimeout = 30 * time.Second

// Usage reports token accounting for one call, when the provider
// returns it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is one classified successful outcome.
type Response struct {
	// Text is the model's response content.
	Text string

	// Citations are source URLs for web-grounded providers. Empty for
	// providers without citation support.
	Citations []string

	// Model is the model that actually served the call.
	Model string

	// Latency is the wall-clock round-trip time.
	Latency time.Duration

	Usage Usage
}

// Params tunes generation. The zero value uses provider defaults.
type Params struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string

	// Timeout bounds each call. Zero means DefaultTimeout.
	Timeout time.Duration
}

func (p Params) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return DefaultTimeout
}

// Provider turns one prompt into one classified outcome. Implementations
// must be safe for concurrent use; the runner drives many calls at once.
type Provider interface {
	// Invoke executes one call. The returned error, if non-nil, is
	// always a *Error carrying a Kind classification.
	Invoke(ctx context.Context, prompt string) (*Response, error)

	// Name identifies the provider ("openai", "perplexity").
	Name() string
}
