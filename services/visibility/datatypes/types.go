// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the shared domain records of the visibility
// core: experiments, batch runs, and per-iteration results. It has no
// behavior beyond small helpers so that the runner, analysis engine,
// controller, and storage layer can all depend on it without cycles.
package datatypes

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state shared by experiments and batch runs.
// Transitions are strictly forward: pending -> running -> completed|failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ProviderConfig selects and tunes the LLM provider for a batch.
type ProviderConfig struct {
	Name         string  `json:"name"`
	Model        string  `json:"model,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// Experiment is one visibility experiment owned by an external user
// entity. QuotaReserved equals Iterations while the experiment is
// running or finished; it is set atomically with the pending->running
// transition.
type Experiment struct {
	ID               uuid.UUID      `json:"id"`
	OwnerID          uuid.UUID      `json:"owner_id"`
	Prompt           string         `json:"prompt"`
	TargetBrand      string         `json:"target_brand"`
	CompetitorBrands []string       `json:"competitor_brands,omitempty"`
	DomainWhitelist  []string       `json:"domain_whitelist,omitempty"`
	Iterations       int            `json:"iterations"`
	Provider         ProviderConfig `json:"provider"`
	Status           Status         `json:"status"`
	QuotaReserved    int            `json:"quota_reserved"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Brands returns the tracked brand list with the target first.
func (e *Experiment) Brands() []string {
	brands := make([]string, 0, 1+len(e.CompetitorBrands))
	brands = append(brands, e.TargetBrand)
	brands = append(brands, e.CompetitorBrands...)
	return brands
}

// BatchRun is one provider-execution attempt of an experiment. Metrics
// holds the analysis output as an opaque JSON blob once finalized.
type BatchRun struct {
	ID                   uuid.UUID       `json:"id"`
	ExperimentID         uuid.UUID       `json:"experiment_id"`
	Provider             string          `json:"provider"`
	Model                string          `json:"model"`
	Status               Status          `json:"status"`
	StartedAt            time.Time       `json:"started_at"`
	CompletedAt          time.Time       `json:"completed_at,omitzero"`
	DurationMS           float64         `json:"duration_ms,omitempty"`
	TotalIterations      int             `json:"total_iterations"`
	SuccessfulIterations int             `json:"successful_iterations"`
	FailedIterations     int             `json:"failed_iterations"`
	Metrics              json.RawMessage `json:"metrics,omitempty"`
}

// Mention is one brand occurrence inside a response, identified by the
// byte offset of the match.
type Mention struct {
	Brand  string `json:"brand"`
	Offset int    `json:"offset"`
}

// IterationRecord is the outcome of one simulated call. Index is the
// stable identity (0..N-1) independent of completion order. A failed
// record always carries an ErrorClass; a successful one never does.
type IterationRecord struct {
	BatchRunID   uuid.UUID `json:"batch_run_id"`
	Index        int       `json:"iteration_index"`
	Success      bool      `json:"success"`
	LatencyMS    float64   `json:"latency_ms"`
	Response     string    `json:"raw_response,omitempty"`
	Citations    []string  `json:"citations,omitempty"`
	Mentions     []Mention `json:"mentions,omitempty"`
	CitedDomains []string  `json:"cited_domains,omitempty"`
	ErrorClass   string    `json:"error_class,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
