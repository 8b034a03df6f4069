// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads the worker configuration from YAML, applies
// environment overrides for secrets, and validates the result.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full worker configuration.
type Config struct {
	Worker    WorkerConfig    `yaml:"worker"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Providers ProvidersConfig `yaml:"providers"`
}

// WorkerConfig tunes the poll loop and the batch runner.
type WorkerConfig struct {
	// PollInterval is how often the worker sweeps for pending
	// experiments.
	PollInterval time.Duration `yaml:"poll_interval" validate:"min=0"`

	// MaxConcurrency bounds in-flight provider calls per batch.
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=0,max=128"`

	// MaxIterations rejects oversized experiments.
	MaxIterations int `yaml:"max_iterations" validate:"min=0,max=10000"`

	// RequestTimeout bounds each provider call.
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"min=0"`

	// RetryAttempts is the per-call retry budget for retryable
	// provider errors. 1 means no retries.
	RetryAttempts int `yaml:"retry_attempts" validate:"min=0,max=10"`

	// RateLimitPerSecond throttles provider calls. Zero disables
	// throttling.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" validate:"min=0"`
}

// AnalysisConfig tunes the statistics engine.
type AnalysisConfig struct {
	// PairSampleCap bounds pairwise consistency computations per batch.
	PairSampleCap int `yaml:"pair_sample_cap" validate:"min=0"`
}

// StorageConfig locates the embedded database.
type StorageConfig struct {
	Path       string `yaml:"path"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// LoggingConfig mirrors pkg/logging options.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// ProvidersConfig carries per-provider credentials. API keys are
// normally supplied through the environment, not the file.
type ProvidersConfig struct {
	OpenAI     ProviderCredentials `yaml:"openai"`
	Perplexity ProviderCredentials `yaml:"perplexity"`
}

// ProviderCredentials is one provider's connection settings.
type ProviderCredentials struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Worker: WorkerConfig{
			PollInterval:   5 * time.Second,
			MaxConcurrency: 10,
			MaxIterations:  100,
			RetryAttempts:  3,
			RequestTimeout: 30 * time.Second,
		},
		Analysis: AnalysisConfig{
			PairSampleCap: 1000,
		},
		Storage: StorageConfig{
			Path:       "~/.echoai/visibility",
			SyncWrites: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config at path, falling back to defaults when path is
// empty. Environment variables OPENAI_API_KEY and PERPLEXITY_API_KEY
// override the file's credentials so keys never have to live on disk.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Providers.OpenAI.APIKey = key
	}
	if key := os.Getenv("PERPLEXITY_API_KEY"); key != "" {
		cfg.Providers.Perplexity.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field consistency.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
