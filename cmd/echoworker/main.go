// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command echoworker runs the brand-visibility experiment worker.
//
// The worker polls the local store for pending experiments, executes
// each one as a batch of repeated LLM calls, analyzes the responses,
// and persists the metrics. Companion subcommands manage experiments
// and quota from the same store.
//
// Usage:
//
//	echoworker run
//	echoworker run --once
//	echoworker experiment create --prompt "best CRM?" --target-brand Acme --iterations 50
//	echoworker experiment show <experiment-id>
//	echoworker quota set <owner-id> 1000
//
// API keys come from the environment (OPENAI_API_KEY,
// PERPLEXITY_API_KEY) or the config file.
package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Hamidph/echo-ai-sub000/pkg/logging"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/config"
)

var (
	cfgPath string
	cfg     config.Config
	logger  *logging.Logger

	rootCmd = &cobra.Command{
		Use:   "echoworker",
		Short: "Run and manage LLM brand-visibility experiments",
		Long: `echoworker executes brand-visibility experiments: the same prompt is
sent to an LLM provider many times, the responses are analyzed for brand
mentions, share of voice, answer consistency, and citation validity, and
the resulting metrics are stored locally.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgPath)
			if err != nil {
				return err
			}

			logger, err = logging.New(logging.Config{
				Level:   logging.ParseLevel(cfg.Logging.Level),
				LogDir:  cfg.Logging.Dir,
				Service: "echoworker",
				JSON:    cfg.Logging.JSON,
			})
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Close()
			}
		},
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("echoworker: %v", err)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to the YAML config file (defaults apply when empty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(experimentCmd)
	rootCmd.AddCommand(quotaCmd)
}

// storagePath resolves the configured database directory, expanding a
// leading "~".
func storagePath() (string, error) {
	path := cfg.Storage.Path
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path, nil
}
