// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Hamidph/echo-ai-sub000/services/visibility/datatypes"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/storage/badgerstore"
)

var (
	createPrompt      string
	createTarget      string
	createCompetitors []string
	createWhitelist   []string
	createIterations  int
	createProvider    string
	createModel       string
	createOwner       string

	experimentCmd = &cobra.Command{
		Use:   "experiment",
		Short: "Manage visibility experiments",
	}
	experimentCreateCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a pending experiment for the worker to pick up",
		RunE:  runExperimentCreate,
	}
	experimentShowCmd = &cobra.Command{
		Use:   "show [experiment-id]",
		Short: "Print an experiment as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runExperimentShow,
	}
	experimentListCmd = &cobra.Command{
		Use:   "list",
		Short: "List pending experiments",
		RunE:  runExperimentList,
	}
	experimentResultsCmd = &cobra.Command{
		Use:   "results [run-id]",
		Short: "Print a batch run's metrics and iteration records",
		Args:  cobra.ExactArgs(1),
		RunE:  runExperimentResults,
	}

	quotaCmd = &cobra.Command{
		Use:   "quota",
		Short: "Manage per-owner iteration quota",
	}
	quotaSetCmd = &cobra.Command{
		Use:   "set [owner-id] [units]",
		Short: "Provision an owner's quota balance",
		Args:  cobra.ExactArgs(2),
		RunE:  runQuotaSet,
	}
	quotaShowCmd = &cobra.Command{
		Use:   "show [owner-id]",
		Short: "Print an owner's remaining quota",
		Args:  cobra.ExactArgs(1),
		RunE:  runQuotaShow,
	}
)

func init() {
	experimentCreateCmd.Flags().StringVar(&createPrompt, "prompt", "", "prompt sent to the provider on every iteration")
	experimentCreateCmd.Flags().StringVar(&createTarget, "target-brand", "", "brand whose visibility is measured")
	experimentCreateCmd.Flags().StringSliceVar(&createCompetitors, "competitor", nil, "competitor brand (repeatable)")
	experimentCreateCmd.Flags().StringSliceVar(&createWhitelist, "whitelist-domain", nil, "domain treated as a valid citation source (repeatable)")
	experimentCreateCmd.Flags().IntVar(&createIterations, "iterations", 50, "number of independent provider calls")
	experimentCreateCmd.Flags().StringVar(&createProvider, "provider", "openai", "provider name (openai, perplexity)")
	experimentCreateCmd.Flags().StringVar(&createModel, "model", "", "provider model override")
	experimentCreateCmd.Flags().StringVar(&createOwner, "owner", "", "owner UUID (generated when empty)")
	_ = experimentCreateCmd.MarkFlagRequired("prompt")
	_ = experimentCreateCmd.MarkFlagRequired("target-brand")

	experimentCmd.AddCommand(experimentCreateCmd)
	experimentCmd.AddCommand(experimentShowCmd)
	experimentCmd.AddCommand(experimentListCmd)
	experimentCmd.AddCommand(experimentResultsCmd)
	quotaCmd.AddCommand(quotaSetCmd)
	quotaCmd.AddCommand(quotaShowCmd)
}

// openStore opens the configured store for a one-shot CLI operation.
func openStore() (*badgerstore.Store, error) {
	path, err := storagePath()
	if err != nil {
		return nil, err
	}
	storeCfg := badgerstore.DefaultConfig(path)
	storeCfg.SyncWrites = cfg.Storage.SyncWrites
	storeCfg.GCInterval = 0
	storeCfg.Logger = logger.Logger
	return badgerstore.Open(storeCfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runExperimentCreate(cmd *cobra.Command, _ []string) error {
	owner := uuid.New()
	if createOwner != "" {
		var err error
		owner, err = uuid.Parse(createOwner)
		if err != nil {
			return fmt.Errorf("invalid owner id: %w", err)
		}
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	exp := &datatypes.Experiment{
		OwnerID:          owner,
		Prompt:           createPrompt,
		TargetBrand:      createTarget,
		CompetitorBrands: createCompetitors,
		DomainWhitelist:  createWhitelist,
		Iterations:       createIterations,
		Provider: datatypes.ProviderConfig{
			Name:  createProvider,
			Model: createModel,
		},
	}
	if err := store.CreateExperiment(cmd.Context(), exp); err != nil {
		return err
	}

	fmt.Printf("created experiment %s (owner %s)\n", exp.ID, exp.OwnerID)
	return nil
}

func runExperimentShow(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid experiment id: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	exp, err := store.Experiment(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printJSON(exp)
}

func runExperimentList(cmd *cobra.Command, _ []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	pending, err := store.PendingExperiments(cmd.Context())
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("no pending experiments")
		return nil
	}
	return printJSON(pending)
}

func runExperimentResults(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid run id: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.BatchRun(cmd.Context(), id)
	if err != nil {
		return err
	}
	records, err := store.Iterations(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printJSON(struct {
		Run        *datatypes.BatchRun         `json:"run"`
		Iterations []datatypes.IterationRecord `json:"iterations"`
	}{run, records})
}

func runQuotaSet(cmd *cobra.Command, args []string) error {
	owner, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid owner id: %w", err)
	}
	units, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid quota amount: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SetQuota(cmd.Context(), owner, units); err != nil {
		return err
	}
	fmt.Printf("quota for %s set to %d\n", owner, units)
	return nil
}

func runQuotaShow(cmd *cobra.Command, args []string) error {
	owner, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid owner id: %w", err)
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	remaining, err := store.Remaining(cmd.Context(), owner)
	if err != nil {
		return err
	}
	fmt.Printf("%d\n", remaining)
	return nil
}
