// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package experiment

import (
	"context"

	"github.com/google/uuid"

	"github.com/Hamidph/echo-ai-sub000/services/visibility/datatypes"
)

// Store persists experiments and their batch runs.
//
// StartRun is the critical operation: it must, in one atomic step,
// deduct the owner's quota, move the experiment from pending to
// running, and create the batch run. If any part cannot be satisfied
// the whole step fails and nothing is recorded. Implementations signal
// the standard rejections with ErrQuotaExceeded and ErrAlreadyRunning.
type Store interface {
	// Experiment loads one experiment, or ErrNotFound.
	Experiment(ctx context.Context, id uuid.UUID) (*datatypes.Experiment, error)

	// PendingExperiments lists experiments awaiting execution.
	PendingExperiments(ctx context.Context) ([]datatypes.Experiment, error)

	// StartRun atomically reserves quota, transitions the experiment
	// to running, and persists the new run.
	StartRun(ctx context.Context, exp *datatypes.Experiment, run *datatypes.BatchRun) error

	// SaveIterations persists the per-iteration records of a run.
	SaveIterations(ctx context.Context, runID uuid.UUID, records []datatypes.IterationRecord) error

	// CompleteRun persists the finished run with its metrics and moves
	// the experiment to completed.
	CompleteRun(ctx context.Context, exp *datatypes.Experiment, run *datatypes.BatchRun) error

	// FailRun marks the run and the experiment failed with reason.
	FailRun(ctx context.Context, exp *datatypes.Experiment, run *datatypes.BatchRun, reason string) error
}

// QuotaLedger tracks per-owner iteration quota. Reservation happens
// inside Store.StartRun; the ledger's Refund is the compensation path
// when a started run aborts.
type QuotaLedger interface {
	// Reserve deducts amount from the owner's balance, or returns
	// ErrQuotaExceeded leaving the balance untouched.
	Reserve(ctx context.Context, owner uuid.UUID, amount int) error

	// Refund returns amount to the owner's balance.
	Refund(ctx context.Context, owner uuid.UUID, amount int) error

	// Remaining reports the owner's current balance.
	Remaining(ctx context.Context, owner uuid.UUID) (int, error)
}
