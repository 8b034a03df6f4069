// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hamidph/echo-ai-sub000/services/visibility/datatypes"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/experiment"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func storedExperiment(t *testing.T, s *Store, owner uuid.UUID, iterations int) *datatypes.Experiment {
	t.Helper()
	exp := &datatypes.Experiment{
		OwnerID:     owner,
		Prompt:      "What is the best CRM?",
		TargetBrand: "Acme",
		Iterations:  iterations,
		Provider:    datatypes.ProviderConfig{Name: "openai", Model: "gpt-4o-mini"},
	}
	require.NoError(t, s.CreateExperiment(context.Background(), exp))
	return exp
}

func newRun(exp *datatypes.Experiment) *datatypes.BatchRun {
	return &datatypes.BatchRun{
		ID:              uuid.New(),
		ExperimentID:    exp.ID,
		Provider:        exp.Provider.Name,
		Model:           exp.Provider.Model,
		Status:          datatypes.StatusRunning,
		StartedAt:       time.Now().UTC(),
		TotalIterations: exp.Iterations,
	}
}

func TestCreateAndLoadExperiment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	exp := storedExperiment(t, s, uuid.New(), 10)

	loaded, err := s.Experiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.ID, loaded.ID)
	assert.Equal(t, datatypes.StatusPending, loaded.Status)
	assert.Equal(t, "Acme", loaded.TargetBrand)
	assert.False(t, loaded.CreatedAt.IsZero())
}

func TestExperiment_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Experiment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, experiment.ErrNotFound)
}

func TestStartRun_DeductsQuotaAndTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	require.NoError(t, s.SetQuota(ctx, owner, 100))

	exp := storedExperiment(t, s, owner, 30)
	run := newRun(exp)
	require.NoError(t, s.StartRun(ctx, exp, run))

	assert.Equal(t, datatypes.StatusRunning, exp.Status)
	assert.Equal(t, 30, exp.QuotaReserved)

	remaining, err := s.Remaining(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 70, remaining)

	loaded, err := s.Experiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusRunning, loaded.Status)

	storedRun, err := s.BatchRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, exp.ID, storedRun.ExperimentID)
}

func TestStartRun_InsufficientQuotaChangesNothing(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	require.NoError(t, s.SetQuota(ctx, owner, 50))

	exp := storedExperiment(t, s, owner, 80)
	run := newRun(exp)

	err := s.StartRun(ctx, exp, run)
	require.ErrorIs(t, err, experiment.ErrQuotaExceeded)

	remaining, _ := s.Remaining(ctx, owner)
	assert.Equal(t, 50, remaining)

	loaded, err := s.Experiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusPending, loaded.Status)

	_, err = s.BatchRun(ctx, run.ID)
	assert.ErrorIs(t, err, experiment.ErrNotFound)
}

func TestStartRun_SecondStartRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	require.NoError(t, s.SetQuota(ctx, owner, 100))

	exp := storedExperiment(t, s, owner, 10)
	require.NoError(t, s.StartRun(ctx, exp, newRun(exp)))

	err := s.StartRun(ctx, exp, newRun(exp))
	require.ErrorIs(t, err, experiment.ErrAlreadyRunning)

	remaining, _ := s.Remaining(ctx, owner)
	assert.Equal(t, 90, remaining, "second start must not deduct")
}

func TestStartRun_UnknownOwnerHasZeroQuota(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	exp := storedExperiment(t, s, uuid.New(), 1)
	err := s.StartRun(ctx, exp, newRun(exp))
	assert.ErrorIs(t, err, experiment.ErrQuotaExceeded)
}

func TestSaveAndLoadIterations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID := uuid.New()

	records := []datatypes.IterationRecord{
		{BatchRunID: runID, Index: 0, Success: true, Response: "Acme wins"},
		{BatchRunID: runID, Index: 1, Success: false, ErrorClass: "transient", ErrorMessage: "boom"},
		{BatchRunID: runID, Index: 2, Success: true, Response: "Acme again", Citations: []string{"https://acme.com"}},
	}
	require.NoError(t, s.SaveIterations(ctx, runID, records))

	loaded, err := s.Iterations(ctx, runID)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, rec := range loaded {
		assert.Equal(t, i, rec.Index, "records come back in index order")
	}
	assert.False(t, loaded[1].Success)
	assert.Equal(t, "transient", loaded[1].ErrorClass)
}

func TestSaveIterations_FullBatchCommitsTogether(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	runID := uuid.New()

	// A batch at the controller's iteration cap goes through a single
	// transaction, so a reader sees all records or none.
	records := make([]datatypes.IterationRecord, 100)
	for i := range records {
		records[i] = datatypes.IterationRecord{
			BatchRunID: runID,
			Index:      i,
			Success:    true,
			Response:   "Acme",
		}
	}
	require.NoError(t, s.SaveIterations(ctx, runID, records))

	loaded, err := s.Iterations(ctx, runID)
	require.NoError(t, err)
	require.Len(t, loaded, 100)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	otherRun := uuid.New()
	require.Error(t, s.SaveIterations(cancelled, otherRun, records))

	loaded, err = s.Iterations(ctx, otherRun)
	require.NoError(t, err)
	assert.Empty(t, loaded, "a rejected save persists nothing")
}

func TestCompleteRun_SettlesExperimentAndRun(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	require.NoError(t, s.SetQuota(ctx, owner, 100))

	exp := storedExperiment(t, s, owner, 10)
	run := newRun(exp)
	require.NoError(t, s.StartRun(ctx, exp, run))

	run.Status = datatypes.StatusCompleted
	run.CompletedAt = time.Now().UTC()
	run.SuccessfulIterations = 9
	run.FailedIterations = 1
	require.NoError(t, s.CompleteRun(ctx, exp, run))

	loadedExp, err := s.Experiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, loadedExp.Status)

	loadedRun, err := s.BatchRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, loadedRun.Status)
	assert.Equal(t, 9, loadedRun.SuccessfulIterations)

	remaining, _ := s.Remaining(ctx, owner)
	assert.Equal(t, 90, remaining, "completed run keeps its reservation")
}

func TestFailRun_RecordsReason(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	require.NoError(t, s.SetQuota(ctx, owner, 100))

	exp := storedExperiment(t, s, owner, 10)
	run := newRun(exp)
	require.NoError(t, s.StartRun(ctx, exp, run))

	require.NoError(t, s.FailRun(ctx, exp, run, "provider exploded"))

	loadedExp, err := s.Experiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusFailed, loadedExp.Status)
	assert.Equal(t, "provider exploded", loadedExp.ErrorMessage)

	loadedRun, err := s.BatchRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusFailed, loadedRun.Status)
	assert.False(t, loadedRun.CompletedAt.IsZero())
}

func TestFailRun_CannotOverwriteCompletedExperiment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	require.NoError(t, s.SetQuota(ctx, owner, 100))

	exp := storedExperiment(t, s, owner, 10)
	run := newRun(exp)
	require.NoError(t, s.StartRun(ctx, exp, run))

	run.Status = datatypes.StatusCompleted
	run.CompletedAt = time.Now().UTC()
	require.NoError(t, s.CompleteRun(ctx, exp, run))

	err := s.FailRun(ctx, exp, run, "late abort")
	require.Error(t, err, "terminal experiments are immutable")

	loadedExp, err := s.Experiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, loadedExp.Status)
	assert.Empty(t, loadedExp.ErrorMessage)

	loadedRun, err := s.BatchRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, loadedRun.Status)
}

func TestCompleteRun_CannotResurrectFailedExperiment(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	require.NoError(t, s.SetQuota(ctx, owner, 100))

	exp := storedExperiment(t, s, owner, 10)
	run := newRun(exp)
	require.NoError(t, s.StartRun(ctx, exp, run))
	require.NoError(t, s.FailRun(ctx, exp, run, "provider exploded"))

	err := s.CompleteRun(ctx, exp, run)
	require.Error(t, err)

	loadedExp, err := s.Experiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusFailed, loadedExp.Status)
}

func TestPendingExperiments_FiltersAndOrders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	require.NoError(t, s.SetQuota(ctx, owner, 100))

	older := storedExperiment(t, s, owner, 5)
	time.Sleep(time.Millisecond)
	newer := storedExperiment(t, s, owner, 5)
	started := storedExperiment(t, s, owner, 5)
	require.NoError(t, s.StartRun(ctx, started, newRun(started)))

	pending, err := s.PendingExperiments(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, older.ID, pending[0].ID, "oldest first")
	assert.Equal(t, newer.ID, pending[1].ID)
}

func TestQuotaLedger_ReserveRefundRemaining(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	require.NoError(t, s.SetQuota(ctx, owner, 40))

	require.NoError(t, s.Reserve(ctx, owner, 25))
	remaining, err := s.Remaining(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 15, remaining)

	err = s.Reserve(ctx, owner, 20)
	assert.ErrorIs(t, err, experiment.ErrQuotaExceeded)

	require.NoError(t, s.Refund(ctx, owner, 25))
	remaining, _ = s.Remaining(ctx, owner)
	assert.Equal(t, 40, remaining)
}

func TestQuota_UnknownOwnerIsZero(t *testing.T) {
	s := openTestStore(t)

	remaining, err := s.Remaining(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Zero(t, remaining)
}
