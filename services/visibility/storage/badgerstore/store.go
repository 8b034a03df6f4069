// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Hamidph/echo-ai-sub000/services/visibility/datatypes"
	"github.com/Hamidph/echo-ai-sub000/services/visibility/experiment"
)

var (
	_ experiment.Store       = (*Store)(nil)
	_ experiment.QuotaLedger = (*Store)(nil)
)

func expKey(id uuid.UUID) []byte {
	return []byte("exp:" + id.String())
}

func runKey(id uuid.UUID) []byte {
	return []byte("run:" + id.String())
}

func iterKey(runID uuid.UUID, index int) []byte {
	// Zero-padded so iteration keys sort in index order.
	return []byte(fmt.Sprintf("iter:%s:%08d", runID, index))
}

var expPrefix = []byte("exp:")

// CreateExperiment persists a new experiment in the pending state.
func (s *Store) CreateExperiment(ctx context.Context, exp *datatypes.Experiment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if exp.ID == uuid.Nil {
		exp.ID = uuid.New()
	}
	if exp.Status == "" {
		exp.Status = datatypes.StatusPending
	}
	now := time.Now().UTC()
	if exp.CreatedAt.IsZero() {
		exp.CreatedAt = now
	}
	exp.UpdatedAt = now

	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(expKey(exp.ID)); err == nil {
			return fmt.Errorf("experiment %s already exists", exp.ID)
		}
		return setJSON(txn, expKey(exp.ID), exp)
	})
}

// Experiment loads one experiment, or experiment.ErrNotFound.
func (s *Store) Experiment(ctx context.Context, id uuid.UUID) (*datatypes.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var exp datatypes.Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, expKey(id), &exp)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", experiment.ErrNotFound, id)
		}
		return nil, err
	}
	return &exp, nil
}

// PendingExperiments scans all experiments and returns the pending
// ones, oldest first.
func (s *Store) PendingExperiments(ctx context.Context) ([]datatypes.Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []datatypes.Experiment
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = expPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var exp datatypes.Experiment
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &exp)
			}); err != nil {
				return fmt.Errorf("decode experiment %s: %w", it.Item().Key(), err)
			}
			if exp.Status == datatypes.StatusPending {
				out = append(out, exp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// StartRun atomically deducts quota, moves the experiment from pending
// to running, and persists the run. All three happen in one BadgerDB
// transaction; a conflicting concurrent start loses the commit race
// and surfaces as experiment.ErrAlreadyRunning.
func (s *Store) StartRun(ctx context.Context, exp *datatypes.Experiment, run *datatypes.BatchRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		var stored datatypes.Experiment
		if err := getJSON(txn, expKey(exp.ID), &stored); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", experiment.ErrNotFound, exp.ID)
			}
			return err
		}
		if stored.Status != datatypes.StatusPending {
			return fmt.Errorf("%w: experiment %s is %s", experiment.ErrAlreadyRunning, exp.ID, stored.Status)
		}

		balance, err := quotaBalance(txn, stored.OwnerID)
		if err != nil {
			return err
		}
		if balance < run.TotalIterations {
			return fmt.Errorf("%w: want %d, have %d", experiment.ErrQuotaExceeded, run.TotalIterations, balance)
		}
		if err := setQuotaBalance(txn, stored.OwnerID, balance-run.TotalIterations); err != nil {
			return err
		}

		stored.Status = datatypes.StatusRunning
		stored.QuotaReserved = run.TotalIterations
		stored.UpdatedAt = time.Now().UTC()
		if err := setJSON(txn, expKey(stored.ID), &stored); err != nil {
			return err
		}
		*exp = stored

		return setJSON(txn, runKey(run.ID), run)
	})
	if errors.Is(err, badger.ErrConflict) {
		// Another worker touched the same experiment or ledger entry
		// between our read and commit.
		return fmt.Errorf("%w: experiment %s (commit conflict)", experiment.ErrAlreadyRunning, exp.ID)
	}
	return err
}

// SaveIterations persists all records of a run in one transaction:
// either every record commits or none does, so an aborted finalize
// never leaves a partial record set behind. Batches at the iteration
// cap fit well inside a single badger transaction.
func (s *Store) SaveIterations(ctx context.Context, runID uuid.UUID, records []datatypes.IterationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for i := range records {
			if err := setJSON(txn, iterKey(runID, records[i].Index), &records[i]); err != nil {
				return fmt.Errorf("write iteration %d: %w", records[i].Index, err)
			}
		}
		return nil
	})
}

// Iterations loads the stored records of a run in index order.
func (s *Store) Iterations(ctx context.Context, runID uuid.UUID) ([]datatypes.IterationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := []byte("iter:" + runID.String() + ":")
	var out []datatypes.IterationRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec datatypes.IterationRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("decode iteration %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// BatchRun loads one run, or experiment.ErrNotFound.
func (s *Store) BatchRun(ctx context.Context, id uuid.UUID) (*datatypes.BatchRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var run datatypes.BatchRun
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, runKey(id), &run)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: run %s", experiment.ErrNotFound, id)
		}
		return nil, err
	}
	return &run, nil
}

// CompleteRun persists the finished run and moves its experiment to
// completed.
func (s *Store) CompleteRun(ctx context.Context, exp *datatypes.Experiment, run *datatypes.BatchRun) error {
	return s.settleRun(ctx, exp, run, datatypes.StatusCompleted, "")
}

// FailRun marks the run and its experiment failed with reason.
func (s *Store) FailRun(ctx context.Context, exp *datatypes.Experiment, run *datatypes.BatchRun, reason string) error {
	run.Status = datatypes.StatusFailed
	if run.CompletedAt.IsZero() {
		run.CompletedAt = time.Now().UTC()
	}
	return s.settleRun(ctx, exp, run, datatypes.StatusFailed, reason)
}

// settleRun moves a running experiment and its run into a terminal
// state. A settle against an already-terminal experiment is rejected
// inside the transaction, so completed can never flip to failed.
func (s *Store) settleRun(ctx context.Context, exp *datatypes.Experiment, run *datatypes.BatchRun, status datatypes.Status, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		var stored datatypes.Experiment
		if err := getJSON(txn, expKey(exp.ID), &stored); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", experiment.ErrNotFound, exp.ID)
			}
			return err
		}
		if stored.Status.Terminal() {
			return fmt.Errorf("experiment %s is already %s", exp.ID, stored.Status)
		}
		stored.Status = status
		stored.ErrorMessage = reason
		stored.UpdatedAt = time.Now().UTC()
		if err := setJSON(txn, expKey(stored.ID), &stored); err != nil {
			return err
		}
		*exp = stored

		return setJSON(txn, runKey(run.ID), run)
	})
}

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	blob, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set(key, blob)
}
