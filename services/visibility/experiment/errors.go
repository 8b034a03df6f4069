// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package experiment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrNotFound means the experiment id has no stored experiment.
	ErrNotFound = errors.New("experiment not found")

	// ErrConfigInvalid rejects an experiment before any quota is
	// touched. The experiment stays pending.
	ErrConfigInvalid = errors.New("experiment config invalid")

	// ErrQuotaExceeded rejects a start whose iteration count exceeds
	// the owner's remaining quota. Nothing is deducted.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrAlreadyRunning rejects a second concurrent start of the same
	// experiment.
	ErrAlreadyRunning = errors.New("experiment already running")
)

// BatchAborted wraps a failure after the reservation phase: the run
// was marked failed and the full reservation refunded. When the
// compensation refund itself fails, Refunded is zero and RefundErr
// carries the failure so the caller can reconcile the ledger.
type BatchAborted struct {
	RunID     uuid.UUID
	Phase     string
	Refunded  int
	RefundErr error
	Err       error
}

func (e *BatchAborted) Error() string {
	if e.RefundErr != nil {
		return fmt.Sprintf("batch %s aborted during %s (refund failed: %v): %v",
			e.RunID, e.Phase, e.RefundErr, e.Err)
	}
	return fmt.Sprintf("batch %s aborted during %s (refunded %d): %v", e.RunID, e.Phase, e.Refunded, e.Err)
}

func (e *BatchAborted) Unwrap() error { return e.Err }
