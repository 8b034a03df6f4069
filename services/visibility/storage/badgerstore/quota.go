// Copyright (C) 2026 EchoAI (engineering@echo-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/Hamidph/echo-ai-sub000/services/visibility/experiment"
)

func quotaKey(owner uuid.UUID) []byte {
	return []byte("quota:" + owner.String())
}

// quotaBalance reads an owner's balance inside a transaction. A missing
// key means zero quota.
func quotaBalance(txn *badger.Txn, owner uuid.UUID) (int, error) {
	item, err := txn.Get(quotaKey(owner))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var balance int
	err = item.Value(func(val []byte) error {
		balance, err = strconv.Atoi(string(val))
		if err != nil {
			return fmt.Errorf("corrupt quota value for %s: %w", owner, err)
		}
		return nil
	})
	return balance, err
}

func setQuotaBalance(txn *badger.Txn, owner uuid.UUID, balance int) error {
	return txn.Set(quotaKey(owner), []byte(strconv.Itoa(balance)))
}

// SetQuota provisions an owner's balance, replacing any previous value.
func (s *Store) SetQuota(ctx context.Context, owner uuid.UUID, units int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if units < 0 {
		return fmt.Errorf("quota must not be negative, got %d", units)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return setQuotaBalance(txn, owner, units)
	})
}

// Reserve deducts amount from the owner's balance, or returns
// experiment.ErrQuotaExceeded leaving the balance untouched.
func (s *Store) Reserve(ctx context.Context, owner uuid.UUID, amount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("reserve amount must be positive, got %d", amount)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		balance, err := quotaBalance(txn, owner)
		if err != nil {
			return err
		}
		if balance < amount {
			return fmt.Errorf("%w: want %d, have %d", experiment.ErrQuotaExceeded, amount, balance)
		}
		return setQuotaBalance(txn, owner, balance-amount)
	})
}

// Refund returns amount to the owner's balance.
func (s *Store) Refund(ctx context.Context, owner uuid.UUID, amount int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		balance, err := quotaBalance(txn, owner)
		if err != nil {
			return err
		}
		return setQuotaBalance(txn, owner, balance+amount)
	})
}

// Remaining reports the owner's current balance. Unknown owners have
// zero quota.
func (s *Store) Remaining(ctx context.Context, owner uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var balance int
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		balance, err = quotaBalance(txn, owner)
		return err
	})
	return balance, err
}
