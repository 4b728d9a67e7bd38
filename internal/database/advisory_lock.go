// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package database

import (
	"context"
	"fmt"

	"github.com/attriflow/attriflow/internal/logging"
)

// AdvisoryLocker is the cross-instance mutual-exclusion primitive. The
// scheduler depends only on this interface; this file implements it over
// Postgres session-scoped advisory locks, but a lease row with TTL or an
// external coordination service would satisfy the same contract.
type AdvisoryLocker interface {
	// WithLock attempts to acquire the lock identified by id without
	// blocking. When acquired it runs fn and releases the lock in all cases
	// (success, error, panic) before returning (true, fn's error). When the
	// lock is held elsewhere it returns (false, nil) without running fn.
	WithLock(ctx context.Context, id int64, fn func(ctx context.Context) error) (acquired bool, err error)
}

// WithLock implements AdvisoryLocker using pg_try_advisory_lock.
//
// Advisory locks are scoped to the database session, so the lock is taken
// and released on one dedicated pooled connection. If the connection dies
// mid-sweep Postgres releases the lock automatically, which is the failure
// mode we want: a crashed instance never wedges the fleet.
func (db *DB) WithLock(ctx context.Context, id int64, fn func(ctx context.Context) error) (bool, error) {
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get connection for advisory lock %d: %w", id, err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logging.Warn().Err(err).Int64("lock_id", id).Msg("error returning advisory lock connection")
		}
	}()

	var acquired bool
	if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&acquired); err != nil {
		return false, fmt.Errorf("failed to try advisory lock %d: %w", id, err)
	}
	if !acquired {
		return false, nil
	}

	defer func() {
		// Release on the same session. Background context: the unlock must
		// run even when the guarded function consumed the caller's deadline.
		var released bool
		if err := conn.QueryRowContext(context.Background(), `SELECT pg_advisory_unlock($1)`, id).Scan(&released); err != nil {
			logging.Warn().Err(err).Int64("lock_id", id).Msg("failed to release advisory lock")
		} else if !released {
			logging.Warn().Int64("lock_id", id).Msg("advisory lock was not held at release")
		}
	}()

	return true, fn(ctx)
}
