// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Package pipeline maintains the per-shop record of ingestion and
// maintenance activity read by the dashboard.
//
// Scalar timestamps are last-writer-wins: each component only advances its
// own field, so a plain partial upsert is safe under concurrent writers.
// The status-chip list needs merging, so chip updates go through a
// transactional read-modify-write with bounded retries and an explicit
// non-transactional fallback. Both paths are exported so tests can exercise
// them deterministically.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/attriflow/attriflow/internal/logging"
	"github.com/attriflow/attriflow/internal/models"
)

// ActivityUpdate is a partial update of pipeline_state scalar fields; nil
// fields are left untouched.
type ActivityUpdate struct {
	LastWebhookAt         *time.Time
	LastBackfillAt        *time.Time
	LastBackfillAttemptAt *time.Time
	LastBackfillOrders    *int
	LastTaggingAt         *time.Time
	LastCleanupAt         *time.Time
}

// StateStore is the persistence surface the pipeline store needs.
// *database.DB implements it.
type StateStore interface {
	MarkActivity(ctx context.Context, shop string, u ActivityUpdate) error
	GetPipelineState(ctx context.Context, shop string) (*models.PipelineState, error)
	UpdateStatusesTx(ctx context.Context, shop string, fn func([]models.StatusChip) []models.StatusChip) error
	GetStatuses(ctx context.Context, shop string) ([]models.StatusChip, error)
	SaveStatuses(ctx context.Context, shop string, chips []models.StatusChip) error
}

// RetryClassifier reports whether a transactional failure is worth retrying.
// database.IsSerializationFailure satisfies it.
type RetryClassifier func(error) bool

// Store mediates all pipeline-state writes.
type Store struct {
	db         StateStore
	retryable  RetryClassifier
	maxRetries int
	retryDelay time.Duration
}

// NewStore creates a pipeline store. retryable may be nil, in which case no
// transactional failure is considered retryable (the fallback still runs).
func NewStore(db StateStore, retryable RetryClassifier) *Store {
	return &Store{
		db:         db,
		retryable:  retryable,
		maxRetries: 3,
		retryDelay: 50 * time.Millisecond,
	}
}

// MarkActivity upserts the given scalar fields for the shop.
func (s *Store) MarkActivity(ctx context.Context, shop string, u ActivityUpdate) error {
	return s.db.MarkActivity(ctx, shop, u)
}

// State returns the shop's pipeline state.
func (s *Store) State(ctx context.Context, shop string) (*models.PipelineState, error) {
	return s.db.GetPipelineState(ctx, shop)
}

// UpdateStatuses applies fn to the shop's status-chip list. It first drives
// TryTransactional through its retry budget; if every attempt fails it falls
// back to MergeNonTransactional with a logged warning. The fallback trades
// a small lost-update window for availability, which is acceptable for
// dashboard chips.
func (s *Store) UpdateStatuses(ctx context.Context, shop string, fn func([]models.StatusChip) []models.StatusChip) error {
	err := s.TryTransactional(ctx, shop, fn)
	if err == nil {
		return nil
	}

	logging.Warn().Err(err).Str("shop", shop).
		Msg("transactional status update exhausted, falling back to non-transactional merge")
	if mergeErr := s.MergeNonTransactional(ctx, shop, fn); mergeErr != nil {
		return fmt.Errorf("status update failed on both paths: %w", mergeErr)
	}
	return nil
}

// TryTransactional runs the chip update inside a row-locking transaction,
// retrying serialization conflicts with exponential delay up to the retry
// budget.
func (s *Store) TryTransactional(ctx context.Context, shop string, fn func([]models.StatusChip) []models.StatusChip) error {
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			delay := s.retryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = s.db.UpdateStatusesTx(ctx, shop, fn)
		if lastErr == nil {
			return nil
		}
		if s.retryable == nil || !s.retryable(lastErr) {
			return lastErr
		}
	}
	return fmt.Errorf("status update conflict persisted after %d retries: %w", s.maxRetries, lastErr)
}

// MergeNonTransactional performs a plain read-then-write chip update. A
// concurrent writer between the read and the write loses its update; callers
// reach this only through UpdateStatuses' fallback or tests.
func (s *Store) MergeNonTransactional(ctx context.Context, shop string, fn func([]models.StatusChip) []models.StatusChip) error {
	chips, err := s.db.GetStatuses(ctx, shop)
	if err != nil {
		return err
	}
	return s.db.SaveStatuses(ctx, shop, fn(chips))
}

// SetChip is a convenience updater that inserts or replaces the chip with
// the same title, preserving list order for existing titles.
func SetChip(chips []models.StatusChip, chip models.StatusChip) []models.StatusChip {
	for i := range chips {
		if chips[i].Title == chip.Title {
			chips[i] = chip
			return chips
		}
	}
	return append(chips, chip)
}
