// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/attriflow/attriflow/internal/models"
	"github.com/attriflow/attriflow/internal/pipeline"
)

// MarkActivity upserts the non-nil scalar fields of the update into the
// shop's pipeline_state row. Each writer only ever advances its own
// timestamps, so last-writer-wins per column is safe here.
func (db *DB) MarkActivity(ctx context.Context, shop string, u pipeline.ActivityUpdate) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO pipeline_state (
			shop, last_webhook_at, last_backfill_at, last_backfill_attempt_at,
			last_backfill_orders, last_tagging_at, last_cleanup_at, updated_at
		) VALUES ($1, $2, $3, $4, COALESCE($5, 0), $6, $7, now())
		ON CONFLICT (shop) DO UPDATE SET
			last_webhook_at = COALESCE($2, pipeline_state.last_webhook_at),
			last_backfill_at = COALESCE($3, pipeline_state.last_backfill_at),
			last_backfill_attempt_at = COALESCE($4, pipeline_state.last_backfill_attempt_at),
			last_backfill_orders = COALESCE($5, pipeline_state.last_backfill_orders),
			last_tagging_at = COALESCE($6, pipeline_state.last_tagging_at),
			last_cleanup_at = COALESCE($7, pipeline_state.last_cleanup_at),
			updated_at = now()`,
		shop, u.LastWebhookAt, u.LastBackfillAt, u.LastBackfillAttemptAt,
		u.LastBackfillOrders, u.LastTaggingAt, u.LastCleanupAt)
	if err != nil {
		return fmt.Errorf("failed to mark activity for %s: %w", shop, err)
	}
	return nil
}

// GetPipelineState fetches the shop's pipeline state. Returns a zero-valued
// state (not ErrNotFound) when the shop has no row yet, since "nothing ran
// yet" is a legitimate dashboard answer.
func (db *DB) GetPipelineState(ctx context.Context, shop string) (*models.PipelineState, error) {
	var st models.PipelineState
	var rawStatuses []byte
	err := db.conn.QueryRowContext(ctx, `
		SELECT shop, last_webhook_at, last_backfill_at, last_backfill_attempt_at,
			last_backfill_orders, last_tagging_at, last_cleanup_at, statuses, updated_at
		FROM pipeline_state WHERE shop = $1`, shop).Scan(
		&st.Shop, &st.LastWebhookAt, &st.LastBackfillAt, &st.LastBackfillAttemptAt,
		&st.LastBackfillOrders, &st.LastTaggingAt, &st.LastCleanupAt, &rawStatuses, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.PipelineState{Shop: shop}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline state for %s: %w", shop, err)
	}
	if len(rawStatuses) > 0 {
		if err := json.Unmarshal(rawStatuses, &st.Statuses); err != nil {
			return nil, fmt.Errorf("failed to decode status chips for %s: %w", shop, err)
		}
	}
	return &st, nil
}

// UpdateStatusesTx applies fn to the shop's status-chip list inside a
// transaction, holding a row lock so concurrent updaters serialize. The row
// is created first if missing.
func (db *DB) UpdateStatusesTx(ctx context.Context, shop string, fn func([]models.StatusChip) []models.StatusChip) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin statuses transaction for %s: %w", shop, err)
	}
	defer func() {
		_ = tx.Rollback() // No-op after commit.
	}()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO pipeline_state (shop) VALUES ($1)
		ON CONFLICT (shop) DO NOTHING`, shop); err != nil {
		return fmt.Errorf("failed to ensure pipeline row for %s: %w", shop, err)
	}

	var raw []byte
	if err := tx.QueryRowContext(ctx,
		`SELECT statuses FROM pipeline_state WHERE shop = $1 FOR UPDATE`, shop).Scan(&raw); err != nil {
		return fmt.Errorf("failed to lock statuses for %s: %w", shop, err)
	}

	var chips []models.StatusChip
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &chips); err != nil {
			return fmt.Errorf("failed to decode status chips for %s: %w", shop, err)
		}
	}

	updated, err := json.Marshal(fn(chips))
	if err != nil {
		return fmt.Errorf("failed to encode status chips for %s: %w", shop, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE pipeline_state SET statuses = $1, updated_at = now() WHERE shop = $2`,
		updated, shop); err != nil {
		return fmt.Errorf("failed to save status chips for %s: %w", shop, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit status chips for %s: %w", shop, err)
	}
	return nil
}

// GetStatuses reads the chip list outside any transaction.
func (db *DB) GetStatuses(ctx context.Context, shop string) ([]models.StatusChip, error) {
	st, err := db.GetPipelineState(ctx, shop)
	if err != nil {
		return nil, err
	}
	return st.Statuses, nil
}

// SaveStatuses overwrites the chip list outside any transaction. This is the
// availability side of the pipeline store's consistency tradeoff; callers go
// through pipeline.Store rather than calling this directly.
func (db *DB) SaveStatuses(ctx context.Context, shop string, chips []models.StatusChip) error {
	raw, err := json.Marshal(chips)
	if err != nil {
		return fmt.Errorf("failed to encode status chips for %s: %w", shop, err)
	}
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO pipeline_state (shop, statuses, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (shop) DO UPDATE SET statuses = $2, updated_at = now()`,
		shop, raw)
	if err != nil {
		return fmt.Errorf("failed to save status chips for %s: %w", shop, err)
	}
	return nil
}
