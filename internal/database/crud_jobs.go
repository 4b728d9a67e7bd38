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
	"time"

	"github.com/attriflow/attriflow/internal/models"
)

// InsertWebhookJob creates the observability mirror row for a queued job.
func (db *DB) InsertWebhookJob(ctx context.Context, job *models.WebhookJobRecord) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO webhook_jobs (id, shop, topic, intent, status, enqueued_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, '')`,
		job.ID, job.Shop, job.Topic, job.Intent, job.Status, job.EnqueuedAt)
	if err != nil {
		return fmt.Errorf("failed to insert webhook job %s: %w", job.ID, err)
	}
	return nil
}

// MarkWebhookJobProcessing transitions a mirror row to processing.
func (db *DB) MarkWebhookJobProcessing(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE webhook_jobs SET status = $1, started_at = now() WHERE id = $2`,
		models.JobProcessing, id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook job %s processing: %w", id, err)
	}
	return nil
}

// FinishWebhookJob transitions a mirror row to a terminal state. lastError
// is recorded only for failures.
func (db *DB) FinishWebhookJob(ctx context.Context, id string, status models.JobStatus, lastError string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE webhook_jobs SET status = $1, finished_at = now(), last_error = $2 WHERE id = $3`,
		status, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to finish webhook job %s: %w", id, err)
	}
	return nil
}

// DeleteTerminalWebhookJobs removes up to limit completed/failed mirror rows
// that finished before cutoff. Payload intents may carry personal data, so
// this TTL is short and independent of the shop's retention window.
func (db *DB) DeleteTerminalWebhookJobs(ctx context.Context, shop string, cutoff time.Time, limit int) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM webhook_jobs
		WHERE id IN (
			SELECT id FROM webhook_jobs
			WHERE shop = $1 AND status IN ($2, $3) AND finished_at < $4
			LIMIT $5
		)`,
		shop, models.JobCompleted, models.JobFailed, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal webhook jobs for %s: %w", shop, err)
	}
	return res.RowsAffected()
}

// InsertBackfillJob creates a new queued backfill job row.
func (db *DB) InsertBackfillJob(ctx context.Context, job *models.BackfillJob) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO backfill_jobs (id, shop, range_start, range_end, status, orders_fetched, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)`,
		job.ID, job.Shop, job.RangeStart, job.RangeEnd, job.Status, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert backfill job %s: %w", job.ID, err)
	}
	return nil
}

// GetActiveBackfillJob returns the shop's current queued or processing job.
// Returns ErrNotFound when every job for the shop is terminal.
func (db *DB) GetActiveBackfillJob(ctx context.Context, shop string) (*models.BackfillJob, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, shop, range_start, range_end, status, orders_fetched,
			created_at, started_at, finished_at, error
		FROM backfill_jobs
		WHERE shop = $1 AND status IN ($2, $3)
		ORDER BY created_at DESC
		LIMIT 1`,
		shop, models.JobQueued, models.JobProcessing)
	return scanBackfillJob(row)
}

// GetLatestBackfillJob returns the most recent job regardless of status.
func (db *DB) GetLatestBackfillJob(ctx context.Context, shop string) (*models.BackfillJob, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, shop, range_start, range_end, status, orders_fetched,
			created_at, started_at, finished_at, error
		FROM backfill_jobs
		WHERE shop = $1
		ORDER BY created_at DESC
		LIMIT 1`, shop)
	return scanBackfillJob(row)
}

func scanBackfillJob(row *sql.Row) (*models.BackfillJob, error) {
	var job models.BackfillJob
	err := row.Scan(&job.ID, &job.Shop, &job.RangeStart, &job.RangeEnd, &job.Status,
		&job.OrdersFetched, &job.CreatedAt, &job.StartedAt, &job.FinishedAt, &job.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan backfill job: %w", err)
	}
	return &job, nil
}

// MarkBackfillJobProcessing transitions a queued job to processing.
func (db *DB) MarkBackfillJobProcessing(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE backfill_jobs SET status = $1, started_at = now() WHERE id = $2`,
		models.JobProcessing, id)
	if err != nil {
		return fmt.Errorf("failed to mark backfill job %s processing: %w", id, err)
	}
	return nil
}

// SetBackfillJobProgress updates the fetched-orders counter.
func (db *DB) SetBackfillJobProgress(ctx context.Context, id string, ordersFetched int) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE backfill_jobs SET orders_fetched = $1 WHERE id = $2`,
		ordersFetched, id)
	if err != nil {
		return fmt.Errorf("failed to update backfill job %s progress: %w", id, err)
	}
	return nil
}

// FinishBackfillJob transitions a job to a terminal state, recording the
// final counter and any error message. Partial progress stays persisted.
func (db *DB) FinishBackfillJob(ctx context.Context, id string, status models.JobStatus, ordersFetched int, jobErr string) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE backfill_jobs
		SET status = $1, orders_fetched = $2, error = $3, finished_at = now()
		WHERE id = $4`,
		status, ordersFetched, jobErr, id)
	if err != nil {
		return fmt.Errorf("failed to finish backfill job %s: %w", id, err)
	}
	return nil
}
