// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Package retention purges expired rows in bounded batches.
//
// Purges delete in small batches with a pause in between so a years-old
// shop's first purge never holds long row locks against live webhook
// ingestion. A missing table is a soft no-op: retention must keep working
// mid-migration and on fresh databases.
package retention

import (
	"context"
	"time"

	"github.com/attriflow/attriflow/internal/database"
	"github.com/attriflow/attriflow/internal/logging"
	"github.com/attriflow/attriflow/internal/metrics"
	"github.com/attriflow/attriflow/internal/models"
	"github.com/attriflow/attriflow/internal/pipeline"
)

// webhookJobTTL is how long terminal webhook job mirror rows are kept.
// Short on purpose: payload intents may reference personal data.
const webhookJobTTL = 72 * time.Hour

// Store is the persistence surface purges run against. *database.DB
// implements it.
type Store interface {
	DeleteExpiredOrders(ctx context.Context, shop string, cutoff time.Time, limit int) (int64, error)
	DeleteOrphanCustomers(ctx context.Context, shop string, cutoff time.Time, limit int) (int64, error)
	DeleteTerminalWebhookJobs(ctx context.Context, shop string, cutoff time.Time, limit int) (int64, error)
	DeleteExpiredCheckoutSessions(ctx context.Context, shop string, cutoff time.Time, limit int) (int64, error)
}

// StateReader reads and updates pipeline state: the once-per-day gate, the
// cleanup timestamp and the dashboard chip. *pipeline.Store implements it.
type StateReader interface {
	State(ctx context.Context, shop string) (*models.PipelineState, error)
	MarkActivity(ctx context.Context, shop string, u pipeline.ActivityUpdate) error
	UpdateStatuses(ctx context.Context, shop string, fn func([]models.StatusChip) []models.StatusChip) error
}

// Config tunes purge batching.
type Config struct {
	// Months is the retention window; rows older than now minus Months are
	// purged. Values below MinMonths are clamped up.
	Months int

	// BatchSize is the per-statement delete limit. Default 500.
	BatchSize int

	// BatchDelay is the pause between batches. Default 100ms.
	BatchDelay time.Duration
}

// MinMonths is the retention floor. Attribution windows for AI referrals
// run long, so anything shorter destroys data the stats still need.
const MinMonths = 3

// maxBatches caps one purge run. A shop with more expired rows than this
// finishes on a later sweep.
const maxBatches = 1000

// Purger deletes expired data for one shop at a time.
type Purger struct {
	store Store
	state StateReader
	cfg   Config
}

// NewPurger creates a purger. The retention window is clamped to MinMonths.
func NewPurger(store Store, state StateReader, cfg Config) *Purger {
	if cfg.Months < MinMonths {
		cfg.Months = MinMonths
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = 100 * time.Millisecond
	}
	return &Purger{store: store, state: state, cfg: cfg}
}

// PruneHistoricalData purges every expired entity for the shop and records
// the cleanup timestamp. Entities purge independently: a failure in one
// is logged and the rest still run.
func (p *Purger) PruneHistoricalData(ctx context.Context, shop string) error {
	start := time.Now()
	cutoff := start.UTC().AddDate(0, -p.cfg.Months, 0)

	var firstErr error
	sweep := func(entity string, cut time.Time, del deleteFunc) {
		deleted, err := p.drain(ctx, shop, cut, del)
		if deleted > 0 {
			metrics.RetentionDeletedTotal.WithLabelValues(entity).Add(float64(deleted))
			logging.Info().Str("shop", shop).Str("entity", entity).
				Int64("deleted", deleted).Msg("retention purge")
		}
		if err != nil {
			logging.Error().Err(err).Str("shop", shop).Str("entity", entity).
				Msg("retention purge failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	sweep("orders", cutoff, p.store.DeleteExpiredOrders)
	sweep("customers", cutoff, p.store.DeleteOrphanCustomers)
	sweep("webhook_jobs", start.UTC().Add(-webhookJobTTL), p.store.DeleteTerminalWebhookJobs)
	sweep("checkout_sessions", cutoff, p.store.DeleteExpiredCheckoutSessions)

	metrics.RetentionDuration.Observe(time.Since(start).Seconds())
	if firstErr != nil {
		p.setChip(ctx, shop, models.StatusChip{
			Title:  "Cleanup",
			Status: models.ChipWarning,
			Detail: "last purge failed: " + firstErr.Error(),
		})
		return firstErr
	}

	now := time.Now().UTC()
	if err := p.state.MarkActivity(ctx, shop, pipeline.ActivityUpdate{LastCleanupAt: &now}); err != nil {
		logging.Warn().Err(err).Str("shop", shop).Msg("pipeline activity update failed")
	}
	p.setChip(ctx, shop, models.StatusChip{
		Title:  "Cleanup",
		Status: models.ChipHealthy,
		Detail: "purge completed " + now.Format(time.RFC3339),
	})
	return nil
}

// setChip merges one dashboard chip, best-effort.
func (p *Purger) setChip(ctx context.Context, shop string, chip models.StatusChip) {
	if err := p.state.UpdateStatuses(ctx, shop, func(chips []models.StatusChip) []models.StatusChip {
		return pipeline.SetChip(chips, chip)
	}); err != nil {
		logging.Warn().Err(err).Str("shop", shop).Msg("pipeline status update failed")
	}
}

// EnsureDailyPrune purges only when the shop's last cleanup is more than a
// day old. The scheduler sweep calls this on every tick; the gate keeps a
// short tick interval from turning into constant delete churn.
func (p *Purger) EnsureDailyPrune(ctx context.Context, shop string) (bool, error) {
	state, err := p.state.State(ctx, shop)
	if err != nil {
		return false, err
	}
	if state.LastCleanupAt != nil && time.Since(*state.LastCleanupAt) < 24*time.Hour {
		return false, nil
	}
	return true, p.PruneHistoricalData(ctx, shop)
}

type deleteFunc func(ctx context.Context, shop string, cutoff time.Time, limit int) (int64, error)

// drain repeats batched deletes until a batch comes back short, the batch
// cap is hit, or ctx is cancelled.
func (p *Purger) drain(ctx context.Context, shop string, cutoff time.Time, del deleteFunc) (int64, error) {
	var total int64
	for batch := 0; batch < maxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		n, err := del(ctx, shop, cutoff, p.cfg.BatchSize)
		if err != nil {
			if database.IsMissingRelation(err) {
				// Table not created yet; nothing to purge.
				return total, nil
			}
			return total, err
		}
		total += n
		if n < int64(p.cfg.BatchSize) {
			return total, nil
		}

		select {
		case <-time.After(p.cfg.BatchDelay):
		case <-ctx.Done():
			return total, ctx.Err()
		}
	}
	logging.Warn().Str("shop", shop).Int("batches", maxBatches).
		Msg("retention purge hit batch cap, remainder deferred to next sweep")
	return total, nil
}
