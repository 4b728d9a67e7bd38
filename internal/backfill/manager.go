// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Package backfill syncs historical orders from the commerce admin API.
//
// A backfill is a tracked job: at most one per shop is in flight, progress
// is persisted per page, and a size and time budget bound every run so a
// huge shop cannot monopolize the worker. Interrupted or truncated runs
// leave their partial progress in the order store; re-running converges
// through the order upsert.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/attriflow/attriflow/internal/commerce"
	"github.com/attriflow/attriflow/internal/database"
	"github.com/attriflow/attriflow/internal/ingest"
	"github.com/attriflow/attriflow/internal/logging"
	"github.com/attriflow/attriflow/internal/metrics"
	"github.com/attriflow/attriflow/internal/models"
	"github.com/attriflow/attriflow/internal/pipeline"
)

// JobStore persists backfill job rows. *database.DB implements it.
type JobStore interface {
	InsertBackfillJob(ctx context.Context, job *models.BackfillJob) error
	GetActiveBackfillJob(ctx context.Context, shop string) (*models.BackfillJob, error)
	GetLatestBackfillJob(ctx context.Context, shop string) (*models.BackfillJob, error)
	MarkBackfillJobProcessing(ctx context.Context, id string) error
	SetBackfillJobProgress(ctx context.Context, id string, ordersFetched int) error
	FinishBackfillJob(ctx context.Context, id string, status models.JobStatus, ordersFetched int, jobErr string) error
}

// OrderWriter persists synced orders. *database.DB implements it.
type OrderWriter interface {
	UpsertOrder(ctx context.Context, o *models.Order) error
	UpsertCustomer(ctx context.Context, shop, customerID string) error
}

// OrderBuilder classifies a raw order and maps it to the persistence model.
// *ingest.Processor implements it, so webhook and backfill ingestion share
// one classification path.
type OrderBuilder interface {
	BuildOrder(ctx context.Context, shop string, raw *commerce.RawOrder) (*models.Order, error)
}

// ActivityMarker records pipeline activity timestamps and status chips.
// *pipeline.Store implements it.
type ActivityMarker interface {
	MarkActivity(ctx context.Context, shop string, u pipeline.ActivityUpdate) error
	UpdateStatuses(ctx context.Context, shop string, fn func([]models.StatusChip) []models.StatusChip) error
}

// Config bounds a single backfill run.
type Config struct {
	// MaxOrders caps how many orders one run fetches. Default 10000.
	MaxOrders int

	// MaxDuration caps one run's wall-clock time. Default 10m.
	MaxDuration time.Duration
}

// StartResult reports the outcome of a start request.
type StartResult struct {
	// Queued is false when the request was rejected because a job is
	// already in flight.
	Queued bool   `json:"queued"`
	Reason string `json:"reason,omitempty"`

	// Job is the queued job, or the in-flight one when Queued is false.
	Job *models.BackfillJob `json:"job,omitempty"`
}

// Manager owns the backfill job lifecycle for all shops.
type Manager struct {
	jobs     JobStore
	orders   OrderWriter
	builder  OrderBuilder
	resolver commerce.Resolver
	activity ActivityMarker
	cfg      Config
}

// NewManager creates a backfill manager.
func NewManager(jobs JobStore, orders OrderWriter, builder OrderBuilder, resolver commerce.Resolver, activity ActivityMarker, cfg Config) *Manager {
	if cfg.MaxOrders <= 0 {
		cfg.MaxOrders = 10000
	}
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 10 * time.Minute
	}
	return &Manager{
		jobs:     jobs,
		orders:   orders,
		builder:  builder,
		resolver: resolver,
		activity: activity,
		cfg:      cfg,
	}
}

// Start queues a backfill over [rangeStart, rangeEnd) unless one is already
// in flight for the shop. The check-then-insert is racy in theory; in
// practice starts come from the scheduler sweep (cross-instance serialized
// by an advisory lock) or a manual dashboard click, so contention is nil.
func (m *Manager) Start(ctx context.Context, shop string, rangeStart, rangeEnd time.Time) (*StartResult, error) {
	active, err := m.jobs.GetActiveBackfillJob(ctx, shop)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active backfill for %s: %w", shop, err)
	}
	if active != nil {
		return &StartResult{
			Queued: false,
			Reason: fmt.Sprintf("a backfill is already %s", active.Status),
			Job:    active,
		}, nil
	}

	job := &models.BackfillJob{
		ID:         uuid.NewString(),
		Shop:       shop,
		RangeStart: rangeStart,
		RangeEnd:   rangeEnd,
		Status:     models.JobQueued,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.jobs.InsertBackfillJob(ctx, job); err != nil {
		return nil, err
	}

	// The attempt timestamp advances even if the run later fails, which is
	// what the scheduler's cooldown keys on.
	now := time.Now().UTC()
	if err := m.activity.MarkActivity(ctx, shop, pipeline.ActivityUpdate{LastBackfillAttemptAt: &now}); err != nil {
		logging.Warn().Err(err).Str("shop", shop).Msg("pipeline activity update failed")
	}

	logging.Info().Str("shop", shop).Str("job_id", job.ID).
		Time("range_start", rangeStart).Time("range_end", rangeEnd).
		Msg("backfill queued")
	return &StartResult{Queued: true, Job: job}, nil
}

// Describe returns the shop's most recent job, or database.ErrNotFound when
// the shop has never backfilled.
func (m *Manager) Describe(ctx context.Context, shop string) (*models.BackfillJob, error) {
	return m.jobs.GetLatestBackfillJob(ctx, shop)
}

// Execute queues and immediately processes a backfill. An in-flight job
// makes it a no-op. The scheduler sweep calls this synchronously under the
// backfill advisory lock.
func (m *Manager) Execute(ctx context.Context, shop string, rangeStart, rangeEnd time.Time) error {
	res, err := m.Start(ctx, shop, rangeStart, rangeEnd)
	if err != nil {
		return err
	}
	if !res.Queued {
		logging.Debug().Str("shop", shop).Str("reason", res.Reason).Msg("backfill skipped")
		return nil
	}
	return m.Process(ctx, res.Job)
}

// Process runs one queued job to a terminal state. Errors are recorded on
// the job row; the returned error mirrors the job failure for callers that
// process synchronously.
func (m *Manager) Process(ctx context.Context, job *models.BackfillJob) error {
	start := time.Now()
	if err := m.jobs.MarkBackfillJobProcessing(ctx, job.ID); err != nil {
		return err
	}

	fetched, runErr := m.sync(ctx, job)

	status := models.JobCompleted
	errMsg := ""
	if runErr != nil {
		status = models.JobFailed
		errMsg = runErr.Error()
	}
	metrics.BackfillJobsTotal.WithLabelValues(string(status)).Inc()
	metrics.BackfillDuration.Observe(time.Since(start).Seconds())

	if err := m.jobs.FinishBackfillJob(ctx, job.ID, status, fetched, errMsg); err != nil {
		logging.Error().Err(err).Str("job_id", job.ID).Msg("failed to finalize backfill job")
	}

	if runErr != nil {
		m.setChip(ctx, job.Shop, models.StatusChip{
			Title:  "Backfill",
			Status: models.ChipWarning,
			Detail: fmt.Sprintf("failed after %d orders: %s", fetched, errMsg),
		})
		logging.Error().Err(runErr).Str("shop", job.Shop).Str("job_id", job.ID).
			Int("orders_fetched", fetched).Msg("backfill failed")
		return runErr
	}

	now := time.Now().UTC()
	update := pipeline.ActivityUpdate{LastBackfillAt: &now, LastBackfillOrders: &fetched}
	if err := m.activity.MarkActivity(ctx, job.Shop, update); err != nil {
		logging.Warn().Err(err).Str("shop", job.Shop).Msg("pipeline activity update failed")
	}
	m.setChip(ctx, job.Shop, models.StatusChip{
		Title:  "Backfill",
		Status: models.ChipHealthy,
		Detail: fmt.Sprintf("synced %d orders at %s", fetched, now.Format(time.RFC3339)),
	})

	logging.Info().Str("shop", job.Shop).Str("job_id", job.ID).
		Int("orders_fetched", fetched).Dur("elapsed", time.Since(start)).
		Msg("backfill completed")
	return nil
}

// setChip merges one dashboard chip, best-effort.
func (m *Manager) setChip(ctx context.Context, shop string, chip models.StatusChip) {
	if err := m.activity.UpdateStatuses(ctx, shop, func(chips []models.StatusChip) []models.StatusChip {
		return pipeline.SetChip(chips, chip)
	}); err != nil {
		logging.Warn().Err(err).Str("shop", shop).Msg("pipeline status update failed")
	}
}

// sync paginates the admin API and ingests every storefront order until the
// listing is exhausted or a budget is hit. Returns the number of orders
// fetched from the API, including filtered ones.
func (m *Manager) sync(ctx context.Context, job *models.BackfillJob) (int, error) {
	lister, err := m.resolver(ctx, job.Shop)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve admin API client for %s: %w", job.Shop, err)
	}

	deadline := time.Now().Add(m.cfg.MaxDuration)
	fetched := 0
	pageInfo := ""

	for {
		if err := ctx.Err(); err != nil {
			return fetched, err
		}

		page, err := lister.ListOrders(ctx, job.RangeStart, job.RangeEnd, pageInfo)
		if err != nil {
			return fetched, err
		}

		for i := range page.Orders {
			raw := &page.Orders[i]
			fetched++
			metrics.BackfillOrdersFetched.Inc()

			if !ingest.Ingestible(raw.SourceName) {
				continue
			}
			order, err := m.builder.BuildOrder(ctx, job.Shop, raw)
			if err != nil {
				return fetched, fmt.Errorf("failed to build order %s: %w", raw.ID, err)
			}
			if err := m.orders.UpsertOrder(ctx, order); err != nil {
				return fetched, err
			}
			if order.CustomerID != "" {
				if err := m.orders.UpsertCustomer(ctx, job.Shop, order.CustomerID); err != nil {
					logging.Warn().Err(err).Str("shop", job.Shop).Str("order_id", raw.ID).
						Msg("customer upsert failed")
				}
			}
		}

		if err := m.jobs.SetBackfillJobProgress(ctx, job.ID, fetched); err != nil {
			logging.Warn().Err(err).Str("job_id", job.ID).Msg("backfill progress update failed")
		}

		switch {
		case page.NextPageInfo == "":
			return fetched, nil
		case fetched >= m.cfg.MaxOrders:
			logging.Info().Str("shop", job.Shop).Int("orders_fetched", fetched).
				Msg("backfill stopped at order budget")
			return fetched, nil
		case time.Now().After(deadline):
			logging.Info().Str("shop", job.Shop).Int("orders_fetched", fetched).
				Msg("backfill stopped at time budget")
			return fetched, nil
		}
		pageInfo = page.NextPageInfo
	}
}
