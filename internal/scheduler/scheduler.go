// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Package scheduler drives the periodic maintenance sweeps.
//
// Every instance runs the same ticker; a Postgres advisory lock per sweep
// elects the one that actually works. Losing the lock is the normal case in
// a multi-instance deployment and is not an error. Within a sweep, shops
// are isolated from each other: one shop's failure is logged and the sweep
// moves on.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/attriflow/attriflow/internal/database"
	"github.com/attriflow/attriflow/internal/logging"
	"github.com/attriflow/attriflow/internal/metrics"
	"github.com/attriflow/attriflow/internal/models"
)

// Advisory lock IDs. One per sweep so retention and backfill can run on
// different instances concurrently.
const (
	LockRetention int64 = 7001
	LockBackfill  int64 = 7002
)

// ShopLister enumerates the shops to sweep. *database.DB implements it.
type ShopLister interface {
	ListShops(ctx context.Context) ([]models.ShopInfo, error)
}

// RetentionRunner is the retention purger's sweep surface.
type RetentionRunner interface {
	EnsureDailyPrune(ctx context.Context, shop string) (bool, error)
}

// BackfillRunner is the backfill manager's sweep surface.
type BackfillRunner interface {
	Execute(ctx context.Context, shop string, rangeStart, rangeEnd time.Time) error
}

// Config tunes the sweep loop.
type Config struct {
	// Interval between sweep ticks. Default 15m.
	Interval time.Duration

	// InitialDelay before the first tick, so a restarting fleet does not
	// stampede the database. Default 1m.
	InitialDelay time.Duration

	// BackfillCooldown is the minimum gap between backfill attempts for one
	// shop. Default 24h.
	BackfillCooldown time.Duration

	// BackfillRangeDays is how far back an automatic backfill reaches.
	// Default 90.
	BackfillRangeDays int

	// RetentionEnabled and BackfillEnabled gate their sweeps.
	RetentionEnabled bool
	BackfillEnabled  bool
}

// Scheduler runs the sweeps. It satisfies the supervisor's service
// interface via Serve.
type Scheduler struct {
	locker    database.AdvisoryLocker
	shops     ShopLister
	retention RetentionRunner
	backfill  BackfillRunner
	cfg       Config
	running   atomic.Bool
}

// New creates a scheduler.
func New(locker database.AdvisoryLocker, shops ShopLister, retention RetentionRunner, backfill BackfillRunner, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Minute
	}
	if cfg.BackfillCooldown <= 0 {
		cfg.BackfillCooldown = 24 * time.Hour
	}
	if cfg.BackfillRangeDays <= 0 {
		cfg.BackfillRangeDays = 90
	}
	return &Scheduler{
		locker:    locker,
		shops:     shops,
		retention: retention,
		backfill:  backfill,
		cfg:       cfg,
	}
}

// Serve runs the sweep loop until ctx is cancelled. A second concurrent
// Serve is refused; the supervisor restarting a returned Serve is fine.
func (s *Scheduler) Serve(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("scheduler is already running")
	}
	defer s.running.Store(false)

	logging.Info().Dur("interval", s.cfg.Interval).Dur("initial_delay", s.cfg.InitialDelay).
		Bool("retention", s.cfg.RetentionEnabled).Bool("backfill", s.cfg.BackfillEnabled).
		Msg("scheduler started")

	select {
	case <-time.After(s.cfg.InitialDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweepAll(ctx)
	for {
		select {
		case <-ticker.C:
			s.sweepAll(ctx)
		case <-ctx.Done():
			logging.Info().Msg("scheduler stopped")
			return ctx.Err()
		}
	}
}

// sweepAll runs each enabled sweep under its advisory lock.
func (s *Scheduler) sweepAll(ctx context.Context) {
	if s.cfg.RetentionEnabled {
		s.runLocked(ctx, "retention", LockRetention, s.retentionSweep)
	}
	if s.cfg.BackfillEnabled {
		s.runLocked(ctx, "backfill", LockBackfill, s.backfillSweep)
	}
}

// runLocked wraps one sweep in lock acquisition and metrics.
func (s *Scheduler) runLocked(ctx context.Context, name string, lockID int64, sweep func(ctx context.Context) error) {
	start := time.Now()
	acquired, err := s.locker.WithLock(ctx, lockID, sweep)
	switch {
	case !acquired && err == nil:
		metrics.SweepRunsTotal.WithLabelValues(name, "skipped_lock").Inc()
		logging.Debug().Str("sweep", name).Msg("sweep lock held elsewhere, skipping")
	case err != nil:
		metrics.SweepRunsTotal.WithLabelValues(name, "error").Inc()
		logging.Error().Err(err).Str("sweep", name).Msg("sweep failed")
	default:
		metrics.SweepRunsTotal.WithLabelValues(name, "completed").Inc()
		metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}

// retentionSweep prunes every shop that has gone a day without a cleanup.
func (s *Scheduler) retentionSweep(ctx context.Context) error {
	shops, err := s.shops.ListShops(ctx)
	if err != nil {
		return fmt.Errorf("failed to list shops: %w", err)
	}

	var failures int
	for _, shop := range shops {
		if err := ctx.Err(); err != nil {
			return err
		}
		ran, err := s.retention.EnsureDailyPrune(ctx, shop.Domain)
		if err != nil {
			failures++
			logging.Error().Err(err).Str("shop", shop.Domain).Msg("retention sweep failed for shop")
			continue
		}
		if ran {
			logging.Debug().Str("shop", shop.Domain).Msg("retention sweep pruned shop")
		}
	}
	if failures > 0 {
		return fmt.Errorf("retention sweep failed for %d of %d shops", failures, len(shops))
	}
	return nil
}

// backfillSweep starts a backfill for every shop outside its cooldown.
func (s *Scheduler) backfillSweep(ctx context.Context) error {
	shops, err := s.shops.ListShops(ctx)
	if err != nil {
		return fmt.Errorf("failed to list shops: %w", err)
	}

	var failures int
	for _, shop := range shops {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !s.dueForBackfill(shop) {
			continue
		}
		rangeStart, rangeEnd := s.backfillRange(shop)
		if err := s.backfill.Execute(ctx, shop.Domain, rangeStart, rangeEnd); err != nil {
			failures++
			logging.Error().Err(err).Str("shop", shop.Domain).Msg("backfill sweep failed for shop")
		}
	}
	if failures > 0 {
		return fmt.Errorf("backfill sweep failed for %d of %d shops", failures, len(shops))
	}
	return nil
}

// dueForBackfill applies the per-shop cooldown. The attempt timestamp
// advances on every start, successful or not, so a permanently broken shop
// is retried once per cooldown instead of every tick.
func (s *Scheduler) dueForBackfill(shop models.ShopInfo) bool {
	if shop.LastBackfillAttemptAt == nil {
		return true
	}
	return time.Since(*shop.LastBackfillAttemptAt) >= s.cfg.BackfillCooldown
}

// backfillRange computes the sync window in the shop's local calendar: from
// midnight BackfillRangeDays ago to now. An unknown timezone falls back to
// UTC.
func (s *Scheduler) backfillRange(shop models.ShopInfo) (time.Time, time.Time) {
	loc, err := time.LoadLocation(shop.Timezone)
	if err != nil || shop.Timezone == "" {
		loc = time.UTC
	}
	now := time.Now().In(loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).
		AddDate(0, 0, -s.cfg.BackfillRangeDays)
	return start, now
}
