// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package models

import "time"

// JobStatus is the lifecycle state shared by webhook and backfill jobs.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether a job in this status will never transition again.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// WebhookJobRecord is the persisted mirror of an in-memory webhook job,
// kept for dashboard observability. Mirror rows in a terminal state are
// purged on a short TTL because webhook payload intents may reference
// personal data.
type WebhookJobRecord struct {
	ID         string     `json:"id" db:"id"`
	Shop       string     `json:"shop" db:"shop"`
	Topic      string     `json:"topic" db:"topic"`
	Intent     string     `json:"intent" db:"intent"`
	Status     JobStatus  `json:"status" db:"status"`
	EnqueuedAt time.Time  `json:"enqueued_at" db:"enqueued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	LastError  string     `json:"last_error,omitempty" db:"last_error"`
}

// BackfillJob tracks one historical sync for a shop.
//
// Invariant: at most one non-terminal BackfillJob exists per shop, enforced
// by a check-then-insert in the manager (low write contention assumed).
type BackfillJob struct {
	ID            string     `json:"id" db:"id"`
	Shop          string     `json:"shop" db:"shop"`
	RangeStart    time.Time  `json:"range_start" db:"range_start"`
	RangeEnd      time.Time  `json:"range_end" db:"range_end"`
	Status        JobStatus  `json:"status" db:"status"`
	OrdersFetched int        `json:"orders_fetched" db:"orders_fetched"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Error         string     `json:"error,omitempty" db:"error"`
}
