// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package models

import "time"

// ChipStatus is the severity of a dashboard status chip.
type ChipStatus string

const (
	ChipHealthy ChipStatus = "healthy"
	ChipWarning ChipStatus = "warning"
	ChipInfo    ChipStatus = "info"
)

// StatusChip is one dashboard status entry. The chip list is merged by
// title on update, so titles act as keys.
type StatusChip struct {
	Title  string     `json:"title"`
	Status ChipStatus `json:"status"`
	Detail string     `json:"detail"`
}

// PipelineState is the per-shop record of when each ingestion/maintenance
// task last ran. Every component writes its own timestamps; scalar fields
// are last-writer-wins, the chip list is merged under a transaction.
type PipelineState struct {
	Shop                  string       `json:"shop" db:"shop"`
	LastWebhookAt         *time.Time   `json:"last_webhook_at,omitempty" db:"last_webhook_at"`
	LastBackfillAt        *time.Time   `json:"last_backfill_at,omitempty" db:"last_backfill_at"`
	LastBackfillAttemptAt *time.Time   `json:"last_backfill_attempt_at,omitempty" db:"last_backfill_attempt_at"`
	LastBackfillOrders    int          `json:"last_backfill_orders" db:"last_backfill_orders"`
	LastTaggingAt         *time.Time   `json:"last_tagging_at,omitempty" db:"last_tagging_at"`
	LastCleanupAt         *time.Time   `json:"last_cleanup_at,omitempty" db:"last_cleanup_at"`
	Statuses              []StatusChip `json:"statuses" db:"statuses"`
	UpdatedAt             time.Time    `json:"updated_at" db:"updated_at"`
}

// ShopInfo is the subset of shop configuration the scheduler iterates over.
type ShopInfo struct {
	Domain                string     `json:"domain" db:"domain"`
	Timezone              string     `json:"timezone" db:"timezone"`
	LastBackfillAttemptAt *time.Time `json:"last_backfill_attempt_at,omitempty" db:"last_backfill_attempt_at"`
}
