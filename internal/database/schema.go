// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package database

import (
	"context"
	"fmt"
)

// schemaStatements creates all tables idempotently. Statements run in order;
// child tables reference parents via (shop, external_id) pairs rather than
// serial FKs so webhook replays stay idempotent upserts.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS shops (
		domain TEXT PRIMARY KEY,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS customers (
		shop TEXT NOT NULL,
		external_id TEXT NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (shop, external_id)
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		shop TEXT NOT NULL,
		external_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		total_cents BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT '',
		ai_source TEXT,
		detection TEXT NOT NULL DEFAULT '',
		signals TEXT[] NOT NULL DEFAULT '{}',
		referrer TEXT NOT NULL DEFAULT '',
		landing_page TEXT NOT NULL DEFAULT '',
		utm_source TEXT NOT NULL DEFAULT '',
		utm_medium TEXT NOT NULL DEFAULT '',
		source_name TEXT NOT NULL DEFAULT '',
		customer_id TEXT NOT NULL DEFAULT '',
		new_customer BOOLEAN NOT NULL DEFAULT false,
		tags TEXT[] NOT NULL DEFAULT '{}',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (shop, external_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_shop_created ON orders (shop, created_at)`,
	`CREATE TABLE IF NOT EXISTS order_line_items (
		shop TEXT NOT NULL,
		order_external_id TEXT NOT NULL,
		position INT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		quantity INT NOT NULL DEFAULT 0,
		price_cents BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (shop, order_external_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS attribution_rule_sets (
		shop TEXT PRIMARY KEY,
		domain_rules JSONB NOT NULL DEFAULT '[]',
		utm_source_rules JSONB NOT NULL DEFAULT '[]',
		medium_keywords JSONB NOT NULL DEFAULT '[]',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_jobs (
		id TEXT PRIMARY KEY,
		shop TEXT NOT NULL,
		topic TEXT NOT NULL,
		intent TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'queued',
		enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		last_error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_jobs_shop_status ON webhook_jobs (shop, status, finished_at)`,
	`CREATE TABLE IF NOT EXISTS backfill_jobs (
		id TEXT PRIMARY KEY,
		shop TEXT NOT NULL,
		range_start TIMESTAMPTZ NOT NULL,
		range_end TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL DEFAULT 'queued',
		orders_fetched INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_backfill_jobs_shop_status ON backfill_jobs (shop, status)`,
	`CREATE TABLE IF NOT EXISTS pipeline_state (
		shop TEXT PRIMARY KEY,
		last_webhook_at TIMESTAMPTZ,
		last_backfill_at TIMESTAMPTZ,
		last_backfill_attempt_at TIMESTAMPTZ,
		last_backfill_orders INT NOT NULL DEFAULT 0,
		last_tagging_at TIMESTAMPTZ,
		last_cleanup_at TIMESTAMPTZ,
		statuses JSONB NOT NULL DEFAULT '[]',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS checkout_sessions (
		shop TEXT NOT NULL,
		token TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		referrer TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (shop, token)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_checkout_sessions_shop_created ON checkout_sessions (shop, created_at)`,
}

// initializeSchema creates all tables and indexes if they do not exist.
func (db *DB) initializeSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
