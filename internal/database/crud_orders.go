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

	"github.com/lib/pq"

	"github.com/attriflow/attriflow/internal/models"
)

// UpsertOrder inserts or replaces an order keyed by (shop, external_id).
// Webhook redelivery and backfill both funnel through this, which is what
// makes at-least-once ingestion safe.
func (db *DB) UpsertOrder(ctx context.Context, o *models.Order) error {
	var aiSource sql.NullString
	if o.AISource != nil {
		aiSource = sql.NullString{String: string(*o.AISource), Valid: true}
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO orders (
			shop, external_id, created_at, total_cents, currency,
			ai_source, detection, signals, referrer, landing_page,
			utm_source, utm_medium, source_name, customer_id, new_customer,
			tags, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,now())
		ON CONFLICT (shop, external_id) DO UPDATE SET
			created_at = EXCLUDED.created_at,
			total_cents = EXCLUDED.total_cents,
			currency = EXCLUDED.currency,
			ai_source = EXCLUDED.ai_source,
			detection = EXCLUDED.detection,
			signals = EXCLUDED.signals,
			referrer = EXCLUDED.referrer,
			landing_page = EXCLUDED.landing_page,
			utm_source = EXCLUDED.utm_source,
			utm_medium = EXCLUDED.utm_medium,
			source_name = EXCLUDED.source_name,
			customer_id = EXCLUDED.customer_id,
			new_customer = EXCLUDED.new_customer,
			tags = EXCLUDED.tags,
			updated_at = now()`,
		o.Shop, o.ExternalID, o.CreatedAt, o.TotalCents, o.Currency,
		aiSource, o.Detection, pq.Array(o.Signals), o.Referrer, o.LandingPage,
		o.UTMSource, o.UTMMedium, o.SourceName, o.CustomerID, o.NewCustomer,
		pq.Array(o.Tags))
	if err != nil {
		return fmt.Errorf("failed to upsert order %s/%s: %w", o.Shop, o.ExternalID, err)
	}
	return nil
}

// GetOrder fetches a single order. Returns ErrNotFound if absent.
func (db *DB) GetOrder(ctx context.Context, shop, externalID string) (*models.Order, error) {
	var o models.Order
	var aiSource sql.NullString
	err := db.conn.QueryRowContext(ctx, `
		SELECT shop, external_id, created_at, total_cents, currency,
			ai_source, detection, signals, referrer, landing_page,
			utm_source, utm_medium, source_name, customer_id, new_customer,
			tags, updated_at
		FROM orders WHERE shop = $1 AND external_id = $2`,
		shop, externalID).Scan(
		&o.Shop, &o.ExternalID, &o.CreatedAt, &o.TotalCents, &o.Currency,
		&aiSource, &o.Detection, pq.Array(&o.Signals), &o.Referrer, &o.LandingPage,
		&o.UTMSource, &o.UTMMedium, &o.SourceName, &o.CustomerID, &o.NewCustomer,
		pq.Array(&o.Tags), &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s/%s: %w", shop, externalID, err)
	}
	if aiSource.Valid {
		ch := models.Channel(aiSource.String)
		o.AISource = &ch
	}
	return &o, nil
}

// CustomerKnown reports whether the customer has been seen before; used to
// compute the new-customer flag at ingest time.
func (db *DB) CustomerKnown(ctx context.Context, shop, customerID string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM customers WHERE shop = $1 AND external_id = $2)`,
		shop, customerID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check customer %s/%s: %w", shop, customerID, err)
	}
	return exists, nil
}

// UpsertCustomer records a customer sighting, creating the row on first
// contact and bumping updated_at afterwards.
func (db *DB) UpsertCustomer(ctx context.Context, shop, customerID string) error {
	if customerID == "" {
		return nil
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO customers (shop, external_id, first_seen, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (shop, external_id) DO UPDATE SET updated_at = now()`,
		shop, customerID)
	if err != nil {
		return fmt.Errorf("failed to upsert customer %s/%s: %w", shop, customerID, err)
	}
	return nil
}

// DeleteExpiredOrders removes up to limit orders created before cutoff,
// cascading to their line items. Returns the number of orders deleted.
func (db *DB) DeleteExpiredOrders(ctx context.Context, shop string, cutoff time.Time, limit int) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		WITH doomed AS (
			SELECT external_id FROM orders
			WHERE shop = $1 AND created_at < $2
			ORDER BY created_at
			LIMIT $3
		),
		items AS (
			DELETE FROM order_line_items
			WHERE shop = $1 AND order_external_id IN (SELECT external_id FROM doomed)
		)
		DELETE FROM orders
		WHERE shop = $1 AND external_id IN (SELECT external_id FROM doomed)`,
		shop, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired orders for %s: %w", shop, err)
	}
	return res.RowsAffected()
}

// DeleteOrphanCustomers removes up to limit customers that have no remaining
// orders and were last updated before cutoff.
func (db *DB) DeleteOrphanCustomers(ctx context.Context, shop string, cutoff time.Time, limit int) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM customers c
		WHERE (c.shop, c.external_id) IN (
			SELECT shop, external_id FROM customers
			WHERE shop = $1 AND updated_at < $2
			AND NOT EXISTS (
				SELECT 1 FROM orders o
				WHERE o.shop = customers.shop AND o.customer_id = customers.external_id
			)
			LIMIT $3
		)`,
		shop, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete orphan customers for %s: %w", shop, err)
	}
	return res.RowsAffected()
}

// InsertCheckoutSession records a checkout funnel event.
func (db *DB) InsertCheckoutSession(ctx context.Context, cs *models.CheckoutSession) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO checkout_sessions (shop, token, email, referrer, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (shop, token) DO NOTHING`,
		cs.Shop, cs.Token, cs.Email, cs.Referrer, cs.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert checkout session %s/%s: %w", cs.Shop, cs.Token, err)
	}
	return nil
}

// DeleteExpiredCheckoutSessions removes up to limit checkout sessions
// created before cutoff.
func (db *DB) DeleteExpiredCheckoutSessions(ctx context.Context, shop string, cutoff time.Time, limit int) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM checkout_sessions
		WHERE (shop, token) IN (
			SELECT shop, token FROM checkout_sessions
			WHERE shop = $1 AND created_at < $2
			LIMIT $3
		)`,
		shop, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired checkout sessions for %s: %w", shop, err)
	}
	return res.RowsAffected()
}
