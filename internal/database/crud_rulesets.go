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
)

// GetRuleSet fetches a shop's attribution rule set. Returns ErrNotFound for
// shops that have never had settings materialized.
func (db *DB) GetRuleSet(ctx context.Context, shop string) (*models.RuleSet, error) {
	var rs models.RuleSet
	var rawDomain, rawUTM, rawKeywords []byte
	err := db.conn.QueryRowContext(ctx, `
		SELECT shop, domain_rules, utm_source_rules, medium_keywords, updated_at
		FROM attribution_rule_sets WHERE shop = $1`, shop).Scan(
		&rs.Shop, &rawDomain, &rawUTM, &rawKeywords, &rs.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule set for %s: %w", shop, err)
	}

	if err := json.Unmarshal(rawDomain, &rs.DomainRules); err != nil {
		return nil, fmt.Errorf("failed to decode domain rules for %s: %w", shop, err)
	}
	if err := json.Unmarshal(rawUTM, &rs.UTMSourceRules); err != nil {
		return nil, fmt.Errorf("failed to decode utm source rules for %s: %w", shop, err)
	}
	if err := json.Unmarshal(rawKeywords, &rs.MediumKeywords); err != nil {
		return nil, fmt.Errorf("failed to decode medium keywords for %s: %w", shop, err)
	}
	return &rs, nil
}

// SaveRuleSet upserts a shop's attribution rule set.
func (db *DB) SaveRuleSet(ctx context.Context, rs *models.RuleSet) error {
	rawDomain, err := json.Marshal(rs.DomainRules)
	if err != nil {
		return fmt.Errorf("failed to encode domain rules for %s: %w", rs.Shop, err)
	}
	rawUTM, err := json.Marshal(rs.UTMSourceRules)
	if err != nil {
		return fmt.Errorf("failed to encode utm source rules for %s: %w", rs.Shop, err)
	}
	rawKeywords, err := json.Marshal(rs.MediumKeywords)
	if err != nil {
		return fmt.Errorf("failed to encode medium keywords for %s: %w", rs.Shop, err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO attribution_rule_sets (shop, domain_rules, utm_source_rules, medium_keywords, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (shop) DO UPDATE SET
			domain_rules = EXCLUDED.domain_rules,
			utm_source_rules = EXCLUDED.utm_source_rules,
			medium_keywords = EXCLUDED.medium_keywords,
			updated_at = now()`,
		rs.Shop, rawDomain, rawUTM, rawKeywords)
	if err != nil {
		return fmt.Errorf("failed to save rule set for %s: %w", rs.Shop, err)
	}
	return nil
}

// DeleteRuleSet removes a shop's rule set. Only called when the shop record
// itself is removed.
func (db *DB) DeleteRuleSet(ctx context.Context, shop string) error {
	_, err := db.conn.ExecContext(ctx,
		`DELETE FROM attribution_rule_sets WHERE shop = $1`, shop)
	if err != nil {
		return fmt.Errorf("failed to delete rule set for %s: %w", shop, err)
	}
	return nil
}

// UpsertShop registers a shop with its timezone.
func (db *DB) UpsertShop(ctx context.Context, domain, timezone string) error {
	if timezone == "" {
		timezone = "UTC"
	}
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO shops (domain, timezone) VALUES ($1, $2)
		ON CONFLICT (domain) DO UPDATE SET timezone = EXCLUDED.timezone`,
		domain, timezone)
	if err != nil {
		return fmt.Errorf("failed to upsert shop %s: %w", domain, err)
	}
	return nil
}

// ListShops returns all known shops with their timezone and last backfill
// attempt, the working set for scheduler sweeps.
func (db *DB) ListShops(ctx context.Context) ([]models.ShopInfo, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT s.domain, s.timezone, p.last_backfill_attempt_at
		FROM shops s
		LEFT JOIN pipeline_state p ON p.shop = s.domain
		ORDER BY s.domain`)
	if err != nil {
		return nil, fmt.Errorf("failed to list shops: %w", err)
	}
	defer rows.Close()

	var shops []models.ShopInfo
	for rows.Next() {
		var info models.ShopInfo
		if err := rows.Scan(&info.Domain, &info.Timezone, &info.LastBackfillAttemptAt); err != nil {
			return nil, fmt.Errorf("failed to scan shop row: %w", err)
		}
		shops = append(shops, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shops: %w", err)
	}
	return shops, nil
}
