// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Package settings owns the lifecycle of per-shop attribution rule sets:
// materialized with built-in defaults on first read, mutated only through
// Update, upgraded in place when the built-in default set changes, and
// removed only with the shop record.
package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/attriflow/attriflow/internal/attribution"
	"github.com/attriflow/attriflow/internal/database"
	"github.com/attriflow/attriflow/internal/models"
)

// Store is the persistence surface for rule sets. *database.DB implements it.
type Store interface {
	GetRuleSet(ctx context.Context, shop string) (*models.RuleSet, error)
	SaveRuleSet(ctx context.Context, rs *models.RuleSet) error
	DeleteRuleSet(ctx context.Context, shop string) error
}

// Manager loads and mutates shop rule sets.
type Manager struct {
	store Store
}

// NewManager creates a settings manager.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Load returns the shop's rule set, creating it from the built-in defaults
// on first read.
func (m *Manager) Load(ctx context.Context, shop string) (*models.RuleSet, error) {
	rs, err := m.store.GetRuleSet(ctx, shop)
	if err == nil {
		return rs, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to load rule set for %s: %w", shop, err)
	}

	rs = attribution.DefaultRuleSet(shop)
	if err := m.store.SaveRuleSet(ctx, rs); err != nil {
		return nil, fmt.Errorf("failed to materialize default rule set for %s: %w", shop, err)
	}
	return rs, nil
}

// Update replaces the shop's custom rules and keyword list. Default-source
// rules in the stored set are preserved; any rule submitted here is stamped
// as custom regardless of what the caller set.
func (m *Manager) Update(ctx context.Context, shop string,
	customDomains []models.DomainRule, customUTM []models.UTMSourceRule, keywords []string) (*models.RuleSet, error) {

	rs, err := m.Load(ctx, shop)
	if err != nil {
		return nil, err
	}

	domainRules := defaultsOf(rs.DomainRules)
	for _, rule := range customDomains {
		rule.Source = models.RuleSourceCustom
		domainRules = append(domainRules, rule)
	}
	utmRules := defaultUTMOf(rs.UTMSourceRules)
	for _, rule := range customUTM {
		rule.Source = models.RuleSourceCustom
		utmRules = append(utmRules, rule)
	}

	rs.DomainRules = domainRules
	rs.UTMSourceRules = utmRules
	if keywords != nil {
		rs.MediumKeywords = keywords
	}

	if err := m.store.SaveRuleSet(ctx, rs); err != nil {
		return nil, fmt.Errorf("failed to update rule set for %s: %w", shop, err)
	}
	return rs, nil
}

// Reset discards the shop's stored rule set and rematerializes the built-in
// defaults, dropping every custom rule and keyword override.
func (m *Manager) Reset(ctx context.Context, shop string) (*models.RuleSet, error) {
	if err := m.store.DeleteRuleSet(ctx, shop); err != nil {
		return nil, fmt.Errorf("failed to reset rule set for %s: %w", shop, err)
	}
	return m.Load(ctx, shop)
}

// UpgradeDefaults swaps the stored default-source rules for the current
// built-in set while preserving every custom rule. Run when a release ships
// a new default rule table.
func (m *Manager) UpgradeDefaults(ctx context.Context, shop string) (*models.RuleSet, error) {
	rs, err := m.Load(ctx, shop)
	if err != nil {
		return nil, err
	}

	rs.DomainRules = append(attribution.DefaultDomainRules(), rs.CustomDomainRules()...)
	rs.UTMSourceRules = append(attribution.DefaultUTMSourceRules(), rs.CustomUTMSourceRules()...)

	if err := m.store.SaveRuleSet(ctx, rs); err != nil {
		return nil, fmt.Errorf("failed to upgrade rule set for %s: %w", shop, err)
	}
	return rs, nil
}

func defaultsOf(rules []models.DomainRule) []models.DomainRule {
	var out []models.DomainRule
	for _, rule := range rules {
		if rule.Source == models.RuleSourceDefault {
			out = append(out, rule)
		}
	}
	return out
}

func defaultUTMOf(rules []models.UTMSourceRule) []models.UTMSourceRule {
	var out []models.UTMSourceRule
	for _, rule := range rules {
		if rule.Source == models.RuleSourceDefault {
			out = append(out, rule)
		}
	}
	return out
}
