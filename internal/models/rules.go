// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package models

import "time"

// RuleSource distinguishes built-in default rules from shop-custom overrides.
// Custom rules survive default-set upgrades; default rules are replaced.
type RuleSource string

const (
	RuleSourceDefault RuleSource = "default"
	RuleSourceCustom  RuleSource = "custom"
)

// DomainRule maps a referrer/landing-page domain (including subdomains) to a
// channel.
type DomainRule struct {
	Domain  string     `json:"domain" db:"domain"`
	Channel Channel    `json:"channel" db:"channel"`
	Source  RuleSource `json:"source" db:"source"`
}

// UTMSourceRule maps an exact utm_source value to a channel. UTM rules are
// the highest-confidence signal because they are intentional tracking.
type UTMSourceRule struct {
	Value   string     `json:"value" db:"value"`
	Channel Channel    `json:"channel" db:"channel"`
	Source  RuleSource `json:"source" db:"source"`
}

// RuleSet is the per-shop attribution configuration. Rule order is
// significant: within a classifier tier the first matching rule wins.
type RuleSet struct {
	Shop           string          `json:"shop" db:"shop"`
	DomainRules    []DomainRule    `json:"domain_rules" db:"domain_rules"`
	UTMSourceRules []UTMSourceRule `json:"utm_source_rules" db:"utm_source_rules"`
	MediumKeywords []string        `json:"medium_keywords" db:"medium_keywords"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// CustomDomainRules returns only the shop-authored domain rules.
func (r *RuleSet) CustomDomainRules() []DomainRule {
	var out []DomainRule
	for _, rule := range r.DomainRules {
		if rule.Source == RuleSourceCustom {
			out = append(out, rule)
		}
	}
	return out
}

// CustomUTMSourceRules returns only the shop-authored UTM-source rules.
func (r *RuleSet) CustomUTMSourceRules() []UTMSourceRule {
	var out []UTMSourceRule
	for _, rule := range r.UTMSourceRules {
		if rule.Source == RuleSourceCustom {
			out = append(out, rule)
		}
	}
	return out
}
