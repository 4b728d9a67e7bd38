// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package attribution

import (
	"fmt"
	"strings"

	"github.com/attriflow/attriflow/internal/models"
)

// Input holds one order's raw traffic signals. Orders with a point-of-sale
// or draft source are filtered out before classification; that is the
// caller's responsibility, not the classifier's.
type Input struct {
	Referrer    string
	LandingPage string
	SourceName  string
	UTMSource   string
	UTMMedium   string
	Tags        []string
}

// Result is the classification outcome.
//
// Invariant: AISource is non-nil iff Detection is non-empty, and Signals is
// non-empty whenever AISource is non-nil. Signals document which rule fired
// and are provenance only.
type Result struct {
	AISource  *models.Channel
	Detection string
	Signals   []string
}

// Classifier evaluates orders against a shop's rule set. The zero-cost
// construction keeps it safe to create per call site; Classify is pure and
// safe for concurrent use.
type Classifier struct{}

// NewClassifier creates a classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify runs the tiered rule evaluation described in the package doc.
//
// A custom rule always beats the tier-4 heuristic because rules are
// evaluated in earlier tiers. A domain or UTM rule mapped to ChannelNone is
// an explicit exclusion: evaluation stops, the order stays unclassified, and
// the heuristic is suppressed for that domain.
func (c *Classifier) Classify(in Input, rules *models.RuleSet) Result {
	if rules == nil {
		rules = DefaultRuleSet("")
	}

	utmSource, utmMedium := in.UTMSource, in.UTMMedium
	if utmSource == "" || utmMedium == "" {
		// Fall back to UTM parameters embedded in the captured URLs.
		extractedSource, extractedMedium := ExtractUTM(in.LandingPage, in.Referrer)
		if utmSource == "" {
			utmSource = extractedSource
		}
		if utmMedium == "" {
			utmMedium = extractedMedium
		}
	}

	// Tier 1: exact utm_source rule match.
	if utmSource != "" {
		for _, rule := range rules.UTMSourceRules {
			if !strings.EqualFold(rule.Value, utmSource) {
				continue
			}
			if rule.Channel == models.ChannelNone {
				return Result{}
			}
			return match(rule.Channel,
				fmt.Sprintf("utm_source %q matched %s rule", utmSource, rule.Source),
				fmt.Sprintf("utm_source: %s -> %s (%s)", utmSource, rule.Channel, rule.Source))
		}
	}

	// Tier 2: domain rule match against referrer, then landing page.
	for _, raw := range []struct{ field, value string }{
		{"referrer", in.Referrer},
		{"landing_page", in.LandingPage},
	} {
		u := SafeURL(raw.value)
		if u == nil {
			continue
		}
		for _, rule := range rules.DomainRules {
			if !DomainMatches(rule.Domain, u) {
				continue
			}
			if rule.Channel == models.ChannelNone {
				return Result{}
			}
			return match(rule.Channel,
				fmt.Sprintf("%s domain %s matched %s rule", raw.field, NormalizeDomain(u.Hostname()), rule.Source),
				fmt.Sprintf("%s domain: %s -> %s (%s)", raw.field, rule.Domain, rule.Channel, rule.Source))
		}
	}

	// Tier 3: utm_medium keyword containment.
	if utmMedium != "" {
		lowered := strings.ToLower(utmMedium)
		for _, keyword := range rules.MediumKeywords {
			if keyword == "" || !strings.Contains(lowered, strings.ToLower(keyword)) {
				continue
			}
			return match(models.ChannelOtherAI,
				fmt.Sprintf("utm_medium %q contains keyword %q", utmMedium, keyword),
				fmt.Sprintf("utm_medium keyword: %s -> %s", keyword, models.ChannelOtherAI))
		}
	}

	// Tier 4: assistant-referrer heuristic, only when no configured rule
	// covers the domain (a covering rule either fired above or excluded it).
	if hr := DetectAssistantReferrer(SafeURL(in.Referrer)); hr != nil {
		if !domainCovered(rules, hr.Domain) {
			return match(hr.Channel, hr.Detection,
				fmt.Sprintf("heuristic: %s -> %s", hr.Domain, hr.Channel))
		}
	}

	// Tier 5: no match.
	return Result{}
}

// match builds a classified Result.
func match(channel models.Channel, detection, signal string) Result {
	ch := channel
	return Result{
		AISource:  &ch,
		Detection: detection,
		Signals:   []string{signal},
	}
}

// domainCovered reports whether any configured domain rule applies to the
// given domain or one of its parents.
func domainCovered(rules *models.RuleSet, domain string) bool {
	target := NormalizeDomain(domain)
	for _, rule := range rules.DomainRules {
		ruleDomain := NormalizeDomain(rule.Domain)
		if target == ruleDomain || strings.HasSuffix(target, "."+ruleDomain) {
			return true
		}
	}
	return false
}
