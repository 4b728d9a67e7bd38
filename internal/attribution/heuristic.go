// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package attribution

import (
	"net/url"
	"strings"

	"github.com/attriflow/attriflow/internal/models"
)

// assistantMarker describes how an assistant surface on a generic search
// domain announces itself in the referrer URL.
type assistantMarker struct {
	domain       string
	channel      models.Channel
	pathSegments []string          // any path segment match flags the URL
	queryFlags   map[string]string // exact key=value match flags the URL
	description  string
}

// assistantMarkers covers search engines whose AI-assistant surfaces share
// the engine's domain, so a plain domain rule cannot tell assistant traffic
// from organic search. Order matters: first match wins.
var assistantMarkers = []assistantMarker{
	{
		domain:       "bing.com",
		channel:      models.ChannelBingChat,
		pathSegments: []string{"chat"},
		queryFlags:   map[string]string{"showconv": "1", "form": "MY02A2"},
		description:  "bing.com referrer with Copilot chat markers",
	},
	{
		domain:       "google.com",
		channel:      models.ChannelGoogleAI,
		queryFlags:   map[string]string{"udm": "50"},
		description:  "google.com referrer with AI Mode marker",
	},
}

// HeuristicResult is a tier-4 detection: a generically matched search domain
// whose URL carries assistant-specific markers.
type HeuristicResult struct {
	Channel models.Channel
	// Detection is the human-readable explanation, used verbatim in the
	// order's detection field.
	Detection string
	// Domain is the search domain the marker fired on, so callers can check
	// whether a configured rule already covers (and therefore suppresses) it.
	Domain string
}

// DetectAssistantReferrer inspects a referrer URL for assistant-specific
// path or query markers on known search-engine domains. Returns nil when
// the URL is nil, the domain is not a known assistant surface, or no marker
// matches.
func DetectAssistantReferrer(u *url.URL) *HeuristicResult {
	if u == nil {
		return nil
	}
	for i := range assistantMarkers {
		m := &assistantMarkers[i]
		if !DomainMatches(m.domain, u) {
			continue
		}
		if marker := m.match(u); marker != "" {
			return &HeuristicResult{
				Channel:   m.channel,
				Detection: m.description + " (" + marker + ")",
				Domain:    m.domain,
			}
		}
	}
	return nil
}

// match returns a short description of the first marker that fires, or "".
func (m *assistantMarker) match(u *url.URL) string {
	for _, seg := range m.pathSegments {
		for _, part := range strings.Split(strings.ToLower(u.Path), "/") {
			if part == seg {
				return "path segment /" + seg
			}
		}
	}
	q := u.Query()
	for key, want := range m.queryFlags {
		if strings.EqualFold(q.Get(key), want) {
			return "query " + key + "=" + want
		}
	}
	return ""
}
