// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package attribution

import (
	"net/url"
	"strings"
)

// NormalizeDomain strips the scheme and a leading "www." and lower-cases the
// remainder. Total function: never fails, garbage in stays garbage out.
func NormalizeDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	for _, scheme := range []string{"https://", "http://", "//"} {
		if strings.HasPrefix(s, scheme) {
			s = s[len(scheme):]
			break
		}
	}
	s = strings.TrimPrefix(s, "www.")
	// Drop any path/query remainder so "shop.com/x" normalizes to "shop.com".
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	return s
}

// SafeURL parses s as a URL. Referrer headers frequently arrive without a
// scheme, so on a parse failure (or a host-less result) it retries with an
// "https://" prefix. Returns nil if both attempts fail.
func SafeURL(s string) *url.URL {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if u, err := url.Parse(s); err == nil && u.Host != "" {
		return u
	}
	if u, err := url.Parse("https://" + s); err == nil && u.Host != "" {
		return u
	}
	return nil
}

// DomainMatches reports whether the URL's host equals the rule domain or is
// a subdomain of it (suffix match on "." + rule).
func DomainMatches(ruleDomain string, u *url.URL) bool {
	if u == nil {
		return false
	}
	ruleDomain = NormalizeDomain(ruleDomain)
	if ruleDomain == "" {
		return false
	}
	host := NormalizeDomain(u.Hostname())
	return host == ruleDomain || strings.HasSuffix(host, "."+ruleDomain)
}

// ExtractUTM scans candidate URLs in order and returns the first non-empty
// utm_source and utm_medium values found across all candidates. The scan
// short-circuits once both are found; source and medium may come from
// different candidates.
func ExtractUTM(candidates ...string) (source, medium string) {
	for _, c := range candidates {
		u := SafeURL(c)
		if u == nil {
			continue
		}
		q := u.Query()
		if source == "" {
			source = q.Get("utm_source")
		}
		if medium == "" {
			medium = q.Get("utm_medium")
		}
		if source != "" && medium != "" {
			return source, medium
		}
	}
	return source, medium
}
