// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

// Package attribution classifies an order's traffic origin as an AI assistant
// channel (or none) from its referrer, landing page, UTM parameters and tags.
//
// # Classification Tiers
//
// The classifier evaluates signals in strict priority order; the first tier
// that fires wins and lower tiers are not consulted:
//
//  1. Exact utm_source rule match (intentional tracking, highest confidence)
//  2. Domain rule match against referrer, then landing page
//  3. utm_medium keyword containment (case-insensitive substring)
//  4. Assistant-referrer heuristic on generic search domains (lowest
//     confidence, suppressed by any rule in tiers 1-3 covering the domain)
//
// Every firing tier appends an evidence signal string so the dashboard can
// render how a classification was reached.
//
// All functions in this package are pure: malformed URLs are skipped rather
// than surfaced as errors, and no function performs I/O.
package attribution
