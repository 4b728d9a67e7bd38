// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/attriflow/attriflow/internal/logging"
)

type errorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Warn().Err(err).Msg("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

func respondErrorDetails(w http.ResponseWriter, status int, msg string, details interface{}) {
	respondJSON(w, status, errorResponse{Error: msg, Details: details})
}
