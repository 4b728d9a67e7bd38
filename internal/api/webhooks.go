// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/attriflow/attriflow/internal/logging"
)

// Webhook headers set by the commerce platform.
const (
	headerWebhookHMAC = "X-Webhook-Hmac-Sha256"
	headerShopDomain  = "X-Shop-Domain"
)

// maxWebhookBody caps payload size. Order payloads run a few KB; anything
// near the cap is not a webhook.
const maxWebhookBody = 1 << 20

// handleWebhook verifies the signature and enqueues the payload. The
// response is 202 before any processing happens; the platform's delivery
// timeout is tight and redelivery is handled by the order upsert anyway.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	topic := chi.URLParam(r, "category") + "/" + chi.URLParam(r, "event")
	shop := r.Header.Get(headerShopDomain)
	if shop == "" {
		respondError(w, http.StatusBadRequest, "missing shop domain header")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxWebhookBody {
		respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if !s.verifyWebhookSignature(body, r.Header.Get(headerWebhookHMAC)) {
		logging.Warn().Str("shop", shop).Str("topic", topic).Msg("webhook signature rejected")
		respondError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	jobID, err := s.queue.Enqueue(r.Context(), shop, topic, json.RawMessage(body))
	if err != nil {
		logging.Error().Err(err).Str("shop", shop).Str("topic", topic).Msg("webhook enqueue failed")
		respondError(w, http.StatusServiceUnavailable, "failed to enqueue webhook")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

// verifyWebhookSignature checks the base64 HMAC-SHA256 of the raw body. An
// empty configured secret disables verification.
func (s *Server) verifyWebhookSignature(body []byte, signature string) bool {
	if s.cfg.WebhookSecret == "" {
		return true
	}
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.WebhookSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
