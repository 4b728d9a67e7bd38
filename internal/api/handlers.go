// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/attriflow/attriflow/internal/database"
	"github.com/attriflow/attriflow/internal/logging"
	"github.com/attriflow/attriflow/internal/models"
	"github.com/attriflow/attriflow/internal/validation"
)

// handleHealth reports liveness: database reachability and queue depth.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	overall := "healthy"
	dbState := "ok"
	if err := s.db.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
		dbState = err.Error()
	}

	respondJSON(w, status, map[string]interface{}{
		"status":      overall,
		"database":    dbState,
		"queue_depth": s.queue.Depth(),
	})
}

// handlePipelineState returns the shop's pipeline activity record.
func (s *Server) handlePipelineState(w http.ResponseWriter, r *http.Request) {
	shop := chi.URLParam(r, "shop")
	state, err := s.pipeline.State(r.Context(), shop)
	if err != nil {
		logging.Error().Err(err).Str("shop", shop).Msg("pipeline state read failed")
		respondError(w, http.StatusInternalServerError, "failed to read pipeline state")
		return
	}
	respondJSON(w, http.StatusOK, state)
}

// handleBackfillDescribe returns the most recent backfill job.
func (s *Server) handleBackfillDescribe(w http.ResponseWriter, r *http.Request) {
	shop := chi.URLParam(r, "shop")
	job, err := s.backfill.Describe(r.Context(), shop)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "no backfill has run for this shop")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("shop", shop).Msg("backfill describe failed")
		respondError(w, http.StatusInternalServerError, "failed to describe backfill")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// handleBackfillTrigger queues a backfill and processes it in the
// background. A job already in flight is reported with 409.
func (s *Server) handleBackfillTrigger(w http.ResponseWriter, r *http.Request) {
	shop := chi.URLParam(r, "shop")
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -s.cfg.BackfillRangeDays)

	res, err := s.backfill.Start(r.Context(), shop, start, end)
	if err != nil {
		logging.Error().Err(err).Str("shop", shop).Msg("backfill trigger failed")
		respondError(w, http.StatusInternalServerError, "failed to start backfill")
		return
	}
	if !res.Queued {
		respondJSON(w, http.StatusConflict, res)
		return
	}

	go func(job *models.BackfillJob) {
		if err := s.backfill.Process(context.Background(), job); err != nil {
			logging.Error().Err(err).Str("shop", shop).Str("job_id", job.ID).
				Msg("triggered backfill failed")
		}
	}(res.Job)

	respondJSON(w, http.StatusAccepted, res)
}

// handleCleanupTrigger runs a retention purge in the background.
func (s *Server) handleCleanupTrigger(w http.ResponseWriter, r *http.Request) {
	shop := chi.URLParam(r, "shop")
	go func() {
		if err := s.cleanup.PruneHistoricalData(context.Background(), shop); err != nil {
			logging.Error().Err(err).Str("shop", shop).Msg("triggered cleanup failed")
		}
	}()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cleanup started"})
}

// handleOrderGet returns one persisted order with its attribution evidence.
func (s *Server) handleOrderGet(w http.ResponseWriter, r *http.Request) {
	shop := chi.URLParam(r, "shop")
	orderID := chi.URLParam(r, "order")
	order, err := s.orders.GetOrder(r.Context(), shop, orderID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "unknown order")
		return
	}
	if err != nil {
		logging.Error().Err(err).Str("shop", shop).Str("order_id", orderID).Msg("order lookup failed")
		respondError(w, http.StatusInternalServerError, "failed to load order")
		return
	}
	respondJSON(w, http.StatusOK, order)
}

// handleRulesGet returns the shop's rule set, materializing defaults on
// first read.
func (s *Server) handleRulesGet(w http.ResponseWriter, r *http.Request) {
	shop := chi.URLParam(r, "shop")
	rs, err := s.rules.Load(r.Context(), shop)
	if err != nil {
		logging.Error().Err(err).Str("shop", shop).Msg("rule set load failed")
		respondError(w, http.StatusInternalServerError, "failed to load rule set")
		return
	}
	respondJSON(w, http.StatusOK, rs)
}

// handleRulesReset discards the shop's custom rules and restores the
// built-in defaults.
func (s *Server) handleRulesReset(w http.ResponseWriter, r *http.Request) {
	shop := chi.URLParam(r, "shop")
	rs, err := s.rules.Reset(r.Context(), shop)
	if err != nil {
		logging.Error().Err(err).Str("shop", shop).Msg("rule set reset failed")
		respondError(w, http.StatusInternalServerError, "failed to reset rule set")
		return
	}
	respondJSON(w, http.StatusOK, rs)
}

// rulesUpdateRequest is the PUT /rules payload. Only custom rules are
// submitted; defaults are managed by the service.
type rulesUpdateRequest struct {
	DomainRules []struct {
		Domain  string `json:"domain" validate:"required,rule_domain"`
		Channel string `json:"channel" validate:"required,channel_slug"`
	} `json:"domain_rules" validate:"dive"`
	UTMSourceRules []struct {
		Value   string `json:"value" validate:"required,min=1,max=100"`
		Channel string `json:"channel" validate:"required,channel_slug"`
	} `json:"utm_source_rules" validate:"dive"`

	// MediumKeywords null means keep the stored list; empty array clears it.
	MediumKeywords []string `json:"medium_keywords"`
}

// handleRulesUpdate replaces the shop's custom rules.
func (s *Server) handleRulesUpdate(w http.ResponseWriter, r *http.Request) {
	shop := chi.URLParam(r, "shop")

	var req rulesUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		respondErrorDetails(w, http.StatusUnprocessableEntity, verr.Error(), verr.Fields)
		return
	}

	domains := make([]models.DomainRule, len(req.DomainRules))
	for i, d := range req.DomainRules {
		domains[i] = models.DomainRule{Domain: d.Domain, Channel: models.Channel(d.Channel)}
	}
	utm := make([]models.UTMSourceRule, len(req.UTMSourceRules))
	for i, u := range req.UTMSourceRules {
		utm[i] = models.UTMSourceRule{Value: u.Value, Channel: models.Channel(u.Channel)}
	}

	rs, err := s.rules.Update(r.Context(), shop, domains, utm, req.MediumKeywords)
	if err != nil {
		logging.Error().Err(err).Str("shop", shop).Msg("rule set update failed")
		respondError(w, http.StatusInternalServerError, "failed to update rule set")
		return
	}
	respondJSON(w, http.StatusOK, rs)
}
