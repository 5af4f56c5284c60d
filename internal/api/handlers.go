// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

// Package api provides the gateway's HTTP surface: the slug gate endpoint,
// health probes and the Prometheus metrics endpoint.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/veilgate/internal/admission"
	"github.com/tomtom215/veilgate/internal/logging"
	"github.com/tomtom215/veilgate/internal/middleware"
	"github.com/tomtom215/veilgate/internal/models"
	"github.com/tomtom215/veilgate/internal/storage"
)

// DefaultParamName is the query parameter carrying the secret token.
const DefaultParamName = "apx"

// PolicyStore is the read surface the gate endpoint needs.
type PolicyStore interface {
	GetPolicyBySlug(ctx context.Context, slug string) (*models.DestinationPolicy, error)
	Ping(ctx context.Context) error
}

// AccessEvaluator decides admission for one request against a policy.
type AccessEvaluator interface {
	Evaluate(ctx context.Context, policy *models.DestinationPolicy, req admission.Request) models.AccessDecision
}

// Handler holds the gate endpoint's collaborators.
type Handler struct {
	store     PolicyStore
	evaluator AccessEvaluator
	decoy     *DecoyFetcher
	paramName string
}

// NewHandler creates the HTTP handler set. paramName empty uses the default.
func NewHandler(store PolicyStore, evaluator AccessEvaluator, decoy *DecoyFetcher, paramName string) *Handler {
	if paramName == "" {
		paramName = DefaultParamName
	}
	return &Handler{
		store:     store,
		evaluator: evaluator,
		decoy:     decoy,
		paramName: paramName,
	}
}

// Gate serves GET /{slug}: evaluate the visitor and either redirect to the
// offer or serve the decoy page. Unknown and inactive slugs get the decoy
// too; a 404 would tell a prober the slug space exists.
func (h *Handler) Gate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))

	policy, err := h.store.GetPolicyBySlug(ctx, slug)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.Ctx(ctx).Error().Err(err).Str("slug", slug).Msg("Policy lookup failed")
		}
		h.serveDecoy(ctx, w, "")
		return
	}
	if !policy.Active {
		h.serveDecoy(ctx, w, "")
		return
	}

	// Cloaking off: pass everything straight through.
	if !policy.CloakingActive {
		http.Redirect(w, r, policy.OfferURL, http.StatusSeeOther)
		return
	}

	req := h.buildRequest(r)
	decision := h.evaluator.Evaluate(ctx, policy, req)

	if decision.Allowed {
		http.Redirect(w, r, policy.OfferURL, http.StatusSeeOther)
		return
	}
	h.serveDecoy(ctx, w, policy.SafePageURL)
}

func (h *Handler) buildRequest(r *http.Request) admission.Request {
	query := r.URL.Query()
	params := make(map[string]string, len(query))
	for key, values := range query {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}

	ip := middleware.ClientIP(r.Context())
	if ip == "" {
		ip = r.RemoteAddr
	}

	return admission.Request{
		IP:          ip,
		UserAgent:   r.UserAgent(),
		Referer:     r.Referer(),
		QueryParams: params,
		ParamCode:   query.Get(h.paramName),
	}
}

func (h *Handler) serveDecoy(ctx context.Context, w http.ResponseWriter, safePageURL string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(h.decoy.Fetch(ctx, safePageURL)))
}

// HealthLive reports process liveness.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady reports readiness: the store must answer.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
