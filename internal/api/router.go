// Veilgate - Traffic Admission and Cloaking Gateway
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/veilgate

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/veilgate/internal/logging"
	"github.com/tomtom215/veilgate/internal/middleware"
)

// RateLimitConfig configures the outer rate limiter on the gate route.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Disabled bool
}

// Router assembles the HTTP surface.
type Router struct {
	handler   *Handler
	rateLimit RateLimitConfig
}

// NewRouter creates a router around the given handler set.
func NewRouter(handler *Handler, rateLimit RateLimitConfig) *Router {
	return &Router{handler: handler, rateLimit: rateLimit}
}

// Setup builds the chi route tree.
func (rt *Router) Setup() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Route("/api/v1/health", func(r chi.Router) {
		r.Get("/live", rt.handler.HealthLive)
		r.Get("/ready", rt.handler.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	// The gate route. Rate limiting keys on the resolved client IP so the
	// limiter sees the same identity as the per-destination throttle.
	r.Group(func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics("/{slug}"))
		if !rt.rateLimit.Disabled {
			r.Use(httprate.Limit(
				rt.rateLimit.Requests,
				rt.rateLimit.Window,
				httprate.WithKeyFuncs(clientIPKey),
			))
		}
		r.Get("/{slug}", rt.handler.Gate)
		r.Post("/{slug}", rt.handler.Gate)
	})

	return r
}

// clientIPKey keys the rate limiter on the proxy-aware client address.
func clientIPKey(r *http.Request) (string, error) {
	if ip := middleware.ClientIP(r.Context()); ip != "" {
		return ip, nil
	}
	return httprate.KeyByIP(r)
}

// writeJSON renders a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}
