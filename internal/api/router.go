// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/metrics"
)

// RouterConfig holds the router-level knobs.
type RouterConfig struct {
	// CORSOrigins are the allowed CORS origins.
	CORSOrigins []string

	// RateLimitReqs is the per-IP request budget per window.
	RateLimitReqs int

	// RateLimitWindow is the rate limit window.
	RateLimitWindow time.Duration
}

// NewRouter configures all HTTP routes using Chi router.
func NewRouter(h *Handler, cfg RouterConfig, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to all routes in order.
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimitReqs > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))
		}
		r.Use(observeRequests)

		r.Post("/feedback", h.Feedback)
		r.Get("/feed", h.Feed)
		r.Post("/feed/apply", h.FeedApply)
		r.Get("/profile", h.Profile)
		r.Post("/profile/reset", h.ProfileReset)
		r.Get("/runs/{id}", h.Run)
		r.Get("/events", h.Events)
		r.Put("/credentials", h.CredentialsSave)
		r.Delete("/credentials", h.CredentialsClear)
	})

	// Observability endpoints stay outside the rate limit so probes and
	// scrapers are never throttled.
	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// observeRequests records per-route Prometheus metrics.
func observeRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = r.URL.Path
		}
		metrics.ObserveAPIRequest(r.Method, routePattern, ww.Status(), start)
	})
}

// requestLogger logs one line per completed request.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	l := logger.With().Str("component", "http").Logger()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			l.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", chimiddleware.GetReqID(r.Context())).
				Msg("Request completed")
		})
	}
}
