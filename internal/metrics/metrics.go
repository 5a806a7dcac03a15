// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus Metrics Integration for Production Observability
// This package provides instrumentation for:
// - Pipeline stage latency and outcomes
// - Collaborator request outcomes and circuit breaker state
// - Scoring and retrieval behavior
// - Profile mutations
// - API endpoint latency and throughput

var (
	// Pipeline Metrics
	PipelineStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Duration of pipeline stages in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 3, 5, 10},
		},
		[]string{"stage"}, // "intent", "profile_update", "hybrid_build", "rerank", "cleanup"
	)

	PipelineRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_runs_total",
			Help: "Total number of pipeline runs by terminal outcome",
		},
		[]string{"outcome"}, // "auto_applied", "held", "discarded_stale", "failed"
	)

	RerankApplications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rerank_applications_total",
			Help: "Total re-rank result dispositions",
		},
		[]string{"mode"}, // "auto", "held", "confirmed", "fallback", "stale"
	)

	HeldResults = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "rerank_held_results",
			Help: "Number of re-rank results currently held for confirmation",
		},
	)

	FeedbackReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedback_received_total",
			Help: "Total feedback submissions accepted into the pipeline",
		},
	)

	// Collaborator Metrics
	CollaboratorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collaborator_requests_total",
			Help: "Total collaborator requests by outcome",
		},
		[]string{"collaborator", "outcome"}, // outcome: "ok", "unavailable", "malformed", "rate_limited", "stale"
	)

	CollaboratorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collaborator_request_duration_seconds",
			Help:    "Collaborator request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collaborator"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collaborator_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collaborator_circuit_breaker_trips_total",
			Help: "Total circuit breaker state transitions to open",
		},
		[]string{"name"},
	)

	// Scoring and Retrieval Metrics
	PostsScored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scoring_posts_scored_total",
			Help: "Total posts scored",
		},
	)

	PostsVetoed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scoring_posts_vetoed_total",
			Help: "Total posts demoted by the dislike veto",
		},
	)

	RetrievalCandidates = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "retrieval_candidate_count",
			Help:    "Number of candidates produced per retrieval",
			Buckets: []float64{5, 10, 15, 20, 25},
		},
		[]string{"mode"}, // "interest", "hybrid"
	)

	// Profile Metrics
	ProfileMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "profile_mutations_total",
			Help: "Total profile mutations by kind",
		},
		[]string{"kind"}, // "adjustment", "decay", "prune", "reset"
	)

	ProfileEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "profile_entries",
			Help: "Current number of weighted tags in the profile",
		},
		[]string{"category"}, // "interest", "dislike"
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// Store Metrics
	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_operations_total",
			Help: "Total key-value store operations",
		},
		[]string{"operation", "status"}, // operation: "get", "set", "clear"
	)
)

// ObserveStage records a pipeline stage duration.
func ObserveStage(stage string, start time.Time) {
	PipelineStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// ObserveCollaborator records a collaborator call duration and outcome.
func ObserveCollaborator(name, outcome string, start time.Time) {
	CollaboratorRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	CollaboratorRequests.WithLabelValues(name, outcome).Inc()
}

// ObserveAPIRequest records an API request with its status code.
func ObserveAPIRequest(method, endpoint string, status int, start time.Time) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
}
