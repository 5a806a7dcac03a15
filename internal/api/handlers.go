// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/audit"
	"github.com/tomtom215/feedtuner/internal/catalog"
	"github.com/tomtom215/feedtuner/internal/collab"
	"github.com/tomtom215/feedtuner/internal/pipeline"
	"github.com/tomtom215/feedtuner/internal/profile"
	"github.com/tomtom215/feedtuner/internal/store"
)

// Pipeline is the orchestrator surface the handlers depend on.
// Implemented by *pipeline.Orchestrator.
type Pipeline interface {
	Submit(ctx context.Context, feedback, postID string) (pipeline.Run, error)
	ApplyHeld() (string, error)
	Displayed() []catalog.ScoredPost
	HasHeld() bool
	Profile() *profile.Profile
	ResetProfile()
	RunStatus(id string) (pipeline.Run, bool)
}

var _ Pipeline = (*pipeline.Orchestrator)(nil)

// CredentialStore persists collaborator credentials.
// Implemented by *store.Store.
type CredentialStore interface {
	SaveCredentials(c store.Credentials) error
	ClearCredentials() error
}

var _ CredentialStore = (*store.Store)(nil)

// Handler holds the HTTP handlers and their dependencies.
type Handler struct {
	pipe     Pipeline
	recorder *audit.Recorder
	creds    CredentialStore
	logger   zerolog.Logger
}

// NewHandler creates the API handler set. recorder may be nil (the
// events endpoint returns an empty list); creds may be nil (the
// credentials endpoints report the store unavailable).
func NewHandler(pipe Pipeline, recorder *audit.Recorder, creds CredentialStore, logger zerolog.Logger) *Handler {
	return &Handler{
		pipe:     pipe,
		recorder: recorder,
		creds:    creds,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// feedResponse is the shared shape for feed-returning endpoints.
type feedResponse struct {
	Posts []catalog.ScoredPost `json:"posts"`

	// PendingConfirmation is true when a completed re-rank is being
	// held for explicit user confirmation.
	PendingConfirmation bool `json:"pending_confirmation"`
}

// feedbackResponse returns the run record and the feed ordering that
// was displayed immediately after profile update.
type feedbackResponse struct {
	Run  pipeline.Run `json:"run"`
	Feed feedResponse `json:"feed"`
}

// Feedback handles POST /api/v1/feedback. It submits the raw signal
// and responds once the updated candidate ordering is displayable;
// re-ranking and cleanup continue in the background.
func (h *Handler) Feedback(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)

	var req FeedbackRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.ValidationError(err.Error(), nil)
		return
	}

	run, err := h.pipe.Submit(r.Context(), req.Feedback, req.PostID)
	if err != nil {
		h.logger.Error().Err(err).Msg("Feedback submission failed")
		rw.ServiceUnavailable("feedback could not be processed")
		return
	}

	rw.Accepted(feedbackResponse{
		Run: run,
		Feed: feedResponse{
			Posts:               h.pipe.Displayed(),
			PendingConfirmation: h.pipe.HasHeld(),
		},
	})
}

// Feed handles GET /api/v1/feed.
func (h *Handler) Feed(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)
	rw.Success(feedResponse{
		Posts:               h.pipe.Displayed(),
		PendingConfirmation: h.pipe.HasHeld(),
	})
}

// applyResponse reports which run's held re-rank was applied.
type applyResponse struct {
	RunID string       `json:"run_id"`
	Feed  feedResponse `json:"feed"`
}

// FeedApply handles POST /api/v1/feed/apply. It confirms a held
// re-rank result.
func (h *Handler) FeedApply(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)

	runID, err := h.pipe.ApplyHeld()
	if err != nil {
		if errors.Is(err, collab.ErrStale) {
			rw.Conflict("held re-rank is stale: the profile changed since it was computed")
			return
		}
		rw.NotFound("no re-rank result is awaiting confirmation")
		return
	}

	rw.Success(applyResponse{
		RunID: runID,
		Feed: feedResponse{
			Posts:               h.pipe.Displayed(),
			PendingConfirmation: h.pipe.HasHeld(),
		},
	})
}

// Profile handles GET /api/v1/profile.
func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)
	rw.Success(h.pipe.Profile())
}

// ProfileReset handles POST /api/v1/profile/reset.
func (h *Handler) ProfileReset(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)
	h.pipe.ResetProfile()
	rw.Success(h.pipe.Profile())
}

// Run handles GET /api/v1/runs/{id}.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)

	id := chi.URLParam(r, "id")
	run, ok := h.pipe.RunStatus(id)
	if !ok {
		rw.NotFound("unknown run id")
		return
	}
	rw.Success(run)
}

// Events handles GET /api/v1/events. The optional limit query param
// bounds the result (default 50, max ring size).
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			rw.BadRequest("limit must be a positive integer")
			return
		}
		limit = n
	}

	events := []audit.Event{}
	if h.recorder != nil {
		events = h.recorder.Recent(limit)
	}
	rw.Success(map[string]interface{}{"events": events})
}

// CredentialsSave handles PUT /api/v1/credentials. The values are
// stored opaquely and applied to the collaborator clients on the next
// restart.
func (h *Handler) CredentialsSave(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)

	if h.creds == nil {
		rw.ServiceUnavailable("credential store is not configured")
		return
	}

	var req CredentialsRequest
	if err := decodeAndValidate(r, &req); err != nil {
		rw.ValidationError(err.Error(), nil)
		return
	}

	if err := h.creds.SaveCredentials(store.Credentials{
		APIKey:   req.APIKey,
		Endpoint: req.Endpoint,
	}); err != nil {
		h.logger.Error().Err(err).Msg("Credential save failed")
		rw.InternalError("credentials could not be saved")
		return
	}
	rw.NoContent()
}

// CredentialsClear handles DELETE /api/v1/credentials.
func (h *Handler) CredentialsClear(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)

	if h.creds == nil {
		rw.ServiceUnavailable("credential store is not configured")
		return
	}
	if err := h.creds.ClearCredentials(); err != nil {
		h.logger.Error().Err(err).Msg("Credential clear failed")
		rw.InternalError("credentials could not be cleared")
		return
	}
	rw.NoContent()
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r, h.logger)
	rw.Success(map[string]string{"status": "ok"})
}
