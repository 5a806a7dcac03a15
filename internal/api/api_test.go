// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/catalog"
	"github.com/tomtom215/feedtuner/internal/collab"
	"github.com/tomtom215/feedtuner/internal/pipeline"
	"github.com/tomtom215/feedtuner/internal/profile"
	"github.com/tomtom215/feedtuner/internal/store"
)

// fakePipeline implements Pipeline for handler tests.
type fakePipeline struct {
	submitFn    func(ctx context.Context, feedback, postID string) (pipeline.Run, error)
	applyHeldFn func() (string, error)
	displayed   []catalog.ScoredPost
	hasHeld     bool
	prof        *profile.Profile
	resetCalled bool
	runs        map[string]pipeline.Run
}

func (f *fakePipeline) Submit(ctx context.Context, feedback, postID string) (pipeline.Run, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, feedback, postID)
	}
	return pipeline.Run{ID: "run-1", Feedback: feedback, PostID: postID}, nil
}

func (f *fakePipeline) ApplyHeld() (string, error) {
	if f.applyHeldFn != nil {
		return f.applyHeldFn()
	}
	return "", errors.New("no held result")
}

func (f *fakePipeline) Displayed() []catalog.ScoredPost { return f.displayed }
func (f *fakePipeline) HasHeld() bool                   { return f.hasHeld }

func (f *fakePipeline) Profile() *profile.Profile {
	if f.prof != nil {
		return f.prof
	}
	return profile.New()
}

func (f *fakePipeline) ResetProfile() { f.resetCalled = true }

func (f *fakePipeline) RunStatus(id string) (pipeline.Run, bool) {
	run, ok := f.runs[id]
	return run, ok
}

// fakeCredStore implements CredentialStore for handler tests.
type fakeCredStore struct {
	saved   *store.Credentials
	cleared bool
}

func (f *fakeCredStore) SaveCredentials(c store.Credentials) error {
	f.saved = &c
	return nil
}

func (f *fakeCredStore) ClearCredentials() error {
	f.cleared = true
	return nil
}

func newTestServer(t *testing.T, fake *fakePipeline) *httptest.Server {
	t.Helper()
	return newTestServerWithCreds(t, fake, &fakeCredStore{})
}

func newTestServerWithCreds(t *testing.T, fake *fakePipeline, creds CredentialStore) *httptest.Server {
	t.Helper()
	h := NewHandler(fake, nil, creds, zerolog.Nop())
	router := NewRouter(h, RouterConfig{
		CORSOrigins:     []string{"*"},
		RateLimitReqs:   0, // disabled in tests
		RateLimitWindow: time.Minute,
	}, zerolog.Nop())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func decodeResponse(t *testing.T, resp *http.Response) APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var out APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestFeedbackAccepted(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{
		displayed: []catalog.ScoredPost{
			{Post: &catalog.Post{ID: "p1", Title: "One"}, Score: 12},
		},
	}
	srv := newTestServer(t, fake)

	resp, err := http.Post(srv.URL+"/api/v1/feedback", "application/json",
		strings.NewReader(`{"feedback": "more cooking", "post_id": "p1"}`))
	if err != nil {
		t.Fatalf("POST /feedback: %v", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	out := decodeResponse(t, resp)
	if !out.Success {
		t.Errorf("Success = false, error = %+v", out.Error)
	}
}

func TestFeedbackValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakePipeline{})

	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ``},
		{name: "missing feedback", body: `{"post_id": "p1"}`},
		{name: "unknown field", body: `{"feedback": "x", "bogus": true}`},
		{name: "not json", body: `feedback=x`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp, err := http.Post(srv.URL+"/api/v1/feedback", "application/json",
				strings.NewReader(tt.body))
			if err != nil {
				t.Fatalf("POST /feedback: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestFeedbackSubmitFailure(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{
		submitFn: func(context.Context, string, string) (pipeline.Run, error) {
			return pipeline.Run{}, errors.New("queue closed")
		},
	}
	srv := newTestServer(t, fake)

	resp, err := http.Post(srv.URL+"/api/v1/feedback", "application/json",
		strings.NewReader(`{"feedback": "hello"}`))
	if err != nil {
		t.Fatalf("POST /feedback: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestFeedPendingConfirmation(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{hasHeld: true}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/api/v1/feed")
	if err != nil {
		t.Fatalf("GET /feed: %v", err)
	}
	out := decodeResponse(t, resp)

	data, err := json.Marshal(out.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	var feed feedResponse
	if err := json.Unmarshal(data, &feed); err != nil {
		t.Fatalf("unmarshal feed: %v", err)
	}
	if !feed.PendingConfirmation {
		t.Error("PendingConfirmation = false, want true")
	}
}

func TestFeedApply(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		applyFn    func() (string, error)
		wantStatus int
	}{
		{
			name:       "applied",
			applyFn:    func() (string, error) { return "run-7", nil },
			wantStatus: http.StatusOK,
		},
		{
			name:       "stale",
			applyFn:    func() (string, error) { return "", collab.ErrStale },
			wantStatus: http.StatusConflict,
		},
		{
			name:       "nothing held",
			applyFn:    nil,
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newTestServer(t, &fakePipeline{applyHeldFn: tt.applyFn})

			resp, err := http.Post(srv.URL+"/api/v1/feed/apply", "application/json", nil)
			if err != nil {
				t.Fatalf("POST /feed/apply: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestProfileReset(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{}
	srv := newTestServer(t, fake)

	resp, err := http.Post(srv.URL+"/api/v1/profile/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /profile/reset: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if !fake.resetCalled {
		t.Error("ResetProfile was not called")
	}
}

func TestRunStatus(t *testing.T) {
	t.Parallel()

	fake := &fakePipeline{
		runs: map[string]pipeline.Run{
			"known": {ID: "known", State: pipeline.StateIdle},
		},
	}
	srv := newTestServer(t, fake)

	resp, err := http.Get(srv.URL + "/api/v1/runs/known")
	if err != nil {
		t.Fatalf("GET /runs/known: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("known run status = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/runs/missing")
	if err != nil {
		t.Fatalf("GET /runs/missing: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", resp.StatusCode)
	}
}

func TestEventsLimitValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakePipeline{})

	resp, err := http.Get(srv.URL + "/api/v1/events?limit=nope")
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/v1/events")
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	out := decodeResponse(t, resp)
	if !out.Success {
		t.Errorf("Success = false, error = %+v", out.Error)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakePipeline{})

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestCredentials(t *testing.T) {
	t.Parallel()

	creds := &fakeCredStore{}
	srv := newTestServerWithCreds(t, &fakePipeline{}, creds)
	client := srv.Client()

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/credentials",
		strings.NewReader(`{"api_key": "k-123", "endpoint": "http://collab.internal:9000"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("PUT /credentials: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("save status = %d, want 204", resp.StatusCode)
	}
	if creds.saved == nil || creds.saved.APIKey != "k-123" {
		t.Errorf("saved = %+v, want api key k-123", creds.saved)
	}

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/api/v1/credentials", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("DELETE /credentials: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("clear status = %d, want 204", resp.StatusCode)
	}
	if !creds.cleared {
		t.Error("ClearCredentials was not called")
	}
}

func TestCredentialsValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakePipeline{})

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/credentials",
		strings.NewReader(`{"endpoint": "http://collab"}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("PUT /credentials: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing api_key", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, &fakePipeline{})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
