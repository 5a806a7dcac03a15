// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/audit"
	"github.com/tomtom215/feedtuner/internal/catalog"
	"github.com/tomtom215/feedtuner/internal/collab"
	"github.com/tomtom215/feedtuner/internal/profile"
	"github.com/tomtom215/feedtuner/internal/retrieval"
	"github.com/tomtom215/feedtuner/internal/scoring"
)

// --- Mocks ---

type mockIntent struct {
	fn func(req collab.IntentRequest) (collab.IntentResult, error)
}

func (m *mockIntent) Analyze(_ context.Context, req collab.IntentRequest) (collab.IntentResult, error) {
	if m.fn == nil {
		return collab.IntentResult{}, nil
	}
	return m.fn(req)
}

type mockReranker struct {
	fn func(req collab.RerankRequest) (collab.RerankResult, error)
}

func (m *mockReranker) Rerank(_ context.Context, req collab.RerankRequest) (collab.RerankResult, error) {
	if m.fn == nil {
		// Identity permutation.
		ids := make([]string, len(req.Candidates))
		for i, c := range req.Candidates {
			ids[i] = c.ID
		}
		return collab.RerankResult{OrderedIDs: ids}, nil
	}
	return m.fn(req)
}

type mockCleaner struct {
	fn func(req collab.CleanupRequest) (collab.CleanupResult, error)
}

func (m *mockCleaner) Cleanup(_ context.Context, req collab.CleanupRequest) (collab.CleanupResult, error) {
	if m.fn == nil {
		return collab.CleanupResult{}, nil
	}
	return m.fn(req)
}

// --- Harness ---

type harness struct {
	orch     *Orchestrator
	recorder *audit.Recorder
	cancel   context.CancelFunc
	done     chan struct{}
}

type harnessOpts struct {
	cfg        Config
	profileCfg profile.Config
	intent     *mockIntent
	reranker   *mockReranker
	cleaner    *mockCleaner
	profile    *profile.Profile
	posts      []catalog.Post
}

func testPosts() []catalog.Post {
	var posts []catalog.Post
	for i := 0; i < 30; i++ {
		posts = append(posts, catalog.Post{
			ID:    fmt.Sprintf("p%02d", i),
			Title: fmt.Sprintf("Post %d", i),
			Tags:  []string{"Food"},
			Likes: 100 - i,
		})
	}
	return posts
}

// buildOrchestrator wires an orchestrator without starting its
// consumer loop.
func buildOrchestrator(t *testing.T, opts harnessOpts) (*Orchestrator, *audit.Recorder) {
	t.Helper()

	logger := zerolog.Nop()
	if opts.posts == nil {
		opts.posts = testPosts()
	}
	corpus, err := catalog.NewCorpus(opts.posts, logger)
	if err != nil {
		t.Fatalf("NewCorpus() error = %v", err)
	}
	engine, err := scoring.NewEngine(scoring.DefaultParams(), logger)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	retriever, err := retrieval.NewRetriever(retrieval.DefaultConfig(), engine, logger)
	if err != nil {
		t.Fatalf("NewRetriever() error = %v", err)
	}
	if opts.profileCfg == (profile.Config{}) {
		opts.profileCfg = profile.DefaultConfig()
	}
	manager, err := profile.NewManager(opts.profileCfg, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if opts.cfg == (Config{}) {
		opts.cfg = DefaultConfig()
	}
	if opts.intent == nil {
		opts.intent = &mockIntent{}
	}
	if opts.reranker == nil {
		opts.reranker = &mockReranker{}
	}
	if opts.cleaner == nil {
		opts.cleaner = &mockCleaner{}
	}

	recorder := audit.NewRecorder(64, nil, logger)
	orch, err := NewOrchestrator(opts.cfg, Deps{
		Engine:     engine,
		Retriever:  retriever,
		Manager:    manager,
		Corpus:     corpus,
		Intent:     opts.intent,
		Reranker:   opts.reranker,
		Cleaner:    opts.cleaner,
		Recorder:   recorder,
		Profile:    opts.profile,
		Vocabulary: corpus.TagIndex().Keys(),
	}, logger)
	if err != nil {
		t.Fatalf("NewOrchestrator() error = %v", err)
	}
	return orch, recorder
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	orch, recorder := buildOrchestrator(t, opts)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orch.Serve(ctx)
	}()

	h := &harness{orch: orch, recorder: recorder, cancel: cancel, done: done}
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not stop")
		}
		_ = orch.Close()
	})
	return h
}

// waitForState polls until the run reaches the wanted state.
func (h *harness) waitForState(t *testing.T, runID string, want State) Run {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		run, ok := h.orch.RunStatus(runID)
		if ok && run.State == want {
			return run
		}
		select {
		case <-deadline:
			t.Fatalf("run %s never reached %s (now %s)", runID, want, run.State)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// --- Test: full cycle ---

func TestSubmitFullCycleAutoApply(t *testing.T) {
	t.Parallel()

	intent := &mockIntent{fn: func(req collab.IntentRequest) (collab.IntentResult, error) {
		return collab.IntentResult{
			Adjustments: []profile.Adjustment{{Tag: "Food", Category: profile.CategoryInterest, Delta: 5}},
			Note:        "likes food",
		}, nil
	}}
	reranker := &mockReranker{fn: func(req collab.RerankRequest) (collab.RerankResult, error) {
		// Reverse the candidates.
		ids := make([]string, len(req.Candidates))
		for i, c := range req.Candidates {
			ids[len(ids)-1-i] = c.ID
		}
		return collab.RerankResult{OrderedIDs: ids}, nil
	}}

	h := newHarness(t, harnessOpts{intent: intent, reranker: reranker})

	run, err := h.orch.Submit(context.Background(), "more food posts", "p00")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(run.CandidateIDs) != 25 {
		t.Errorf("candidates = %d, want 25", len(run.CandidateIDs))
	}
	if len(run.Adjustments) != 1 {
		t.Errorf("adjustments = %v", run.Adjustments)
	}

	prof := h.orch.Profile()
	if i := profile.FindExact(prof.Interests, "food"); i < 0 {
		t.Errorf("Food interest not applied: %v", prof.Interests)
	}

	final := h.waitForState(t, run.ID, StateIdle)
	if final.ApplyState != ApplyApplied {
		t.Errorf("ApplyState = %s, want %s", final.ApplyState, ApplyApplied)
	}

	// Fast rerank replaced the displayed ordering with the reverse.
	displayed := h.orch.Displayed()
	if displayed[0].Post.ID != run.CandidateIDs[len(run.CandidateIDs)-1] {
		t.Errorf("displayed[0] = %s, want reversed order", displayed[0].Post.ID)
	}
}

func TestSubmitBeforeConsumerStarts(t *testing.T) {
	t.Parallel()

	orch, _ := buildOrchestrator(t, harnessOpts{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type submitResult struct {
		run Run
		err error
	}
	results := make(chan submitResult, 1)
	go func() {
		run, err := orch.Submit(ctx, "early feedback", "")
		results <- submitResult{run: run, err: err}
	}()

	// Give Submit time to publish before any consumer exists. The
	// subscription created at construction time must buffer the event.
	time.Sleep(100 * time.Millisecond)

	serveCtx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = orch.Serve(serveCtx)
	}()
	t.Cleanup(func() {
		stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("orchestrator did not stop")
		}
		_ = orch.Close()
	})

	select {
	case res := <-results:
		if res.err != nil {
			t.Fatalf("Submit() error = %v, want buffered event processed", res.err)
		}
		if len(res.run.CandidateIDs) == 0 {
			t.Error("no candidates for feedback submitted before consumer start")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Submit() still blocked after consumer started, event lost")
	}
}

func TestSubmitIntentFailureIsNeutral(t *testing.T) {
	t.Parallel()

	intent := &mockIntent{fn: func(collab.IntentRequest) (collab.IntentResult, error) {
		return collab.IntentResult{}, fmt.Errorf("%w: connection refused", collab.ErrUnavailable)
	}}
	h := newHarness(t, harnessOpts{intent: intent})

	run, err := h.orch.Submit(context.Background(), "anything", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(run.Adjustments) != 0 {
		t.Errorf("adjustments = %v, want none on intent failure", run.Adjustments)
	}
	if run.Note != "analysis failed" {
		t.Errorf("note = %q", run.Note)
	}
	// Candidates are still built and displayed.
	if len(run.CandidateIDs) == 0 {
		t.Error("no candidates despite neutral fallback")
	}
	prof := h.orch.Profile()
	if prof.Version != 0 {
		t.Errorf("profile version = %d, want untouched 0", prof.Version)
	}
}

func TestSubmitRerankFailureKeepsDisplayedOrder(t *testing.T) {
	t.Parallel()

	reranker := &mockReranker{fn: func(collab.RerankRequest) (collab.RerankResult, error) {
		return collab.RerankResult{}, fmt.Errorf("%w: boom", collab.ErrUnavailable)
	}}
	h := newHarness(t, harnessOpts{reranker: reranker})

	run, err := h.orch.Submit(context.Background(), "feedback", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	final := h.waitForState(t, run.ID, StateIdle)

	if final.ApplyState != ApplyDisplayedImmediately {
		t.Errorf("ApplyState = %s, want %s", final.ApplyState, ApplyDisplayedImmediately)
	}
	displayed := h.orch.Displayed()
	for i, id := range run.CandidateIDs {
		if displayed[i].Post.ID != id {
			t.Errorf("displayed order changed at %d despite rerank failure", i)
			break
		}
	}
}

// --- Test: hold-for-confirmation ---

func TestSlowRerankIsHeldThenApplied(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	// Any real latency exceeds one nanosecond, forcing the hold path.
	cfg.AutoApplyThreshold = time.Nanosecond

	reranker := &mockReranker{fn: func(req collab.RerankRequest) (collab.RerankResult, error) {
		ids := make([]string, len(req.Candidates))
		for i, c := range req.Candidates {
			ids[len(ids)-1-i] = c.ID
		}
		return collab.RerankResult{OrderedIDs: ids}, nil
	}}
	h := newHarness(t, harnessOpts{cfg: cfg, reranker: reranker})

	run, err := h.orch.Submit(context.Background(), "feedback", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	final := h.waitForState(t, run.ID, StateIdle)

	if final.ApplyState != ApplyPendingConfirmation {
		t.Fatalf("ApplyState = %s, want %s", final.ApplyState, ApplyPendingConfirmation)
	}
	if !h.orch.HasHeld() {
		t.Fatal("no held result")
	}

	// Held: displayed order unchanged until confirmation.
	displayed := h.orch.Displayed()
	if displayed[0].Post.ID != run.CandidateIDs[0] {
		t.Error("displayed order changed before confirmation")
	}

	runID, err := h.orch.ApplyHeld()
	if err != nil {
		t.Fatalf("ApplyHeld() error = %v", err)
	}
	if runID != run.ID {
		t.Errorf("ApplyHeld() run = %s, want %s", runID, run.ID)
	}
	displayed = h.orch.Displayed()
	if displayed[0].Post.ID != run.CandidateIDs[len(run.CandidateIDs)-1] {
		t.Error("held order not applied after confirmation")
	}
	if h.orch.HasHeld() {
		t.Error("held result not cleared")
	}

	confirmed, _ := h.orch.RunStatus(run.ID)
	if confirmed.ApplyState != ApplyApplied {
		t.Errorf("ApplyState = %s after confirmation, want %s", confirmed.ApplyState, ApplyApplied)
	}
}

func TestApplyHeldWithoutResult(t *testing.T) {
	t.Parallel()

	h := newHarness(t, harnessOpts{})
	if _, err := h.orch.ApplyHeld(); err == nil {
		t.Error("ApplyHeld() with no held result should error")
	}
}

// --- Test: staleness ---

func TestStaleRerankDiscarded(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var calls atomic.Int32
	reranker := &mockReranker{fn: func(req collab.RerankRequest) (collab.RerankResult, error) {
		if calls.Add(1) == 1 {
			// First cycle's rerank resolves only after the second
			// cycle has mutated the profile.
			<-release
		}
		ids := make([]string, len(req.Candidates))
		for i, c := range req.Candidates {
			ids[i] = c.ID
		}
		return collab.RerankResult{OrderedIDs: ids}, nil
	}}
	intent := &mockIntent{fn: func(req collab.IntentRequest) (collab.IntentResult, error) {
		return collab.IntentResult{
			Adjustments: []profile.Adjustment{{Tag: "Food", Category: profile.CategoryInterest, Delta: 2}},
		}, nil
	}}
	h := newHarness(t, harnessOpts{intent: intent, reranker: reranker})

	runA, err := h.orch.Submit(context.Background(), "first", "")
	if err != nil {
		t.Fatalf("Submit(A) error = %v", err)
	}
	// Second cycle advances the profile version while A's rerank hangs.
	runB, err := h.orch.Submit(context.Background(), "second", "")
	if err != nil {
		t.Fatalf("Submit(B) error = %v", err)
	}
	h.waitForState(t, runB.ID, StateIdle)
	close(release)

	finalA := h.waitForState(t, runA.ID, StateIdle)
	if finalA.ApplyState != ApplyDiscardedStale {
		t.Errorf("run A ApplyState = %s, want %s", finalA.ApplyState, ApplyDiscardedStale)
	}
}

// --- Test: decay plumbing ---

func TestCleanupDecayApplied(t *testing.T) {
	t.Parallel()

	profileCfg := profile.DefaultConfig()
	profileCfg.DecayMinFeedback = 1
	profileCfg.DecayMinInterests = 1

	cleaner := &mockCleaner{fn: func(req collab.CleanupRequest) (collab.CleanupResult, error) {
		if len(req.History) == 0 {
			t.Error("cleanup request missing feedback history")
		}
		return collab.CleanupResult{
			Decays: []profile.Decay{{Tag: "Jazz", Delta: -30}},
		}, nil
	}}

	start := &profile.Profile{
		Interests: []profile.WeightedTag{{Tag: "Jazz", Weight: 15}},
	}
	h := newHarness(t, harnessOpts{profileCfg: profileCfg, cleaner: cleaner, profile: start})

	run, err := h.orch.Submit(context.Background(), "less jazz please", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	h.waitForState(t, run.ID, StateIdle)

	prof := h.orch.Profile()
	i := profile.FindExact(prof.Interests, "jazz")
	if i < 0 {
		t.Fatalf("jazz pruned entirely: %v", prof.Interests)
	}
	// Clamped to -10: 15 - 10 = 5, never negative.
	if prof.Interests[i].Weight != 5 {
		t.Errorf("jazz weight = %v, want 5 after clamped decay", prof.Interests[i].Weight)
	}
}

func TestCleanupNoMatchingDecayNotRecorded(t *testing.T) {
	t.Parallel()

	profileCfg := profile.DefaultConfig()
	profileCfg.DecayMinFeedback = 1
	profileCfg.DecayMinInterests = 1

	cleaner := &mockCleaner{fn: func(collab.CleanupRequest) (collab.CleanupResult, error) {
		// Suggestion targets a tag the profile does not hold.
		return collab.CleanupResult{
			Decays: []profile.Decay{{Tag: "Opera", Delta: -5}},
		}, nil
	}}
	start := &profile.Profile{
		Interests: []profile.WeightedTag{{Tag: "Jazz", Weight: 15}},
		Version:   3,
	}
	h := newHarness(t, harnessOpts{profileCfg: profileCfg, cleaner: cleaner, profile: start})

	run, err := h.orch.Submit(context.Background(), "feedback", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	h.waitForState(t, run.ID, StateIdle)

	prof := h.orch.Profile()
	if prof.Version != 3 {
		t.Errorf("version = %d after no-op decay, want unchanged 3", prof.Version)
	}
	for _, ev := range h.recorder.Recent(0) {
		if ev.Type == audit.EventDecayApplied {
			t.Error("audit trail claims a decay that never happened")
		}
	}
}

func TestCleanupFailureSkipsDecay(t *testing.T) {
	t.Parallel()

	cleaner := &mockCleaner{fn: func(collab.CleanupRequest) (collab.CleanupResult, error) {
		return collab.CleanupResult{}, errors.New("cleanup down")
	}}
	start := &profile.Profile{
		Interests: []profile.WeightedTag{{Tag: "Jazz", Weight: 15}},
		Version:   3,
	}
	h := newHarness(t, harnessOpts{cleaner: cleaner, profile: start})

	run, err := h.orch.Submit(context.Background(), "feedback", "")
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	h.waitForState(t, run.ID, StateIdle)

	prof := h.orch.Profile()
	if prof.Interests[0].Weight != 15 {
		t.Errorf("weight = %v, want untouched 15", prof.Interests[0].Weight)
	}
}

// --- Test: history bounds ---

func TestFeedbackHistoryBounded(t *testing.T) {
	t.Parallel()

	var lastHistory []string
	cleaner := &mockCleaner{fn: func(req collab.CleanupRequest) (collab.CleanupResult, error) {
		lastHistory = req.History
		return collab.CleanupResult{}, nil
	}}
	h := newHarness(t, harnessOpts{cleaner: cleaner})

	var lastRun Run
	for i := 0; i < 10; i++ {
		run, err := h.orch.Submit(context.Background(), fmt.Sprintf("feedback %d", i), "")
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		lastRun = run
		h.waitForState(t, run.ID, StateIdle)
	}

	if len(lastHistory) != 8 {
		t.Fatalf("history = %d entries, want 8", len(lastHistory))
	}
	if lastHistory[7] != "feedback 9" || lastHistory[0] != "feedback 2" {
		t.Errorf("history window = %v", lastHistory)
	}
	_ = lastRun
}

// --- Test: reset ---

func TestResetProfile(t *testing.T) {
	t.Parallel()

	start := &profile.Profile{
		Interests: []profile.WeightedTag{{Tag: "Food", Weight: 5}},
		Version:   2,
	}
	h := newHarness(t, harnessOpts{profile: start})

	h.orch.ResetProfile()
	prof := h.orch.Profile()
	if len(prof.Interests) != 0 {
		t.Errorf("interests = %v after reset", prof.Interests)
	}
	if prof.Version != 3 {
		t.Errorf("version = %d, want monotonic 3", prof.Version)
	}
}
