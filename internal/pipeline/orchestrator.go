// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

// Package pipeline sequences the feedback-processing state machine.
//
// Each feedback submission runs one cycle:
//
//	Idle -> IntentPending -> ProfileUpdated -> HybridBuilt ->
//	RerankPending -> {AutoApplied | HeldPending} -> CleanupPending -> Idle
//
// Intent analysis and retrieval are synchronous: the caller gets the new
// hybrid ordering back and the screen is never stale. Re-ranking and
// cleanup run in the background. A re-rank result that resolves within
// the auto-apply threshold replaces the displayed ordering immediately;
// a slower one is held until the user explicitly applies it.
//
// Feedback intake is serialized through a single-consumer watermill
// queue, which guarantees the profile mutation of a cycle completes
// before its retrieval reads the profile. Background results carry the
// profile version they were computed against and are discarded as stale
// once the version has advanced.
//
// Every collaborator failure is converted to a neutral no-op at this
// boundary: empty adjustments, unchanged ordering, skipped decay.
// Nothing in a cycle is user-fatal.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/audit"
	"github.com/tomtom215/feedtuner/internal/catalog"
	"github.com/tomtom215/feedtuner/internal/collab"
	"github.com/tomtom215/feedtuner/internal/metrics"
	"github.com/tomtom215/feedtuner/internal/profile"
	"github.com/tomtom215/feedtuner/internal/retrieval"
	"github.com/tomtom215/feedtuner/internal/scoring"
)

// State is a pipeline run state.
type State string

const (
	StateIdle           State = "idle"
	StateIntentPending  State = "intent_pending"
	StateProfileUpdated State = "profile_updated"
	StateHybridBuilt    State = "hybrid_built"
	StateRerankPending  State = "rerank_pending"
	StateAutoApplied    State = "auto_applied"
	StateHeldPending    State = "held_pending"
	StateCleanupPending State = "cleanup_pending"
)

// ApplyState describes what happened to a run's re-rank result.
type ApplyState string

const (
	ApplyDisplayedImmediately ApplyState = "displayed_immediately"
	ApplyPendingConfirmation  ApplyState = "pending_confirmation"
	ApplyApplied              ApplyState = "applied"
	ApplyDiscardedStale       ApplyState = "discarded_stale"
)

// feedbackTopic is the internal queue topic for feedback events.
const feedbackTopic = "pipeline.feedback"

// Config holds pipeline tuning.
type Config struct {
	// AutoApplyThreshold is the re-rank latency below which results
	// replace the displayed ordering without confirmation.
	// Default: 3s
	AutoApplyThreshold time.Duration `koanf:"auto_apply_threshold" json:"auto_apply_threshold"`

	// HistorySize is the rolling feedback history length fed to the
	// cleanup collaborator.
	// Default: 8
	HistorySize int `koanf:"history_size" json:"history_size"`

	// VocabularyLimit bounds the canonical tag vocabulary shipped to
	// the intent analyzer.
	// Default: 300
	VocabularyLimit int `koanf:"vocabulary_limit" json:"vocabulary_limit"`

	// TopInterests is how many interest tags the reranker receives.
	// Default: 5
	TopInterests int `koanf:"top_interests" json:"top_interests"`

	// QueueBuffer is the feedback queue buffer size.
	// Default: 64
	QueueBuffer int `koanf:"queue_buffer" json:"queue_buffer"`
}

// DefaultConfig returns the default pipeline tuning.
func DefaultConfig() Config {
	return Config{
		AutoApplyThreshold: 3 * time.Second,
		HistorySize:        8,
		VocabularyLimit:    300,
		TopInterests:       5,
		QueueBuffer:        64,
	}
}

// Validate checks pipeline configuration.
func (c *Config) Validate() error {
	if c.AutoApplyThreshold <= 0 {
		return fmt.Errorf("auto_apply_threshold must be positive, got %v", c.AutoApplyThreshold)
	}
	if c.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive, got %d", c.HistorySize)
	}
	if c.VocabularyLimit <= 0 {
		return fmt.Errorf("vocabulary_limit must be positive, got %d", c.VocabularyLimit)
	}
	if c.TopInterests <= 0 {
		return fmt.Errorf("top_interests must be positive, got %d", c.TopInterests)
	}
	return nil
}

// Run is a snapshot of one feedback cycle's transient record.
type Run struct {
	ID            string               `json:"id"`
	Feedback      string               `json:"feedback"`
	PostID        string               `json:"post_id,omitempty"`
	State         State                `json:"state"`
	ApplyState    ApplyState           `json:"apply_state"`
	Note          string               `json:"note,omitempty"`
	SearchPhrase  string               `json:"search_phrase,omitempty"`
	Adjustments   []profile.Adjustment `json:"adjustments,omitempty"`
	CandidateIDs  []string             `json:"candidate_ids,omitempty"`
	RerankElapsed time.Duration        `json:"rerank_elapsed_ns,omitempty"`
	// ProfileVersion is the version the run's background results were
	// computed against.
	ProfileVersion int64     `json:"profile_version"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at,omitempty"`
}

// runRecord is the mutable internal run state; Run snapshots are copied
// out under the orchestrator lock.
type runRecord struct {
	Run
	ready     chan struct{} // closed once the hybrid ordering is displayed
	readyOnce sync.Once
}

// Snapshotter persists the profile after mutation batches.
// Implemented by *store.Store; nil disables persistence.
type Snapshotter interface {
	SaveProfile(p *profile.Profile) error
}

// heldRerank is a completed re-rank result awaiting explicit user
// confirmation.
type heldRerank struct {
	runID   string
	order   []catalog.ScoredPost
	version int64
}

// Orchestrator owns the session state: profile, displayed ordering,
// feedback history, and run records. It consumes feedback events from a
// single-subscriber queue; Serve must be running for Submit to make
// progress.
type Orchestrator struct {
	cfg       Config
	logger    zerolog.Logger
	engine    *scoring.Engine
	retriever *retrieval.Retriever
	manager   *profile.Manager
	corpus    catalog.Provider
	vocab     []string

	intent   collab.IntentAnalyzer
	reranker collab.Reranker
	cleaner  collab.Cleaner

	recorder  *audit.Recorder
	snapshots Snapshotter

	queue    *gochannel.GoChannel
	messages <-chan *message.Message

	mu            sync.Mutex
	prof          *profile.Profile
	displayed     []catalog.ScoredPost
	held          *heldRerank
	history       []string
	feedbackCount int
	runs          map[string]*runRecord

	wg sync.WaitGroup
}

// Deps bundles the orchestrator's collaborators and infrastructure.
type Deps struct {
	Engine    *scoring.Engine
	Retriever *retrieval.Retriever
	Manager   *profile.Manager
	Corpus    catalog.Provider
	Intent    collab.IntentAnalyzer
	Reranker  collab.Reranker
	Cleaner   collab.Cleaner
	Recorder  *audit.Recorder
	// Snapshots may be nil to disable profile persistence.
	Snapshots Snapshotter
	// Profile is the restored session profile; nil starts empty.
	Profile *profile.Profile
	// Vocabulary is the canonical tag vocabulary for intent analysis.
	Vocabulary []string
}

// NewOrchestrator wires the pipeline.
func NewOrchestrator(cfg Config, deps Deps, logger zerolog.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate pipeline config: %w", err)
	}
	if deps.Engine == nil || deps.Retriever == nil || deps.Manager == nil || deps.Corpus == nil {
		return nil, fmt.Errorf("engine, retriever, manager and corpus are required")
	}
	if deps.Intent == nil || deps.Reranker == nil || deps.Cleaner == nil {
		return nil, fmt.Errorf("intent, reranker and cleaner collaborators are required")
	}
	if deps.Recorder == nil {
		return nil, fmt.Errorf("audit recorder is required")
	}
	prof := deps.Profile
	if prof == nil {
		prof = profile.New()
	}
	l := logger.With().Str("component", "pipeline").Logger()

	queue := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: int64(cfg.QueueBuffer),
	}, newWatermillLogger(l))

	// Subscribe before any Publish can happen: gochannel drops events
	// published with no subscriber registered, so feedback submitted
	// while the consumer is still starting must land in this buffer.
	messages, err := queue.Subscribe(context.Background(), feedbackTopic)
	if err != nil {
		_ = queue.Close()
		return nil, fmt.Errorf("subscribe feedback queue: %w", err)
	}

	return &Orchestrator{
		cfg:       cfg,
		logger:    l,
		engine:    deps.Engine,
		retriever: deps.Retriever,
		manager:   deps.Manager,
		corpus:    deps.Corpus,
		vocab:     deps.Vocabulary,
		intent:    deps.Intent,
		reranker:  deps.Reranker,
		cleaner:   deps.Cleaner,
		recorder:  deps.Recorder,
		snapshots: deps.Snapshots,
		queue:     queue,
		messages:  messages,
		prof:      prof,
		runs:      make(map[string]*runRecord),
	}, nil
}

// Serve drains the feedback subscription until ctx is canceled. It
// implements suture.Service. The subscription itself is created in
// NewOrchestrator, so events submitted before Serve starts (or between
// supervisor restarts) are buffered and processed in order. Cycles are
// processed serially; background stages of a cycle may still overlap
// the next cycle.
func (o *Orchestrator) Serve(ctx context.Context) error {
	o.logger.Info().Msg("Pipeline consumer started")

	for {
		select {
		case <-ctx.Done():
			o.wg.Wait()
			return ctx.Err()
		case msg, ok := <-o.messages:
			if !ok {
				o.wg.Wait()
				return nil
			}
			o.process(string(msg.Payload))
			msg.Ack()
		}
	}
}

// Close shuts down the queue. Call after Serve has returned.
func (o *Orchestrator) Close() error {
	return o.queue.Close()
}

// Submit enqueues a feedback event and blocks until the cycle's hybrid
// ordering has been built and displayed (or ctx expires). The returned
// run snapshot includes the candidate ids; background stages continue
// after Submit returns.
func (o *Orchestrator) Submit(ctx context.Context, feedback, postID string) (Run, error) {
	rec := &runRecord{
		Run: Run{
			ID:         uuid.NewString(),
			Feedback:   feedback,
			PostID:     postID,
			State:      StateIdle,
			ApplyState: ApplyDisplayedImmediately,
			StartedAt:  time.Now().UTC(),
		},
		ready: make(chan struct{}),
	}

	o.mu.Lock()
	o.runs[rec.ID] = rec
	o.mu.Unlock()

	metrics.FeedbackReceived.Inc()
	o.recorder.Record(audit.EventFeedbackReceived, audit.SeverityInfo, rec.ID, "feedback accepted", map[string]any{
		"post_id": postID,
	})

	msg := message.NewMessage(watermill.NewUUID(), []byte(rec.ID))
	if err := o.queue.Publish(feedbackTopic, msg); err != nil {
		return Run{}, fmt.Errorf("enqueue feedback: %w", err)
	}

	select {
	case <-ctx.Done():
		return Run{}, ctx.Err()
	case <-rec.ready:
		run, _ := o.RunStatus(rec.ID)
		return run, nil
	}
}

// process executes the synchronous stages of one cycle and spawns the
// background stages.
func (o *Orchestrator) process(runID string) {
	o.mu.Lock()
	rec, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		o.logger.Error().Str("run_id", runID).Msg("Unknown run id on queue")
		return
	}
	// Whatever happens, Submit must not block forever.
	defer rec.readyOnce.Do(func() { close(rec.ready) })

	intentRes := o.stageIntent(rec)
	version := o.stageProfileUpdate(rec, intentRes)
	candidates := o.stageHybridBuild(rec, intentRes.SearchPhrase)

	o.wg.Add(1)
	go o.stageBackground(rec, candidates, intentRes, version)
}

// stageIntent calls the intent analyzer. Failures degrade to a neutral
// zero-adjustment result.
func (o *Orchestrator) stageIntent(rec *runRecord) collab.IntentResult {
	o.setState(rec, StateIntentPending)
	start := time.Now()

	o.mu.Lock()
	o.feedbackCount++
	o.appendHistory(rec.Feedback)
	req := collab.IntentRequest{
		Feedback:    rec.Feedback,
		ItemContext: o.itemContext(rec.PostID),
		Interests:   append([]profile.WeightedTag(nil), o.prof.Interests...),
		Dislikes:    append([]profile.WeightedTag(nil), o.prof.Dislikes...),
		Vocabulary:  o.vocabulary(),
	}
	o.mu.Unlock()

	res, err := o.intent.Analyze(context.Background(), req)
	metrics.ObserveStage("intent", start)
	if err != nil {
		o.recorder.Record(audit.EventIntentFailed, audit.SeverityWarning, rec.ID, "intent analysis failed, neutral fallback", map[string]any{
			"outcome": collab.Outcome(err),
		})
		o.logger.Warn().Err(err).Str("run_id", rec.ID).Msg("Intent analysis failed")
		return collab.NeutralIntent()
	}
	o.recorder.Record(audit.EventIntentResolved, audit.SeverityInfo, rec.ID, "intent resolved", map[string]any{
		"adjustments":   len(res.Adjustments),
		"search_phrase": res.SearchPhrase,
	})
	return res
}

// stageProfileUpdate applies the adjustments and snapshots the profile.
// Returns the profile version the rest of the cycle is computed
// against.
func (o *Orchestrator) stageProfileUpdate(rec *runRecord, res collab.IntentResult) int64 {
	o.setState(rec, StateProfileUpdated)
	start := time.Now()

	o.mu.Lock()
	o.manager.ApplyAdjustments(o.prof, res.Adjustments)
	version := o.prof.Version
	snapshot := o.prof.Clone()
	rec.Adjustments = res.Adjustments
	rec.Note = res.Note
	rec.SearchPhrase = res.SearchPhrase
	rec.ProfileVersion = version
	o.mu.Unlock()

	o.saveSnapshot(snapshot)
	metrics.ObserveStage("profile_update", start)
	if len(res.Adjustments) > 0 {
		o.recorder.Record(audit.EventProfileAdjusted, audit.SeverityInfo, rec.ID, "profile adjusted", map[string]any{
			"adjustments": len(res.Adjustments),
			"version":     version,
		})
	}
	return version
}

// stageHybridBuild retrieves candidates and displays them immediately.
func (o *Orchestrator) stageHybridBuild(rec *runRecord, query string) []catalog.ScoredPost {
	start := time.Now()

	o.mu.Lock()
	prof := o.prof.Clone()
	o.mu.Unlock()

	candidates := o.retriever.Retrieve(o.corpus.Posts(), prof, query)

	o.mu.Lock()
	o.displayed = candidates
	rec.CandidateIDs = candidateIDs(candidates)
	rec.State = StateHybridBuilt
	o.mu.Unlock()

	metrics.ObserveStage("hybrid_build", start)
	o.recorder.Record(audit.EventCandidatesBuilt, audit.SeverityInfo, rec.ID, "hybrid candidates displayed", map[string]any{
		"count": len(candidates),
		"query": query,
	})
	rec.readyOnce.Do(func() { close(rec.ready) })
	return candidates
}

// stageBackground runs re-rank and cleanup after the synchronous stages.
func (o *Orchestrator) stageBackground(rec *runRecord, candidates []catalog.ScoredPost, intentRes collab.IntentResult, version int64) {
	defer o.wg.Done()
	o.stageRerank(rec, candidates, intentRes, version)
	o.stageCleanup(rec)
	o.finish(rec)
}

// stageRerank calls the reranker and applies, holds, or discards the
// result based on latency and profile staleness.
func (o *Orchestrator) stageRerank(rec *runRecord, candidates []catalog.ScoredPost, intentRes collab.IntentResult, version int64) {
	o.setState(rec, StateRerankPending)

	o.mu.Lock()
	top := o.prof.TopInterests(o.cfg.TopInterests)
	o.mu.Unlock()
	topTags := make([]string, len(top))
	for i, wt := range top {
		topTags[i] = wt.Tag
	}

	req := collab.RerankRequest{
		Candidates:   make([]collab.Candidate, len(candidates)),
		TopInterests: topTags,
		Intent:       intentRes.SearchPhrase,
	}
	for i, sp := range candidates {
		req.Candidates[i] = collab.Candidate{ID: sp.Post.ID, Title: sp.Post.Title}
	}

	start := time.Now()
	res, err := o.reranker.Rerank(context.Background(), req)
	elapsed := time.Since(start)
	metrics.ObserveStage("rerank", start)

	o.mu.Lock()
	rec.RerankElapsed = elapsed
	o.mu.Unlock()

	if err != nil {
		// Pre-rerank order is already displayed; nothing to undo.
		metrics.RerankApplications.WithLabelValues("fallback").Inc()
		o.recorder.Record(audit.EventRerankFailed, audit.SeverityWarning, rec.ID, "rerank failed, keeping displayed order", map[string]any{
			"outcome": collab.Outcome(err),
		})
		return
	}

	ids := candidateIDs(candidates)
	order, complete := collab.SanitizeOrder(ids, res.OrderedIDs)
	if !complete {
		o.logger.Warn().Str("run_id", rec.ID).Msg("Reranker returned incomplete permutation, sanitized")
	}
	reordered := reorder(candidates, order)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.prof.Version != version {
		rec.State = StateCleanupPending
		rec.ApplyState = ApplyDiscardedStale
		metrics.RerankApplications.WithLabelValues("stale").Inc()
		metrics.PipelineRunsTotal.WithLabelValues("discarded_stale").Inc()
		o.recorder.Record(audit.EventRerankStale, audit.SeverityWarning, rec.ID, "rerank result discarded, profile advanced", map[string]any{
			"computed_version": version,
			"current_version":  o.prof.Version,
		})
		return
	}

	if elapsed < o.cfg.AutoApplyThreshold {
		o.displayed = reordered
		rec.State = StateAutoApplied
		rec.ApplyState = ApplyApplied
		metrics.RerankApplications.WithLabelValues("auto").Inc()
		metrics.PipelineRunsTotal.WithLabelValues("auto_applied").Inc()
		o.recorder.Record(audit.EventRerankApplied, audit.SeverityInfo, rec.ID, "rerank auto-applied", map[string]any{
			"elapsed_ms": elapsed.Milliseconds(),
		})
		return
	}

	o.held = &heldRerank{runID: rec.ID, order: reordered, version: version}
	rec.State = StateHeldPending
	rec.ApplyState = ApplyPendingConfirmation
	metrics.RerankApplications.WithLabelValues("held").Inc()
	metrics.PipelineRunsTotal.WithLabelValues("held").Inc()
	metrics.HeldResults.Set(1)
	o.recorder.Record(audit.EventRerankHeld, audit.SeverityInfo, rec.ID, "rerank held for confirmation", map[string]any{
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

// stageCleanup fires the cleanup collaborator and applies decay. It
// runs regardless of the re-rank outcome and never blocks anything.
func (o *Orchestrator) stageCleanup(rec *runRecord) {
	o.setState(rec, StateCleanupPending)
	start := time.Now()

	o.mu.Lock()
	req := collab.CleanupRequest{
		History:   append([]string(nil), o.history...),
		Interests: append([]profile.WeightedTag(nil), o.prof.Interests...),
	}
	version := o.prof.Version
	feedbackCount := o.feedbackCount
	o.mu.Unlock()

	res, err := o.cleaner.Cleanup(context.Background(), req)
	metrics.ObserveStage("cleanup", start)
	if err != nil {
		o.recorder.Record(audit.EventCleanupFailed, audit.SeverityWarning, rec.ID, "cleanup failed, decay skipped", map[string]any{
			"outcome": collab.Outcome(err),
		})
		return
	}

	o.mu.Lock()
	if o.prof.Version != version {
		o.mu.Unlock()
		o.recorder.Record(audit.EventDecaySkipped, audit.SeverityWarning, rec.ID, "decay discarded, profile advanced", map[string]any{
			"computed_version": version,
		})
		return
	}
	outcome := o.manager.ApplyDecay(o.prof, res.Decays, feedbackCount)
	var snapshot *profile.Profile
	if outcome == profile.DecayApplied {
		snapshot = o.prof.Clone()
	}
	o.mu.Unlock()

	switch outcome {
	case profile.DecayGated:
		o.recorder.Record(audit.EventDecaySkipped, audit.SeverityInfo, rec.ID, "decay gated on accumulated signal", nil)
	case profile.DecayNoop:
		o.recorder.Record(audit.EventDecaySkipped, audit.SeverityInfo, rec.ID, "no interests matched decay suggestions", nil)
	case profile.DecayApplied:
		o.saveSnapshot(snapshot)
		o.recorder.Record(audit.EventDecayApplied, audit.SeverityInfo, rec.ID, "decay applied", map[string]any{
			"suggestions": len(res.Decays),
		})
	}
}

func (o *Orchestrator) finish(rec *runRecord) {
	o.mu.Lock()
	rec.State = StateIdle
	rec.FinishedAt = time.Now().UTC()
	o.mu.Unlock()
}

// ApplyHeld applies the held re-rank result after explicit user
// confirmation. Returns the run id the result belonged to.
func (o *Orchestrator) ApplyHeld() (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.held == nil {
		return "", fmt.Errorf("no held rerank result")
	}
	held := o.held
	o.held = nil
	metrics.HeldResults.Set(0)

	if o.prof.Version != held.version {
		if rec, ok := o.runs[held.runID]; ok {
			rec.ApplyState = ApplyDiscardedStale
		}
		metrics.RerankApplications.WithLabelValues("stale").Inc()
		o.recorder.Record(audit.EventRerankStale, audit.SeverityWarning, held.runID, "held result discarded, profile advanced", nil)
		return held.runID, collab.ErrStale
	}

	o.displayed = held.order
	if rec, ok := o.runs[held.runID]; ok {
		rec.ApplyState = ApplyApplied
	}
	metrics.RerankApplications.WithLabelValues("confirmed").Inc()
	o.recorder.Record(audit.EventRerankConfirmed, audit.SeverityInfo, held.runID, "held rerank applied on confirmation", nil)
	return held.runID, nil
}

// Displayed returns a copy of the current displayed ordering.
func (o *Orchestrator) Displayed() []catalog.ScoredPost {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]catalog.ScoredPost, len(o.displayed))
	copy(out, o.displayed)
	return out
}

// HasHeld reports whether a re-rank result awaits confirmation.
func (o *Orchestrator) HasHeld() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.held != nil
}

// Profile returns a copy of the current profile.
func (o *Orchestrator) Profile() *profile.Profile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.prof.Clone()
}

// ResetProfile empties the profile. The displayed ordering is kept
// until the next cycle rebuilds it; any held result becomes stale.
func (o *Orchestrator) ResetProfile() {
	o.mu.Lock()
	o.manager.Reset(o.prof)
	o.held = nil
	metrics.HeldResults.Set(0)
	snapshot := o.prof.Clone()
	o.mu.Unlock()

	o.saveSnapshot(snapshot)
	o.recorder.Record(audit.EventProfileReset, audit.SeverityInfo, "", "profile reset", nil)
}

// RunStatus returns a snapshot of the run record.
func (o *Orchestrator) RunStatus(id string) (Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rec, ok := o.runs[id]
	if !ok {
		return Run{}, false
	}
	return rec.Run, true
}

func (o *Orchestrator) setState(rec *runRecord, s State) {
	o.mu.Lock()
	rec.State = s
	o.mu.Unlock()
}

// appendHistory keeps the rolling feedback history bounded. Caller
// holds o.mu.
func (o *Orchestrator) appendHistory(feedback string) {
	o.history = append(o.history, feedback)
	if len(o.history) > o.cfg.HistorySize {
		o.history = o.history[len(o.history)-o.cfg.HistorySize:]
	}
}

// itemContext resolves the post id to a context string for the intent
// analyzer. Caller holds o.mu.
func (o *Orchestrator) itemContext(postID string) string {
	if postID == "" {
		return ""
	}
	if p, ok := o.corpus.Get(postID); ok {
		if p.TitleAlt != "" {
			return p.Title + " / " + p.TitleAlt
		}
		return p.Title
	}
	return postID
}

// vocabulary returns the bounded canonical tag vocabulary.
func (o *Orchestrator) vocabulary() []string {
	if len(o.vocab) <= o.cfg.VocabularyLimit {
		return o.vocab
	}
	return o.vocab[:o.cfg.VocabularyLimit]
}

func (o *Orchestrator) saveSnapshot(p *profile.Profile) {
	if o.snapshots == nil {
		return
	}
	if err := o.snapshots.SaveProfile(p); err != nil {
		o.logger.Error().Err(err).Msg("Profile snapshot failed")
	}
}

func candidateIDs(candidates []catalog.ScoredPost) []string {
	ids := make([]string, len(candidates))
	for i, sp := range candidates {
		ids[i] = sp.Post.ID
	}
	return ids
}

// reorder arranges candidates into the given id order. Ids are assumed
// sanitized against the candidate set.
func reorder(candidates []catalog.ScoredPost, order []string) []catalog.ScoredPost {
	byID := make(map[string]catalog.ScoredPost, len(candidates))
	for _, sp := range candidates {
		byID[sp.Post.ID] = sp
	}
	out := make([]catalog.ScoredPost, 0, len(candidates))
	for _, id := range order {
		if sp, ok := byID[id]; ok {
			out = append(out, sp)
		}
	}
	return out
}
