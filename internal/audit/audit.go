// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

// Package audit records pipeline and profile events for the session.
//
// Every pipeline transition and profile mutation emits an event. Events
// are kept in a bounded in-memory ring for API queries and appended to
// the durable store; the log is append-only and never blocks the
// pipeline (persistence failures are logged and dropped).
package audit

import (
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/store"
)

// EventType classifies an audit event.
type EventType string

const (
	EventFeedbackReceived EventType = "feedback.received"
	EventIntentResolved   EventType = "intent.resolved"
	EventIntentFailed     EventType = "intent.failed"
	EventProfileAdjusted  EventType = "profile.adjusted"
	EventProfileReset     EventType = "profile.reset"
	EventCandidatesBuilt  EventType = "candidates.built"
	EventRerankApplied    EventType = "rerank.applied"
	EventRerankHeld       EventType = "rerank.held"
	EventRerankConfirmed  EventType = "rerank.confirmed"
	EventRerankFailed     EventType = "rerank.failed"
	EventRerankStale      EventType = "rerank.stale"
	EventDecayApplied     EventType = "decay.applied"
	EventDecaySkipped     EventType = "decay.skipped"
	EventCleanupFailed    EventType = "cleanup.failed"
)

// Severity indicates event importance.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Event is a single audit record.
type Event struct {
	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Timestamp is the event creation time (UTC).
	Timestamp time.Time `json:"timestamp"`

	// Type classifies the event.
	Type EventType `json:"type"`

	// Severity indicates importance.
	Severity Severity `json:"severity"`

	// RunID ties the event to a pipeline run, when applicable.
	RunID string `json:"run_id,omitempty"`

	// Message is a short human-readable description.
	Message string `json:"message"`

	// Details carries structured event-specific payload.
	Details map[string]any `json:"details,omitempty"`
}

// Archive persists events. Implemented by *store.Store.
type Archive interface {
	Set(key string, value []byte) error
	List(prefix string, limit int, reverse bool) ([][]byte, error)
}

var _ Archive = (*store.Store)(nil)

// Recorder collects audit events.
// Safe for concurrent use.
type Recorder struct {
	mu      sync.RWMutex
	ring    []Event
	next    int
	full    bool
	archive Archive
	logger  zerolog.Logger
}

// DefaultRingSize bounds the in-memory event ring.
const DefaultRingSize = 256

// NewRecorder creates a recorder with the given ring capacity.
// archive may be nil for memory-only recording (tests).
func NewRecorder(ringSize int, archive Archive, logger zerolog.Logger) *Recorder {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Recorder{
		ring:    make([]Event, ringSize),
		archive: archive,
		logger:  logger.With().Str("component", "audit").Logger(),
	}
}

// Record creates and stores an event.
func (r *Recorder) Record(typ EventType, severity Severity, runID, message string, details map[string]any) {
	ev := Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Type:      typ,
		Severity:  severity,
		RunID:     runID,
		Message:   message,
		Details:   details,
	}

	r.mu.Lock()
	r.ring[r.next] = ev
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()

	r.log(ev)

	if r.archive == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.Error().Err(err).Str("type", string(typ)).Msg("Marshal audit event failed")
		return
	}
	key := fmt.Sprintf("%s%d:%s", store.PrefixAuditEvent, ev.Timestamp.UnixNano(), ev.ID)
	if err := r.archive.Set(key, data); err != nil {
		// Append-only log must never block the pipeline.
		r.logger.Error().Err(err).Str("type", string(typ)).Msg("Persist audit event failed")
	}
}

// Recent returns up to n events, newest first.
func (r *Recorder) Recent(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.full {
		size = len(r.ring)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

// Persisted returns up to n archived events, newest first. Returns nil
// when no archive is configured.
func (r *Recorder) Persisted(n int) ([]Event, error) {
	if r.archive == nil {
		return nil, nil
	}
	raw, err := r.archive.List(store.PrefixAuditEvent, n, true)
	if err != nil {
		return nil, fmt.Errorf("list archived events: %w", err)
	}
	out := make([]Event, 0, len(raw))
	for _, data := range raw {
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			r.logger.Warn().Err(err).Msg("Skipping undecodable archived event")
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (r *Recorder) log(ev Event) {
	var logEv *zerolog.Event
	switch ev.Severity {
	case SeverityError:
		logEv = r.logger.Error()
	case SeverityWarning:
		logEv = r.logger.Warn()
	default:
		logEv = r.logger.Info()
	}
	logEv.
		Str("event", string(ev.Type)).
		Str("run_id", ev.RunID).
		Msg(ev.Message)
}
