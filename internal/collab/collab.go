// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

// Package collab defines the external collaborator boundary: the intent
// analyzer, the reranker, and the cleanup advisor.
//
// Collaborator responses are untrusted. Every client decodes the wire
// payload at this boundary into typed results with deltas clamped to
// contract ranges; the pipeline core only ever sees a typed result or a
// classified error, never raw collaborator output.
//
// Error taxonomy: ErrUnavailable (network/auth failure), ErrMalformed
// (schema/parse failure), ErrRateLimited (transient; clients retry with
// exponential backoff before escalating to ErrUnavailable), ErrStale
// (result arrived after the profile moved on; detected by the
// pipeline).
package collab

import (
	"context"
	"errors"

	"github.com/tomtom215/feedtuner/internal/profile"
)

// Sentinel errors for collaborator failures. Wrap with context, match
// with errors.Is.
var (
	ErrUnavailable = errors.New("collaborator unavailable")
	ErrMalformed   = errors.New("malformed collaborator response")
	ErrRateLimited = errors.New("collaborator rate limited")
	ErrStale       = errors.New("stale collaborator result")
)

// Outcome maps an error to a metrics label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrMalformed):
		return "malformed"
	case errors.Is(err, ErrStale):
		return "stale"
	default:
		return "unavailable"
	}
}

// MaxAdjustmentDelta bounds an adjustment delta's magnitude at the
// decode boundary, whatever the collaborator proposed.
const MaxAdjustmentDelta = 10.0

// IntentRequest carries everything the intent analyzer needs to turn
// free-text feedback into structured adjustments.
type IntentRequest struct {
	// Feedback is the raw user feedback text.
	Feedback string `json:"feedback"`

	// ItemContext describes the post the feedback targets.
	ItemContext string `json:"item_context"`

	// Interests and Dislikes are the serialized profile.
	Interests []profile.WeightedTag `json:"interests"`
	Dislikes  []profile.WeightedTag `json:"dislikes"`

	// Vocabulary is a bounded subset of canonical tags (<= 300) the
	// analyzer should prefer when naming topics.
	Vocabulary []string `json:"vocabulary"`
}

// IntentResult is the typed intent-analysis outcome.
type IntentResult struct {
	// Adjustments are ordered profile mutations, deltas clamped to
	// [-MaxAdjustmentDelta, MaxAdjustmentDelta].
	Adjustments []profile.Adjustment `json:"adjustments"`

	// Note is the analyzer's free-text rationale.
	Note string `json:"note"`

	// SearchPhrase is the explicit request detected in the feedback,
	// empty when none.
	SearchPhrase string `json:"search_phrase,omitempty"`
}

// NeutralIntent is the fallback used when analysis fails: zero
// adjustments, nothing lost.
func NeutralIntent() IntentResult {
	return IntentResult{Note: "analysis failed"}
}

// IntentAnalyzer turns feedback into structured adjustments.
type IntentAnalyzer interface {
	Analyze(ctx context.Context, req IntentRequest) (IntentResult, error)
}

// Candidate is a post reference shipped to the reranker.
type Candidate struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// RerankRequest carries the candidate set and ranking context.
type RerankRequest struct {
	Candidates []Candidate `json:"candidates"`

	// TopInterests are the strongest interest tags, at most five.
	TopInterests []string `json:"top_interests"`

	// Intent is the explicit search phrase, when one was detected.
	Intent string `json:"intent,omitempty"`
}

// RerankResult is the proposed candidate permutation.
type RerankResult struct {
	OrderedIDs []string `json:"ordered_ids"`
}

// Reranker reorders a candidate set.
type Reranker interface {
	Rerank(ctx context.Context, req RerankRequest) (RerankResult, error)
}

// SanitizeOrder normalizes a proposed permutation against the input id
// set: ids outside the input are dropped, duplicates keep their first
// position, and missing ids are appended in input order. The second
// return reports whether the proposal was already a complete
// permutation.
func SanitizeOrder(inputIDs, proposed []string) ([]string, bool) {
	valid := make(map[string]bool, len(inputIDs))
	for _, id := range inputIDs {
		valid[id] = false
	}

	out := make([]string, 0, len(inputIDs))
	clean := true
	for _, id := range proposed {
		used, ok := valid[id]
		if !ok || used {
			clean = false
			continue
		}
		valid[id] = true
		out = append(out, id)
	}
	for _, id := range inputIDs {
		if !valid[id] {
			clean = false
			out = append(out, id)
		}
	}
	return out, clean && len(proposed) == len(inputIDs)
}

// CleanupRequest carries the rolling feedback history and current
// interests for decay analysis.
type CleanupRequest struct {
	// History is the last few feedback strings, oldest first.
	History []string `json:"history"`

	// Interests is the current weighted interest list.
	Interests []profile.WeightedTag `json:"interests"`
}

// CleanupResult is the typed cleanup outcome. Decay signs are advisory;
// the profile manager re-derives and clamps them.
type CleanupResult struct {
	Decays []profile.Decay `json:"decays"`
	Note   string          `json:"note"`
}

// Cleaner proposes interest decay from accumulated feedback.
type Cleaner interface {
	Cleanup(ctx context.Context, req CleanupRequest) (CleanupResult, error)
}

// clampDelta bounds a delta's magnitude to MaxAdjustmentDelta.
func clampDelta(d float64) float64 {
	if d > MaxAdjustmentDelta {
		return MaxAdjustmentDelta
	}
	if d < -MaxAdjustmentDelta {
		return -MaxAdjustmentDelta
	}
	return d
}
