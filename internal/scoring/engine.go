// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

// Package scoring computes deterministic relevance scores for posts
// against a preference profile.
//
// A score is built in ordered passes: popularity bias, weighted interest
// reward, multi-interest synergy, dislike penalty, and finally a veto
// that forces posts centrally about a strongly disliked topic below
// every non-vetoed post. Each pass appends a human-readable reason.
// Scoring is pure: same post and profile always produce the same value
// and reasons.
package scoring

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/catalog"
	"github.com/tomtom215/feedtuner/internal/metrics"
	"github.com/tomtom215/feedtuner/internal/profile"
	"github.com/tomtom215/feedtuner/internal/tags"
)

// Params holds the tuned scoring constants. These are heuristics, not
// invariants; they are exposed through configuration and test
// parameterization.
type Params struct {
	// PopularityWeight scales the log10 popularity term.
	// Default: 0.05
	PopularityWeight float64 `koanf:"popularity_weight" json:"popularity_weight"`

	// InterestMultiplier scales the accumulated interest reward.
	// Default: 4.0
	InterestMultiplier float64 `koanf:"interest_multiplier" json:"interest_multiplier"`

	// SynergyBonus is added per matched interest beyond the first.
	// Default: 5.0
	SynergyBonus float64 `koanf:"synergy_bonus" json:"synergy_bonus"`

	// DislikePenaltyMultiplier scales each dislike impact subtraction.
	// Default: 5.0
	DislikePenaltyMultiplier float64 `koanf:"dislike_penalty_multiplier" json:"dislike_penalty_multiplier"`

	// VetoThreshold is the dislike impact (weight * relevance) at or
	// above which a post is vetoed.
	// Default: 25.0
	VetoThreshold float64 `koanf:"veto_threshold" json:"veto_threshold"`

	// VetoBase is the sentinel a vetoed post's score starts from.
	// Default: -1000
	VetoBase float64 `koanf:"veto_base" json:"veto_base"`

	// VetoScale preserves relative ordering among vetoed posts: the
	// final score is VetoBase - |score| * VetoScale, so a post that was
	// doing worse before the veto lands deeper below the sentinel.
	// Default: 0.1
	VetoScale float64 `koanf:"veto_scale" json:"veto_scale"`
}

// DefaultParams returns the tuned default constants.
func DefaultParams() Params {
	return Params{
		PopularityWeight:         0.05,
		InterestMultiplier:       4.0,
		SynergyBonus:             5.0,
		DislikePenaltyMultiplier: 5.0,
		VetoThreshold:            25.0,
		VetoBase:                 -1000,
		VetoScale:                0.1,
	}
}

// Validate checks parameter sanity.
func (p *Params) Validate() error {
	if p.VetoThreshold <= 0 {
		return fmt.Errorf("veto_threshold must be positive, got %v", p.VetoThreshold)
	}
	if p.VetoBase >= 0 {
		return fmt.Errorf("veto_base must be negative, got %v", p.VetoBase)
	}
	if p.VetoScale < 0 {
		return fmt.Errorf("veto_scale must be non-negative, got %v", p.VetoScale)
	}
	return nil
}

// Engine scores and ranks posts. Safe for concurrent use: it holds no
// mutable state.
type Engine struct {
	params Params
	logger zerolog.Logger
}

// NewEngine creates a scoring engine with the given parameters.
func NewEngine(params Params, logger zerolog.Logger) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("validate scoring params: %w", err)
	}
	return &Engine{
		params: params,
		logger: logger.With().Str("component", "scoring").Logger(),
	}, nil
}

// Score computes the relevance score for one post against one profile
// and returns it alongside the ordered reason list. Vetoed posts return
// vetoed=true and the triggering tag.
func (e *Engine) Score(post *catalog.Post, prof *profile.Profile) (float64, []string, bool, string) {
	var (
		score   float64
		reasons []string
	)

	// Popularity bias. Logarithmic so virality cannot swamp
	// personalization.
	if post.Likes > 0 {
		pop := math.Log10(float64(post.Likes)+1) * e.params.PopularityWeight
		score += pop
		reasons = append(reasons, fmt.Sprintf("popular (%d likes)", post.Likes))
	}

	// Interest pass.
	hitCount := 0
	var interestSum float64
	for _, tag := range post.Tags {
		key := tags.Canonicalize(tag)
		i := profile.BestMatch(prof.Interests, key)
		if i < 0 {
			continue
		}
		hitCount++
		matched := prof.Interests[i].Weight * post.Relevance(tag)
		interestSum += matched
		reasons = append(reasons, fmt.Sprintf("matches interest %q (+%.1f)", prof.Interests[i].Tag, matched))
	}
	score += interestSum * e.params.InterestMultiplier

	// Synergy: posts satisfying several stated interests at once beat
	// posts with one dominant tag.
	if hitCount > 1 {
		bonus := float64(hitCount-1) * e.params.SynergyBonus
		score += bonus
		reasons = append(reasons, fmt.Sprintf("multi-interest synergy (%d topics)", hitCount))
	}

	// Dislike pass. The veto depends on the product of dislike strength
	// and the post's topic centrality: a passing mention is penalized,
	// a post centrally about a hated topic is removed.
	vetoed := false
	vetoTag := ""
	var vetoImpact float64
	for _, tag := range post.Tags {
		key := tags.Canonicalize(tag)
		i := profile.BestMatch(prof.Dislikes, key)
		if i < 0 {
			continue
		}
		impact := prof.Dislikes[i].Weight * post.Relevance(tag)
		score -= impact * e.params.DislikePenaltyMultiplier
		reasons = append(reasons, fmt.Sprintf("disliked topic %q (-%.1f)", prof.Dislikes[i].Tag, impact))
		if impact >= e.params.VetoThreshold && impact > vetoImpact {
			vetoed = true
			vetoTag = prof.Dislikes[i].Tag
			vetoImpact = impact
		}
	}

	// Veto application: a sentinel far below any organic score, offset
	// so posts that were doing worse land deeper.
	if vetoed {
		score = e.params.VetoBase - math.Abs(score)*e.params.VetoScale
		reasons = append([]string{fmt.Sprintf("blocked by %q", vetoTag)}, reasons...)
		metrics.PostsVetoed.Inc()
	}

	metrics.PostsScored.Inc()
	return score, reasons, vetoed, vetoTag
}

// Rank scores every post and sorts descending by score. Ties keep the
// original catalog order.
func (e *Engine) Rank(posts []catalog.Post, prof *profile.Profile) []catalog.ScoredPost {
	out := make([]catalog.ScoredPost, 0, len(posts))
	for i := range posts {
		post := &posts[i]
		score, reasons, vetoed, vetoTag := e.Score(post, prof)
		out = append(out, catalog.ScoredPost{
			Post:    post,
			Score:   score,
			Reasons: reasons,
			Vetoed:  vetoed,
			VetoTag: vetoTag,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	e.logger.Debug().
		Int("posts", len(posts)).
		Int64("profile_version", prof.Version).
		Msg("Catalog ranked")
	return out
}

// Params returns the engine's parameters.
func (e *Engine) Params() Params {
	return e.params
}
