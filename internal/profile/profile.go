// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

// Package profile holds the user preference profile and the state manager
// that mutates it.
//
// A profile is two lists of weighted tags, interests and dislikes. Two
// invariants hold at every observation point:
//
//   - Exclusivity: a canonical tag key appears in at most one of the two
//     lists.
//   - Bounds: every stored weight w satisfies 0 < w <= MaxTagWeight, and
//     entries at or below the prune threshold are removed after every
//     mutation batch.
//
// All mutation goes through Manager. The profile carries a monotonically
// increasing version number; background pipeline results computed against
// an older version are discarded by the orchestrator.
package profile

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/metrics"
	"github.com/tomtom215/feedtuner/internal/tags"
)

// Category classifies an adjustment target list.
type Category string

const (
	// CategoryInterest targets the interests list.
	CategoryInterest Category = "interest"

	// CategoryDislike targets the dislikes list.
	CategoryDislike Category = "dislike"
)

// Valid reports whether the category is one of the known values.
func (c Category) Valid() bool {
	return c == CategoryInterest || c == CategoryDislike
}

// WeightedTag is a tag with a preference weight.
// Interest weights express attraction strength; dislike weights express
// aversion strength. Both are stored non-negative.
type WeightedTag struct {
	Tag    string  `json:"tag"`
	Weight float64 `json:"weight"`
}

// Adjustment is a single structured profile mutation produced by the
// intent-analysis collaborator. Delta may be negative for interests
// (weakening); for dislikes the magnitude is what counts.
type Adjustment struct {
	Tag      string   `json:"tag"`
	Category Category `json:"category"`
	Delta    float64  `json:"delta"`
}

// Decay is a downward weight suggestion from the cleanup collaborator.
// The sign of Delta is advisory; the manager re-derives a non-positive
// step and clamps it.
type Decay struct {
	Tag   string  `json:"tag"`
	Delta float64 `json:"delta"`
}

// Profile is the session preference state.
// It is mutated only through Manager and never partially locked; callers
// coordinate access (the pipeline serializes mutation).
type Profile struct {
	Interests []WeightedTag `json:"interests"`
	Dislikes  []WeightedTag `json:"dislikes"`

	// Version increases on every effective mutation batch, including
	// reset. Used for optimistic staleness checks.
	Version int64 `json:"version"`
}

// New returns an empty profile at version 0.
func New() *Profile {
	return &Profile{}
}

// Clone returns a deep copy of the profile.
func (p *Profile) Clone() *Profile {
	out := &Profile{Version: p.Version}
	if p.Interests != nil {
		out.Interests = make([]WeightedTag, len(p.Interests))
		copy(out.Interests, p.Interests)
	}
	if p.Dislikes != nil {
		out.Dislikes = make([]WeightedTag, len(p.Dislikes))
		copy(out.Dislikes, p.Dislikes)
	}
	return out
}

// TopInterests returns up to n interest tags ordered by descending
// weight. Ties keep insertion order.
func (p *Profile) TopInterests(n int) []WeightedTag {
	out := make([]WeightedTag, len(p.Interests))
	copy(out, p.Interests)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Weight > out[j].Weight
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// FindExact returns the index of the entry whose canonical key equals
// key, or -1. Profile-internal lookups use exact key equality only;
// substring tolerance is reserved for profile-vs-post matching.
func FindExact(list []WeightedTag, key string) int {
	for i := range list {
		if tags.Canonicalize(list[i].Tag) == key {
			return i
		}
	}
	return -1
}

// BestMatch returns the entry best matching the canonical key for
// profile-vs-post comparison: exact key equality first, then substring
// containment either way. Returns -1 when nothing matches.
func BestMatch(list []WeightedTag, key string) int {
	if key == "" {
		return -1
	}
	fallback := -1
	for i := range list {
		ek := tags.Canonicalize(list[i].Tag)
		if ek == key {
			return i
		}
		if fallback == -1 && tags.MatchKeys(ek, key) {
			fallback = i
		}
	}
	return fallback
}

// Config holds profile mutation bounds.
type Config struct {
	// MaxTagWeight is the upper clamp for any stored weight.
	// Default: 40
	MaxTagWeight float64 `koanf:"max_tag_weight" json:"max_tag_weight"`

	// PruneThreshold removes entries with weight at or below it after
	// every mutation batch.
	// Default: 0.1
	PruneThreshold float64 `koanf:"prune_threshold" json:"prune_threshold"`

	// MaxDecayStep caps a single decay step's magnitude.
	// Default: 10
	MaxDecayStep float64 `koanf:"max_decay_step" json:"max_decay_step"`

	// DecayMinFeedback gates decay until the session has seen at least
	// this many feedback events.
	// Default: 3
	DecayMinFeedback int `koanf:"decay_min_feedback" json:"decay_min_feedback"`

	// DecayMinInterests gates decay until the interest list holds at
	// least this many entries.
	// Default: 3
	DecayMinInterests int `koanf:"decay_min_interests" json:"decay_min_interests"`
}

// DefaultConfig returns the default mutation bounds.
func DefaultConfig() Config {
	return Config{
		MaxTagWeight:      40,
		PruneThreshold:    0.1,
		MaxDecayStep:      10,
		DecayMinFeedback:  3,
		DecayMinInterests: 3,
	}
}

// Validate checks configuration sanity.
func (c *Config) Validate() error {
	if c.MaxTagWeight <= 0 {
		return fmt.Errorf("max_tag_weight must be positive, got %v", c.MaxTagWeight)
	}
	if c.PruneThreshold < 0 || c.PruneThreshold >= c.MaxTagWeight {
		return fmt.Errorf("prune_threshold must be in [0, max_tag_weight), got %v", c.PruneThreshold)
	}
	if c.MaxDecayStep <= 0 {
		return fmt.Errorf("max_decay_step must be positive, got %v", c.MaxDecayStep)
	}
	if c.DecayMinFeedback < 0 {
		return fmt.Errorf("decay_min_feedback must be non-negative, got %d", c.DecayMinFeedback)
	}
	if c.DecayMinInterests < 0 {
		return fmt.Errorf("decay_min_interests must be non-negative, got %d", c.DecayMinInterests)
	}
	return nil
}

// Manager applies structured adjustments and decay suggestions to a
// profile while enforcing exclusivity, bounds, and pruning.
type Manager struct {
	cfg    Config
	logger zerolog.Logger
}

// NewManager creates a profile state manager.
func NewManager(cfg Config, logger zerolog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate profile config: %w", err)
	}
	return &Manager{
		cfg:    cfg,
		logger: logger.With().Str("component", "profile").Logger(),
	}, nil
}

// ApplyAdjustments applies a batch of adjustments to the profile in
// order. Interest adjustments first remove the tag from dislikes (a
// topic just declared likable cannot remain disliked), then add the
// delta to the matching interest or create a new entry when the delta
// is positive. Dislike adjustments are symmetric and store abs(delta).
// Weights clamp to MaxTagWeight; entries at or below the prune
// threshold are removed after the batch. The profile version advances
// only when the batch changed anything.
func (m *Manager) ApplyAdjustments(p *Profile, adjs []Adjustment) {
	mutated := false
	for _, adj := range adjs {
		key := tags.Canonicalize(adj.Tag)
		if key == "" {
			m.logger.Debug().Str("tag", adj.Tag).Msg("adjustment tag canonicalized to empty key, skipped")
			continue
		}
		switch adj.Category {
		case CategoryInterest:
			if m.applyToList(&p.Interests, &p.Dislikes, key, adj.Tag, adj.Delta) {
				mutated = true
			}
		case CategoryDislike:
			if m.applyToList(&p.Dislikes, &p.Interests, key, adj.Tag, math.Abs(adj.Delta)) {
				mutated = true
			}
		default:
			m.logger.Warn().Str("category", string(adj.Category)).Str("tag", adj.Tag).Msg("unknown adjustment category, skipped")
		}
	}
	if !mutated {
		return
	}
	m.prune(p)
	p.Version++
	metrics.ProfileMutations.WithLabelValues("adjustment").Inc()
	m.observe(p)
	m.logger.Info().
		Int("adjustments", len(adjs)).
		Int("interests", len(p.Interests)).
		Int("dislikes", len(p.Dislikes)).
		Int64("version", p.Version).
		Msg("Profile adjusted")
}

// applyToList adds delta for key in target, removing any entry for the
// same key from opposite first. Reports whether the profile changed.
func (m *Manager) applyToList(target, opposite *[]WeightedTag, key, spelling string, delta float64) bool {
	mutated := false
	if i := FindExact(*opposite, key); i >= 0 {
		*opposite = append((*opposite)[:i], (*opposite)[i+1:]...)
		mutated = true
	}
	if i := FindExact(*target, key); i >= 0 {
		if delta != 0 {
			(*target)[i].Weight = m.clampWeight((*target)[i].Weight + delta)
			mutated = true
		}
		return mutated
	}
	if delta > 0 {
		*target = append(*target, WeightedTag{Tag: spelling, Weight: m.clampWeight(delta)})
		mutated = true
	}
	return mutated
}

// DecayOutcome reports what ApplyDecay did to the profile.
type DecayOutcome int

const (
	// DecayGated means the accumulated-signal gate held the decay back.
	DecayGated DecayOutcome = iota

	// DecayNoop means the gate passed but no suggestion matched an
	// interest, so nothing changed.
	DecayNoop

	// DecayApplied means at least one interest weight was decayed.
	DecayApplied
)

// ApplyDecay applies decay suggestions to the interest list. Each step
// is re-derived as a non-positive delta with magnitude capped at
// MaxDecayStep, whatever the collaborator proposed. Decay is gated on
// accumulated signal: it runs only when the session has seen at least
// DecayMinFeedback events and the profile holds at least
// DecayMinInterests interests. The version advances only on
// DecayApplied.
func (m *Manager) ApplyDecay(p *Profile, decays []Decay, feedbackCount int) DecayOutcome {
	if feedbackCount < m.cfg.DecayMinFeedback || len(p.Interests) < m.cfg.DecayMinInterests {
		m.logger.Debug().
			Int("feedback_count", feedbackCount).
			Int("interests", len(p.Interests)).
			Msg("Decay gated, skipped")
		metrics.ProfileMutations.WithLabelValues("decay_skipped").Inc()
		return DecayGated
	}
	mutated := false
	for _, d := range decays {
		key := tags.Canonicalize(d.Tag)
		if key == "" {
			continue
		}
		i := FindExact(p.Interests, key)
		if i < 0 {
			continue
		}
		step := -math.Abs(d.Delta)
		if step < -m.cfg.MaxDecayStep {
			step = -m.cfg.MaxDecayStep
		}
		if step == 0 {
			continue
		}
		p.Interests[i].Weight += step
		mutated = true
	}
	if !mutated {
		return DecayNoop
	}
	m.prune(p)
	p.Version++
	metrics.ProfileMutations.WithLabelValues("decay").Inc()
	m.observe(p)
	m.logger.Info().
		Int("suggestions", len(decays)).
		Int("interests", len(p.Interests)).
		Int64("version", p.Version).
		Msg("Decay applied")
	return DecayApplied
}

// Reset empties both lists. The version keeps advancing so in-flight
// results computed against the old profile are detected as stale.
func (m *Manager) Reset(p *Profile) {
	p.Interests = nil
	p.Dislikes = nil
	p.Version++
	metrics.ProfileMutations.WithLabelValues("reset").Inc()
	m.observe(p)
	m.logger.Info().Int64("version", p.Version).Msg("Profile reset")
}

// clampWeight bounds a weight to (-inf, MaxTagWeight]. Lower-bound
// enforcement happens via pruning.
func (m *Manager) clampWeight(w float64) float64 {
	if w > m.cfg.MaxTagWeight {
		return m.cfg.MaxTagWeight
	}
	return w
}

// prune drops entries at or below the prune threshold from both lists.
func (m *Manager) prune(p *Profile) {
	p.Interests = m.pruneList(p.Interests)
	p.Dislikes = m.pruneList(p.Dislikes)
}

func (m *Manager) pruneList(list []WeightedTag) []WeightedTag {
	out := list[:0]
	for _, wt := range list {
		if wt.Weight > m.cfg.PruneThreshold {
			out = append(out, wt)
		} else {
			metrics.ProfileMutations.WithLabelValues("prune").Inc()
		}
	}
	return out
}

func (m *Manager) observe(p *Profile) {
	metrics.ProfileEntries.WithLabelValues("interest").Set(float64(len(p.Interests)))
	metrics.ProfileEntries.WithLabelValues("dislike").Set(float64(len(p.Dislikes)))
}
