// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

// Package retrieval builds the candidate set shown to the user and
// handed to the re-ranking stage.
//
// Without an explicit query the candidates are simply the top posts by
// interest score. With a query the retriever merges interest-ranked
// candidates with deterministic keyword matches, so an explicit request
// is always represented even when it conflicts with long-term interest
// weights, and general personalization is never silently lost.
package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/catalog"
	"github.com/tomtom215/feedtuner/internal/metrics"
	"github.com/tomtom215/feedtuner/internal/profile"
	"github.com/tomtom215/feedtuner/internal/scoring"
)

// Config bounds the candidate pools.
type Config struct {
	// MaxCandidates caps the total candidate set.
	// Default: 25
	MaxCandidates int `koanf:"max_candidates" json:"max_candidates"`

	// InterestPool is the interest-ranked pool size in hybrid mode.
	// Default: 15
	InterestPool int `koanf:"interest_pool" json:"interest_pool"`

	// KeywordPool caps the keyword-search pool in hybrid mode.
	// Default: 10
	KeywordPool int `koanf:"keyword_pool" json:"keyword_pool"`
}

// DefaultConfig returns the default pool sizes.
func DefaultConfig() Config {
	return Config{
		MaxCandidates: 25,
		InterestPool:  15,
		KeywordPool:   10,
	}
}

// Validate checks pool size sanity.
func (c *Config) Validate() error {
	if c.MaxCandidates <= 0 {
		return fmt.Errorf("max_candidates must be positive, got %d", c.MaxCandidates)
	}
	if c.InterestPool <= 0 || c.InterestPool > c.MaxCandidates {
		return fmt.Errorf("interest_pool must be in (0, max_candidates], got %d", c.InterestPool)
	}
	if c.KeywordPool < 0 || c.InterestPool+c.KeywordPool > c.MaxCandidates {
		return fmt.Errorf("interest_pool + keyword_pool must not exceed max_candidates, got %d+%d", c.InterestPool, c.KeywordPool)
	}
	return nil
}

// Retriever selects ranking candidates from the corpus.
type Retriever struct {
	cfg    Config
	engine *scoring.Engine
	logger zerolog.Logger
}

// NewRetriever creates a hybrid retriever on top of the scoring engine.
func NewRetriever(cfg Config, engine *scoring.Engine, logger zerolog.Logger) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate retrieval config: %w", err)
	}
	return &Retriever{
		cfg:    cfg,
		engine: engine,
		logger: logger.With().Str("component", "retrieval").Logger(),
	}, nil
}

// Retrieve builds the candidate list for the given profile and optional
// explicit query.
//
// Without a query it returns the top MaxCandidates posts by score. With
// a query it returns Pool A (top InterestPool by score) concatenated
// with Pool B (up to KeywordPool keyword-matching posts not already in
// Pool A, by descending hit count). The two pools are not re-sorted
// against each other; final ordering belongs to the re-ranking stage.
func (r *Retriever) Retrieve(posts []catalog.Post, prof *profile.Profile, query string) []catalog.ScoredPost {
	ranked := r.engine.Rank(posts, prof)

	query = strings.TrimSpace(query)
	if query == "" {
		out := truncate(ranked, r.cfg.MaxCandidates)
		metrics.RetrievalCandidates.WithLabelValues("interest").Observe(float64(len(out)))
		r.logger.Debug().Int("candidates", len(out)).Msg("Interest retrieval")
		return out
	}

	poolA := truncate(ranked, r.cfg.InterestPool)
	inA := make(map[string]struct{}, len(poolA))
	for _, sp := range poolA {
		inA[sp.Post.ID] = struct{}{}
	}

	poolB := r.keywordPool(ranked, query, inA)
	out := append(poolA, poolB...)
	metrics.RetrievalCandidates.WithLabelValues("hybrid").Observe(float64(len(out)))
	r.logger.Debug().
		Str("query", query).
		Int("interest_pool", len(poolA)).
		Int("keyword_pool", len(poolB)).
		Msg("Hybrid retrieval")
	return out
}

// keywordPool runs the deterministic keyword search over the scored
// posts, excluding ids already selected. Candidates keep their interest
// scores so a later fallback ordering stays meaningful.
func (r *Retriever) keywordPool(ranked []catalog.ScoredPost, query string, exclude map[string]struct{}) []catalog.ScoredPost {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 || r.cfg.KeywordPool == 0 {
		return nil
	}

	type hit struct {
		sp    catalog.ScoredPost
		count int
		order int
	}
	var hits []hit
	for _, sp := range ranked {
		count := keywordHits(sp.Post, tokens)
		if count == 0 {
			continue
		}
		hits = append(hits, hit{sp: sp, count: count, order: len(hits)})
	}

	// Descending by hit count, stable for equal counts.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].count > hits[j].count
	})

	out := make([]catalog.ScoredPost, 0, r.cfg.KeywordPool)
	for _, h := range hits {
		if _, dup := exclude[h.sp.Post.ID]; dup {
			continue
		}
		out = append(out, h.sp)
		if len(out) == r.cfg.KeywordPool {
			break
		}
	}
	return out
}

// keywordHits counts substring hits of each token across the post's
// bilingual titles and tag list.
func keywordHits(post *catalog.Post, tokens []string) int {
	title := strings.ToLower(post.Title)
	titleAlt := strings.ToLower(post.TitleAlt)
	count := 0
	for _, tok := range tokens {
		if strings.Contains(title, tok) {
			count++
		}
		if titleAlt != "" && strings.Contains(titleAlt, tok) {
			count++
		}
		for _, tag := range post.Tags {
			if strings.Contains(strings.ToLower(tag), tok) {
				count++
			}
		}
	}
	return count
}

func truncate(ranked []catalog.ScoredPost, n int) []catalog.ScoredPost {
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]catalog.ScoredPost, len(ranked))
	copy(out, ranked)
	return out
}
