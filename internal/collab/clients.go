// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

package collab

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/profile"
)

// Endpoint paths on each collaborator service.
const (
	pathAnalyze = "/v1/analyze"
	pathRerank  = "/v1/rerank"
	pathCleanup = "/v1/cleanup"
)

// HTTPIntentAnalyzer calls a remote intent-analysis service.
type HTTPIntentAnalyzer struct {
	c *client
}

var _ IntentAnalyzer = (*HTTPIntentAnalyzer)(nil)

// NewHTTPIntentAnalyzer creates the intent analyzer client.
func NewHTTPIntentAnalyzer(cfg ClientConfig, logger zerolog.Logger) (*HTTPIntentAnalyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate intent client config: %w", err)
	}
	return &HTTPIntentAnalyzer{c: newClient("intent", cfg, logger)}, nil
}

// intentWire is the raw intent response. Category and delta are
// validated and clamped before the result leaves this boundary.
type intentWire struct {
	Adjustments []struct {
		Tag      string  `json:"tag"`
		Category string  `json:"category"`
		Delta    float64 `json:"delta"`
	} `json:"adjustments"`
	Note         string `json:"note"`
	SearchPhrase string `json:"search_phrase"`
}

// Analyze submits the feedback and decodes the adjustment list.
func (a *HTTPIntentAnalyzer) Analyze(ctx context.Context, req IntentRequest) (IntentResult, error) {
	var wire intentWire
	if err := a.c.call(ctx, pathAnalyze, req, &wire); err != nil {
		return IntentResult{}, err
	}

	res := IntentResult{
		Note:         wire.Note,
		SearchPhrase: wire.SearchPhrase,
	}
	for _, adj := range wire.Adjustments {
		cat := profile.Category(adj.Category)
		if !cat.Valid() {
			a.c.logger.Warn().
				Str("category", adj.Category).
				Str("tag", adj.Tag).
				Msg("Dropping adjustment with unknown category")
			continue
		}
		res.Adjustments = append(res.Adjustments, profile.Adjustment{
			Tag:      adj.Tag,
			Category: cat,
			Delta:    clampDelta(adj.Delta),
		})
	}
	return res, nil
}

// HTTPReranker calls a remote re-ranking service.
type HTTPReranker struct {
	c *client
}

var _ Reranker = (*HTTPReranker)(nil)

// NewHTTPReranker creates the reranker client.
func NewHTTPReranker(cfg ClientConfig, logger zerolog.Logger) (*HTTPReranker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate rerank client config: %w", err)
	}
	return &HTTPReranker{c: newClient("rerank", cfg, logger)}, nil
}

// Rerank submits the candidate set and returns the proposed ordering as
// received. Permutation completeness is the caller's concern via
// SanitizeOrder, so a partial proposal still salvages what it can.
func (r *HTTPReranker) Rerank(ctx context.Context, req RerankRequest) (RerankResult, error) {
	var res RerankResult
	if err := r.c.call(ctx, pathRerank, req, &res); err != nil {
		return RerankResult{}, err
	}
	return res, nil
}

// HTTPCleaner calls a remote profile-cleanup service.
type HTTPCleaner struct {
	c *client
}

var _ Cleaner = (*HTTPCleaner)(nil)

// NewHTTPCleaner creates the cleanup client.
func NewHTTPCleaner(cfg ClientConfig, logger zerolog.Logger) (*HTTPCleaner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate cleanup client config: %w", err)
	}
	return &HTTPCleaner{c: newClient("cleanup", cfg, logger)}, nil
}

// Cleanup submits the feedback history and decodes decay suggestions.
// Decay signs stay advisory here; the profile manager re-derives them.
func (c *HTTPCleaner) Cleanup(ctx context.Context, req CleanupRequest) (CleanupResult, error) {
	var res CleanupResult
	if err := c.c.call(ctx, pathCleanup, req, &res); err != nil {
		return CleanupResult{}, err
	}
	return res, nil
}
