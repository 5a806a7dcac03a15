// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

// Package tags normalizes free-form tag strings into canonical comparison
// keys and matches tags across decoration and casing variants.
//
// Tags arrive from the catalog, from user profiles, and from collaborator
// responses with inconsistent decoration ("Food", "🍜 food", "FOOD!!").
// All comparison anywhere in Feedtuner goes through canonical keys so the
// same topic never splits into multiple profile entries.
package tags

import (
	"strings"
	"unicode"

	"github.com/rs/zerolog"
)

// Canonicalize reduces a raw tag to its canonical comparison key:
// letters, digits and spaces survive (casefolded), every other rune
// (emoji, punctuation, symbols) is stripped, and whitespace runs collapse
// to a single space. The function is total: unrecognizable input yields
// the empty key, which matches nothing.
func Canonicalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// SameTopic reports whether two raw tags refer to the same topic.
// Two tags match when their canonical keys are equal or one key is a
// substring of the other ("jazz" matches "jazz fusion"). Empty keys
// never match.
func SameTopic(a, b string) bool {
	ka, kb := Canonicalize(a), Canonicalize(b)
	return MatchKeys(ka, kb)
}

// MatchKeys is SameTopic over already-canonicalized keys.
// Callers that canonicalize once and compare many times use this to skip
// redundant normalization.
func MatchKeys(ka, kb string) bool {
	if ka == "" || kb == "" {
		return false
	}
	if ka == kb {
		return true
	}
	return strings.Contains(ka, kb) || strings.Contains(kb, ka)
}

// Index maps canonical keys to the original tag spellings seen for them.
// It is precomputed over the catalog (and profile) so repeated scoring
// passes do not re-canonicalize the same strings.
type Index struct {
	byKey  map[string][]string
	order  []string
	logger zerolog.Logger
}

// NewIndex creates an empty index. The logger is used at debug level only.
func NewIndex(logger zerolog.Logger) *Index {
	return &Index{
		byKey:  make(map[string][]string),
		logger: logger.With().Str("component", "tags").Logger(),
	}
}

// Add records a raw tag under its canonical key. Duplicate spellings for
// a key are kept once. Tags that canonicalize to the empty key are dropped.
func (ix *Index) Add(raw string) {
	key := Canonicalize(raw)
	if key == "" {
		ix.logger.Debug().Str("tag", raw).Msg("tag canonicalized to empty key, dropped")
		return
	}
	existing, ok := ix.byKey[key]
	if !ok {
		ix.order = append(ix.order, key)
		ix.byKey[key] = []string{raw}
		return
	}
	for _, s := range existing {
		if s == raw {
			return
		}
	}
	ix.byKey[key] = append(existing, raw)
}

// AddAll records every tag in the slice.
func (ix *Index) AddAll(raws []string) {
	for _, raw := range raws {
		ix.Add(raw)
	}
}

// Spellings returns the original spellings recorded for a canonical key.
func (ix *Index) Spellings(key string) []string {
	return ix.byKey[key]
}

// Keys returns all canonical keys in first-seen order.
func (ix *Index) Keys() []string {
	out := make([]string, len(ix.order))
	copy(out, ix.order)
	return out
}

// Len returns the number of distinct canonical keys.
func (ix *Index) Len() int {
	return len(ix.byKey)
}

// Vocabulary returns up to limit canonical keys in first-seen order.
// Used to bound the tag vocabulary shipped to collaborators.
func (ix *Index) Vocabulary(limit int) []string {
	if limit <= 0 || limit >= len(ix.order) {
		return ix.Keys()
	}
	out := make([]string, limit)
	copy(out, ix.order[:limit])
	return out
}
