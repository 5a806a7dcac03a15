// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

package scoring

import (
	"math"
	"reflect"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/catalog"
	"github.com/tomtom215/feedtuner/internal/profile"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultParams(), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

const scoreEps = 1e-9

// --- Test: Score ---

func TestScoreInterestRewardWithRelevance(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	prof := &profile.Profile{
		Interests: []profile.WeightedTag{{Tag: "Food", Weight: 5.0}},
	}
	post := &catalog.Post{
		ID:           "p1",
		Tags:         []string{"Food"},
		TagRelevance: map[string]float64{"Food": 2.0},
		Likes:        9,
	}

	score, reasons, vetoed, _ := e.Score(post, prof)

	// interest 5.0*2.0*4.0 = 40, popularity log10(10)*0.05 = 0.05
	if math.Abs(score-40.05) > scoreEps {
		t.Errorf("score = %v, want 40.05", score)
	}
	if vetoed {
		t.Error("unexpected veto")
	}
	if len(reasons) != 2 {
		t.Errorf("reasons = %v, want popularity + interest", reasons)
	}
}

func TestScoreVetoThreshold(t *testing.T) {
	t.Parallel()

	e := testEngine(t)

	tests := []struct {
		name       string
		dislike    profile.WeightedTag
		relevance  float64
		wantVetoed bool
	}{
		{
			name:       "impact at threshold vetoes",
			dislike:    profile.WeightedTag{Tag: "Gaming", Weight: 12.5},
			relevance:  2.0,
			wantVetoed: true,
		},
		{
			name:       "impact above threshold vetoes",
			dislike:    profile.WeightedTag{Tag: "Gaming", Weight: 20},
			relevance:  2.0,
			wantVetoed: true,
		},
		{
			name:       "passing mention penalized only",
			dislike:    profile.WeightedTag{Tag: "Gaming", Weight: 20},
			relevance:  0.5,
			wantVetoed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			prof := &profile.Profile{Dislikes: []profile.WeightedTag{tt.dislike}}
			post := &catalog.Post{
				ID:           "p1",
				Tags:         []string{"Gaming"},
				TagRelevance: map[string]float64{"Gaming": tt.relevance},
			}
			score, reasons, vetoed, vetoTag := e.Score(post, prof)

			if vetoed != tt.wantVetoed {
				t.Fatalf("vetoed = %v, want %v", vetoed, tt.wantVetoed)
			}
			if tt.wantVetoed {
				if score > -1000 {
					t.Errorf("vetoed score = %v, want <= -1000", score)
				}
				if vetoTag != "Gaming" {
					t.Errorf("vetoTag = %q, want Gaming", vetoTag)
				}
				if len(reasons) == 0 || reasons[0] != `blocked by "Gaming"` {
					t.Errorf("reasons = %v, want blocked marker first", reasons)
				}
			} else if score >= 0 {
				t.Errorf("penalized score = %v, want negative", score)
			}
		})
	}
}

func TestScoreVetoOrderingAmongVetoed(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	prof := &profile.Profile{
		Dislikes: []profile.WeightedTag{{Tag: "Gaming", Weight: 20}},
	}
	mild := &catalog.Post{
		ID:           "mild",
		Tags:         []string{"Gaming"},
		TagRelevance: map[string]float64{"Gaming": 1.5},
	}
	severe := &catalog.Post{
		ID:           "severe",
		Tags:         []string{"Gaming"},
		TagRelevance: map[string]float64{"Gaming": 3.0},
	}

	mildScore, _, _, _ := e.Score(mild, prof)
	severeScore, _, _, _ := e.Score(severe, prof)

	if !(mildScore > severeScore) {
		t.Errorf("mild vetoed post (%v) should outrank severe vetoed post (%v)", mildScore, severeScore)
	}
}

func TestScoreSynergy(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	prof := &profile.Profile{
		Interests: []profile.WeightedTag{
			{Tag: "Food", Weight: 2},
			{Tag: "Travel", Weight: 3},
			{Tag: "Jazz", Weight: 1},
		},
	}
	post := &catalog.Post{
		ID:   "p1",
		Tags: []string{"Food", "Travel", "Jazz"},
	}

	score, reasons, _, _ := e.Score(post, prof)

	// interests (2+3+1)*4 = 24, synergy (3-1)*5 = 10
	if math.Abs(score-34) > scoreEps {
		t.Errorf("score = %v, want 34", score)
	}
	found := false
	for _, r := range reasons {
		if r == "multi-interest synergy (3 topics)" {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons = %v, want synergy entry", reasons)
	}
}

func TestScoreSubstringMatching(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	prof := &profile.Profile{
		Interests: []profile.WeightedTag{{Tag: "Jazz", Weight: 10}},
	}
	post := &catalog.Post{
		ID:   "p1",
		Tags: []string{"Jazz Fusion"},
	}

	score, _, _, _ := e.Score(post, prof)
	if math.Abs(score-40) > scoreEps {
		t.Errorf("score = %v, want 40 (substring interest match)", score)
	}
}

func TestScoreDeterminism(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	prof := &profile.Profile{
		Interests: []profile.WeightedTag{{Tag: "Food", Weight: 5}, {Tag: "Jazz", Weight: 2}},
		Dislikes:  []profile.WeightedTag{{Tag: "Gaming", Weight: 4}},
	}
	post := &catalog.Post{
		ID:           "p1",
		Tags:         []string{"Food", "Gaming", "Jazz"},
		TagRelevance: map[string]float64{"Food": 1.5},
		Likes:        120,
	}

	firstScore, firstReasons, _, _ := e.Score(post, prof)
	for i := 0; i < 10; i++ {
		score, reasons, _, _ := e.Score(post, prof)
		if score != firstScore {
			t.Fatalf("score changed across calls: %v != %v", score, firstScore)
		}
		if !reflect.DeepEqual(reasons, firstReasons) {
			t.Fatalf("reasons changed across calls: %v != %v", reasons, firstReasons)
		}
	}
}

func TestScoreEmptyProfile(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	post := &catalog.Post{ID: "p1", Tags: []string{"Food"}, Likes: 99}

	score, reasons, vetoed, _ := e.Score(post, profile.New())
	if vetoed {
		t.Error("unexpected veto on empty profile")
	}
	want := math.Log10(100) * 0.05
	if math.Abs(score-want) > scoreEps {
		t.Errorf("score = %v, want popularity-only %v", score, want)
	}
	if len(reasons) != 1 {
		t.Errorf("reasons = %v, want popularity only", reasons)
	}
}

// --- Test: Rank ---

func TestRankVetoDominance(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	prof := &profile.Profile{
		Interests: []profile.WeightedTag{{Tag: "Food", Weight: 10}},
		Dislikes:  []profile.WeightedTag{{Tag: "Gaming", Weight: 20}},
	}
	posts := []catalog.Post{
		{ID: "vetoed-popular", Tags: []string{"Gaming", "Food"}, TagRelevance: map[string]float64{"Gaming": 2.0}, Likes: 100000},
		{ID: "plain", Tags: nil, Likes: 0},
		{ID: "liked", Tags: []string{"Food"}, Likes: 10},
	}

	ranked := e.Rank(posts, prof)

	if ranked[len(ranked)-1].Post.ID != "vetoed-popular" {
		t.Errorf("vetoed post not last: %v", rankedIDs(ranked))
	}
	for _, sp := range ranked {
		if sp.Vetoed && sp.Score > -1000 {
			t.Errorf("vetoed post %s score %v > -1000", sp.Post.ID, sp.Score)
		}
		if sp.Vetoed {
			continue
		}
		for _, other := range ranked {
			if other.Vetoed && other.Score >= sp.Score {
				t.Errorf("vetoed %s (%v) outranks non-vetoed %s (%v)", other.Post.ID, other.Score, sp.Post.ID, sp.Score)
			}
		}
	}
}

func TestRankStableTieBreak(t *testing.T) {
	t.Parallel()

	e := testEngine(t)
	posts := []catalog.Post{
		{ID: "a", Likes: 10},
		{ID: "b", Likes: 10},
		{ID: "c", Likes: 10},
	}

	ranked := e.Rank(posts, profile.New())
	want := []string{"a", "b", "c"}
	if got := rankedIDs(ranked); !reflect.DeepEqual(got, want) {
		t.Errorf("tie-break order = %v, want catalog order %v", got, want)
	}
}

func rankedIDs(ranked []catalog.ScoredPost) []string {
	ids := make([]string, len(ranked))
	for i, sp := range ranked {
		ids[i] = sp.Post.ID
	}
	return ids
}

// --- Test: Params ---

func TestParamsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Params)
		wantErr bool
	}{
		{name: "defaults valid", mutate: func(*Params) {}},
		{name: "zero veto threshold", mutate: func(p *Params) { p.VetoThreshold = 0 }, wantErr: true},
		{name: "positive veto base", mutate: func(p *Params) { p.VetoBase = 10 }, wantErr: true},
		{name: "negative veto scale", mutate: func(p *Params) { p.VetoScale = -0.1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParameterizedVetoThreshold(t *testing.T) {
	t.Parallel()

	params := DefaultParams()
	params.VetoThreshold = 100
	e, err := NewEngine(params, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	prof := &profile.Profile{
		Dislikes: []profile.WeightedTag{{Tag: "Gaming", Weight: 20}},
	}
	post := &catalog.Post{
		ID:           "p1",
		Tags:         []string{"Gaming"},
		TagRelevance: map[string]float64{"Gaming": 2.0},
	}

	_, _, vetoed, _ := e.Score(post, prof)
	if vetoed {
		t.Error("impact 40 vetoed despite threshold 100")
	}
}
