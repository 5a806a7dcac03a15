// Feedtuner - Preference Signal Processing and Adaptive Feed Ranking
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/feedtuner

// Package catalog holds the immutable post corpus the ranking pipeline
// operates over. Posts carry bilingual titles, weighted tags, and a like
// count; all ranking state (scores, veto marks) lives outside the corpus
// in transient ScoredPost values.
package catalog

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/feedtuner/internal/tags"
)

// Post is a single content item. Posts are immutable once loaded.
type Post struct {
	// ID uniquely identifies the post within the corpus.
	ID string `json:"id"`

	// Title is the primary-language title.
	Title string `json:"title"`

	// TitleAlt is the secondary-language title. May be empty.
	TitleAlt string `json:"title_alt,omitempty"`

	// Summary is a short body excerpt shown in the feed. May be empty.
	Summary string `json:"summary,omitempty"`

	// Tags are the post's topic tags, in original spelling.
	Tags []string `json:"tags"`

	// TagRelevance maps a tag (original spelling) to how central that
	// topic is to the post, typically in (0, 3]. Tags absent from the
	// map default to relevance 1.0.
	TagRelevance map[string]float64 `json:"tag_relevance,omitempty"`

	// Likes is the community like count used by the popularity term.
	Likes int `json:"likes"`
}

// Relevance returns the post's relevance weight for the given tag
// (original spelling). Missing entries default to 1.0.
func (p *Post) Relevance(tag string) float64 {
	if p.TagRelevance == nil {
		return 1.0
	}
	if w, ok := p.TagRelevance[tag]; ok {
		return w
	}
	return 1.0
}

// ScoredPost pairs a post with its transient ranking state for one
// scoring pass. Scores are never persisted.
type ScoredPost struct {
	Post *Post `json:"post"`

	// Score is the final relevance score, or the veto sentinel value
	// when Vetoed is set.
	Score float64 `json:"score"`

	// Vetoed marks a post demoted by a strong dislike.
	Vetoed bool `json:"vetoed,omitempty"`

	// VetoTag is the dislike tag that triggered the veto.
	VetoTag string `json:"veto_tag,omitempty"`

	// Reasons are human-readable scoring explanations, in the order the
	// scoring passes produced them.
	Reasons []string `json:"reasons,omitempty"`
}

// Provider supplies the post corpus to retrieval and the pipeline.
type Provider interface {
	// Posts returns all posts in stable catalog order.
	Posts() []Post

	// Get returns the post with the given id.
	Get(id string) (*Post, bool)
}

// Corpus is an in-memory immutable Provider loaded at startup.
type Corpus struct {
	posts  []Post
	byID   map[string]int
	index  *tags.Index
	logger zerolog.Logger
}

var _ Provider = (*Corpus)(nil)

// NewCorpus builds a corpus from the given posts. Posts with duplicate
// or empty IDs are rejected.
func NewCorpus(posts []Post, logger zerolog.Logger) (*Corpus, error) {
	c := &Corpus{
		posts:  posts,
		byID:   make(map[string]int, len(posts)),
		index:  tags.NewIndex(logger),
		logger: logger.With().Str("component", "catalog").Logger(),
	}
	for i := range posts {
		p := &posts[i]
		if p.ID == "" {
			return nil, fmt.Errorf("post at index %d has empty id", i)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate post id %q", p.ID)
		}
		c.byID[p.ID] = i
		c.index.AddAll(p.Tags)
	}
	c.logger.Info().
		Int("posts", len(posts)).
		Int("tag_keys", c.index.Len()).
		Msg("Catalog loaded")
	return c, nil
}

// LoadFile reads a JSON array of posts from path and builds a corpus.
func LoadFile(path string, logger zerolog.Logger) (*Corpus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var posts []Post
	if err := json.Unmarshal(data, &posts); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	return NewCorpus(posts, logger)
}

// Posts returns all posts in stable catalog order.
// The returned slice is shared; callers must not mutate it.
func (c *Corpus) Posts() []Post {
	return c.posts
}

// Get returns the post with the given id.
func (c *Corpus) Get(id string) (*Post, bool) {
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &c.posts[i], true
}

// TagIndex returns the canonical-key index over all catalog tags.
func (c *Corpus) TagIndex() *tags.Index {
	return c.index
}

// Len returns the number of posts in the corpus.
func (c *Corpus) Len() int {
	return len(c.posts)
}
