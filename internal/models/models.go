// Package models holds the entities persisted by the news pipeline.
package models

import "time"

// DefaultSimilarityThreshold is used when a source has no threshold of its own.
const DefaultSimilarityThreshold = 0.92

// Source is a feed endpoint.
type Source struct {
	ID                  int64      `json:"id"`
	Name                string     `json:"name"`
	URL                 string     `json:"url"`
	Active              bool       `json:"active"`
	DeepExtraction      bool       `json:"deep_extraction"`
	LastFetch           *time.Time `json:"last_fetch,omitempty"`
	SimilarityThreshold float64    `json:"similarity_threshold"`
}

// Threshold returns the effective redundancy threshold, falling back to def.
func (s Source) Threshold(def float64) float64 {
	if s.SimilarityThreshold > 0 {
		return s.SimilarityThreshold
	}
	if def > 0 {
		return def
	}
	return DefaultSimilarityThreshold
}

// Item is a single ingested article.
type Item struct {
	ID          int64     `json:"id"`
	SourceID    int64     `json:"source_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	Published   time.Time `json:"published"`
	GUID        string    `json:"guid"`
	CreatedAt   time.Time `json:"created_at"`
	ImageURL    string    `json:"image_url,omitempty"`

	ShortAnswer     *string   `json:"short_answer,omitempty"`
	Embedding       []float32 `json:"embedding,omitempty"`
	SimilarityScore *float64  `json:"similarity_score,omitempty"`
	SimilarTo       *int64    `json:"similar_to,omitempty"`
	AIFilterReason  *string   `json:"ai_filter_reason,omitempty"`
	FilteredBy      *int64    `json:"filtered_by,omitempty"`

	IsDeleted    bool `json:"is_deleted"`
	IsFiltered   bool `json:"is_filtered"`
	IsAIFiltered bool `json:"is_ai_filtered"`
	IsRedundant  bool `json:"is_redundant"`
	IsSaved      bool `json:"is_saved"`
	AIProcessed  bool `json:"ai_processed"`
}

// Visible reports whether the item should be shown to a reader.
func (i Item) Visible() bool {
	return !i.IsDeleted && !i.IsFiltered && !i.IsAIFiltered && !i.IsRedundant
}

// KeywordFiltered reports whether a filter word rejected the item.
func (i Item) KeywordFiltered() bool {
	return i.IsFiltered && i.FilteredBy != nil
}

// FilterWord is a banned term.
type FilterWord struct {
	ID        int64  `json:"id" yaml:"id"`
	Word      string `json:"word" yaml:"word"`
	Active    bool   `json:"active" yaml:"active"`
	TitleOnly bool   `json:"title_only" yaml:"title_only"`
}

// AIFilterInstruction describes content the language model should reject.
type AIFilterInstruction struct {
	ID          int64  `json:"id" yaml:"id"`
	Instruction string `json:"instruction" yaml:"instruction"`
	Active      bool   `json:"active" yaml:"active"`
}

// DayStats buckets the items created during one day. Buckets are exclusive.
type DayStats struct {
	Day             string `json:"day"`
	Total           int    `json:"total"`
	Redundant       int    `json:"redundant"`
	AIFiltered      int    `json:"ai_filtered"`
	KeywordFiltered int    `json:"keyword_filtered"`
	Visible         int    `json:"visible"`
}

// Add places the item in exactly one bucket.
func (s *DayStats) Add(i Item) {
	s.Total++
	switch {
	case i.IsRedundant:
		s.Redundant++
	case i.IsAIFiltered:
		s.AIFiltered++
	case i.IsFiltered:
		s.KeywordFiltered++
	default:
		s.Visible++
	}
}

// WindowFilter narrows a recent-window query.
type WindowFilter struct {
	// WithEmbedding keeps only items that have a vector.
	WithEmbedding bool
	// ExcludeFiltered drops keyword-filtered, AI-filtered and redundant items.
	ExcludeFiltered bool
}

// Match applies the filter to a single item.
func (f WindowFilter) Match(i Item) bool {
	if f.WithEmbedding && len(i.Embedding) == 0 {
		return false
	}
	if f.ExcludeFiltered && (i.IsFiltered || i.IsAIFiltered || i.IsRedundant) {
		return false
	}
	return true
}
