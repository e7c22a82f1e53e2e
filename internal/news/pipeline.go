// Package news runs the ingestion batch: fetch, keyword filter, enrich, summarize,
// deduplicate by embedding and persist.
package news

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/deusflow/mynews/internal/embedding"
	"github.com/deusflow/mynews/internal/logger"
	"github.com/deusflow/mynews/internal/metrics"
	"github.com/deusflow/mynews/internal/models"
	"github.com/deusflow/mynews/internal/ratelimit"
	"github.com/deusflow/mynews/internal/scraper"
	"github.com/deusflow/mynews/internal/summary"
)

// Deps are the collaborators of a Pipeline. Extractor, Summarizer, Embeddings and
// Limiter are optional.
type Deps struct {
	Sources    SourceRepository
	Items      ItemRepository
	Filters    FilterRepository
	Feeds      FeedClient
	Extractor  ArticleExtractor
	Summarizer *summary.Summarizer
	Embeddings *embedding.Engine
	Limiter    *ratelimit.AIRateLimiter
}

type Options struct {
	RetentionWindow  time.Duration
	RedundancyWindow time.Duration
	DefaultThreshold float64
	MaxTitleRunes    int
	MaxGUIDRunes     int
	Location         *time.Location
}

func (o *Options) setDefaults() {
	if o.RetentionWindow <= 0 {
		o.RetentionWindow = 15 * 24 * time.Hour
	}
	if o.RedundancyWindow <= 0 {
		o.RedundancyWindow = 14 * 24 * time.Hour
	}
	if o.DefaultThreshold <= 0 {
		o.DefaultThreshold = models.DefaultSimilarityThreshold
	}
	if o.MaxTitleRunes <= 0 {
		o.MaxTitleRunes = 200
	}
	if o.MaxGUIDRunes <= 0 {
		o.MaxGUIDRunes = 400
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
}

// Pipeline processes one batch at a time. It is not safe for concurrent RunBatch calls.
type Pipeline struct {
	deps Deps
	opts Options
	log  *slog.Logger
	now  func() time.Time
}

func NewPipeline(deps Deps, opts Options) *Pipeline {
	opts.setDefaults()
	return &Pipeline{
		deps: deps,
		opts: opts,
		log:  logger.With("component", "pipeline"),
		now:  time.Now,
	}
}

// RunBatch ingests every active source once and returns the number of items created.
// On cancellation it returns the count so far together with ctx.Err().
func (p *Pipeline) RunBatch(ctx context.Context) (int, error) {
	start := p.now()
	p.deps.Limiter.Reset()

	words, err := p.deps.Filters.ActiveFilterWords(ctx)
	if err != nil {
		return 0, fmt.Errorf("load filter words: %w", err)
	}
	instructions, err := p.deps.Filters.ActiveAIInstructions(ctx)
	if err != nil {
		return 0, fmt.Errorf("load ai instructions: %w", err)
	}

	candidates, reached, err := p.collect(ctx)
	if err != nil {
		return 0, err
	}

	cache, err := p.windowCache(ctx)
	if err != nil {
		return 0, err
	}
	p.log.Info("🔄 Processing entries", "candidates", len(candidates), "cached_vectors", cache.Len(), "filter_words", len(words))

	created := 0
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		item, outcome, err := p.process(ctx, c, words, instructions, cache)
		if err != nil {
			return created, err
		}

		saved, ok, err := p.deps.Items.Create(ctx, item)
		if err != nil {
			return created, fmt.Errorf("persist %q: %w", item.GUID, err)
		}
		if !ok {
			metrics.ItemOutcomesTotal.WithLabelValues(metrics.OutcomeDuplicate).Inc()
			p.log.Debug("⏭️ Item already stored", "guid", item.GUID)
			continue
		}
		created++
		metrics.Global.RecordOutcome(outcome)
		p.log.Info("💾 Item stored", "id", saved.ID, "outcome", outcome, "source", c.source.Name, "title", saved.Title)

		if outcome == metrics.OutcomeVisible {
			cache.Add(saved)
		}
		if p.deps.Embeddings.HasIndex() && len(saved.Embedding) > 0 {
			p.deps.Embeddings.Index(ctx, saved)
		}
	}

	stamp := p.now()
	for _, src := range reached {
		if err := p.deps.Sources.UpdateLastFetch(ctx, src.ID, stamp); err != nil {
			return created, fmt.Errorf("update last fetch of %s: %w", src.Name, err)
		}
	}

	p.log.Info("✅ Batch complete", "created", created, "sources", len(reached), "duration", p.now().Sub(start))
	return created, nil
}

// windowCache loads accepted vectors from the redundancy window.
func (p *Pipeline) windowCache(ctx context.Context) (*embedding.Cache, error) {
	if !p.deps.Embeddings.Enabled() {
		return embedding.NewCache(nil), nil
	}
	items, err := p.deps.Items.RecentWindow(ctx, p.now().Add(-p.opts.RedundancyWindow),
		models.WindowFilter{WithEmbedding: true, ExcludeFiltered: true})
	if err != nil {
		return nil, fmt.Errorf("load redundancy window: %w", err)
	}
	return embedding.NewCache(items), nil
}

// process turns a candidate into exactly one item to persist. The error is only ctx.Err().
func (p *Pipeline) process(ctx context.Context, c candidate, words []models.FilterWord, instructions []models.AIFilterInstruction, cache *embedding.Cache) (models.Item, string, error) {
	e := c.entry
	item := models.Item{
		SourceID:    c.source.ID,
		Title:       c.title,
		Description: e.Description,
		Link:        e.Link,
		Published:   e.Published,
		GUID:        c.guid,
	}

	if matched, word := ShouldFilter(c.title, e.Description, words); matched {
		item.IsFiltered = true
		item.FilteredBy = &word.ID
		item.ImageURL = resolveImage(e, scraper.Article{})
		p.log.Info("🚫 Keyword filtered", "word", word.Word, "title", c.title)
		return item, metrics.OutcomeKeywordRejected, nil
	}

	content, article := p.enrich(ctx, c)
	item.ImageURL = resolveImage(e, article)
	item.Description = content

	if p.deps.Summarizer != nil {
		res, err := p.deps.Summarizer.Summarize(ctx, c.title, content, instructions)
		if err != nil {
			return item, "", err
		}
		item.Description = res.Summary
		item.ShortAnswer = res.ShortAnswer
		item.AIProcessed = !res.Degraded
		if res.AIFilterReason != nil {
			item.IsAIFiltered = true
			item.AIFilterReason = res.AIFilterReason
			p.log.Info("🤖 AI filtered", "reason", *res.AIFilterReason, "title", c.title)
			return item, metrics.OutcomeAIRejected, nil
		}
	}

	if !p.deps.Embeddings.Enabled() {
		return item, metrics.OutcomeVisible, nil
	}
	vec, err := p.deps.Embeddings.Embed(ctx, embeddingText(item))
	if err != nil {
		return item, "", err
	}
	if vec == nil {
		return item, metrics.OutcomeVisible, nil
	}
	item.Embedding = vec

	verdict, err := p.deps.Embeddings.CheckRedundancy(ctx, item, c.source.Threshold(p.opts.DefaultThreshold), cache)
	if err != nil {
		return item, "", err
	}
	if verdict.MostSimilar != nil {
		score, ref := verdict.Score, verdict.MostSimilar.ID
		item.SimilarityScore = &score
		item.SimilarTo = &ref
	}
	if verdict.Redundant {
		item.IsRedundant = true
		item.IsFiltered = true
		p.log.Info("♻️ Redundant item", "similar_to", verdict.MostSimilar.ID, "score", verdict.Score, "title", c.title)
		return item, metrics.OutcomeRedundant, nil
	}
	return item, metrics.OutcomeVisible, nil
}

// embeddingText is the text whose vector represents an item.
func embeddingText(item models.Item) string {
	parts := []string{item.Title}
	if item.ShortAnswer != nil {
		parts = append(parts, *item.ShortAnswer)
	}
	parts = append(parts, item.Description)
	return strings.Join(parts, " ")
}
