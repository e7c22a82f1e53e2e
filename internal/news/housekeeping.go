package news

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deusflow/mynews/internal/embedding"
	"github.com/deusflow/mynews/internal/logger"
	"github.com/deusflow/mynews/internal/models"
)

const (
	DefaultBackfillLimit = 50
	DefaultRecheckLimit  = 100
)

// Housekeeper runs maintenance jobs over stored items.
type Housekeeper struct {
	sources    SourceRepository
	items      ItemRepository
	embeddings *embedding.Engine
	opts       Options
	log        *slog.Logger
	now        func() time.Time
}

func NewHousekeeper(sources SourceRepository, items ItemRepository, embeddings *embedding.Engine, opts Options) *Housekeeper {
	opts.setDefaults()
	return &Housekeeper{
		sources:    sources,
		items:      items,
		embeddings: embeddings,
		opts:       opts,
		log:        logger.With("component", "housekeeper"),
		now:        time.Now,
	}
}

// Purge deletes items older than the retention window. Saved items are kept.
func (h *Housekeeper) Purge(ctx context.Context) (int64, error) {
	cutoff := h.now().Add(-h.opts.RetentionWindow)
	n, err := h.items.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if n > 0 {
		h.log.Info("🗑️ Purged old items", "count", n, "cutoff", cutoff)
	}
	return n, nil
}

// BackfillEmbeddings computes vectors for items stored without one, newest first.
func (h *Housekeeper) BackfillEmbeddings(ctx context.Context, limit int) (int, error) {
	if !h.embeddings.Enabled() {
		return 0, nil
	}
	if limit <= 0 {
		limit = DefaultBackfillLimit
	}
	items, err := h.items.ListMissingEmbeddings(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list missing embeddings: %w", err)
	}

	done := 0
	for _, it := range items {
		vec, err := h.embeddings.Embed(ctx, it.Title+" "+it.Description)
		if err != nil {
			return done, err
		}
		if vec == nil {
			continue
		}
		if err := h.items.UpdateEmbedding(ctx, it.ID, vec); err != nil {
			return done, fmt.Errorf("store embedding for %d: %w", it.ID, err)
		}
		it.Embedding = vec
		if h.embeddings.HasIndex() {
			h.embeddings.Index(ctx, it)
		}
		done++
	}
	h.log.Info("✅ Embedding backfill complete", "candidates", len(items), "embedded", done)
	return done, nil
}

// RecheckRedundancy re-runs redundancy detection over accepted items in the window,
// newest first. Items marked redundant leave the cache so that two near-identical
// items never mark each other.
func (h *Housekeeper) RecheckRedundancy(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultRecheckLimit
	}
	since := h.now().Add(-h.opts.RedundancyWindow)

	thresholds, err := h.thresholds(ctx)
	if err != nil {
		return 0, err
	}
	window, err := h.items.RecentWindow(ctx, since, models.WindowFilter{WithEmbedding: true, ExcludeFiltered: true})
	if err != nil {
		return 0, fmt.Errorf("load redundancy window: %w", err)
	}
	cache := embedding.NewCache(window)

	candidates, err := h.items.ListRecheckCandidates(ctx, since, limit)
	if err != nil {
		return 0, fmt.Errorf("list recheck candidates: %w", err)
	}

	marked := 0
	for _, it := range candidates {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		threshold, ok := thresholds[it.SourceID]
		if !ok {
			threshold = h.opts.DefaultThreshold
		}
		v, err := h.embeddings.CheckRedundancy(ctx, it, threshold, cache)
		if err != nil {
			return marked, err
		}
		if !v.Redundant {
			continue
		}
		if err := h.items.MarkRedundant(ctx, it.ID, v.MostSimilar.ID, v.Score); err != nil {
			return marked, fmt.Errorf("mark %d redundant: %w", it.ID, err)
		}
		cache.Remove(it.ID)
		marked++
		h.log.Info("♻️ Marked redundant", "id", it.ID, "similar_to", v.MostSimilar.ID, "score", v.Score)
	}
	h.log.Info("✅ Redundancy recheck complete", "checked", len(candidates), "marked", marked)
	return marked, nil
}

func (h *Housekeeper) thresholds(ctx context.Context) (map[int64]float64, error) {
	sources, err := h.sources.ListActiveSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	out := make(map[int64]float64, len(sources))
	for _, s := range sources {
		out[s.ID] = s.Threshold(h.opts.DefaultThreshold)
	}
	return out, nil
}

// DailyStats counts the items created on the calendar day containing day.
func (h *Housekeeper) DailyStats(ctx context.Context, day time.Time) (models.DayStats, error) {
	d := day.In(h.opts.Location)
	from := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, h.opts.Location)
	to := from.AddDate(0, 0, 1)

	st, err := h.items.CountCreatedBetween(ctx, from, to)
	if err != nil {
		return st, fmt.Errorf("daily stats: %w", err)
	}
	st.Day = from.Format("2006-01-02")
	return st, nil
}

// IndexBackfill pushes accepted vectors from the last days into the vector index.
func (h *Housekeeper) IndexBackfill(ctx context.Context, days int) (int, error) {
	if !h.embeddings.HasIndex() {
		return 0, nil
	}
	if days <= 0 {
		days = int(h.opts.RedundancyWindow / (24 * time.Hour))
	}
	items, err := h.items.RecentWindow(ctx, h.now().AddDate(0, 0, -days),
		models.WindowFilter{WithEmbedding: true, ExcludeFiltered: true})
	if err != nil {
		return 0, fmt.Errorf("load items to index: %w", err)
	}
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		h.embeddings.Index(ctx, it)
	}
	h.log.Info("✅ Vector index backfill complete", "items", len(items), "days", days)
	return len(items), nil
}
