package embedding

import (
	"context"
	"time"

	"github.com/deusflow/mynews/internal/models"
)

// Payload is the metadata stored next to a vector in an external index.
type Payload struct {
	GUID        string
	SourceID    int64
	Published   time.Time
	IsFiltered  bool
	IsRedundant bool
}

type Hit struct {
	ID      int64
	Score   float64
	Payload Payload
}

// VectorIndex is an approximate nearest-neighbour index over recent items.
// Search must only return items that are neither filtered nor redundant.
type VectorIndex interface {
	Search(ctx context.Context, vector []float32, topK int, minPublished time.Time, excludeID int64) ([]Hit, error)
	Upsert(ctx context.Context, id int64, vector []float32, payload Payload) error
}

// Verdict is the outcome of a redundancy check. MostSimilar is nil when nothing was compared.
type Verdict struct {
	Redundant   bool
	MostSimilar *models.Item
	Score       float64
}

// Cache is the batch-scoped set of accepted items with vectors.
// It is owned by a single pipeline run and is not safe for concurrent use.
type Cache struct {
	items []models.Item
	byID  map[int64]int
}

func NewCache(items []models.Item) *Cache {
	c := &Cache{byID: make(map[int64]int, len(items))}
	for _, it := range items {
		c.Add(it)
	}
	return c
}

// Add appends an accepted item. Items without a vector or marked redundant are ignored.
func (c *Cache) Add(item models.Item) {
	if len(item.Embedding) == 0 || item.IsRedundant {
		return
	}
	if item.ID != 0 {
		c.byID[item.ID] = len(c.items)
	}
	c.items = append(c.items, item)
}

// Remove drops the item with the given ID, if cached.
func (c *Cache) Remove(id int64) {
	i, ok := c.byID[id]
	if !ok {
		return
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	delete(c.byID, id)
	for j := i; j < len(c.items); j++ {
		if c.items[j].ID != 0 {
			c.byID[c.items[j].ID] = j
		}
	}
}

func (c *Cache) Len() int {
	return len(c.items)
}

func (c *Cache) Items() []models.Item {
	return c.items
}

func (c *Cache) get(id int64) (models.Item, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.Item{}, false
	}
	return c.items[i], true
}

// Best returns the highest-scoring eligible candidate for item.
func (c *Cache) Best(item models.Item) (models.Item, float64, bool) {
	var (
		best  models.Item
		score float64
		found bool
	)
	for _, cand := range c.items {
		if !comparable(item, cand) {
			continue
		}
		s := Cosine(item.Embedding, cand.Embedding)
		if !found || s > score {
			best, score, found = cand, s, true
		}
	}
	return best, score, found
}

// comparable keeps the similar-to relation pointing at earlier, distinct items.
func comparable(item, cand models.Item) bool {
	if len(cand.Embedding) == 0 {
		return false
	}
	if cand.GUID == item.GUID || (item.ID != 0 && cand.ID == item.ID) {
		return false
	}
	return !cand.Published.After(item.Published)
}

// CheckRedundancy compares item against the cache (and the index, if any) and reports
// whether its best match reaches threshold. The error is non-nil only when ctx is done.
func (e *Engine) CheckRedundancy(ctx context.Context, item models.Item, threshold float64, cache *Cache) (Verdict, error) {
	if len(item.Embedding) == 0 || cache == nil {
		return Verdict{}, nil
	}

	if e.index != nil {
		v, ok, err := e.searchIndex(ctx, item, threshold, cache)
		switch {
		case err != nil && ctx.Err() != nil:
			return Verdict{}, ctx.Err()
		case err != nil:
			e.log.Warn("⚠️ Vector index search failed, using in-memory cache", "error", err)
		case ok:
			return v, nil
		}
	}

	best, score, found := cache.Best(item)
	if !found {
		return Verdict{}, nil
	}
	return Verdict{Redundant: score >= threshold, MostSimilar: &best, Score: score}, nil
}

// searchIndex returns a verdict only when the index finds a match at or above threshold.
// Scores are recomputed exactly against the cached vectors.
func (e *Engine) searchIndex(ctx context.Context, item models.Item, threshold float64, cache *Cache) (Verdict, bool, error) {
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	hits, err := e.index.Search(callCtx, item.Embedding, e.cfg.TopK, e.now().Add(-e.cfg.Window), item.ID)
	if err != nil {
		return Verdict{}, false, err
	}

	var (
		best  models.Item
		score float64
		found bool
	)
	for _, h := range hits {
		cand, ok := cache.get(h.ID)
		if !ok || !comparable(item, cand) {
			continue
		}
		s := Cosine(item.Embedding, cand.Embedding)
		if !found || s > score {
			best, score, found = cand, s, true
		}
	}
	if !found || score < threshold {
		return Verdict{}, false, nil
	}
	return Verdict{Redundant: true, MostSimilar: &best, Score: score}, true, nil
}

// Index upserts an item's vector into the external index. Failures are logged only.
func (e *Engine) Index(ctx context.Context, item models.Item) {
	if e.index == nil || len(item.Embedding) == 0 || item.ID == 0 {
		return
	}
	callCtx, cancel := e.callContext(ctx)
	defer cancel()

	err := e.index.Upsert(callCtx, item.ID, item.Embedding, Payload{
		GUID:        item.GUID,
		SourceID:    item.SourceID,
		Published:   item.Published,
		IsFiltered:  item.IsFiltered || item.IsAIFiltered,
		IsRedundant: item.IsRedundant,
	})
	if err != nil {
		e.log.Warn("⚠️ Vector index upsert failed", "item_id", item.ID, "error", err)
	}
}

func (e *Engine) HasIndex() bool {
	return e != nil && e.index != nil
}
