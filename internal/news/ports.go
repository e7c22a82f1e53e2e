package news

import (
	"context"
	"time"

	"github.com/deusflow/mynews/internal/models"
	"github.com/deusflow/mynews/internal/rss"
	"github.com/deusflow/mynews/internal/scraper"
)

type SourceRepository interface {
	ListActiveSources(ctx context.Context) ([]models.Source, error)
	UpdateLastFetch(ctx context.Context, sourceID int64, ts time.Time) error
}

// ItemRepository persists items. Create must treat a known GUID as a no-op and report
// created=false without an error.
type ItemRepository interface {
	Exists(ctx context.Context, guid string) (bool, error)
	Create(ctx context.Context, item models.Item) (models.Item, bool, error)
	// RecentWindow returns items published at or after since, oldest first.
	RecentWindow(ctx context.Context, since time.Time, filter models.WindowFilter) ([]models.Item, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	// LatestPublished returns nil when the source has no non-deleted items.
	LatestPublished(ctx context.Context, sourceID int64) (*time.Time, error)

	ListMissingEmbeddings(ctx context.Context, limit int) ([]models.Item, error)
	UpdateEmbedding(ctx context.Context, id int64, vec []float32) error
	ListRecheckCandidates(ctx context.Context, since time.Time, limit int) ([]models.Item, error)
	MarkRedundant(ctx context.Context, id, similarTo int64, score float64) error
	CountCreatedBetween(ctx context.Context, from, to time.Time) (models.DayStats, error)
}

type FilterRepository interface {
	ActiveFilterWords(ctx context.Context) ([]models.FilterWord, error)
	ActiveAIInstructions(ctx context.Context) ([]models.AIFilterInstruction, error)
}

type FeedClient interface {
	Parse(ctx context.Context, url string) ([]rss.Entry, error)
}

type ArticleExtractor interface {
	FetchFullText(ctx context.Context, url string) (scraper.Article, error)
}
