// Package app wires configuration into the pipeline and runs it on a schedule.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/deusflow/mynews/internal/config"
	"github.com/deusflow/mynews/internal/embedding"
	"github.com/deusflow/mynews/internal/gemini"
	"github.com/deusflow/mynews/internal/logger"
	"github.com/deusflow/mynews/internal/metrics"
	"github.com/deusflow/mynews/internal/models"
	"github.com/deusflow/mynews/internal/news"
	"github.com/deusflow/mynews/internal/openai"
	"github.com/deusflow/mynews/internal/ratelimit"
	"github.com/deusflow/mynews/internal/rss"
	"github.com/deusflow/mynews/internal/scraper"
	"github.com/deusflow/mynews/internal/storage"
	"github.com/deusflow/mynews/internal/summary"
	"github.com/deusflow/mynews/internal/telegram"
	"github.com/deusflow/mynews/internal/vectorindex"
)

// Store is what the pipeline needs from persistence, plus seeding.
type Store interface {
	news.SourceRepository
	news.ItemRepository
	news.FilterRepository
	Seed(ctx context.Context, seeds rss.Seeds) error
}

type App struct {
	cfg         *config.Config
	store       Store
	pipeline    *news.Pipeline
	housekeeper *news.Housekeeper
	notifier    *telegram.Notifier
	limiter     *ratelimit.AIRateLimiter
	embedCache  *embedding.CachedEmbedder
	closers     []func()
	log         *slog.Logger
}

// New connects the store, AI providers and vector index described by cfg.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{
		cfg:      cfg,
		notifier: telegram.NewNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, cfg.Telegram.Timeout),
		limiter: ratelimit.New(ratelimit.Limits{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			MaxPerRun:         cfg.RateLimit.MaxRequestsPerRun,
		}),
		log: logger.With("component", "app"),
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	llm, embedder, err := a.providers(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	index, err := a.vectorIndex(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	var inner embedding.Embedder
	if embedder != nil {
		a.embedCache = embedding.NewCachedEmbedder(embedder, cfg.Embedding.CacheTTL, a.limiter)
		inner = a.embedCache
	}
	engine := embedding.NewEngine(inner, index, embedding.Config{
		Model:      cfg.Embedding.Model,
		MaxChars:   cfg.Embedding.MaxChars,
		Timeout:    cfg.Embedding.Timeout,
		RetryDelay: cfg.LLM.RetryDelay,
		TopK:       cfg.VectorIndex.TopK,
		Window:     cfg.RedundancyWindow(),
	})

	opts := news.Options{
		RetentionWindow:  cfg.RetentionWindow(),
		RedundancyWindow: cfg.RedundancyWindow(),
		DefaultThreshold: cfg.Pipeline.DefaultThreshold,
		MaxTitleRunes:    cfg.Pipeline.MaxTitleRunes,
		MaxGUIDRunes:     cfg.Pipeline.MaxGUIDRunes,
		Location:         cfg.Location(),
	}
	a.pipeline = news.NewPipeline(news.Deps{
		Sources:   a.store,
		Items:     a.store,
		Filters:   a.store,
		Feeds:     rss.NewClient(cfg.Pipeline.FeedTimeout),
		Extractor: scraper.NewExtractor(cfg.Pipeline.PageTimeout),
		Summarizer: summary.New(llm, summary.Config{
			Model:           cfg.LLM.Model,
			MaxRetries:      cfg.LLM.MaxRetries,
			RetryDelay:      cfg.LLM.RetryDelay,
			Timeout:         cfg.LLM.Timeout,
			MaxContentRunes: cfg.LLM.MaxPromptRunes,
		}),
		Embeddings: engine,
		Limiter:    a.limiter,
	}, opts)
	a.housekeeper = news.NewHousekeeper(a.store, a.store, engine, opts)

	a.log.Info("🚀 Pipeline ready",
		"llm", cfg.LLM.Provider,
		"embedding", cfg.Embedding.Provider,
		"vector_index", cfg.VectorIndex.Driver,
		"postgres", cfg.Database.URL != "")
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	if a.cfg.Database.URL != "" {
		pg, err := storage.NewPostgresStore(ctx, a.cfg.Database.URL, a.cfg.Embedding.Dimensions)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		a.store = pg
		a.closers = append(a.closers, func() { pg.Close() })
	} else {
		fs := storage.NewFileStore(a.cfg.Database.DataFile)
		if err := fs.Load(); err != nil {
			return fmt.Errorf("load file store: %w", err)
		}
		a.store = fs
		a.log.Info("💾 Using file store", "path", a.cfg.Database.DataFile)
	}
	return a.seed(ctx)
}

// seed loads sources and filters from the seeds file when it exists.
func (a *App) seed(ctx context.Context) error {
	if a.cfg.SeedsPath == "" {
		return nil
	}
	seeds, err := rss.LoadSeeds(a.cfg.SeedsPath)
	if errors.Is(err, os.ErrNotExist) {
		a.log.Warn("⚠️ Seeds file not found, using stored sources only", "path", a.cfg.SeedsPath)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load seeds: %w", err)
	}
	if err := a.store.Seed(ctx, seeds); err != nil {
		return fmt.Errorf("seed store: %w", err)
	}
	a.log.Info("🌱 Seeds applied", "sources", len(seeds.Sources), "filter_words", len(seeds.FilterWords), "ai_instructions", len(seeds.AIInstructions))
	return nil
}

// providers builds the LLM and, unless disabled, the embedder. Gemini clients are shared
// per API key, so both roles reuse one client when the keys match.
func (a *App) providers(ctx context.Context) (summary.LLM, embedding.Embedder, error) {
	gem := make(map[string]*gemini.Client)
	geminiClient := func(key string) (*gemini.Client, error) {
		if c, ok := gem[key]; ok {
			return c, nil
		}
		c, err := gemini.NewClient(ctx, key, a.limiter)
		if err != nil {
			return nil, err
		}
		gem[key] = c
		a.closers = append(a.closers, c.Close)
		return c, nil
	}

	var llm summary.LLM
	switch a.cfg.LLM.Provider {
	case config.ProviderGemini:
		c, err := geminiClient(a.cfg.LLM.APIKey)
		if err != nil {
			return nil, nil, err
		}
		llm = c
	case config.ProviderOpenAI:
		llm = openai.NewClient(openai.Config{
			APIKey:  a.cfg.LLM.APIKey,
			BaseURL: a.cfg.LLM.BaseURL,
			Limiter: a.limiter,
		})
	default:
		return nil, nil, fmt.Errorf("unsupported llm provider %q", a.cfg.LLM.Provider)
	}

	var embedder embedding.Embedder
	switch a.cfg.Embedding.Provider {
	case config.ProviderNone:
		a.log.Warn("⚠️ Embeddings disabled, redundancy detection is off")
	case config.ProviderGemini:
		c, err := geminiClient(a.cfg.Embedding.APIKey)
		if err != nil {
			return nil, nil, err
		}
		embedder = c
	case config.ProviderOpenAI:
		embedder = openai.NewClient(openai.Config{
			APIKey:     a.cfg.Embedding.APIKey,
			BaseURL:    a.cfg.Embedding.BaseURL,
			Dimensions: a.cfg.Embedding.Dimensions,
			Limiter:    a.limiter,
		})
	default:
		return nil, nil, fmt.Errorf("unsupported embedding provider %q", a.cfg.Embedding.Provider)
	}
	return llm, embedder, nil
}

func (a *App) vectorIndex(ctx context.Context) (embedding.VectorIndex, error) {
	switch a.cfg.VectorIndex.Driver {
	case config.IndexRedis:
		r, err := vectorindex.NewRedis(vectorindex.Config{
			Addr:     a.cfg.VectorIndex.RedisAddr,
			Password: a.cfg.VectorIndex.RedisPassword,
			Name:     a.cfg.VectorIndex.Name,
			Dim:      a.cfg.Embedding.Dimensions,
			TTL:      a.cfg.RetentionWindow(),
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.closers = append(a.closers, r.Close)

		ictx, cancel := context.WithTimeout(ctx, a.cfg.VectorIndex.Timeout)
		defer cancel()
		if err := r.EnsureIndex(ictx); err != nil {
			return nil, fmt.Errorf("create redis index: %w", err)
		}
		return r, nil
	case config.IndexPostgres:
		pg, ok := a.store.(*storage.PostgresStore)
		if !ok {
			return nil, errors.New("postgres vector index requires the postgres store")
		}
		return pg, nil
	}
	return nil, nil
}

// Close releases provider clients and the store.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) Housekeeper() *news.Housekeeper {
	return a.housekeeper
}

// RunOnce runs one batch followed by the retention purge.
func (a *App) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	created, err := a.pipeline.RunBatch(ctx)
	elapsed := time.Since(start)
	metrics.Global.RecordProcessingTime(elapsed)

	if err != nil {
		metrics.Global.SetError(err.Error())
		a.log.Error("❌ Batch failed", "created", created, "duration", elapsed, "error", err)
		if ctx.Err() == nil {
			a.alert(ctx, formatFailureAlert(err, created))
		}
		return created, err
	}
	metrics.Global.SetLastRun(created)

	purged, err := a.housekeeper.Purge(ctx)
	if err != nil {
		a.log.Error("❌ Purge failed", "error", err)
	}
	if a.embedCache != nil {
		if n := a.embedCache.Cleanup(); n > 0 {
			a.log.Debug("🧹 Embedding cache cleanup", "expired", n)
		}
	}

	a.log.Info("📊 AI usage", "stats", a.limiter.GetStats())
	if a.cfg.Telegram.AlertOnSuccess {
		a.alert(ctx, formatSuccessAlert(created, purged, elapsed))
	}
	return created, nil
}

// Run runs a batch immediately and then on every interval tick until ctx is done.
// Batches run in this goroutine one after another, so they never overlap.
func (a *App) Run(ctx context.Context) error {
	interval := a.cfg.Pipeline.Interval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	a.log.Info("⏰ Scheduler started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.RunOnce(ctx); err != nil && ctx.Err() != nil {
			a.log.Info("🛑 Scheduler stopped")
			return nil
		}
		select {
		case <-ctx.Done():
			a.log.Info("🛑 Scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// DailyStats reports the buckets for day.
func (a *App) DailyStats(ctx context.Context, day time.Time) (models.DayStats, error) {
	return a.housekeeper.DailyStats(ctx, day)
}

func (a *App) alert(ctx context.Context, text string) {
	if err := a.notifier.Alert(ctx, text); err != nil {
		a.log.Warn("⚠️ Alert not delivered", "error", err)
	}
}

func formatFailureAlert(err error, created int) string {
	var b strings.Builder
	b.WriteString("🚨 <b>mynews batch failed</b>\n")
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "Items stored before failure: <b>%d</b>\n", created)
	fmt.Fprintf(&b, "Error: <code>%s</code>", escapeHTML(err.Error()))
	return b.String()
}

func formatSuccessAlert(created int, purged int64, elapsed time.Duration) string {
	var b strings.Builder
	b.WriteString("✅ <b>mynews batch complete</b>\n")
	b.WriteString("━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Fprintf(&b, "New items: <b>%d</b>\n", created)
	if purged > 0 {
		fmt.Fprintf(&b, "Purged: %d\n", purged)
	}
	fmt.Fprintf(&b, "Duration: %s", elapsed.Round(time.Second))
	return b.String()
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}
