package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/deusflow/mynews/internal/embedding"
	"github.com/deusflow/mynews/internal/logger"
	"github.com/deusflow/mynews/internal/models"
	"github.com/deusflow/mynews/internal/rss"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var itemColumns = []string{
	"id", "source_id", "title", "description", "link", "published_date", "guid",
	"created_at", "image_url", "short_answer", "embedding::text", "similarity_score",
	"similar_to", "ai_filter_reason", "filtered_by", "is_deleted", "is_filtered",
	"is_ai_filtered", "is_redundant", "is_saved", "ai_processed",
}

// PostgresStore persists sources, filters and items in PostgreSQL with pgvector.
// It also serves as an embedding.VectorIndex over the news table.
type PostgresStore struct {
	db  *sql.DB
	dim int
	log *slog.Logger
}

var _ embedding.VectorIndex = (*PostgresStore)(nil)

// NewPostgresStore connects and initializes the schema.
func NewPostgresStore(ctx context.Context, connectionString string, dim int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db, dim: dim, log: logger.With("component", "postgres")}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	store.log.Info("✅ PostgreSQL connected successfully")
	return store, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL(s.dim)); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	s.log.Info("✅ Database schema initialized")
	return nil
}

func schemaSQL(dim int) string {
	return fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS feed_sources (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT UNIQUE NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		deep_extraction BOOLEAN NOT NULL DEFAULT FALSE,
		last_fetch TIMESTAMPTZ,
		similarity_threshold DOUBLE PRECISION NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS filter_words (
		id BIGSERIAL PRIMARY KEY,
		word TEXT UNIQUE NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		title_only BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS ai_filter_instructions (
		id BIGSERIAL PRIMARY KEY,
		instruction TEXT UNIQUE NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE
	);

	CREATE TABLE IF NOT EXISTS news (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES feed_sources(id) ON DELETE CASCADE,
		title VARCHAR(200) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		link TEXT NOT NULL,
		published_date TIMESTAMPTZ NOT NULL,
		guid VARCHAR(400) UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		image_url TEXT NOT NULL DEFAULT '',
		short_answer TEXT,
		embedding vector(%d),
		similarity_score DOUBLE PRECISION,
		similar_to BIGINT REFERENCES news(id) ON DELETE SET NULL,
		ai_filter_reason TEXT,
		filtered_by BIGINT REFERENCES filter_words(id) ON DELETE SET NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		is_filtered BOOLEAN NOT NULL DEFAULT FALSE,
		is_ai_filtered BOOLEAN NOT NULL DEFAULT FALSE,
		is_redundant BOOLEAN NOT NULL DEFAULT FALSE,
		is_saved BOOLEAN NOT NULL DEFAULT FALSE,
		ai_processed BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE INDEX IF NOT EXISTS idx_news_published ON news(published_date);
	CREATE INDEX IF NOT EXISTS idx_news_source_published ON news(source_id, published_date);
	CREATE INDEX IF NOT EXISTS idx_news_created_at ON news(created_at);
	CREATE INDEX IF NOT EXISTS idx_news_embedding ON news USING hnsw (embedding vector_cosine_ops);
	`, dim)
}

func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Seed inserts sources and filters that are not present yet.
func (s *PostgresStore) Seed(ctx context.Context, seeds rss.Seeds) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	for _, src := range seeds.Sources {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_sources (name, url, active, deep_extraction, similarity_threshold)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (url) DO NOTHING`,
			src.Name, src.URL, src.Active, src.DeepExtraction, src.SimilarityThreshold)
		if err != nil {
			return fmt.Errorf("seed source %s: %w", src.URL, err)
		}
	}
	for _, w := range seeds.FilterWords {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO filter_words (word, active, title_only) VALUES ($1, $2, $3)
			ON CONFLICT (word) DO NOTHING`, w.Word, w.Active, w.TitleOnly)
		if err != nil {
			return fmt.Errorf("seed filter word %q: %w", w.Word, err)
		}
	}
	for _, in := range seeds.AIInstructions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO ai_filter_instructions (instruction, active) VALUES ($1, $2)
			ON CONFLICT (instruction) DO NOTHING`, in.Instruction, in.Active)
		if err != nil {
			return fmt.Errorf("seed instruction %q: %w", in.Instruction, err)
		}
	}
	return tx.Commit()
}

// --- sources ---

func (s *PostgresStore) ListActiveSources(ctx context.Context) ([]models.Source, error) {
	query, args, err := psql.
		Select("id", "name", "url", "active", "deep_extraction", "last_fetch", "similarity_threshold").
		From("feed_sources").
		Where(sq.Eq{"active": true}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		var (
			src       models.Source
			lastFetch sql.NullTime
		)
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &src.Active, &src.DeepExtraction, &lastFetch, &src.SimilarityThreshold); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		if lastFetch.Valid {
			t := lastFetch.Time
			src.LastFetch = &t
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *PostgresStore) UpdateLastFetch(ctx context.Context, sourceID int64, ts time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE feed_sources SET last_fetch = $1 WHERE id = $2`, ts, sourceID)
	if err != nil {
		return fmt.Errorf("update last fetch: %w", err)
	}
	return expectRow(res)
}

// --- filters ---

func (s *PostgresStore) ActiveFilterWords(ctx context.Context) ([]models.FilterWord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, word, active, title_only FROM filter_words WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query filter words: %w", err)
	}
	defer rows.Close()

	var words []models.FilterWord
	for rows.Next() {
		var w models.FilterWord
		if err := rows.Scan(&w.ID, &w.Word, &w.Active, &w.TitleOnly); err != nil {
			return nil, fmt.Errorf("scan filter word: %w", err)
		}
		words = append(words, w)
	}
	return words, rows.Err()
}

func (s *PostgresStore) ActiveAIInstructions(ctx context.Context) ([]models.AIFilterInstruction, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, instruction, active FROM ai_filter_instructions WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query ai instructions: %w", err)
	}
	defer rows.Close()

	var out []models.AIFilterInstruction
	for rows.Next() {
		var in models.AIFilterInstruction
		if err := rows.Scan(&in.ID, &in.Instruction, &in.Active); err != nil {
			return nil, fmt.Errorf("scan ai instruction: %w", err)
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// --- items ---

func (s *PostgresStore) Exists(ctx context.Context, guid string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM news WHERE guid = $1)`, guid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check guid: %w", err)
	}
	return exists, nil
}

// Create inserts item. A GUID that already exists yields (item, false, nil).
func (s *PostgresStore) Create(ctx context.Context, item models.Item) (models.Item, bool, error) {
	query, args, err := insertItem(item).ToSql()
	if err != nil {
		return item, false, err
	}
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&item.ID, &item.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return item, false, nil
	}
	if err != nil {
		return item, false, fmt.Errorf("insert item %s: %w", item.GUID, err)
	}
	return item, true, nil
}

func insertItem(item models.Item) sq.InsertBuilder {
	return psql.Insert("news").
		Columns(
			"source_id", "title", "description", "link", "published_date", "guid",
			"image_url", "short_answer", "embedding", "similarity_score", "similar_to",
			"ai_filter_reason", "filtered_by", "is_deleted", "is_filtered", "is_ai_filtered",
			"is_redundant", "is_saved", "ai_processed",
		).
		Values(
			item.SourceID, item.Title, item.Description, item.Link, item.Published, item.GUID,
			item.ImageURL, item.ShortAnswer, vectorValue(item.Embedding), item.SimilarityScore, item.SimilarTo,
			item.AIFilterReason, item.FilteredBy, item.IsDeleted, item.IsFiltered, item.IsAIFiltered,
			item.IsRedundant, item.IsSaved, item.AIProcessed,
		).
		Suffix("ON CONFLICT (guid) DO NOTHING RETURNING id, created_at")
}

// RecentWindow returns items published at or after since, oldest first.
// Deleted items are included.
func (s *PostgresStore) RecentWindow(ctx context.Context, since time.Time, filter models.WindowFilter) ([]models.Item, error) {
	return s.queryItems(ctx, windowQuery(since, filter))
}

func windowQuery(since time.Time, filter models.WindowFilter) sq.SelectBuilder {
	q := psql.Select(itemColumns...).
		From("news").
		Where(sq.GtOrEq{"published_date": since}).
		OrderBy("published_date ASC", "id ASC")
	if filter.WithEmbedding {
		q = q.Where(sq.NotEq{"embedding": nil})
	}
	if filter.ExcludeFiltered {
		q = q.Where(sq.Eq{"is_filtered": false, "is_ai_filtered": false, "is_redundant": false})
	}
	return q
}

// PurgeOlderThan deletes items published before cutoff, except saved ones.
func (s *PostgresStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM news WHERE published_date < $1 AND NOT is_saved`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}
	return res.RowsAffected()
}

// LatestPublished returns the newest publication time among non-deleted items of a source.
func (s *PostgresStore) LatestPublished(ctx context.Context, sourceID int64) (*time.Time, error) {
	var latest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(published_date) FROM news WHERE source_id = $1 AND NOT is_deleted`, sourceID).Scan(&latest)
	if err != nil {
		return nil, fmt.Errorf("latest published: %w", err)
	}
	if !latest.Valid {
		return nil, nil
	}
	t := latest.Time
	return &t, nil
}

// ListMissingEmbeddings returns visible-candidate items without a vector, newest first.
func (s *PostgresStore) ListMissingEmbeddings(ctx context.Context, limit int) ([]models.Item, error) {
	return s.queryItems(ctx, psql.Select(itemColumns...).
		From("news").
		Where(sq.Eq{"embedding": nil, "is_deleted": false, "is_filtered": false, "is_ai_filtered": false}).
		OrderBy("published_date DESC").
		Limit(uint64(limit)))
}

func (s *PostgresStore) UpdateEmbedding(ctx context.Context, id int64, vec []float32) error {
	res, err := s.db.ExecContext(ctx, `UPDATE news SET embedding = $1 WHERE id = $2`, vectorValue(vec), id)
	if err != nil {
		return fmt.Errorf("update embedding %d: %w", id, err)
	}
	return expectRow(res)
}

// ListRecheckCandidates returns accepted items with vectors published since, newest first.
func (s *PostgresStore) ListRecheckCandidates(ctx context.Context, since time.Time, limit int) ([]models.Item, error) {
	return s.queryItems(ctx, psql.Select(itemColumns...).
		From("news").
		Where(sq.NotEq{"embedding": nil}).
		Where(sq.GtOrEq{"published_date": since}).
		Where(sq.Eq{"is_deleted": false, "is_filtered": false, "is_ai_filtered": false, "is_redundant": false}).
		OrderBy("published_date DESC").
		Limit(uint64(limit)))
}

func (s *PostgresStore) MarkRedundant(ctx context.Context, id, similarTo int64, score float64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE news SET is_redundant = TRUE, is_filtered = TRUE, similar_to = $1, similarity_score = $2
		WHERE id = $3`, similarTo, score, id)
	if err != nil {
		return fmt.Errorf("mark redundant %d: %w", id, err)
	}
	return expectRow(res)
}

// CountCreatedBetween buckets items created in [from, to).
func (s *PostgresStore) CountCreatedBetween(ctx context.Context, from, to time.Time) (models.DayStats, error) {
	var st models.DayStats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_redundant),
			COUNT(*) FILTER (WHERE NOT is_redundant AND is_ai_filtered),
			COUNT(*) FILTER (WHERE NOT is_redundant AND NOT is_ai_filtered AND is_filtered),
			COUNT(*) FILTER (WHERE NOT is_redundant AND NOT is_ai_filtered AND NOT is_filtered)
		FROM news WHERE created_at >= $1 AND created_at < $2`, from, to).
		Scan(&st.Total, &st.Redundant, &st.AIFiltered, &st.KeywordFiltered, &st.Visible)
	if err != nil {
		return st, fmt.Errorf("count created: %w", err)
	}
	return st, nil
}

// --- vector index ---

// Search runs an exact cosine KNN over accepted items with pgvector's <=> operator.
func (s *PostgresStore) Search(ctx context.Context, vector []float32, topK int, minPublished time.Time, excludeID int64) ([]embedding.Hit, error) {
	query, args, err := searchQuery(vector, topK, minPublished, excludeID).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []embedding.Hit
	for rows.Next() {
		var h embedding.Hit
		if err := rows.Scan(&h.ID, &h.Payload.GUID, &h.Payload.SourceID, &h.Payload.Published, &h.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func searchQuery(vector []float32, topK int, minPublished time.Time, excludeID int64) sq.SelectBuilder {
	v := pgvector.NewVector(vector)
	return psql.Select("id", "guid", "source_id", "published_date").
		Column(sq.Expr("1 - (embedding <=> ?) AS score", v)).
		From("news").
		Where(sq.NotEq{"embedding": nil, "id": excludeID}).
		Where(sq.GtOrEq{"published_date": minPublished}).
		Where(sq.Eq{"is_filtered": false, "is_ai_filtered": false, "is_redundant": false, "is_deleted": false}).
		OrderByClause("embedding <=> ?", v).
		Limit(uint64(topK))
}

// Upsert stores the vector on the item row; flags already live on the row.
func (s *PostgresStore) Upsert(ctx context.Context, id int64, vector []float32, _ embedding.Payload) error {
	return s.UpdateEmbedding(ctx, id, vector)
}

// --- helpers ---

func (s *PostgresStore) queryItems(ctx context.Context, b sq.SelectBuilder) ([]models.Item, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanItem(rows *sql.Rows) (models.Item, error) {
	var (
		it          models.Item
		shortAnswer sql.NullString
		vec         sql.NullString
		score       sql.NullFloat64
		similarTo   sql.NullInt64
		reason      sql.NullString
		filteredBy  sql.NullInt64
	)
	err := rows.Scan(
		&it.ID, &it.SourceID, &it.Title, &it.Description, &it.Link, &it.Published, &it.GUID,
		&it.CreatedAt, &it.ImageURL, &shortAnswer, &vec, &score,
		&similarTo, &reason, &filteredBy, &it.IsDeleted, &it.IsFiltered,
		&it.IsAIFiltered, &it.IsRedundant, &it.IsSaved, &it.AIProcessed,
	)
	if err != nil {
		return it, fmt.Errorf("scan item: %w", err)
	}
	if shortAnswer.Valid {
		it.ShortAnswer = &shortAnswer.String
	}
	if reason.Valid {
		it.AIFilterReason = &reason.String
	}
	if score.Valid {
		it.SimilarityScore = &score.Float64
	}
	if similarTo.Valid {
		it.SimilarTo = &similarTo.Int64
	}
	if filteredBy.Valid {
		it.FilteredBy = &filteredBy.Int64
	}
	if vec.Valid {
		var v pgvector.Vector
		if err := v.Scan(vec.String); err != nil {
			return it, fmt.Errorf("parse embedding of item %d: %w", it.ID, err)
		}
		it.Embedding = v.Slice()
	}
	return it, nil
}

// vectorValue maps an empty vector to SQL NULL.
func vectorValue(vec []float32) any {
	if len(vec) == 0 {
		return nil
	}
	return pgvector.NewVector(vec)
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
