// Package vectorindex keeps recent item vectors in a Redis search index for fast KNN lookups.
package vectorindex

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/rueidis"

	"github.com/deusflow/mynews/internal/embedding"
)

var _ embedding.VectorIndex = (*Redis)(nil)

const scoreField = "__vector_score"

type Config struct {
	Addr     string
	Password string
	Name     string
	Dim      int
	// TTL bounds how long a vector stays searchable; it follows the retention window.
	TTL time.Duration
}

// Redis implements embedding.VectorIndex on top of RediSearch HNSW vectors.
type Redis struct {
	client rueidis.Client
	cfg    Config
	prefix string
}

func NewRedis(cfg Config) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  []string{cfg.Addr},
		Password:     cfg.Password,
		DisableCache: true,
		AlwaysRESP2:  true, // FT.SEARCH replies are parsed as RESP2 arrays
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}
	return newRedis(client, cfg), nil
}

func newRedis(client rueidis.Client, cfg Config) *Redis {
	if cfg.Name == "" {
		cfg.Name = "mynews:idx"
	}
	return &Redis{client: client, cfg: cfg, prefix: cfg.Name + ":item:"}
}

func (r *Redis) Close() {
	r.client.Close()
}

// EnsureIndex creates the search index. An existing index is left as is.
func (r *Redis) EnsureIndex(ctx context.Context) error {
	if r.cfg.Dim <= 0 {
		return errors.New("vector dimension must be positive")
	}
	args := []string{
		r.cfg.Name, "ON", "HASH", "PREFIX", "1", r.prefix,
		"SCHEMA",
		"vector", "VECTOR", "HNSW", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(r.cfg.Dim),
		"DISTANCE_METRIC", "COSINE",
		"item_id", "NUMERIC",
		"source_id", "NUMERIC",
		"published_ts", "NUMERIC",
		"is_filtered", "TAG",
		"is_redundant", "TAG",
	}
	cmd := r.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := r.client.Do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return fmt.Errorf("create index %s: %w", r.cfg.Name, err)
	}
	return nil
}

// Key derives a stable hash key from the item GUID.
func (r *Redis) Key(guid string) string {
	return r.prefix + uuid.NewSHA1(uuid.NameSpaceURL, []byte(guid)).String()
}

func (r *Redis) Upsert(ctx context.Context, id int64, vector []float32, p embedding.Payload) error {
	if len(vector) == 0 {
		return errors.New("vector is required")
	}
	key := r.Key(p.GUID)
	cmds := rueidis.Commands{
		r.client.B().Hset().Key(key).FieldValue().
			FieldValue("vector", vectorToBytes(vector)).
			FieldValue("item_id", strconv.FormatInt(id, 10)).
			FieldValue("source_id", strconv.FormatInt(p.SourceID, 10)).
			FieldValue("guid", p.GUID).
			FieldValue("published_ts", strconv.FormatInt(p.Published.Unix(), 10)).
			FieldValue("is_filtered", strconv.FormatBool(p.IsFiltered)).
			FieldValue("is_redundant", strconv.FormatBool(p.IsRedundant)).
			Build(),
	}
	if r.cfg.TTL > 0 {
		cmds = append(cmds, r.client.B().Expire().Key(key).Seconds(int64(r.cfg.TTL/time.Second)).Build())
	}
	for i, res := range r.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return fmt.Errorf("upsert %s (cmd %d): %w", key, i, err)
		}
	}
	return nil
}

// Search returns up to topK accepted items published at or after minPublished.
// Scores are cosine similarities (1 - distance).
func (r *Redis) Search(ctx context.Context, vector []float32, topK int, minPublished time.Time, excludeID int64) ([]embedding.Hit, error) {
	if len(vector) == 0 {
		return nil, errors.New("vector is required")
	}
	if topK <= 0 {
		return nil, errors.New("topK must be positive")
	}

	args := []string{
		r.cfg.Name,
		buildQuery(topK, minPublished, excludeID),
		"RETURN", "5", "item_id", "source_id", "guid", "published_ts", scoreField,
		"SORTBY", scoreField,
		"LIMIT", "0", strconv.Itoa(topK),
		"PARAMS", "2", "BLOB", vectorToBytes(vector),
		"DIALECT", "2",
	}
	cmd := r.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := r.client.Do(ctx, cmd).ToArray()
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	return parseHits(raw)
}

func buildQuery(topK int, minPublished time.Time, excludeID int64) string {
	filters := []string{
		fmt.Sprintf("@published_ts:[%d +inf]", minPublished.Unix()),
		"@is_filtered:{false}",
		"@is_redundant:{false}",
	}
	if excludeID != 0 {
		filters = append(filters, fmt.Sprintf("-@item_id:[%d %d]", excludeID, excludeID))
	}
	return fmt.Sprintf("(%s)=>[KNN %d @vector $BLOB AS %s]", strings.Join(filters, " "), topK, scoreField)
}

// parseHits reads a RESP2 FT.SEARCH reply: [total, key1, fields1, key2, fields2, ...].
func parseHits(raw []rueidis.RedisMessage) ([]embedding.Hit, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	hits := make([]embedding.Hit, 0, total)
	for i := 1; i+1 < len(raw); i += 2 {
		pairs, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		fields := fieldMap(pairs)

		id, err := strconv.ParseInt(fields["item_id"], 10, 64)
		if err != nil {
			continue
		}
		hit := embedding.Hit{ID: id}
		if d, err := strconv.ParseFloat(fields[scoreField], 64); err == nil {
			hit.Score = 1 - d
		}
		hit.Payload.GUID = fields["guid"]
		hit.Payload.SourceID, _ = strconv.ParseInt(fields["source_id"], 10, 64)
		if ts, err := strconv.ParseInt(fields["published_ts"], 10, 64); err == nil {
			hit.Payload.Published = time.Unix(ts, 0).UTC()
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func fieldMap(pairs []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for j := 0; j+1 < len(pairs); j += 2 {
		name, err := pairs[j].ToString()
		if err != nil {
			continue
		}
		value, err := pairs[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(re.Error()), substr)
}
