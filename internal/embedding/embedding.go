// Package embedding computes normalized text embeddings and detects near-duplicate items.
package embedding

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/deusflow/mynews/internal/logger"
	"github.com/deusflow/mynews/internal/metrics"
	"github.com/deusflow/mynews/internal/retry"
)

// Embedder turns text into a raw vector.
type Embedder interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

type Config struct {
	Model       string
	MaxChars    int
	Timeout     time.Duration // per call
	MaxAttempts int
	RetryDelay  time.Duration
	// TopK and Window bound vector index lookups.
	TopK   int
	Window time.Duration
}

type Engine struct {
	embedder Embedder
	index    VectorIndex
	cfg      Config
	log      *slog.Logger
	now      func() time.Time
}

// NewEngine builds an engine. A nil embedder disables embeddings; a nil index means
// redundancy is decided from the in-memory cache only.
func NewEngine(embedder Embedder, index VectorIndex, cfg Config) *Engine {
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 8000
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = 14 * 24 * time.Hour
	}
	return &Engine{
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		log:      logger.With("component", "embedding"),
		now:      time.Now,
	}
}

func (e *Engine) Enabled() bool {
	return e != nil && e.embedder != nil
}

// Embed returns the L2-normalized embedding of text, or nil when none could be computed.
// The error is non-nil only when ctx is done.
func (e *Engine) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.Enabled() {
		return nil, nil
	}
	clean := CleanText(text, e.cfg.MaxChars)
	if clean == "" {
		return nil, nil
	}

	var raw []float32
	err := retry.WithRetry(ctx, retry.RetryConfig{
		MaxAttempts: e.cfg.MaxAttempts,
		Delay:       e.cfg.RetryDelay,
		Backoff:     true,
		Retryable:   retry.IsRetryable,
	}, func() error {
		callCtx, cancel := e.callContext(ctx)
		defer cancel()
		v, err := e.embedder.Embed(callCtx, clean, e.cfg.Model)
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues("error").Inc()
		e.log.Warn("⚠️ Embedding failed, item will skip redundancy check", "error", err)
		return nil, nil
	}

	vec := Normalize(raw)
	if vec == nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues("empty").Inc()
		return nil, nil
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues("success").Inc()
	return vec, nil
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// CleanText strips markup, collapses whitespace and cuts the result to maxChars runes.
func CleanText(text string, maxChars int) string {
	plain := text
	if strings.ContainsAny(text, "<&") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(text)); err == nil {
			doc.Find("script, style").Remove()
			plain = doc.Text()
		}
	}
	plain = strings.Join(strings.Fields(plain), " ")
	if maxChars > 0 {
		if runes := []rune(plain); len(runes) > maxChars {
			plain = string(runes[:maxChars])
		}
	}
	return plain
}

// Normalize returns v scaled to unit length, or nil for an empty or zero vector.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return nil
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Cosine returns the cosine similarity of a and b. Zero-norm or mismatched vectors give 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	// sqrt(na*nb) keeps Cosine(v, v) exactly 1.
	return dot / math.Sqrt(na*nb)
}
