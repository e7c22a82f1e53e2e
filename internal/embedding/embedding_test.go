package embedding

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/deusflow/mynews/internal/models"
	"github.com/deusflow/mynews/internal/retry"
)

type fakeEmbedder struct {
	vec   []float32
	errs  []error
	calls int
	texts []string
}

func (f *fakeEmbedder) Embed(_ context.Context, text, _ string) ([]float32, error) {
	f.calls++
	f.texts = append(f.texts, text)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.vec, nil
}

type fakeIndex struct {
	hits     []Hit
	err      error
	upserts  map[int64]Payload
	excluded int64
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, _ int, _ time.Time, excludeID int64) ([]Hit, error) {
	f.excluded = excludeID
	return f.hits, f.err
}

func (f *fakeIndex) Upsert(_ context.Context, id int64, _ []float32, p Payload) error {
	if f.upserts == nil {
		f.upserts = make(map[int64]Payload)
	}
	f.upserts[id] = p
	return nil
}

func TestCosineProperties(t *testing.T) {
	vectors := [][]float32{
		{1, 0, 0},
		{0.3, -0.7, 0.2},
		{3, 4},
		{0.1, 0.2, 0.3, 0.4, 0.5},
	}
	for _, v := range vectors {
		if got := Cosine(v, v); got != 1.0 {
			t.Errorf("Cosine(v, v) = %v for %v", got, v)
		}
		zero := make([]float32, len(v))
		if got := Cosine(v, zero); got != 0 {
			t.Errorf("Cosine(v, 0) = %v", got)
		}
	}
	a, b := []float32{0.2, 0.9, -0.1}, []float32{0.5, 0.4, 0.3}
	if Cosine(a, b) != Cosine(b, a) {
		t.Errorf("cosine is not symmetric")
	}
	if Cosine([]float32{1, 2}, []float32{1, 2, 3}) != 0 {
		t.Errorf("mismatched lengths must give 0")
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if math.Abs(float64(v[0])-0.6) > 1e-6 || math.Abs(float64(v[1])-0.8) > 1e-6 {
		t.Fatalf("Normalize = %v", v)
	}
	if Normalize([]float32{0, 0}) != nil {
		t.Fatal("zero vector must normalize to nil")
	}
}

func TestCleanText(t *testing.T) {
	got := CleanText("<p>Hello   <b>world</b></p>\n<script>x()</script> &amp; more", 0)
	if got != "Hello world & more" {
		t.Fatalf("CleanText = %q", got)
	}
	if got := CleanText("ééééé", 3); got != "ééé" {
		t.Fatalf("truncate = %q", got)
	}
}

func TestEmbedRetriesTransient(t *testing.T) {
	f := &fakeEmbedder{vec: []float32{3, 4}, errs: []error{retry.Transient(errors.New("503"))}}
	e := NewEngine(f, nil, Config{Model: "m", RetryDelay: time.Millisecond})

	vec, err := e.Embed(context.Background(), "<p>text</p>")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if f.calls != 2 {
		t.Fatalf("calls = %d, want 2", f.calls)
	}
	if f.texts[0] != "text" {
		t.Fatalf("embedder got %q, want cleaned text", f.texts[0])
	}
	if math.Abs(float64(vec[0])-0.6) > 1e-6 {
		t.Fatalf("vector not normalized: %v", vec)
	}
}

func TestEmbedFailureReturnsEmpty(t *testing.T) {
	f := &fakeEmbedder{errs: []error{errors.New("bad key")}}
	e := NewEngine(f, nil, Config{Model: "m", RetryDelay: time.Millisecond})

	vec, err := e.Embed(context.Background(), "text")
	if err != nil || vec != nil {
		t.Fatalf("Embed = %v, %v; want nil, nil", vec, err)
	}
	if f.calls != 1 {
		t.Fatalf("non-retryable error retried: %d calls", f.calls)
	}
}

func TestEmbedDisabled(t *testing.T) {
	e := NewEngine(nil, nil, Config{})
	if vec, err := e.Embed(context.Background(), "x"); vec != nil || err != nil {
		t.Fatalf("disabled engine returned %v, %v", vec, err)
	}
}

func item(id int64, guid string, published time.Time, vec ...float32) models.Item {
	return models.Item{ID: id, GUID: guid, Published: published, Embedding: vec}
}

func TestRedundancyThresholdBoundary(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	prior := item(1, "a", t0, 0.6, 0.8)
	cand := item(0, "b", t0.Add(time.Hour), 0.8, 0.6)
	score := Cosine(cand.Embedding, prior.Embedding)

	e := NewEngine(nil, nil, Config{})
	cache := NewCache([]models.Item{prior})

	v, err := e.CheckRedundancy(context.Background(), cand, score, cache)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Redundant || v.MostSimilar == nil || v.MostSimilar.ID != 1 || v.Score != score {
		t.Fatalf("at threshold: %+v", v)
	}

	v, _ = e.CheckRedundancy(context.Background(), cand, math.Nextafter(score, 2), cache)
	if v.Redundant {
		t.Fatal("one epsilon below threshold must not be redundant")
	}
	if v.MostSimilar == nil || v.Score != score {
		t.Fatal("similarity metadata must be reported below threshold too")
	}
}

func TestRedundancyNeverPointsForward(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	later := item(5, "later", t0.Add(2*time.Hour), 1, 0)
	earlier := item(0, "earlier", t0, 1, 0)

	e := NewEngine(nil, nil, Config{})
	v, _ := e.CheckRedundancy(context.Background(), earlier, 0.9, NewCache([]models.Item{later}))
	if v.Redundant || v.MostSimilar != nil {
		t.Fatalf("matched a later item: %+v", v)
	}
}

func TestRedundancyPicksBest(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	cache := NewCache([]models.Item{
		item(1, "a", t0, 0, 1),
		item(2, "b", t0, 0.7, 0.7),
		item(3, "c", t0),
	})
	if cache.Len() != 2 {
		t.Fatalf("items without vectors must be skipped, len = %d", cache.Len())
	}
	e := NewEngine(nil, nil, Config{})
	v, _ := e.CheckRedundancy(context.Background(), item(0, "n", t0.Add(time.Minute), 1, 0.1), 0.99, cache)
	if v.MostSimilar == nil || v.MostSimilar.ID != 2 || v.Redundant {
		t.Fatalf("verdict = %+v", v)
	}
}

func TestRedundancyNoVector(t *testing.T) {
	e := NewEngine(nil, nil, Config{})
	v, err := e.CheckRedundancy(context.Background(), models.Item{GUID: "x"}, 0.5, NewCache(nil))
	if err != nil || v.Redundant || v.MostSimilar != nil {
		t.Fatalf("verdict = %+v err = %v", v, err)
	}
}

func TestIndexHitAboveThreshold(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	cache := NewCache([]models.Item{item(7, "a", t0, 1, 0), item(8, "b", t0, 0, 1)})
	idx := &fakeIndex{hits: []Hit{{ID: 8, Score: 0.99}, {ID: 999, Score: 0.98}}}
	e := NewEngine(nil, idx, Config{})

	cand := item(42, "n", t0.Add(time.Hour), 0, 1)
	v, err := e.CheckRedundancy(context.Background(), cand, 0.9, cache)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Redundant || v.MostSimilar.ID != 8 || v.Score != 1 {
		t.Fatalf("verdict = %+v", v)
	}
	if idx.excluded != 42 {
		t.Fatalf("search excluded %d, want 42", idx.excluded)
	}
}

func TestIndexMissFallsBackToCache(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	cache := NewCache([]models.Item{item(7, "a", t0, 1, 0)})
	for _, idx := range []*fakeIndex{{}, {err: errors.New("redis down")}} {
		e := NewEngine(nil, idx, Config{})
		v, err := e.CheckRedundancy(context.Background(), item(0, "n", t0.Add(time.Hour), 1, 0), 0.9, cache)
		if err != nil {
			t.Fatal(err)
		}
		if !v.Redundant || v.MostSimilar.ID != 7 {
			t.Fatalf("fallback verdict = %+v", v)
		}
	}
}

func TestIndexUpsertPayload(t *testing.T) {
	idx := &fakeIndex{}
	e := NewEngine(nil, idx, Config{})
	published := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	e.Index(context.Background(), models.Item{ID: 3, GUID: "g", SourceID: 2, Published: published, Embedding: []float32{1}, IsRedundant: true, IsFiltered: true})
	e.Index(context.Background(), models.Item{ID: 0, GUID: "unsaved", Embedding: []float32{1}})

	if len(idx.upserts) != 1 {
		t.Fatalf("upserts = %v", idx.upserts)
	}
	p := idx.upserts[3]
	if p.GUID != "g" || p.SourceID != 2 || !p.IsRedundant || !p.IsFiltered || !p.Published.Equal(published) {
		t.Fatalf("payload = %+v", p)
	}
}

func TestCacheAddSkipsRedundant(t *testing.T) {
	c := NewCache(nil)
	c.Add(models.Item{ID: 1, GUID: "r", Embedding: []float32{1}, IsRedundant: true})
	c.Add(models.Item{ID: 2, GUID: "ok", Embedding: []float32{1}})
	if c.Len() != 1 || c.Items()[0].ID != 2 {
		t.Fatalf("cache = %+v", c.Items())
	}
}

func TestCacheRemove(t *testing.T) {
	c := NewCache([]models.Item{
		{ID: 1, GUID: "a", Embedding: []float32{1}},
		{ID: 2, GUID: "b", Embedding: []float32{1}},
		{ID: 3, GUID: "c", Embedding: []float32{1}},
	})
	c.Remove(2)
	c.Remove(42)
	if c.Len() != 2 {
		t.Fatalf("len = %d", c.Len())
	}
	if it, ok := c.get(3); !ok || it.GUID != "c" {
		t.Fatalf("index not rebuilt after remove: %+v %v", it, ok)
	}
	if _, ok := c.get(2); ok {
		t.Fatal("removed item still indexed")
	}
}

func TestCachedEmbedder(t *testing.T) {
	f := &fakeEmbedder{vec: []float32{1, 2}}
	c := NewCachedEmbedder(f, time.Hour, nil)

	for i := 0; i < 3; i++ {
		v, err := c.Embed(context.Background(), "same", "m")
		if err != nil || len(v) != 2 {
			t.Fatalf("Embed = %v, %v", v, err)
		}
	}
	if f.calls != 1 {
		t.Fatalf("inner called %d times, want 1", f.calls)
	}
	if _, err := c.Embed(context.Background(), "same", "other-model"); err != nil {
		t.Fatal(err)
	}
	if f.calls != 2 {
		t.Fatalf("model must be part of the key, calls = %d", f.calls)
	}
}

func TestCachedEmbedderKeepsErrorKind(t *testing.T) {
	f := &fakeEmbedder{errs: []error{retry.RateLimited(errors.New("429"))}}
	c := NewCachedEmbedder(f, time.Hour, nil)
	if _, err := c.Embed(context.Background(), "x", "m"); !errors.Is(err, retry.ErrRateLimited) {
		t.Fatalf("err = %v", err)
	}
}
