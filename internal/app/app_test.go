package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deusflow/mynews/internal/config"
	"github.com/deusflow/mynews/internal/gemini"
	"github.com/deusflow/mynews/internal/logger"
	"github.com/deusflow/mynews/internal/metrics"
	"github.com/deusflow/mynews/internal/models"
	"github.com/deusflow/mynews/internal/news"
	"github.com/deusflow/mynews/internal/ratelimit"
	"github.com/deusflow/mynews/internal/rss"
	"github.com/deusflow/mynews/internal/storage"
)

type staticFeeds map[string][]rss.Entry

func (f staticFeeds) Parse(_ context.Context, url string) ([]rss.Entry, error) {
	return f[url], nil
}

func newTestApp(t *testing.T, feeds staticFeeds) (*App, *storage.FileStore) {
	t.Helper()
	store := storage.NewFileStore("")
	err := store.Seed(context.Background(), rss.Seeds{Sources: []models.Source{
		{ID: 1, Name: "dr", URL: "https://dr.example/rss", Active: true},
	}})
	if err != nil {
		t.Fatal(err)
	}
	opts := news.Options{}
	a := &App{
		cfg:         &config.Config{},
		store:       store,
		limiter:     ratelimit.New(ratelimit.Limits{}),
		pipeline:    news.NewPipeline(news.Deps{Sources: store, Items: store, Filters: store, Feeds: feeds}, opts),
		housekeeper: news.NewHousekeeper(store, store, nil, opts),
		log:         logger.With("component", "app"),
	}
	return a, store
}

func TestRunOnceStoresAndRecords(t *testing.T) {
	a, store := newTestApp(t, staticFeeds{
		"https://dr.example/rss": {{GUID: "g1", Title: "Budget", Description: "text", Published: time.Now().Add(-time.Hour), HasDate: true}},
	})

	n, err := a.RunOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}
	if len(store.Items()) != 1 {
		t.Fatalf("stored %d items", len(store.Items()))
	}
	if stats := metrics.Global.GetStats(); stats["last_new_items"] != 1 || stats["is_healthy"] != true {
		t.Fatalf("metrics = %v", stats)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, _ := newTestApp(t, staticFeeds{})
	a.cfg.Pipeline.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestProvidersShareGeminiClientPerKey(t *testing.T) {
	for _, tc := range []struct {
		name      string
		llmKey    string
		embedKey  string
		wantShare bool
	}{
		{"same key", "k1", "k1", true},
		{"different keys", "k1", "k2", false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := newTestApp(t, staticFeeds{})
			a.cfg.LLM = config.LLMConfig{Provider: config.ProviderGemini, APIKey: tc.llmKey}
			a.cfg.Embedding = config.EmbeddingConfig{Provider: config.ProviderGemini, APIKey: tc.embedKey}
			defer a.Close()

			llm, embedder, err := a.providers(context.Background())
			if err != nil {
				t.Fatalf("providers: %v", err)
			}
			shared := llm.(*gemini.Client) == embedder.(*gemini.Client)
			if shared != tc.wantShare {
				t.Fatalf("shared client = %v, want %v", shared, tc.wantShare)
			}
			if want := map[bool]int{true: 1, false: 2}[tc.wantShare]; len(a.closers) != want {
				t.Fatalf("closers = %d, want %d", len(a.closers), want)
			}
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	metrics.Global.SetLastRun(3)
	srv := httptest.NewServer(NewRouter(nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Fatalf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Global.RecordOutcome(metrics.OutcomeVisible)
	rec := httptest.NewRecorder()
	NewRouter(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mynews_item_outcomes_total") {
		t.Fatalf("outcome counter missing from /metrics")
	}
}

func TestStatsEndpoint(t *testing.T) {
	var asked time.Time
	stats := func(_ context.Context, day time.Time) (models.DayStats, error) {
		asked = day
		return models.DayStats{Day: day.Format("2006-01-02"), Total: 2, Visible: 2}, nil
	}
	router := NewRouter(stats, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats?day=2024-05-10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if asked.Format("2006-01-02") != "2024-05-10" {
		t.Fatalf("asked for %v", asked)
	}
	var body struct {
		Day models.DayStats `json:"day"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Day.Total != 2 || body.Day.Day != "2024-05-10" {
		t.Fatalf("day = %+v", body.Day)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats?day=yesterday", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad day status = %d", rec.Code)
	}

	failing := NewRouter(func(context.Context, time.Time) (models.DayStats, error) {
		return models.DayStats{}, errors.New("db down")
	}, nil)
	rec = httptest.NewRecorder()
	failing.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failing stats status = %d", rec.Code)
	}
}

func TestStatsEndpointUsesLocation(t *testing.T) {
	for _, offset := range []int{14, -12} {
		loc := time.FixedZone("zone", offset*3600)
		var asked time.Time
		router := NewRouter(func(_ context.Context, day time.Time) (models.DayStats, error) {
			asked = day
			return models.DayStats{}, nil
		}, loc)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats?day=2024-05-10", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("offset %d: status = %d", offset, rec.Code)
		}
		if got := asked.In(loc).Format("2006-01-02"); got != "2024-05-10" {
			t.Fatalf("offset %d: asked for %s", offset, got)
		}
	}
}

func TestFailureAlertEscapesHTML(t *testing.T) {
	msg := formatFailureAlert(errors.New(`parse <rss>: bad "&"`), 2)
	if !strings.Contains(msg, "parse &lt;rss&gt;: bad \"&amp;\"") {
		t.Fatalf("alert not escaped: %s", msg)
	}
	if !strings.Contains(msg, "<b>2</b>") {
		t.Fatalf("count missing: %s", msg)
	}
}
