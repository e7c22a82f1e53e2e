package app

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/deusflow/mynews/internal/metrics"
	"github.com/deusflow/mynews/internal/models"
)

// StatsFunc returns the daily stats for a day.
type StatsFunc func(ctx context.Context, day time.Time) (models.DayStats, error)

// NewRouter serves /health, /metrics and /stats?day=YYYY-MM-DD. Days are read in loc.
func NewRouter(stats StatsFunc, loc *time.Location) http.Handler {
	if loc == nil {
		loc = time.UTC
	}
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	r.Get("/health", healthHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/stats", statsHandler(stats, loc))
	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	stats := metrics.Global.GetStats()

	status := "ok"
	code := http.StatusOK
	if !metrics.Global.Healthy() {
		status = "error"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
		"batches":    stats["total_batches"],
	})
}

func statsHandler(stats StatsFunc, loc *time.Location) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		day := time.Now().In(loc)
		if v := r.URL.Query().Get("day"); v != "" {
			d, err := time.ParseInLocation("2006-01-02", v, loc)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "day must be YYYY-MM-DD"})
				return
			}
			day = d
		}

		st, err := stats(r.Context(), day)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"day":      st,
			"pipeline": metrics.Global.GetStats(),
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
