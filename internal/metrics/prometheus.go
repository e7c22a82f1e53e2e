package metrics

import "github.com/prometheus/client_golang/prometheus"

// Terminal item states, used as the "outcome" label.
const (
	OutcomeKeywordRejected = "keyword_rejected"
	OutcomeAIRejected      = "ai_rejected"
	OutcomeRedundant       = "redundant"
	OutcomeVisible         = "visible"
	OutcomeDuplicate       = "duplicate"
)

var (
	EntriesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mynews",
			Name:      "entries_fetched_total",
			Help:      "Feed entries accepted as new candidates",
		},
		[]string{"source"},
	)

	EntriesSkippedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mynews",
			Name:      "entries_skipped_total",
			Help:      "Feed entries skipped before processing",
		},
		[]string{"reason"}, // "old" / "known" / "invalid"
	)

	FeedErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mynews",
			Name:      "feed_errors_total",
			Help:      "Feeds that could not be fetched or parsed",
		},
		[]string{"source"},
	)

	ItemOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mynews",
			Name:      "item_outcomes_total",
			Help:      "Items by terminal pipeline state",
		},
		[]string{"outcome"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mynews",
			Name:      "llm_requests_total",
			Help:      "Language model calls by result",
		},
		[]string{"status"}, // "success" / "rate_limited" / "transient" / "malformed" / "error"
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mynews",
			Name:      "embedding_requests_total",
			Help:      "Embedding calls by result",
		},
		[]string{"status"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mynews",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"},
	)

	BatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mynews",
			Name:      "batches_total",
			Help:      "Pipeline batches by result",
		},
		[]string{"result"},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mynews",
			Name:      "batch_duration_seconds",
			Help:      "Pipeline batch duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	LastBatchTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mynews",
			Name:      "last_batch_timestamp_seconds",
			Help:      "Unix time of the last successful batch",
		},
	)

	LastBatchNewItems = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mynews",
			Name:      "last_batch_new_items",
			Help:      "Items created by the last successful batch",
		},
	)
)

func init() {
	prometheus.MustRegister(
		EntriesFetchedTotal,
		EntriesSkippedTotal,
		FeedErrorsTotal,
		ItemOutcomesTotal,
		LLMRequestsTotal,
		EmbeddingRequestsTotal,
		EmbeddingCacheTotal,
		BatchesTotal,
		BatchDuration,
		LastBatchTimestamp,
		LastBatchNewItems,
	)
}
