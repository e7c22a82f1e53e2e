package metrics

import (
	"sync"
	"time"
)

// Metrics is the in-process health snapshot served on /health.
type Metrics struct {
	mu sync.RWMutex

	// Counters
	TotalBatches    int64
	FailedBatches   int64
	ItemsCreated    int64
	ItemsRedundant  int64
	ItemsAIFiltered int64
	ItemsKeyword    int64

	// Timings
	LastProcessingTime    time.Duration
	AverageProcessingTime time.Duration
	TotalProcessingTime   time.Duration
	ProcessingCount       int64

	// Status
	LastRunTime   time.Time
	LastErrorTime time.Time
	LastError     string
	LastNewItems  int
	IsHealthy     bool
}

var Global = &Metrics{IsHealthy: true}

// RecordOutcome counts one persisted item by its terminal state.
func (m *Metrics) RecordOutcome(outcome string) {
	m.mu.Lock()
	m.ItemsCreated++
	switch outcome {
	case OutcomeRedundant:
		m.ItemsRedundant++
	case OutcomeAIRejected:
		m.ItemsAIFiltered++
	case OutcomeKeywordRejected:
		m.ItemsKeyword++
	}
	m.mu.Unlock()

	ItemOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordProcessingTime(duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastProcessingTime = duration
	m.TotalProcessingTime += duration
	m.ProcessingCount++

	if m.ProcessingCount > 0 {
		m.AverageProcessingTime = m.TotalProcessingTime / time.Duration(m.ProcessingCount)
	}
	BatchDuration.Observe(duration.Seconds())
}

// SetLastRun marks a successful batch.
func (m *Metrics) SetLastRun(newItems int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalBatches++
	m.LastRunTime = time.Now()
	m.LastNewItems = newItems
	m.IsHealthy = true

	BatchesTotal.WithLabelValues("success").Inc()
	LastBatchTimestamp.SetToCurrentTime()
	LastBatchNewItems.Set(float64(newItems))
}

func (m *Metrics) SetError(err string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TotalBatches++
	m.FailedBatches++
	m.LastError = err
	m.LastErrorTime = time.Now()
	m.IsHealthy = false

	BatchesTotal.WithLabelValues("error").Inc()
}

func (m *Metrics) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.IsHealthy
}

func (m *Metrics) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"total_batches":              m.TotalBatches,
		"failed_batches":             m.FailedBatches,
		"items_created":              m.ItemsCreated,
		"items_redundant":            m.ItemsRedundant,
		"items_ai_filtered":          m.ItemsAIFiltered,
		"items_keyword_filtered":     m.ItemsKeyword,
		"last_new_items":             m.LastNewItems,
		"last_processing_time_ms":    m.LastProcessingTime.Milliseconds(),
		"average_processing_time_ms": m.AverageProcessingTime.Milliseconds(),
		"last_run_time":              m.LastRunTime.Format(time.RFC3339),
		"last_error_time":            m.LastErrorTime.Format(time.RFC3339),
		"last_error":                 m.LastError,
		"is_healthy":                 m.IsHealthy,
	}
}
