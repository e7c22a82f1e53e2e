package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/deusflow/mynews/internal/logger"
)

// ErrBudgetExhausted is returned once a service used up its per-run request budget.
var ErrBudgetExhausted = errors.New("ai request budget exhausted")

type Service string

const (
	LLM       Service = "llm"
	Embedding Service = "embedding"
)

type Limits struct {
	RequestsPerSecond float64 // 0 = no pacing
	Burst             int
	MaxPerRun         int // per service, 0 = unlimited
}

// AIRateLimiter paces calls to AI services and enforces a per-run budget.
type AIRateLimiter struct {
	mu          sync.Mutex
	limits      Limits
	pacers      map[Service]*rate.Limiter
	counts      map[Service]int
	cacheHits   int
	cacheMisses int
}

func New(limits Limits) *AIRateLimiter {
	if limits.Burst < 1 {
		limits.Burst = 1
	}
	return &AIRateLimiter{
		limits: limits,
		pacers: make(map[Service]*rate.Limiter),
		counts: make(map[Service]int),
	}
}

// Use reserves one request for svc, blocking until the pacer allows it.
func (rl *AIRateLimiter) Use(ctx context.Context, svc Service) error {
	if rl == nil {
		return nil
	}

	rl.mu.Lock()
	if rl.limits.MaxPerRun > 0 && rl.counts[svc] >= rl.limits.MaxPerRun {
		used := rl.counts[svc]
		rl.mu.Unlock()
		logger.Warn("⚠️ AI rate limit reached", "service", svc, "used", used, "limit", rl.limits.MaxPerRun)
		return fmt.Errorf("%s: %w", svc, ErrBudgetExhausted)
	}
	rl.counts[svc]++
	pacer := rl.pacer(svc)
	rl.mu.Unlock()

	if pacer == nil {
		return nil
	}
	return pacer.Wait(ctx)
}

func (rl *AIRateLimiter) pacer(svc Service) *rate.Limiter {
	if rl.limits.RequestsPerSecond <= 0 {
		return nil
	}
	p, ok := rl.pacers[svc]
	if !ok {
		p = rate.NewLimiter(rate.Limit(rl.limits.RequestsPerSecond), rl.limits.Burst)
		rl.pacers[svc] = p
	}
	return p
}

func (rl *AIRateLimiter) RecordCacheHit() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cacheHits++
}

func (rl *AIRateLimiter) RecordCacheMiss() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.cacheMisses++
}

// Reset clears the per-run counters. Called at the start of each batch.
func (rl *AIRateLimiter) Reset() {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	logger.Debug("🔄 Resetting AI rate limiter counters")
	rl.counts = make(map[Service]int)
	rl.cacheHits = 0
	rl.cacheMisses = 0
}

func (rl *AIRateLimiter) GetStats() map[string]interface{} {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	hitRate := 0.0
	if total := rl.cacheHits + rl.cacheMisses; total > 0 {
		hitRate = float64(rl.cacheHits) / float64(total) * 100
	}
	return map[string]interface{}{
		"llm_used":         rl.counts[LLM],
		"embedding_used":   rl.counts[Embedding],
		"limit_per_run":    rl.limits.MaxPerRun,
		"cache_hits":       rl.cacheHits,
		"cache_misses":     rl.cacheMisses,
		"cache_hit_rate":   hitRate,
		"requests_per_sec": rl.limits.RequestsPerSecond,
	}
}
