// Package summary turns article text into a short summary, an optional direct answer
// and an optional AI filter verdict using a language model with a JSON contract.
package summary

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/deusflow/mynews/internal/logger"
	"github.com/deusflow/mynews/internal/metrics"
	"github.com/deusflow/mynews/internal/models"
	"github.com/deusflow/mynews/internal/retry"
)

const (
	// RedundantSummaryPlaceholder replaces a summary that only repeats the short answer.
	RedundantSummaryPlaceholder = "This item adds no information beyond the short answer."
	// ShortAnswerOnlyPlaceholder stands in when the model answered but did not summarize.
	ShortAnswerOnlyPlaceholder = "See the short answer above."

	overlapLimit = 0.7
)

// LLM generates a JSON document for a prompt.
type LLM interface {
	GenerateJSON(ctx context.Context, prompt, model string) (string, error)
}

type Config struct {
	Model           string
	MaxRetries      int
	RetryDelay      time.Duration // multiplied by the attempt number
	Timeout         time.Duration // per call
	MaxContentRunes int
}

// Result is what the pipeline stores for a summarized item.
type Result struct {
	Summary        string
	ShortAnswer    *string
	AIFilterReason *string
	// Degraded is set when Summary is the original content or the raw model output.
	Degraded bool
}

type Summarizer struct {
	llm   LLM
	cfg   Config
	log   *slog.Logger
	sleep func(context.Context, time.Duration) error
}

func New(llm LLM, cfg Config) *Summarizer {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxContentRunes <= 0 {
		cfg.MaxContentRunes = 6000
	}
	return &Summarizer{
		llm:   llm,
		cfg:   cfg,
		log:   logger.With("component", "summarizer"),
		sleep: retry.Sleep,
	}
}

// Summarize never fails on upstream errors: it degrades to the raw model output or to
// content itself. The returned error is only ever ctx.Err().
func (s *Summarizer) Summarize(ctx context.Context, title, content string, instructions []models.AIFilterInstruction) (Result, error) {
	prompt := BuildPrompt(title, truncateContent(content, s.cfg.MaxContentRunes), instructions)

	var lastMalformed string
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		raw, err := s.generate(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			if !retry.IsRetryable(err) {
				metrics.LLMRequestsTotal.WithLabelValues("error").Inc()
				s.log.Error("❌ LLM call failed, keeping original content", "title", title, "error", err)
				return original(content), nil
			}

			status := "transient"
			if errors.Is(err, retry.ErrRateLimited) {
				status = "rate_limited"
			}
			metrics.LLMRequestsTotal.WithLabelValues(status).Inc()
			s.log.Warn("⏳ LLM call throttled", "status", status, "attempt", attempt, "max", s.cfg.MaxRetries, "error", err)

			if attempt < s.cfg.MaxRetries {
				if err := s.sleep(ctx, retry.BackoffDelay(s.cfg.RetryDelay, attempt, true)); err != nil {
					return Result{}, err
				}
			}
			continue
		}

		parsed, err := parseResponse(raw)
		if err != nil {
			metrics.LLMRequestsTotal.WithLabelValues("malformed").Inc()
			s.log.Warn("⚠️ Unparseable LLM response", "attempt", attempt, "error", err)
			lastMalformed = raw
			continue
		}

		res, ok := buildResult(parsed, instructions, content)
		if !ok {
			metrics.LLMRequestsTotal.WithLabelValues("malformed").Inc()
			s.log.Warn("⚠️ LLM returned no summary, short answer or verdict", "attempt", attempt)
			continue
		}

		metrics.LLMRequestsTotal.WithLabelValues("success").Inc()
		return res, nil
	}

	if raw := strings.TrimSpace(lastMalformed); raw != "" {
		s.log.Warn("⚠️ Falling back to raw LLM output", "title", title)
		return Result{Summary: raw, Degraded: true}, nil
	}
	s.log.Warn("⚠️ LLM retries exhausted, keeping original content", "title", title)
	return original(content), nil
}

func (s *Summarizer) generate(ctx context.Context, prompt string) (string, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	return s.llm.GenerateJSON(ctx, prompt, s.cfg.Model)
}

func original(content string) Result {
	return Result{Summary: content, Degraded: true}
}

// buildResult reports false only for a reply with no summary, no short answer and no
// verdict. A verdict alone is a complete answer and keeps content as the summary.
func buildResult(p response, instructions []models.AIFilterInstruction, content string) (Result, bool) {
	summary := deref(p.Summary)
	short := deref(p.ShortAnswer)
	verdict := matchInstruction(deref(p.AIFilter), instructions)
	if summary == "" && short == "" {
		if verdict == nil {
			return Result{}, false
		}
		return Result{Summary: content, AIFilterReason: verdict}, true
	}

	res := Result{AIFilterReason: verdict}
	if short != "" {
		res.ShortAnswer = &short
	}
	switch {
	case summary == "":
		res.Summary = ShortAnswerOnlyPlaceholder
	case short != "" && overlapRatio(summary, short) > overlapLimit:
		res.Summary = RedundantSummaryPlaceholder
	default:
		res.Summary = formatSummary(summary)
	}
	return res, true
}

// matchInstruction returns the canonical text of the instruction the model echoed.
// An unrecognised verdict is kept as-is. Without active instructions there is no verdict.
func matchInstruction(verdict string, instructions []models.AIFilterInstruction) *string {
	switch strings.ToLower(verdict) {
	case "", "null", "none", "false":
		return nil
	}
	active := activeInstructions(instructions)
	if len(active) == 0 {
		return nil
	}
	for _, ins := range active {
		if strings.EqualFold(ins, verdict) {
			match := ins
			return &match
		}
	}
	return &verdict
}
