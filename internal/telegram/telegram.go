// Package telegram sends operator alerts about batch runs to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/deusflow/mynews/internal/logger"
	"github.com/deusflow/mynews/internal/retry"
)

const defaultBaseURL = "https://api.telegram.org"

// Telegram caption and message bodies are capped at 4096 characters.
const maxMessageRunes = 4000

type Notifier struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	retry   retry.RetryConfig
	log     *slog.Logger
}

// NewNotifier returns nil when token or chatID is empty; a nil Notifier drops alerts.
func NewNotifier(token, chatID string, timeout time.Duration) *Notifier {
	if token == "" || chatID == "" {
		return nil
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		token:   token,
		chatID:  chatID,
		baseURL: defaultBaseURL,
		client:  &http.Client{Timeout: timeout},
		retry: retry.RetryConfig{
			MaxAttempts: 3,
			Delay:       2 * time.Second,
			Backoff:     true,
			Retryable:   retry.IsRetryable,
		},
		log: logger.With("component", "telegram"),
	}
}

// Alert sends text as an HTML message without link previews.
func (n *Notifier) Alert(ctx context.Context, text string) error {
	if n == nil {
		return nil
	}
	if r := []rune(text); len(r) > maxMessageRunes {
		text = string(r[:maxMessageRunes]) + "…"
	}

	attempt := 0
	err := retry.WithRetry(ctx, n.retry, func() error {
		attempt++
		err := n.send(ctx, text)
		if err != nil {
			n.log.Warn("⚠️ Telegram send failed", "attempt", attempt, "error", err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("telegram alert: %w", err)
	}
	n.log.Debug("📨 Alert sent", "attempt", attempt)
	return nil
}

func (n *Notifier) send(ctx context.Context, text string) error {
	payload := map[string]interface{}{
		"chat_id":                  n.chatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return retry.Transient(err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			n.log.Warn("⚠️ Failed to close response body", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.FromStatus(resp.StatusCode, fmt.Errorf("telegram API error: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
	}
	return nil
}
