// Package openai is an OpenAI-compatible LLM and embedding provider.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/deusflow/mynews/internal/ratelimit"
	"github.com/deusflow/mynews/internal/retry"
)

type Config struct {
	APIKey     string
	BaseURL    string
	Dimensions int
	Limiter    *ratelimit.AIRateLimiter
}

type Client struct {
	client     *openai.Client
	dimensions int
	limiter    *ratelimit.AIRateLimiter
}

func NewClient(cfg Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Client{
		client:     openai.NewClientWithConfig(clientCfg),
		dimensions: cfg.Dimensions,
		limiter:    cfg.Limiter,
	}
}

// GenerateJSON runs a chat completion constrained to a JSON object response.
func (c *Client) GenerateJSON(ctx context.Context, prompt, model string) (string, error) {
	if err := c.limiter.Use(ctx, ratelimit.LLM); err != nil {
		return "", err
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.2,
	})
	if err != nil {
		return "", parseAPIError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty chat completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text, model string) ([]float32, error) {
	if err := c.limiter.Use(ctx, ratelimit.Embedding); err != nil {
		return nil, err
	}

	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          openai.EmbeddingModel(model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseAPIError("embedding", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

// parseAPIError keeps the status code visible and marks 429 / 5xx as retryable.
func parseAPIError(op string, err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retry.FromStatus(reqErr.HTTPStatusCode,
			fmt.Errorf("%s API error %d: %w", op, reqErr.HTTPStatusCode, err))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retry.FromStatus(apiErr.HTTPStatusCode,
			fmt.Errorf("%s API error %d: %s: %w", op, apiErr.HTTPStatusCode, apiErr.Message, err))
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Transient(fmt.Errorf("%s request timed out: %w", op, err))
	}
	return fmt.Errorf("%s request failed: %w", op, err)
}
