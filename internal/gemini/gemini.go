package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"

	"github.com/deusflow/mynews/internal/ratelimit"
	"github.com/deusflow/mynews/internal/retry"
)

// Client talks to the Gemini API for JSON generation and text embeddings.
type Client struct {
	client      *genai.Client
	limiter     *ratelimit.AIRateLimiter
	temperature float32
}

func NewClient(ctx context.Context, apiKey string, limiter *ratelimit.AIRateLimiter) (*Client, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{client: client, limiter: limiter, temperature: 0.2}, nil
}

func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// GenerateJSON asks model for a JSON document and returns the raw response text.
func (c *Client) GenerateJSON(ctx context.Context, prompt, model string) (string, error) {
	if err := c.limiter.Use(ctx, ratelimit.LLM); err != nil {
		return "", err
	}

	m := c.client.GenerativeModel(model)
	m.ResponseMIMEType = "application/json"
	m.SetTemperature(c.temperature)

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", classify(fmt.Errorf("failed to generate content: %w", err))
	}
	text := responseText(resp)
	if text == "" {
		return "", fmt.Errorf("no response from Gemini")
	}
	return text, nil
}

// Embed returns the raw embedding vector for text.
func (c *Client) Embed(ctx context.Context, text, model string) ([]float32, error) {
	if err := c.limiter.Use(ctx, ratelimit.Embedding); err != nil {
		return nil, err
	}

	em := c.client.EmbeddingModel(model)
	em.TaskType = genai.TaskTypeSemanticSimilarity

	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, classify(fmt.Errorf("failed to embed content: %w", err))
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("empty embedding from Gemini")
	}
	return res.Embedding.Values, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return strings.TrimSpace(sb.String())
}

// classify maps Gemini failures onto retry.ErrRateLimited / retry.ErrTransient.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return retry.FromStatus(gerr.Code, err)
	}

	var aerr *apierror.APIError
	if errors.As(err, &aerr) {
		if code := aerr.HTTPCode(); code > 0 {
			return retry.FromStatus(code, err)
		}
		if st := aerr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.ResourceExhausted:
				return retry.RateLimited(err)
			case codes.Unavailable, codes.Internal, codes.DeadlineExceeded:
				return retry.Transient(err)
			}
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return retry.Transient(err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "quota"):
		return retry.RateLimited(err)
	case strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504"):
		return retry.Transient(err)
	}
	return err
}
