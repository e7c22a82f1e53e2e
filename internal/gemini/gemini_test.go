package gemini

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"github.com/deusflow/mynews/internal/retry"
)

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"summary":`), genai.Text(` "x"}`)}},
		}},
	}
	if got := responseText(resp); got != `{"summary": "x"}` {
		t.Fatalf("responseText = %q", got)
	}
	if responseText(&genai.GenerateContentResponse{}) != "" {
		t.Fatal("empty response should give empty text")
	}
	if responseText(nil) != "" {
		t.Fatal("nil response should give empty text")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"googleapi 429", fmt.Errorf("wrap: %w", &googleapi.Error{Code: 429}), retry.ErrRateLimited},
		{"googleapi 503", &googleapi.Error{Code: 503}, retry.ErrTransient},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), retry.ErrTransient},
		{"quota text", errors.New("googleapi: Error 429: Resource has been exhausted"), retry.ErrRateLimited},
		{"server text", errors.New("rpc error: code 503 service unavailable"), retry.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	plain := errors.New("invalid argument")
	if got := classify(plain); retry.IsRetryable(got) {
		t.Fatalf("plain error should not become retryable: %v", got)
	}
}
