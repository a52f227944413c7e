// Package llm provides the answer generators behind the query backend.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// StreamCallback is called for each generated token.
type StreamCallback func(token string, index int) error

// CompletionRequest represents a completion request.
type CompletionRequest struct {
	Model       string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// Roles used in ChatMessage.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one prompt turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionResponse represents a completion response.
type CompletionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Client is the interface for answer generators.
type Client interface {
	// CompleteStream generates an answer, reporting each token as it is
	// produced.
	CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error)

	// Name returns the provider name.
	Name() string

	// DefaultModel returns the model used when a request names none.
	DefaultModel() string
}

// Provider is the type of answer generator.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderEcho      Provider = "echo"
)

// NewClient creates a generator for provider. The echo provider needs no key.
func NewClient(provider Provider, apiKey string) (Client, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(apiKey)
	case ProviderOpenAI:
		return NewOpenAIClient(apiKey)
	case ProviderEcho, "":
		return NewEchoClient(0), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", provider)
	}
}

// Normalize merges adjacent turns with the same role and drops leading
// assistant turns, since providers require alternating roles that start with
// the user. A history with an unanswered question yields two adjacent user
// turns.
func Normalize(msgs []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if len(out) == 0 && m.Role != RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	return out
}

func modelOr(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func maxTokensOr(requested int) int {
	if requested > 0 {
		return requested
	}
	return 4096
}
