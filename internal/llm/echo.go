package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const echoModel = "echo-1"

// EchoClient answers by restating the last question word by word. It needs
// no credentials and is deterministic, which makes it the development
// default.
type EchoClient struct {
	delay time.Duration
}

// NewEchoClient creates an echo generator that pauses delay between tokens.
func NewEchoClient(delay time.Duration) *EchoClient {
	return &EchoClient{delay: delay}
}

// Name returns the provider name.
func (c *EchoClient) Name() string {
	return string(ProviderEcho)
}

// DefaultModel returns the model used when a request names none.
func (c *EchoClient) DefaultModel() string {
	return echoModel
}

// Reply returns the answer the echo generator gives for msgs.
func (c *EchoClient) Reply(msgs []ChatMessage) string {
	question := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			question = strings.TrimSpace(msgs[i].Content)
			break
		}
	}
	return fmt.Sprintf("You asked: %s", question)
}

// CompleteStream emits the reply one word at a time.
func (c *EchoClient) CompleteStream(ctx context.Context, req *CompletionRequest, callback StreamCallback) (*CompletionResponse, error) {
	start := time.Now()
	reply := c.Reply(req.Messages)

	for i, token := range strings.SplitAfter(reply, " ") {
		if c.delay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.delay):
			}
		} else if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := callback(token, i); err != nil {
			return nil, err
		}
	}

	return &CompletionResponse{
		Content:    reply,
		Model:      modelOr(req.Model, echoModel),
		TokensIn:   len(req.Messages),
		TokensOut:  len(strings.Fields(reply)),
		StopReason: "end_turn",
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}
