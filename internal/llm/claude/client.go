// Package claude adapts the Anthropic SDK to the single-shot completion
// interface the classification and extraction tiers consume.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Client sends constrained single-turn prompts to the Claude API.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a Claude client with the given API key and model name.
func New(apiKey, model string) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

// Complete sends one user prompt under a system prompt and returns the
// concatenated text content of the response.
func (c *Client) Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude: %w", err)
	}
	return textContent(msg)
}

// textContent flattens a response's text blocks into one string.
func textContent(msg *anthropic.Message) (string, error) {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("claude: response contained no text (stop reason %s)", msg.StopReason)
	}
	return out, nil
}
