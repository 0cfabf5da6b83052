// Package delivery triggers notification workflows on the external
// delivery provider.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

const httpTimeout = 10 * time.Second

// Recipient identifies one notification recipient.
type Recipient struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

// Payload is the body of a workflow trigger call.
type Payload struct {
	Recipients []Recipient    `json:"recipients"`
	Tenant     string         `json:"tenant"`
	Data       map[string]any `json:"data,omitempty"`
}

// Client triggers delivery workflows over HTTP.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// New creates a delivery client. If endpoint is empty the client reports
// itself unconfigured and Trigger fails.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: httpTimeout},
	}
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool { return c.endpoint != "" }

// Trigger invokes the named workflow with the given payload.
func (c *Client) Trigger(ctx context.Context, workflowKey string, p Payload) error {
	if c.endpoint == "" {
		return fmt.Errorf("delivery: endpoint not configured")
	}
	if len(p.Recipients) == 0 {
		return fmt.Errorf("delivery: no recipients for workflow %s", workflowKey)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("delivery: invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "v1/workflows", workflowKey, "trigger")

	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("delivery: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("delivery: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req) //nolint:gosec // G704: endpoint is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("delivery: trigger %s: %w", workflowKey, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("delivery: workflow %s returned %d: %s", workflowKey, resp.StatusCode, string(respBody))
	}
	return nil
}
