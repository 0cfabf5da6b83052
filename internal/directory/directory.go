// Package directory lists organization members from the identity provider.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"
)

const (
	httpTimeout = 10 * time.Second
	pageSize    = 100
	maxPages    = 50
)

// Member is one organization member as reported by the identity provider.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Client lists organization members over the provider's paginated HTTP API.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// New creates a directory client. If endpoint is empty the client reports
// itself unconfigured and ListMembers fails.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: httpTimeout},
	}
}

// Configured reports whether an endpoint is set.
func (c *Client) Configured() bool { return c.endpoint != "" }

type membersPage struct {
	Members    []Member `json:"members"`
	NextCursor string   `json:"next_cursor"`
}

// ListMembers returns all members of the organization, following pagination
// cursors until exhausted.
func (c *Client) ListMembers(ctx context.Context, orgID string) ([]Member, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("directory: endpoint not configured")
	}

	var (
		members []Member
		cursor  string
	)
	for page := 0; page < maxPages; page++ {
		res, err := c.listPage(ctx, orgID, cursor)
		if err != nil {
			return nil, err
		}
		members = append(members, res.Members...)
		if res.NextCursor == "" {
			return members, nil
		}
		cursor = res.NextCursor
	}
	return nil, fmt.Errorf("directory: org %s exceeded %d pages", orgID, maxPages)
}

func (c *Client) listPage(ctx context.Context, orgID, cursor string) (*membersPage, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("directory: invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, "v1/orgs", orgID, "members")

	q := u.Query()
	q.Set("limit", fmt.Sprintf("%d", pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("directory: create request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req) //nolint:gosec // G704: endpoint is from trusted config, not user input
	if err != nil {
		return nil, fmt.Errorf("directory: list members: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("directory: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory: provider returned %d: %s", resp.StatusCode, string(body))
	}

	var page membersPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("directory: decode response: %w", err)
	}
	return &page, nil
}
