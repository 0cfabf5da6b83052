// Package vector is the client for the external vector index. It serves
// both observation embeddings and cluster centroids, separated by id
// convention and metadata.
package vector

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

const httpTimeout = 15 * time.Second

// Match is one query hit.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// Client talks to one index of the vector store.
type Client struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// New creates a vector index client. The endpoint addresses one index.
func New(endpoint, apiKey string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: httpTimeout},
	}
}

type upsertVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type upsertRequest struct {
	Vectors   []upsertVector `json:"vectors"`
	Namespace string         `json:"namespace,omitempty"`
}

type queryRequest struct {
	Vector    []float32      `json:"vector"`
	TopK      int            `json:"topK"`
	Filter    map[string]any `json:"filter,omitempty"`
	Namespace string         `json:"namespace,omitempty"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

type deleteRequest struct {
	Filter    map[string]any `json:"filter"`
	Namespace string         `json:"namespace,omitempty"`
}

// UpsertVector writes one vector. Implements the pipeline's vector
// writer.
func (c *Client) UpsertVector(ctx context.Context, namespace, id string, vec []float32, metadata map[string]any) error {
	req := upsertRequest{
		Vectors:   []upsertVector{{ID: id, Values: vec, Metadata: metadata}},
		Namespace: namespace,
	}
	return c.post(ctx, "vectors/upsert", req, nil)
}

// Query returns the topK nearest vectors matching the filter.
func (c *Client) Query(ctx context.Context, namespace string, vec []float32, topK int, filter map[string]any) ([]Match, error) {
	var out queryResponse
	req := queryRequest{Vector: vec, TopK: topK, Filter: filter, Namespace: namespace}
	if err := c.post(ctx, "query", req, &out); err != nil {
		return nil, err
	}
	return out.Matches, nil
}

// DeleteByMetadata removes all vectors matching the filter, e.g. when a
// workspace is deleted.
func (c *Client) DeleteByMetadata(ctx context.Context, namespace string, filter map[string]any) error {
	return c.post(ctx, "vectors/delete", deleteRequest{Filter: filter, Namespace: namespace}, nil)
}

// UpsertCentroid writes a cluster centroid vector.
func (c *Client) UpsertCentroid(ctx context.Context, namespace, centroidID, clusterID string, vec []float32) error {
	req := upsertRequest{
		Vectors: []upsertVector{{
			ID:     centroidID,
			Values: vec,
			Metadata: map[string]any{
				"kind":        "centroid",
				"centroid_id": centroidID,
				"cluster_id":  clusterID,
			},
		}},
		Namespace: namespace,
	}
	return c.post(ctx, "vectors/upsert", req, nil)
}

// CentroidSimilarity returns the cosine similarity between vec and the
// named centroid. ok is false when the centroid is not in the index.
func (c *Client) CentroidSimilarity(ctx context.Context, namespace, centroidID string, vec []float32) (float64, bool, error) {
	matches, err := c.Query(ctx, namespace, vec, 1, map[string]any{
		"centroid_id": centroidID,
	})
	if err != nil {
		return 0, false, err
	}
	for _, m := range matches {
		if m.ID == centroidID {
			return m.Score, true, nil
		}
	}
	return 0, false, nil
}

func (c *Client) post(ctx context.Context, endpoint string, reqBody, out any) error {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("vector: marshal request: %w", err)
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return fmt.Errorf("vector: invalid endpoint: %w", err)
	}
	u.Path = path.Join(u.Path, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("vector: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Api-Key", c.apiKey)
	}

	resp, err := c.client.Do(req) //nolint:gosec // G704: endpoint is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("vector: %s failed: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 5<<20))
	if err != nil {
		return fmt.Errorf("vector: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector: %s returned %d: %s", endpoint, resp.StatusCode, string(respBody))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("vector: decode %s response: %w", endpoint, err)
	}
	return nil
}
