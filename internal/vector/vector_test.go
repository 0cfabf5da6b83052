package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestUpsertVector(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vectors/upsert" {
			t.Errorf("path = %q, want /vectors/upsert", r.URL.Path)
		}
		if got := r.Header.Get("Api-Key"); got != "test-key" {
			t.Errorf("Api-Key = %q", got)
		}
		var req upsertRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Namespace != "ws-1" || len(req.Vectors) != 1 {
			t.Errorf("request = %+v", req)
		}
		if req.Vectors[0].ID != "obs-1" || req.Vectors[0].Metadata["kind"] != "observation" {
			t.Errorf("vector = %+v", req.Vectors[0])
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	err := c.UpsertVector(context.Background(), "ws-1", "obs-1", []float32{0.1, 0.2},
		map[string]any{"kind": "observation"})
	if err != nil {
		t.Fatalf("UpsertVector: %v", err)
	}
}

func TestQuery(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/query" {
			t.Errorf("path = %q, want /query", r.URL.Path)
		}
		var req queryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TopK != 5 || req.Filter["kind"] != "observation" {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"matches":[{"id":"obs-1","score":0.92},{"id":"obs-2","score":0.81}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	matches, err := c.Query(context.Background(), "ws-1", []float32{0.1}, 5,
		map[string]any{"kind": "observation"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 || matches[0].ID != "obs-1" || matches[0].Score != 0.92 {
		t.Errorf("matches = %+v", matches)
	}
}

func TestCentroidSimilarity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.TopK != 1 || req.Filter["centroid_id"] != "centroid-cl-1" {
			t.Errorf("request = %+v", req)
		}
		_, _ = w.Write([]byte(`{"matches":[{"id":"centroid-cl-1","score":0.88}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	score, ok, err := c.CentroidSimilarity(context.Background(), "ws-1", "centroid-cl-1", []float32{0.1})
	if err != nil {
		t.Fatalf("CentroidSimilarity: %v", err)
	}
	if !ok || score != 0.88 {
		t.Errorf("score = %v ok = %v, want 0.88 true", score, ok)
	}
}

func TestCentroidSimilarity_Missing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"matches":[]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	_, ok, err := c.CentroidSimilarity(context.Background(), "ws-1", "centroid-cl-1", []float32{0.1})
	if err != nil {
		t.Fatalf("CentroidSimilarity: %v", err)
	}
	if ok {
		t.Error("ok = true, want false for an absent centroid")
	}
}

func TestUpsertCentroid_Metadata(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req upsertRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		md := req.Vectors[0].Metadata
		if md["kind"] != "centroid" || md["centroid_id"] != "centroid-cl-1" || md["cluster_id"] != "cl-1" {
			t.Errorf("metadata = %+v", md)
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	if err := c.UpsertCentroid(context.Background(), "ws-1", "centroid-cl-1", "cl-1", []float32{0.1}); err != nil {
		t.Fatalf("UpsertCentroid: %v", err)
	}
}

func TestPost_IndexError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "index not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	if err := c.DeleteByMetadata(context.Background(), "ws-1", map[string]any{"workspace_id": "ws-1"}); err == nil {
		t.Fatal("expected error")
	}
}
