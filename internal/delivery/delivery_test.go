package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTrigger(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/workflows/observation-urgent/trigger" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		if p.Tenant != "org-1" || len(p.Recipients) != 2 {
			t.Errorf("payload = %+v", p)
		}
		if p.Data["observation_id"] != "obs-1" {
			t.Errorf("data = %+v", p.Data)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c := New(srv.URL, "test-key")
	err := c.Trigger(context.Background(), "observation-urgent", Payload{
		Recipients: []Recipient{{ID: "u-1"}, {ID: "u-2"}},
		Tenant:     "org-1",
		Data:       map[string]any{"observation_id": "obs-1"},
	})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
}

func TestTrigger_NoRecipients(t *testing.T) {
	t.Parallel()

	c := New("http://delivery.invalid", "k")
	if err := c.Trigger(context.Background(), "observation-routine", Payload{Tenant: "org-1"}); err == nil {
		t.Fatal("expected error for empty recipients")
	}
}

func TestTrigger_Unconfigured(t *testing.T) {
	t.Parallel()

	c := New("", "")
	if c.Configured() {
		t.Error("Configured() = true for empty endpoint")
	}
	err := c.Trigger(context.Background(), "observation-routine", Payload{
		Recipients: []Recipient{{ID: "u-1"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestTrigger_ProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown workflow", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	err := c.Trigger(context.Background(), "nope", Payload{Recipients: []Recipient{{ID: "u-1"}}})
	if err == nil {
		t.Fatal("expected error")
	}
}
