package observe

import (
	"context"
	"time"

	"github.com/linnemanlabs/mnemon/internal/event"
)

// Observation is a persisted, scored, classified record derived from one
// significant upstream event. Append-only: created at most once per
// (workspace, source id), never deleted in normal operation.
type Observation struct {
	ID          string            `json:"id"`
	WorkspaceID string            `json:"workspace_id"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Actor       string            `json:"actor,omitempty"`
	ActorName   string            `json:"actor_name,omitempty"`
	Type        string            `json:"type"` // derived primary category
	Title       string            `json:"title"`
	Content     string            `json:"content,omitempty"`
	Topics      []string          `json:"topics,omitempty"`
	Score       int               `json:"score"`
	Source      string            `json:"source"`
	SourceType  string            `json:"source_type"`
	SourceID    string            `json:"source_id"`
	References  []event.Reference `json:"references,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	EmbeddingID string            `json:"embedding_id,omitempty"` // vector-index id
	ClusterID   string            `json:"cluster_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Workspace is the tenant configuration the pipeline needs. An empty
// AllowedSources list means no source restriction.
type Workspace struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	OrgID          string    `json:"org_id,omitempty"`
	AllowedSources []string  `json:"allowed_sources,omitempty"`
	EmbeddingModel string    `json:"embedding_model"`
	CreatedAt      time.Time `json:"created_at"`
}

// SourceAllowed reports whether the workspace accepts events from source.
func (w *Workspace) SourceAllowed(source string) bool {
	if len(w.AllowedSources) == 0 {
		return true
	}
	for _, s := range w.AllowedSources {
		if s == source {
			return true
		}
	}
	return false
}

// Outcome is the terminal state of one capture attempt. Gating outcomes
// (duplicate, filtered, below threshold) are results, not errors.
type Outcome string

const (
	OutcomeCaptured       Outcome = "captured"
	OutcomeDuplicate      Outcome = "duplicate"
	OutcomeFiltered       Outcome = "filtered"
	OutcomeBelowThreshold Outcome = "below_threshold"
	OutcomeHalted         Outcome = "halted" // source disconnected mid-flight
)

// Result is the structured outcome of Service.Capture.
type Result struct {
	Outcome       Outcome  `json:"outcome"`
	ObservationID string   `json:"observation_id,omitempty"`
	Score         int      `json:"score,omitempty"`
	Factors       []string `json:"factors,omitempty"`
	ClusterID     string   `json:"cluster_id,omitempty"`
	NewCluster    bool     `json:"new_cluster,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// SubmitResult is the outcome of submitting an event for async capture.
type SubmitResult struct {
	Accepted bool   `json:"accepted"`
	SourceID string `json:"source_id"`
	Reason   string `json:"reason,omitempty"`
}

// CompletionEvent is emitted exactly once per successfully persisted
// observation, carrying the denormalized fields the notification stage
// needs.
type CompletionEvent struct {
	WorkspaceID      string   `json:"workspace_id"`
	ObservationID    string   `json:"observation_id"`
	SourceID         string   `json:"source_id"`
	ObservationType  string   `json:"observation_type"`
	Score            int      `json:"significance_score"`
	Topics           []string `json:"topics,omitempty"`
	ClusterID        string   `json:"cluster_id,omitempty"`
	ActorID          string   `json:"actor_id,omitempty"`
	ActorName        string   `json:"actor_name,omitempty"`
	HasRelationships bool     `json:"has_relationships,omitempty"`
}

// Publisher receives completion events. Implementations must tolerate
// being called from the pipeline goroutine.
type Publisher interface {
	Publish(ctx context.Context, ev CompletionEvent)
}
