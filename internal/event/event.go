// Package event defines the source event types delivered by upstream
// webhook adapters (commits, pull requests, deployments, issues).
package event

import "time"

// Reference is a typed pointer carried by a source event, e.g. a pull
// request number, an issue key, or a file path. References come from the
// upstream system and are trusted (no heuristics needed downstream).
type Reference struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
	URL   string `json:"url,omitempty"`
}

// SourceEvent is a single engineering event as delivered by an upstream
// source. It is immutable input to the observation pipeline.
type SourceEvent struct {
	Source     string            `json:"source"`      // e.g. "github", "linear"
	SourceType string            `json:"source_type"` // e.g. "push", "pull_request.merged"
	SourceID   string            `json:"source_id"`   // unique within a workspace
	Title      string            `json:"title"`
	Body       string            `json:"body,omitempty"`
	Actor      string            `json:"actor,omitempty"`
	ActorName  string            `json:"actor_name,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	References []Reference       `json:"references,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Webhook is the ingest payload: a workspace plus a batch of events.
type Webhook struct {
	WorkspaceID string        `json:"workspace_id"`
	Events      []SourceEvent `json:"events"`
}
