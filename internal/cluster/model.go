// Package cluster groups related observations into evolving topic
// clusters online: each new observation either joins the best-matching
// active cluster or opens a new one.
package cluster

import "time"

// Status tracks whether a cluster still accepts new observations.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Cluster is a persisted group of related observations. The
// primary-entity and primary-actor sets are bounded; eviction is
// most-recent-wins.
type Cluster struct {
	ID               string    `json:"id"`
	WorkspaceID      string    `json:"workspace_id"`
	Topic            string    `json:"topic"`
	CentroidID       string    `json:"centroid_id"`
	Keywords         []string  `json:"keywords,omitempty"`
	PrimaryEntities  []string  `json:"primary_entities,omitempty"`
	PrimaryActors    []string  `json:"primary_actors,omitempty"`
	Status           Status    `json:"status"`
	ObservationCount int       `json:"observation_count"`
	FirstObservedAt  time.Time `json:"first_observed_at"`
	LastObservedAt   time.Time `json:"last_observed_at"`
	Summary          string    `json:"summary,omitempty"`
	SummarizedAt     time.Time `json:"summarized_at,omitempty"`
}

// Candidate is the observation-side input to cluster assignment.
type Candidate struct {
	WorkspaceID   string
	ObservationID string
	Title         string
	Topics        []string
	EntityIDs     []string
	ActorID       string
	Embedding     []float32
	OccurredAt    time.Time
}

// Assignment is the outcome of cluster assignment. Affinity is nil when a
// new cluster was opened. The decision itself writes nothing: Change
// carries the cluster mutation for the caller to commit together with
// the observation, so a failed persist leaves the cluster untouched.
type Assignment struct {
	ClusterID string `json:"cluster_id"`
	IsNew     bool   `json:"is_new"`
	Affinity  *int   `json:"affinity,omitempty"`
	Change    Change `json:"-"`
}

// Change is the cluster mutation an assignment implies. Exactly one of
// Create and Join is set.
type Change struct {
	Create *Cluster
	Join   *Join
}

// Join describes merging one observation into an existing cluster:
// bounded set merges, a count increment, and a last-activity bump.
type Join struct {
	ClusterID   string
	EntityIDs   []string
	ActorID     string
	OccurredAt  time.Time
	MaxEntities int
	MaxActors   int
}

// CentroidID derives the deterministic vector id for a cluster centroid.
func CentroidID(clusterID string) string {
	return "centroid-" + clusterID
}
