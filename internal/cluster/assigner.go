package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
)

// Config holds the affinity weights and bounds. The 40/30/20/10 split and
// the join threshold are tunable defaults, not derived values.
type Config struct {
	Lookback         time.Duration // candidate window
	MaxCandidates    int           // most-recently-active open clusters considered
	EmbeddingWeight  int           // cosine similarity component cap
	EntityWeight     int           // entity Jaccard component cap
	ActorWeight      int           // flat bonus when actor is a primary actor
	TemporalWeight   int           // max hours-proximity component
	JoinThreshold    int           // minimum affinity to join
	MaxEntities      int           // primary-entity set bound
	MaxActors        int           // primary-actor set bound
	TopicTitleLength int           // topic label fallback truncation
}

// DefaultConfig returns the stock assignment tunables.
func DefaultConfig() Config {
	return Config{
		Lookback:         7 * 24 * time.Hour,
		MaxCandidates:    10,
		EmbeddingWeight:  40,
		EntityWeight:     30,
		ActorWeight:      20,
		TemporalWeight:   10,
		JoinThreshold:    60,
		MaxEntities:      20,
		MaxActors:        10,
		TopicTitleLength: 60,
	}
}

// Store is the read surface the assigner needs. The mutation implied by
// an assignment travels back to the caller as a Change and is committed
// together with the observation, never here.
type Store interface {
	// ActiveClusters returns open clusters last active since the cutoff,
	// most recent first, at most limit.
	ActiveClusters(ctx context.Context, workspaceID string, since time.Time, limit int) ([]*Cluster, error)
	// Cluster fetches one cluster by id.
	Cluster(ctx context.Context, id string) (*Cluster, bool, error)
}

// CentroidIndex is the vector-side surface: cosine similarity between a
// vector and one cluster's centroid.
type CentroidIndex interface {
	// CentroidSimilarity returns cosine similarity in [-1, 1] between the
	// vector and the named centroid. ok is false when the centroid is
	// missing from the index.
	CentroidSimilarity(ctx context.Context, namespace, centroidID string, vec []float32) (score float64, ok bool, err error)
}

// Affinity is the per-candidate score breakdown. Every component stays
// within its documented sub-range.
type Affinity struct {
	Embedding int `json:"embedding"` // 0..EmbeddingWeight
	Entity    int `json:"entity"`    // 0..EntityWeight
	Actor     int `json:"actor"`     // 0 or ActorWeight
	Temporal  int `json:"temporal"`  // 0..TemporalWeight
	Total     int `json:"total"`
}

// Assigner performs online cluster assignment.
type Assigner struct {
	cfg    Config
	store  Store
	index  CentroidIndex
	logger log.Logger
}

// New creates an Assigner.
func New(cfg Config, store Store, index CentroidIndex, logger log.Logger) *Assigner {
	if logger == nil {
		logger = log.Nop()
	}
	return &Assigner{cfg: cfg, store: store, index: index, logger: logger}
}

// Assign picks the best-matching active cluster at or above the join
// threshold, or seeds a new cluster. The decision is read-only; the
// returned Change must be committed with the observation, so a retried
// capture re-derives the same kind of mutation instead of stacking a
// second one onto the cluster. Similarity-lookup failures degrade the
// embedding component to zero rather than aborting.
func (a *Assigner) Assign(ctx context.Context, c Candidate) (*Assignment, error) {
	since := c.OccurredAt.Add(-a.cfg.Lookback)
	candidates, err := a.store.ActiveClusters(ctx, c.WorkspaceID, since, a.cfg.MaxCandidates)
	if err != nil {
		return nil, fmt.Errorf("active clusters: %w", err)
	}

	if len(candidates) == 0 {
		return a.open(ctx, c), nil
	}

	var (
		best      *Cluster
		bestScore Affinity
	)
	// candidates arrive most recent first, so strict > keeps the most
	// recently active cluster on ties
	for _, cl := range candidates {
		aff := a.affinity(ctx, cl, c)
		if aff.Total > bestScore.Total {
			best = cl
			bestScore = aff
		}
	}

	if best == nil || bestScore.Total < a.cfg.JoinThreshold {
		return a.open(ctx, c), nil
	}

	a.logger.Info(ctx, "observation joins cluster",
		"cluster_id", best.ID,
		"observation_id", c.ObservationID,
		"affinity", bestScore.Total,
		"embedding", bestScore.Embedding,
		"entity", bestScore.Entity,
		"actor", bestScore.Actor,
		"temporal", bestScore.Temporal,
	)

	total := bestScore.Total
	return &Assignment{
		ClusterID: best.ID,
		IsNew:     false,
		Affinity:  &total,
		Change: Change{Join: &Join{
			ClusterID:   best.ID,
			EntityIDs:   c.EntityIDs,
			ActorID:     c.ActorID,
			OccurredAt:  c.OccurredAt,
			MaxEntities: a.cfg.MaxEntities,
			MaxActors:   a.cfg.MaxActors,
		}},
	}, nil
}

// affinity computes the four independently-capped components.
func (a *Assigner) affinity(ctx context.Context, cl *Cluster, c Candidate) Affinity {
	var aff Affinity

	if cl.CentroidID != "" && len(c.Embedding) > 0 {
		sim, ok, err := a.index.CentroidSimilarity(ctx, c.WorkspaceID, cl.CentroidID, c.Embedding)
		switch {
		case err != nil:
			// partial credit: this component degrades to zero, scoring continues
			a.logger.Warn(ctx, "centroid similarity lookup failed",
				"cluster_id", cl.ID, "error", err)
		case ok:
			aff.Embedding = clampComponent(int(sim*float64(a.cfg.EmbeddingWeight)), a.cfg.EmbeddingWeight)
		}
	}

	aff.Entity = clampComponent(int(jaccard(cl.PrimaryEntities, c.EntityIDs)*float64(a.cfg.EntityWeight)), a.cfg.EntityWeight)

	if c.ActorID != "" && contains(cl.PrimaryActors, c.ActorID) {
		aff.Actor = a.cfg.ActorWeight
	}

	hours := int(c.OccurredAt.Sub(cl.LastObservedAt).Hours())
	if hours < 0 {
		hours = 0
	}
	if t := a.cfg.TemporalWeight - hours; t > 0 {
		aff.Temporal = t
	}

	aff.Total = aff.Embedding + aff.Entity + aff.Actor + aff.Temporal
	return aff
}

// open seeds a new cluster from the candidate. The record travels back
// on the assignment's Change; its centroid id is deterministic so the
// caller can store the centroid after the cluster row is committed.
func (a *Assigner) open(ctx context.Context, c Candidate) *Assignment {
	id := ulid.Make().String()

	topic := a.topicLabel(c)
	cl := &Cluster{
		ID:               id,
		WorkspaceID:      c.WorkspaceID,
		Topic:            topic,
		CentroidID:       CentroidID(id),
		Keywords:         c.Topics,
		PrimaryEntities:  bound(c.EntityIDs, a.cfg.MaxEntities),
		PrimaryActors:    bound(actorSet(c.ActorID), a.cfg.MaxActors),
		Status:           StatusOpen,
		ObservationCount: 1,
		FirstObservedAt:  c.OccurredAt,
		LastObservedAt:   c.OccurredAt,
	}

	a.logger.Info(ctx, "observation opens cluster",
		"cluster_id", cl.ID,
		"topic", cl.Topic,
		"observation_id", c.ObservationID,
	)

	return &Assignment{ClusterID: cl.ID, IsNew: true, Change: Change{Create: cl}}
}

// topicLabel derives the topic label: first topic, else truncated title.
func (a *Assigner) topicLabel(c Candidate) string {
	if len(c.Topics) > 0 {
		return c.Topics[0]
	}
	t := c.Title
	if len(t) > a.cfg.TopicTitleLength {
		t = t[:a.cfg.TopicTitleLength]
	}
	return t
}

func clampComponent(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

// jaccard computes set overlap; two empty sets overlap not at all.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	inter := 0
	union := len(set)
	seen := make(map[string]struct{}, len(b))
	for _, s := range b {
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		if _, ok := set[s]; ok {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func bound(xs []string, limit int) []string {
	if len(xs) <= limit {
		return xs
	}
	return xs[len(xs)-limit:]
}

func actorSet(actorID string) []string {
	if actorID == "" {
		return nil
	}
	return []string{actorID}
}
