// Package memstore provides an in-memory implementation of observe.Store
// and cluster.Store. Suitable for dev/testing.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/mnemon/internal/cluster"
	"github.com/linnemanlabs/mnemon/internal/extract"
	"github.com/linnemanlabs/mnemon/internal/observe"
)

type entityRecord struct {
	entity      extract.Entity
	occurrences int
	lastSeenAt  time.Time
}

// Store holds pipeline state in memory.
type Store struct {
	mu           sync.RWMutex
	workspaces   map[string]*observe.Workspace
	observations map[string]*observe.Observation // id -> observation
	bySource     map[string]string               // workspace|source -> observation id
	entities     map[string]*entityRecord        // workspace|dedup key -> record
	clusters     map[string]*cluster.Cluster
}

// New initializes an empty in-memory Store.
func New() *Store {
	return &Store{
		workspaces:   make(map[string]*observe.Workspace),
		observations: make(map[string]*observe.Observation),
		bySource:     make(map[string]string),
		entities:     make(map[string]*entityRecord),
		clusters:     make(map[string]*cluster.Cluster),
	}
}

// PutWorkspace registers a workspace.
func (s *Store) PutWorkspace(ws *observe.Workspace) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ws
	s.workspaces[ws.ID] = &cp
}

// Workspace fetches a workspace by id. Returns a copy.
func (s *Store) Workspace(_ context.Context, id string) (*observe.Workspace, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return nil, false, nil
	}
	cp := *ws
	return &cp, true, nil
}

// Observation fetches an observation by id. Returns a copy.
func (s *Store) Observation(_ context.Context, id string) (*observe.Observation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obs, ok := s.observations[id]
	if !ok {
		return nil, false, nil
	}
	cp := *obs
	return &cp, true, nil
}

// ObservationBySource fetches the observation for (workspace, source id).
func (s *Store) ObservationBySource(_ context.Context, workspaceID, sourceID string) (*observe.Observation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySource[workspaceID+"|"+sourceID]
	if !ok {
		return nil, false, nil
	}
	cp := *s.observations[id]
	return &cp, true, nil
}

// ObservationCount returns the number of observations in a workspace.
func (s *Store) ObservationCount(_ context.Context, workspaceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, obs := range s.observations {
		if obs.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

// PersistCapture stores the observation, upserts entities, and applies
// the cluster change atomically under the store lock. Returns
// observe.ErrDuplicate without writing when the (workspace, source id)
// pair exists; an unknown join target fails before anything is written.
func (s *Store) PersistCapture(_ context.Context, obs *observe.Observation, entities []extract.Entity, change cluster.Change) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := obs.WorkspaceID + "|" + obs.SourceID
	if _, ok := s.bySource[key]; ok {
		return observe.ErrDuplicate
	}
	if change.Join != nil {
		if _, ok := s.clusters[change.Join.ClusterID]; !ok {
			return fmt.Errorf("join cluster: %s not found", change.Join.ClusterID)
		}
	}

	cp := *obs
	s.observations[obs.ID] = &cp
	s.bySource[key] = obs.ID

	for _, e := range entities {
		ek := obs.WorkspaceID + "|" + e.DedupKey()
		rec, ok := s.entities[ek]
		if !ok {
			s.entities[ek] = &entityRecord{entity: e, occurrences: 1, lastSeenAt: obs.OccurredAt}
			continue
		}
		if e.Confidence > rec.entity.Confidence {
			rec.entity = e
		}
		rec.occurrences++
		rec.lastSeenAt = obs.OccurredAt
	}

	switch {
	case change.Create != nil:
		cl := *change.Create
		s.clusters[cl.ID] = &cl
	case change.Join != nil:
		j := change.Join
		cl := s.clusters[j.ClusterID]
		cl.PrimaryEntities = mergeBounded(cl.PrimaryEntities, j.EntityIDs, j.MaxEntities)
		if j.ActorID != "" {
			cl.PrimaryActors = mergeBounded(cl.PrimaryActors, []string{j.ActorID}, j.MaxActors)
		}
		cl.ObservationCount++
		if j.OccurredAt.After(cl.LastObservedAt) {
			cl.LastObservedAt = j.OccurredAt
		}
	}
	return nil
}

// EntityOccurrences reports the occurrence count for a dedup key, for
// tests and diagnostics.
func (s *Store) EntityOccurrences(workspaceID, dedupKey string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entities[workspaceID+"|"+dedupKey]
	if !ok {
		return 0
	}
	return rec.occurrences
}

// ActiveClusters returns open clusters last active since the cutoff, most
// recent first, at most limit.
func (s *Store) ActiveClusters(_ context.Context, workspaceID string, since time.Time, limit int) ([]*cluster.Cluster, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*cluster.Cluster
	for _, cl := range s.clusters {
		if cl.WorkspaceID != workspaceID || cl.Status != cluster.StatusOpen {
			continue
		}
		if cl.LastObservedAt.Before(since) {
			continue
		}
		cp := *cl
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastObservedAt.After(out[j].LastObservedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Cluster fetches a cluster by id. Returns a copy.
func (s *Store) Cluster(_ context.Context, id string) (*cluster.Cluster, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cl, ok := s.clusters[id]
	if !ok {
		return nil, false, nil
	}
	cp := *cl
	return &cp, true, nil
}

// CreateCluster stores a cluster outside a capture, for seeding and
// tests. Captures create clusters through PersistCapture instead.
func (s *Store) CreateCluster(_ context.Context, cl *cluster.Cluster) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cl
	s.clusters[cl.ID] = &cp
	return nil
}

// mergeBounded appends new members, dedups, and evicts oldest first when
// over the bound (most-recent-wins).
func mergeBounded(existing, incoming []string, bound int) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, s := range existing {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		merged = append(merged, s)
	}
	for _, s := range incoming {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		merged = append(merged, s)
	}
	if bound > 0 && len(merged) > bound {
		merged = merged[len(merged)-bound:]
	}
	return merged
}
