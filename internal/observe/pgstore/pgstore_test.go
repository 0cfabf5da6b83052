package pgstore_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/mnemon/internal/cluster"
	"github.com/linnemanlabs/mnemon/internal/extract"
	"github.com/linnemanlabs/mnemon/internal/observe"
	"github.com/linnemanlabs/mnemon/internal/observe/pgstore"
)

func openStore(t *testing.T) (*pgstore.Store, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("MNEMON_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MNEMON_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s, pool
}

func putWorkspace(t *testing.T, pool *pgxpool.Pool, ws *observe.Workspace) {
	t.Helper()
	_, err := pool.Exec(context.Background(),
		`INSERT INTO workspaces (id, name, org_id, allowed_sources, embedding_model)
		 VALUES ($1, $2, $3, '[]', $4)
		 ON CONFLICT (id) DO NOTHING`,
		ws.ID, ws.Name, ws.OrgID, ws.EmbeddingModel,
	)
	if err != nil {
		t.Fatalf("insert workspace: %v", err)
	}
}

func testObservation(workspaceID string) *observe.Observation {
	now := time.Now().Truncate(time.Microsecond).UTC()
	return &observe.Observation{
		ID:          ulid.Make().String(),
		WorkspaceID: workspaceID,
		OccurredAt:  now,
		Actor:       "u-1",
		ActorName:   "Alice",
		Type:        "incident",
		Title:       "database outage",
		Content:     "writes were down",
		Topics:      []string{"incident"},
		Score:       85,
		Source:      "pagerduty",
		SourceType:  "incident",
		SourceID:    ulid.Make().String(),
		Metadata:    map[string]string{"region": "us-east-1"},
		CreatedAt:   now,
	}
}

func TestPersistAndGet(t *testing.T) {
	s, pool := openStore(t)
	ctx := context.Background()

	ws := &observe.Workspace{ID: "ws-pgtest", Name: "pgtest", OrgID: "org-1", EmbeddingModel: "text-embedding-3-small"}
	putWorkspace(t, pool, ws)

	got, ok, err := s.Workspace(ctx, ws.ID)
	if err != nil || !ok {
		t.Fatalf("Workspace: ok=%v err=%v", ok, err)
	}
	if got.EmbeddingModel != ws.EmbeddingModel {
		t.Errorf("EmbeddingModel = %q, want %q", got.EmbeddingModel, ws.EmbeddingModel)
	}

	obs := testObservation(ws.ID)
	obs.EmbeddingID = obs.ID
	entities := []extract.Entity{
		{Category: extract.CategoryIssue, Key: "OPS-1", Value: "OPS-1", Confidence: 0.9, Evidence: "resolved OPS-1"},
	}
	if err := s.PersistCapture(ctx, obs, entities, cluster.Change{}); err != nil {
		t.Fatalf("PersistCapture: %v", err)
	}

	back, ok, err := s.Observation(ctx, obs.ID)
	if err != nil || !ok {
		t.Fatalf("Observation: ok=%v err=%v", ok, err)
	}
	if back.Title != obs.Title || back.Score != obs.Score || back.Metadata["region"] != "us-east-1" {
		t.Errorf("roundtrip mismatch: %+v", back)
	}
	if !back.OccurredAt.Equal(obs.OccurredAt) {
		t.Errorf("OccurredAt = %v, want %v", back.OccurredAt, obs.OccurredAt)
	}

	bySrc, ok, err := s.ObservationBySource(ctx, ws.ID, obs.SourceID)
	if err != nil || !ok {
		t.Fatalf("ObservationBySource: ok=%v err=%v", ok, err)
	}
	if bySrc.ID != obs.ID {
		t.Errorf("ObservationBySource = %q, want %q", bySrc.ID, obs.ID)
	}
}

func TestPersistCapture_Duplicate(t *testing.T) {
	s, pool := openStore(t)
	ctx := context.Background()

	putWorkspace(t, pool, &observe.Workspace{ID: "ws-pgtest", Name: "pgtest", EmbeddingModel: "m"})

	obs := testObservation("ws-pgtest")
	if err := s.PersistCapture(ctx, obs, nil, cluster.Change{}); err != nil {
		t.Fatalf("PersistCapture: %v", err)
	}

	dup := testObservation("ws-pgtest")
	dup.SourceID = obs.SourceID
	err := s.PersistCapture(ctx, dup, []extract.Entity{
		{Category: extract.CategoryEngineer, Key: "@dup", Confidence: 0.9},
	}, cluster.Change{})
	if !errors.Is(err, observe.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}

	if _, ok, _ := s.Observation(ctx, dup.ID); ok {
		t.Error("duplicate observation was stored")
	}
}

func TestPersistCapture_UnknownJoinTargetRollsBack(t *testing.T) {
	s, pool := openStore(t)
	ctx := context.Background()

	putWorkspace(t, pool, &observe.Workspace{ID: "ws-pgtest", Name: "pgtest", EmbeddingModel: "m"})

	obs := testObservation("ws-pgtest")
	err := s.PersistCapture(ctx, obs, nil, cluster.Change{Join: &cluster.Join{
		ClusterID:   "cl-nope-" + ulid.Make().String(),
		MaxEntities: 10,
		MaxActors:   10,
	}})
	if err == nil {
		t.Fatal("expected error for unknown cluster")
	}

	if _, ok, _ := s.Observation(ctx, obs.ID); ok {
		t.Error("observation committed despite the failed join")
	}
}

func TestClusterLifecycle(t *testing.T) {
	s, pool := openStore(t)
	ctx := context.Background()

	putWorkspace(t, pool, &observe.Workspace{ID: "ws-pgtest", Name: "pgtest", EmbeddingModel: "m"})

	now := time.Now().Truncate(time.Microsecond).UTC()
	cl := &cluster.Cluster{
		ID:               ulid.Make().String(),
		WorkspaceID:      "ws-pgtest",
		Topic:            "payments outage",
		CentroidID:       "centroid-test",
		PrimaryEntities:  []string{"issue:OPS-1"},
		PrimaryActors:    []string{"u-1"},
		Status:           cluster.StatusOpen,
		ObservationCount: 1,
		FirstObservedAt:  now,
		LastObservedAt:   now,
	}
	if err := s.CreateCluster(ctx, cl); err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}

	joiner := testObservation("ws-pgtest")
	joiner.ClusterID = cl.ID
	err := s.PersistCapture(ctx, joiner, nil, cluster.Change{Join: &cluster.Join{
		ClusterID:   cl.ID,
		EntityIDs:   []string{"issue:OPS-2"},
		ActorID:     "u-2",
		OccurredAt:  now.Add(time.Minute),
		MaxEntities: 10,
		MaxActors:   10,
	}})
	if err != nil {
		t.Fatalf("PersistCapture: %v", err)
	}

	back, ok, err := s.Cluster(ctx, cl.ID)
	if err != nil || !ok {
		t.Fatalf("Cluster: ok=%v err=%v", ok, err)
	}
	if back.ObservationCount != 2 {
		t.Errorf("ObservationCount = %d, want 2", back.ObservationCount)
	}
	if len(back.PrimaryEntities) != 2 || len(back.PrimaryActors) != 2 {
		t.Errorf("merged sets = %v / %v", back.PrimaryEntities, back.PrimaryActors)
	}

	active, err := s.ActiveClusters(ctx, "ws-pgtest", now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ActiveClusters: %v", err)
	}
	found := false
	for _, c := range active {
		if c.ID == cl.ID {
			found = true
		}
	}
	if !found {
		t.Errorf("ActiveClusters does not include %s", cl.ID)
	}
}
