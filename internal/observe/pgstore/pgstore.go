// Package pgstore provides the PostgreSQL implementation of observe.Store
// and cluster.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/mnemon/internal/cluster"
	"github.com/linnemanlabs/mnemon/internal/extract"
	"github.com/linnemanlabs/mnemon/internal/observe"
)

var tracer = otel.Tracer("github.com/linnemanlabs/mnemon/internal/observe/pgstore")

//go:embed schema.sql
var schema string

// Store persists observations, entities, workspaces, and clusters in
// PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New applies the schema and returns a ready Store.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func spanErr(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Workspace fetches tenant configuration by id.
func (s *Store) Workspace(ctx context.Context, id string) (*observe.Workspace, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Workspace", "SELECT")
	defer span.End()

	var (
		ws          observe.Workspace
		sourcesJSON []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, org_id, allowed_sources, embedding_model, created_at
		 FROM workspaces WHERE id = $1`, id,
	).Scan(&ws.ID, &ws.Name, &ws.OrgID, &sourcesJSON, &ws.EmbeddingModel, &ws.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		spanErr(span, err)
		return nil, false, fmt.Errorf("scan workspace: %w", err)
	}
	if err := json.Unmarshal(sourcesJSON, &ws.AllowedSources); err != nil {
		return nil, false, fmt.Errorf("unmarshal allowed_sources: %w", err)
	}
	return &ws, true, nil
}

const observationColumns = `id, workspace_id, occurred_at, actor, actor_name, obs_type, title,
	content, topics, score, source, source_type, source_id, refs, metadata,
	embedding_id, cluster_id, created_at`

// Observation fetches one observation by id.
func (s *Store) Observation(ctx context.Context, id string) (*observe.Observation, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Observation", "SELECT")
	defer span.End()

	query := `SELECT ` + observationColumns + ` FROM observations WHERE id = $1`
	obs, err := scanObservation(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		spanErr(span, err)
		return nil, false, err
	}
	if obs == nil {
		return nil, false, nil
	}
	return obs, true, nil
}

// ObservationBySource fetches the observation for (workspace, source id).
func (s *Store) ObservationBySource(ctx context.Context, workspaceID, sourceID string) (*observe.Observation, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.ObservationBySource", "SELECT")
	defer span.End()

	query := `SELECT ` + observationColumns + ` FROM observations WHERE workspace_id = $1 AND source_id = $2`
	obs, err := scanObservation(s.pool.QueryRow(ctx, query, workspaceID, sourceID))
	if err != nil {
		spanErr(span, err)
		return nil, false, err
	}
	if obs == nil {
		return nil, false, nil
	}
	return obs, true, nil
}

// ObservationCount returns the number of observations in a workspace.
func (s *Store) ObservationCount(ctx context.Context, workspaceID string) (int, error) {
	ctx, span := startSpan(ctx, "pgstore.ObservationCount", "SELECT")
	defer span.End()

	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM observations WHERE workspace_id = $1`, workspaceID,
	).Scan(&n); err != nil {
		spanErr(span, err)
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}

// PersistCapture inserts the observation, upserts its entities, and
// applies the cluster change in one transaction. Returns
// observe.ErrDuplicate (and writes nothing, cluster included) when the
// (workspace, source id) row already exists.
func (s *Store) PersistCapture(ctx context.Context, obs *observe.Observation, entities []extract.Entity, change cluster.Change) error {
	ctx, span := startSpan(ctx, "pgstore.PersistCapture", "INSERT")
	defer span.End()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		spanErr(span, err)
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	if err := insertObservation(ctx, tx, obs); err != nil {
		if !errors.Is(err, observe.ErrDuplicate) {
			spanErr(span, err)
		}
		return err
	}

	for _, e := range entities {
		if err := upsertEntity(ctx, tx, obs.WorkspaceID, e, obs.OccurredAt); err != nil {
			spanErr(span, err)
			return err
		}
	}

	switch {
	case change.Create != nil:
		if err := insertCluster(ctx, tx, change.Create); err != nil {
			spanErr(span, err)
			return err
		}
	case change.Join != nil:
		if err := joinCluster(ctx, tx, change.Join); err != nil {
			spanErr(span, err)
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		spanErr(span, err)
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func insertObservation(ctx context.Context, tx pgx.Tx, obs *observe.Observation) error {
	topicsJSON, err := json.Marshal(orEmpty(obs.Topics))
	if err != nil {
		return fmt.Errorf("marshal topics: %w", err)
	}
	refsJSON, err := json.Marshal(obs.References)
	if err != nil {
		return fmt.Errorf("marshal references: %w", err)
	}
	metaJSON, err := json.Marshal(obs.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var clusterID *string
	if obs.ClusterID != "" {
		clusterID = &obs.ClusterID
	}

	// the id derives from (workspace, source id), so a conflict on either
	// unique index means the same duplicate
	tag, err := tx.Exec(ctx,
		`INSERT INTO observations (
			id, workspace_id, occurred_at, actor, actor_name, obs_type, title,
			content, topics, score, source, source_type, source_id, refs, metadata,
			embedding_id, cluster_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT DO NOTHING`,
		obs.ID, obs.WorkspaceID, obs.OccurredAt, obs.Actor, obs.ActorName, obs.Type, obs.Title,
		obs.Content, topicsJSON, obs.Score, obs.Source, obs.SourceType, obs.SourceID, refsJSON, metaJSON,
		obs.EmbeddingID, clusterID, obs.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return observe.ErrDuplicate
	}
	return nil
}

func upsertEntity(ctx context.Context, tx pgx.Tx, workspaceID string, e extract.Entity, seenAt time.Time) error {
	// confidence is monotonic-max; value/evidence follow the winning entry
	_, err := tx.Exec(ctx,
		`INSERT INTO entities (workspace_id, category, key, value, confidence, evidence, occurrences, last_seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
		 ON CONFLICT (workspace_id, category, key) DO UPDATE SET
			value        = CASE WHEN EXCLUDED.confidence > entities.confidence THEN EXCLUDED.value ELSE entities.value END,
			evidence     = CASE WHEN EXCLUDED.confidence > entities.confidence THEN EXCLUDED.evidence ELSE entities.evidence END,
			confidence   = GREATEST(entities.confidence, EXCLUDED.confidence),
			occurrences  = entities.occurrences + 1,
			last_seen_at = EXCLUDED.last_seen_at`,
		workspaceID, string(e.Category), e.Key, e.Value, e.Confidence, e.Evidence, seenAt,
	)
	if err != nil {
		return fmt.Errorf("upsert entity %s: %w", e.DedupKey(), err)
	}
	return nil
}

const clusterColumns = `id, workspace_id, topic, centroid_id, keywords, primary_entities,
	primary_actors, status, observation_count, first_observed_at, last_observed_at,
	summary, summarized_at`

// ActiveClusters returns open clusters last active since the cutoff, most
// recent first.
func (s *Store) ActiveClusters(ctx context.Context, workspaceID string, since time.Time, limit int) ([]*cluster.Cluster, error) {
	ctx, span := startSpan(ctx, "pgstore.ActiveClusters", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx,
		`SELECT `+clusterColumns+` FROM clusters
		 WHERE workspace_id = $1 AND status = 'open' AND last_observed_at >= $2
		 ORDER BY last_observed_at DESC
		 LIMIT $3`,
		workspaceID, since, limit,
	)
	if err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("query clusters: %w", err)
	}
	defer rows.Close()

	var out []*cluster.Cluster
	for rows.Next() {
		cl, err := scanCluster(rows)
		if err != nil {
			spanErr(span, err)
			return nil, err
		}
		out = append(out, cl)
	}
	if err := rows.Err(); err != nil {
		spanErr(span, err)
		return nil, fmt.Errorf("iterate clusters: %w", err)
	}
	return out, nil
}

// Cluster fetches one cluster by id.
func (s *Store) Cluster(ctx context.Context, id string) (*cluster.Cluster, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.Cluster", "SELECT")
	defer span.End()

	row := s.pool.QueryRow(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = $1`, id)
	cl, err := scanCluster(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		spanErr(span, err)
		return nil, false, err
	}
	return cl, true, nil
}

// CreateCluster persists a cluster row outside a capture, for seeding
// and backfill. Captures create clusters through PersistCapture instead.
func (s *Store) CreateCluster(ctx context.Context, cl *cluster.Cluster) error {
	ctx, span := startSpan(ctx, "pgstore.CreateCluster", "INSERT")
	defer span.End()

	if err := insertCluster(ctx, s.pool, cl); err != nil {
		spanErr(span, err)
		return err
	}
	return nil
}

// execer is satisfied by both pgxpool.Pool and pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertCluster(ctx context.Context, q execer, cl *cluster.Cluster) error {
	keywordsJSON, err := json.Marshal(orEmpty(cl.Keywords))
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	entitiesJSON, err := json.Marshal(orEmpty(cl.PrimaryEntities))
	if err != nil {
		return fmt.Errorf("marshal primary_entities: %w", err)
	}
	actorsJSON, err := json.Marshal(orEmpty(cl.PrimaryActors))
	if err != nil {
		return fmt.Errorf("marshal primary_actors: %w", err)
	}

	_, err = q.Exec(ctx,
		`INSERT INTO clusters (
			id, workspace_id, topic, centroid_id, keywords, primary_entities,
			primary_actors, status, observation_count, first_observed_at, last_observed_at, summary
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		cl.ID, cl.WorkspaceID, cl.Topic, cl.CentroidID, keywordsJSON, entitiesJSON,
		actorsJSON, string(cl.Status), cl.ObservationCount, cl.FirstObservedAt, cl.LastObservedAt, cl.Summary,
	)
	if err != nil {
		return fmt.Errorf("insert cluster: %w", err)
	}
	return nil
}

// joinCluster merges the join into the cluster's bounded sets,
// increments the observation count, and bumps last activity, with the
// row locked inside the caller's transaction.
func joinCluster(ctx context.Context, tx pgx.Tx, j *cluster.Join) error {
	row := tx.QueryRow(ctx, `SELECT `+clusterColumns+` FROM clusters WHERE id = $1 FOR UPDATE`, j.ClusterID)
	cl, err := scanCluster(row)
	if err != nil {
		return fmt.Errorf("lock cluster: %w", err)
	}

	entities := mergeBounded(cl.PrimaryEntities, j.EntityIDs, j.MaxEntities)
	actors := cl.PrimaryActors
	if j.ActorID != "" {
		actors = mergeBounded(cl.PrimaryActors, []string{j.ActorID}, j.MaxActors)
	}

	entitiesJSON, err := json.Marshal(orEmpty(entities))
	if err != nil {
		return fmt.Errorf("marshal primary_entities: %w", err)
	}
	actorsJSON, err := json.Marshal(orEmpty(actors))
	if err != nil {
		return fmt.Errorf("marshal primary_actors: %w", err)
	}

	last := cl.LastObservedAt
	if j.OccurredAt.After(last) {
		last = j.OccurredAt
	}

	if _, err := tx.Exec(ctx,
		`UPDATE clusters SET
			primary_entities  = $2,
			primary_actors    = $3,
			observation_count = observation_count + 1,
			last_observed_at  = $4
		 WHERE id = $1`,
		j.ClusterID, entitiesJSON, actorsJSON, last,
	); err != nil {
		return fmt.Errorf("update cluster: %w", err)
	}
	return nil
}

// mergeBounded appends new members to a set, dedups, and evicts oldest
// entries first when over the bound (most-recent-wins).
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

func scanObservation(row pgx.Row) (*observe.Observation, error) {
	var (
		obs        observe.Observation
		topicsJSON []byte
		refsJSON   []byte
		metaJSON   []byte
		clusterID  *string
	)
	err := row.Scan(
		&obs.ID, &obs.WorkspaceID, &obs.OccurredAt, &obs.Actor, &obs.ActorName, &obs.Type, &obs.Title,
		&obs.Content, &topicsJSON, &obs.Score, &obs.Source, &obs.SourceType, &obs.SourceID, &refsJSON, &metaJSON,
		&obs.EmbeddingID, &clusterID, &obs.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan observation: %w", err)
	}
	if err := json.Unmarshal(topicsJSON, &obs.Topics); err != nil {
		return nil, fmt.Errorf("unmarshal topics: %w", err)
	}
	if err := json.Unmarshal(refsJSON, &obs.References); err != nil {
		return nil, fmt.Errorf("unmarshal references: %w", err)
	}
	if err := json.Unmarshal(metaJSON, &obs.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	if clusterID != nil {
		obs.ClusterID = *clusterID
	}
	return &obs, nil
}

func scanCluster(row pgx.Row) (*cluster.Cluster, error) {
	var (
		cl           cluster.Cluster
		keywordsJSON []byte
		entitiesJSON []byte
		actorsJSON   []byte
		status       string
		summarizedAt *time.Time
	)
	err := row.Scan(
		&cl.ID, &cl.WorkspaceID, &cl.Topic, &cl.CentroidID, &keywordsJSON, &entitiesJSON,
		&actorsJSON, &status, &cl.ObservationCount, &cl.FirstObservedAt, &cl.LastObservedAt,
		&cl.Summary, &summarizedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, fmt.Errorf("scan cluster: %w", err)
	}
	cl.Status = cluster.Status(status)
	if err := json.Unmarshal(keywordsJSON, &cl.Keywords); err != nil {
		return nil, fmt.Errorf("unmarshal keywords: %w", err)
	}
	if err := json.Unmarshal(entitiesJSON, &cl.PrimaryEntities); err != nil {
		return nil, fmt.Errorf("unmarshal primary_entities: %w", err)
	}
	if err := json.Unmarshal(actorsJSON, &cl.PrimaryActors); err != nil {
		return nil, fmt.Errorf("unmarshal primary_actors: %w", err)
	}
	if summarizedAt != nil {
		cl.SummarizedAt = *summarizedAt
	}
	return &cl, nil
}

// orEmpty keeps JSONB columns as [] instead of null for nil slices.
func orEmpty(xs []string) []string {
	if xs == nil {
		return []string{}
	}
	return xs
}
