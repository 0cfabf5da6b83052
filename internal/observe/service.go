package observe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/mnemon/internal/classify"
	"github.com/linnemanlabs/mnemon/internal/cluster"
	"github.com/linnemanlabs/mnemon/internal/event"
	"github.com/linnemanlabs/mnemon/internal/extract"
	"github.com/linnemanlabs/mnemon/internal/score"
)

// Embedder generates an embedding vector for event text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorWriter upserts vectors into the external index.
type VectorWriter interface {
	UpsertVector(ctx context.Context, namespace, id string, vec []float32, metadata map[string]any) error
	UpsertCentroid(ctx context.Context, namespace, centroidID, clusterID string, vec []float32) error
}

// Assigner decides cluster membership for a new observation.
type Assigner interface {
	Assign(ctx context.Context, c cluster.Candidate) (*cluster.Assignment, error)
}

// Config holds pipeline timeouts and retry bounds.
type Config struct {
	AcceptTimeout   time.Duration // initial acceptance (dedup + validation)
	CaptureTimeout  time.Duration // full pipeline budget
	SemanticTimeout time.Duration // best-effort language-model extraction
	MaxAttempts     uint          // per external step
}

// DefaultConfig returns the stock pipeline tunables.
func DefaultConfig() Config {
	return Config{
		AcceptTimeout:   5 * time.Second,
		CaptureTimeout:  2 * time.Minute,
		SemanticTimeout: 15 * time.Second,
		MaxAttempts:     3,
	}
}

// Service runs the observation pipeline: dedup, allow-listing,
// significance gating, concurrent classify/embed/extract, vector upsert,
// cluster assignment, transactional persistence, and completion publish.
type Service struct {
	cfg        Config
	store      Store
	scorer     *score.Scorer
	classifier classify.Classifier
	extractor  *extract.Extractor
	semantic   *extract.Semantic // optional
	embedder   Embedder
	vectors    VectorWriter
	clusters   Assigner
	publisher  Publisher // optional
	logger     log.Logger
	metrics    *Metrics

	disconnected sync.Map // workspace id -> struct{}
}

// NewService wires the pipeline. semantic and publisher may be nil.
func NewService(
	cfg Config,
	store Store,
	scorer *score.Scorer,
	classifier classify.Classifier,
	extractor *extract.Extractor,
	semantic *extract.Semantic,
	embedder Embedder,
	vectors VectorWriter,
	clusters Assigner,
	publisher Publisher,
	logger log.Logger,
	metrics *Metrics,
) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		cfg:        cfg,
		store:      store,
		scorer:     scorer,
		classifier: classifier,
		extractor:  extractor,
		semantic:   semantic,
		embedder:   embedder,
		vectors:    vectors,
		clusters:   clusters,
		publisher:  publisher,
		logger:     logger,
		metrics:    metrics,
	}
}

// Disconnect marks a workspace's source as disconnected. In-flight
// captures halt cooperatively before their next step.
func (s *Service) Disconnect(workspaceID string) {
	s.disconnected.Store(workspaceID, struct{}{})
}

// Reconnect clears the disconnected flag.
func (s *Service) Reconnect(workspaceID string) {
	s.disconnected.Delete(workspaceID)
}

func (s *Service) halted(workspaceID string) bool {
	_, ok := s.disconnected.Load(workspaceID)
	return ok
}

// Submit accepts an event for asynchronous capture. Only cheap checks run
// inside the request: dedup and the disconnect flag. The full pipeline
// runs detached from the caller's context.
func (s *Service) Submit(ctx context.Context, workspaceID string, ev *event.SourceEvent) (*SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.AcceptTimeout)
	defer cancel()

	if s.halted(workspaceID) {
		return &SubmitResult{SourceID: ev.SourceID, Reason: "source disconnected"}, nil
	}

	if _, ok, err := s.store.ObservationBySource(ctx, workspaceID, ev.SourceID); err != nil {
		return nil, err
	} else if ok {
		return &SubmitResult{SourceID: ev.SourceID, Reason: "duplicate"}, nil
	}

	go s.captureAsync(context.WithoutCancel(ctx), workspaceID, ev)

	return &SubmitResult{Accepted: true, SourceID: ev.SourceID}, nil
}

func (s *Service) captureAsync(ctx context.Context, workspaceID string, ev *event.SourceEvent) {
	L := s.logger.With("workspace_id", workspaceID, "source_id", ev.SourceID)

	res, err := s.Capture(ctx, workspaceID, ev)
	if err != nil {
		L.Error(ctx, err, "capture failed")
		return
	}
	L.Info(ctx, "capture finished",
		"outcome", res.Outcome,
		"observation_id", res.ObservationID,
		"score", res.Score,
		"cluster_id", res.ClusterID,
	)
}

// Observation retrieves an observation by id.
func (s *Service) Observation(ctx context.Context, id string) (*Observation, bool, error) {
	return s.store.Observation(ctx, id)
}

// Capture runs the full pipeline synchronously and returns a structured
// result. Gating outcomes are not errors. Safe to re-invoke: a duplicate
// submission after success returns the existing observation id and writes
// nothing.
func (s *Service) Capture(ctx context.Context, workspaceID string, ev *event.SourceEvent) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.CaptureTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.capture(ctx, workspaceID, ev)
	if s.metrics != nil {
		outcome := "error"
		if err == nil {
			outcome = string(res.Outcome)
		}
		s.metrics.CapturesTotal.WithLabelValues(outcome).Inc()
		s.metrics.CaptureDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}
	return res, err
}

func (s *Service) capture(ctx context.Context, workspaceID string, ev *event.SourceEvent) (*Result, error) {
	if s.halted(workspaceID) {
		return &Result{Outcome: OutcomeHalted, Reason: "source disconnected"}, nil
	}

	// dedup check: at most one observation per (workspace, source id)
	if existing, ok, err := s.store.ObservationBySource(ctx, workspaceID, ev.SourceID); err != nil {
		return nil, fmt.Errorf("dedup check: %w", err)
	} else if ok {
		return &Result{
			Outcome:       OutcomeDuplicate,
			ObservationID: existing.ID,
			Score:         existing.Score,
			ClusterID:     existing.ClusterID,
		}, nil
	}

	ws, ok, err := s.store.Workspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("workspace lookup: %w", err)
	}
	if !ok {
		return nil, &ConfigError{Reason: "unknown workspace " + workspaceID}
	}
	if ws.EmbeddingModel == "" {
		return nil, &ConfigError{Reason: "workspace " + workspaceID + " has no embedding model"}
	}

	if !ws.SourceAllowed(ev.Source) {
		return &Result{Outcome: OutcomeFiltered, Reason: "source not allowed: " + ev.Source}, nil
	}

	// significance gate: everything downstream depends on this
	sc := s.scorer.Score(ev)
	if s.metrics != nil {
		s.metrics.SignificanceScore.Observe(float64(sc.Score))
	}
	if !s.scorer.Passes(sc.Score) {
		return &Result{Outcome: OutcomeBelowThreshold, Score: sc.Score, Factors: sc.Factors}, nil
	}

	if s.halted(workspaceID) {
		return &Result{Outcome: OutcomeHalted, Reason: "source disconnected"}, nil
	}

	text := ev.Title + "\n" + ev.Body

	// fan-out: classification, embedding, and extraction have no
	// interdependencies
	var (
		wg       sync.WaitGroup
		cls      classify.Result
		entities []extract.Entity
		emb      []float32
		embErr   error
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		cls = s.classifier.Classify(ctx, ev)
	}()
	go func() {
		defer wg.Done()
		entities = s.extractor.Extract(text, ev.References)
	}()
	go func() {
		defer wg.Done()
		emb, embErr = s.retryEmbed(ctx, text)
	}()
	wg.Wait()

	if embErr != nil {
		return nil, fmt.Errorf("embedding: %w", embErr)
	}

	// semantic tier: best-effort, never blocks or fails the pattern result
	if s.semantic != nil {
		entities = s.mergeSemantic(ctx, text, entities)
	}
	if s.metrics != nil {
		s.metrics.EntitiesExtracted.Observe(float64(len(entities)))
	}

	if s.halted(workspaceID) {
		return &Result{Outcome: OutcomeHalted, Reason: "source disconnected"}, nil
	}

	obsID := observationID(workspaceID, ev.SourceID, ev.OccurredAt)

	if err := s.retryUpsertVector(ctx, workspaceID, obsID, emb, ev, sc.Score, cls); err != nil {
		return nil, fmt.Errorf("vector upsert: %w", err)
	}

	assignment, err := s.clusters.Assign(ctx, cluster.Candidate{
		WorkspaceID:   workspaceID,
		ObservationID: obsID,
		Title:         ev.Title,
		Topics:        cls.Topics(),
		EntityIDs:     entityKeys(entities),
		ActorID:       ev.Actor,
		Embedding:     emb,
		OccurredAt:    ev.OccurredAt,
	})
	if err != nil {
		return nil, fmt.Errorf("cluster assignment: %w", err)
	}
	if s.metrics != nil {
		result := "joined"
		if assignment.IsNew {
			result = "created"
		}
		s.metrics.ClusterAssignments.WithLabelValues(result).Inc()
	}

	obs := &Observation{
		ID:          obsID,
		WorkspaceID: workspaceID,
		OccurredAt:  ev.OccurredAt,
		Actor:       ev.Actor,
		ActorName:   ev.ActorName,
		Type:        string(cls.Primary),
		Title:       ev.Title,
		Content:     ev.Body,
		Topics:      cls.Topics(),
		Score:       sc.Score,
		Source:      ev.Source,
		SourceType:  ev.SourceType,
		SourceID:    ev.SourceID,
		References:  ev.References,
		Metadata:    ev.Metadata,
		EmbeddingID: obsID,
		ClusterID:   assignment.ClusterID,
		CreatedAt:   time.Now(),
	}

	if err := s.retryPersist(ctx, obs, entities, assignment.Change); err != nil {
		if errors.Is(err, ErrDuplicate) {
			// lost a race with a concurrent retry; the other attempt's
			// observation is the one that counts
			if existing, ok, gerr := s.store.ObservationBySource(ctx, workspaceID, ev.SourceID); gerr == nil && ok {
				return &Result{Outcome: OutcomeDuplicate, ObservationID: existing.ID, Score: existing.Score, ClusterID: existing.ClusterID}, nil
			}
			return &Result{Outcome: OutcomeDuplicate}, nil
		}
		return nil, fmt.Errorf("persist capture: %w", err)
	}

	// the centroid follows the committed cluster row; a missing centroid
	// only degrades the embedding component of later affinity scores
	if created := assignment.Change.Create; created != nil && len(emb) > 0 {
		if err := s.retryUpsertCentroid(ctx, workspaceID, created.CentroidID, created.ID, emb); err != nil {
			s.logger.Warn(ctx, "centroid upsert failed", "cluster_id", created.ID, "error", err)
		}
	}

	if s.publisher != nil {
		s.publisher.Publish(ctx, CompletionEvent{
			WorkspaceID:      workspaceID,
			ObservationID:    obsID,
			SourceID:         ev.SourceID,
			ObservationType:  obs.Type,
			Score:            sc.Score,
			Topics:           obs.Topics,
			ClusterID:        assignment.ClusterID,
			ActorID:          ev.Actor,
			ActorName:        ev.ActorName,
			HasRelationships: !assignment.IsNew,
		})
	}

	return &Result{
		Outcome:       OutcomeCaptured,
		ObservationID: obsID,
		Score:         sc.Score,
		Factors:       sc.Factors,
		ClusterID:     assignment.ClusterID,
		NewCluster:    assignment.IsNew,
	}, nil
}

// retryEmbed calls the embedding provider with exponential backoff;
// transient failures are retried, context cancellation is not.
func (s *Service) retryEmbed(ctx context.Context, text string) ([]float32, error) {
	return backoff.Retry(ctx, func() ([]float32, error) {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil && ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return vec, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(s.cfg.MaxAttempts))
}

func (s *Service) retryUpsertVector(ctx context.Context, workspaceID, obsID string, emb []float32, ev *event.SourceEvent, scoreVal int, cls classify.Result) error {
	meta := map[string]any{
		"kind":         "observation",
		"workspace_id": workspaceID,
		"source_id":    ev.SourceID,
		"type":         string(cls.Primary),
		"score":        scoreVal,
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.vectors.UpsertVector(ctx, workspaceID, obsID, emb, meta)
		if err != nil && ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(s.cfg.MaxAttempts))
	return err
}

func (s *Service) retryUpsertCentroid(ctx context.Context, workspaceID, centroidID, clusterID string, emb []float32) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.vectors.UpsertCentroid(ctx, workspaceID, centroidID, clusterID, emb)
		if err != nil && ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(s.cfg.MaxAttempts))
	return err
}

// retryPersist commits the capture with exponential backoff. Duplicates
// and configuration failures are terminal; only transient store errors
// are retried.
func (s *Service) retryPersist(ctx context.Context, obs *Observation, entities []extract.Entity, change cluster.Change) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.store.PersistCapture(ctx, obs, entities, change)
		if err != nil && (errors.Is(err, ErrDuplicate) || IsConfigError(err) || ctx.Err() != nil) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(s.cfg.MaxAttempts))
	return err
}

// mergeSemantic runs the language-model extraction tier under its own
// timeout and merges the result with the same max-confidence rule used by
// the pattern tier. Errors only cost us the extra entities.
func (s *Service) mergeSemantic(ctx context.Context, text string, entities []extract.Entity) []extract.Entity {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SemanticTimeout)
	defer cancel()

	extra, err := s.semantic.Extract(sctx, text)
	if err != nil {
		s.logger.Warn(ctx, "semantic extraction skipped", "error", err)
		return entities
	}
	if len(extra) == 0 {
		return entities
	}

	merged := make(map[string]extract.Entity, len(entities)+len(extra))
	for _, e := range entities {
		extract.Merge(merged, e)
	}
	for _, e := range extra {
		extract.Merge(merged, e)
	}
	out := make([]extract.Entity, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	return out
}

// observationID derives the observation id from the dedup key and the
// event time. Stable across retries: a resubmitted event writes the same
// vector id and observation row instead of orphaning the first attempt.
func observationID(workspaceID, sourceID string, occurredAt time.Time) string {
	entropy := sha256.Sum256([]byte(workspaceID + "|" + sourceID))
	ms := ulid.Timestamp(occurredAt)
	if ms > ulid.MaxTime() {
		ms = 0
	}
	return ulid.MustNew(ms, bytes.NewReader(entropy[:])).String()
}

// entityKeys flattens entities into dedup keys for cluster overlap.
func entityKeys(entities []extract.Entity) []string {
	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		keys = append(keys, e.DedupKey())
	}
	return keys
}
