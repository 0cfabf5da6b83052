// Package captureapi exposes the observation pipeline over HTTP: event
// ingest plus observation and cluster lookups.
package captureapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/mnemon/internal/cluster"
	"github.com/linnemanlabs/mnemon/internal/event"
	"github.com/linnemanlabs/mnemon/internal/observe"
)

// PipelineService defines the business operations captureapi needs.
type PipelineService interface {
	Submit(ctx context.Context, workspaceID string, ev *event.SourceEvent) (*observe.SubmitResult, error)
	Observation(ctx context.Context, id string) (*observe.Observation, bool, error)
	Disconnect(workspaceID string)
	Reconnect(workspaceID string)
}

// ClusterSource fetches clusters for read endpoints.
type ClusterSource interface {
	Cluster(ctx context.Context, id string) (*cluster.Cluster, bool, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger   log.Logger
	svc      PipelineService
	clusters ClusterSource
}

// New creates a new API handler.
func New(logger log.Logger, svc PipelineService, clusters ClusterSource) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("pipeline service is required"))
	}
	return &API{
		logger:   logger,
		svc:      svc,
		clusters: clusters,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/events", a.handleIngestEvents)
		r.Get("/observations/{id}", a.handleGetObservation)
		r.Get("/clusters/{id}", a.handleGetCluster)
		r.Post("/workspaces/{id}/disconnect", a.handleDisconnect)
		r.Post("/workspaces/{id}/reconnect", a.handleReconnect)
	})
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a.svc.Disconnect(id)
	a.logger.Info(r.Context(), "workspace source disconnected", "workspace_id", id)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"workspace_id": id, "halted": true})
}

func (a *API) handleReconnect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a.svc.Reconnect(id)
	a.logger.Info(r.Context(), "workspace source reconnected", "workspace_id", id)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"workspace_id": id, "halted": false})
}

func (a *API) handleGetObservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("mnemon.observation.id", id))

	obs, ok, err := a.svc.Observation(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get observation", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(obs)
}

func (a *API) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("mnemon.cluster.id", id))

	if a.clusters == nil {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	cl, ok, err := a.clusters.Cluster(r.Context(), id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get cluster", "id", id)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(cl)
}
