package notify

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/mnemon/internal/delivery"
	"github.com/linnemanlabs/mnemon/internal/directory"
	"github.com/linnemanlabs/mnemon/internal/observe"
)

// DispatchOutcome is the terminal state of one dispatch attempt.
type DispatchOutcome string

const (
	OutcomeDelivered  DispatchOutcome = "delivered"
	OutcomeSuppressed DispatchOutcome = "suppressed"
	OutcomeSkipped    DispatchOutcome = "skipped" // missing org or delivery config, or no recipients
)

// WorkspaceSource provides the workspace fields the dispatcher needs.
// Satisfied by observe.Store.
type WorkspaceSource interface {
	Workspace(ctx context.Context, id string) (*observe.Workspace, bool, error)
	ObservationCount(ctx context.Context, workspaceID string) (int, error)
}

// Lister resolves an organization's member roster.
type Lister interface {
	Configured() bool
	ListMembers(ctx context.Context, orgID string) ([]directory.Member, error)
}

// Deliverer triggers delivery workflows.
type Deliverer interface {
	Configured() bool
	Trigger(ctx context.Context, workflowKey string, p delivery.Payload) error
}

// Dispatcher consumes completion events, applies the rubric, resolves
// recipients, and invokes delivery. It implements observe.Publisher.
type Dispatcher struct {
	rubric    *Rubric
	store     WorkspaceSource
	directory Lister
	delivery  Deliverer
	logger    log.Logger
	metrics   *Metrics
}

// NewDispatcher wires a dispatcher. metrics may be nil.
func NewDispatcher(rubric *Rubric, store WorkspaceSource, dir Lister, del Deliverer, logger log.Logger, metrics *Metrics) *Dispatcher {
	if logger == nil {
		logger = log.Nop()
	}
	return &Dispatcher{
		rubric:    rubric,
		store:     store,
		directory: dir,
		delivery:  del,
		logger:    logger,
		metrics:   metrics,
	}
}

// Publish implements observe.Publisher. Dispatch failures are logged, not
// propagated: notification is best-effort relative to capture.
func (d *Dispatcher) Publish(ctx context.Context, ev observe.CompletionEvent) {
	outcome, err := d.Dispatch(ctx, ev)
	if err != nil {
		d.logger.Error(ctx, err, "notification dispatch failed",
			"workspace_id", ev.WorkspaceID,
			"observation_id", ev.ObservationID,
		)
		if d.metrics != nil {
			d.metrics.DispatchTotal.WithLabelValues("error").Inc()
		}
		return
	}
	if d.metrics != nil {
		d.metrics.DispatchTotal.WithLabelValues(string(outcome)).Inc()
	}
}

// Dispatch runs the full decision and delivery flow for one completion
// event. Missing organization or delivery configuration yields
// OutcomeSkipped, not an error.
func (d *Dispatcher) Dispatch(ctx context.Context, ev observe.CompletionEvent) (DispatchOutcome, error) {
	ws, ok, err := d.store.Workspace(ctx, ev.WorkspaceID)
	if err != nil {
		return "", fmt.Errorf("load workspace: %w", err)
	}
	if !ok {
		d.logger.Warn(ctx, "dispatch for unknown workspace", "workspace_id", ev.WorkspaceID)
		return OutcomeSkipped, nil
	}

	count, err := d.store.ObservationCount(ctx, ev.WorkspaceID)
	if err != nil {
		return "", fmt.Errorf("load observation count: %w", err)
	}
	maturity := d.rubric.cfg.MaturityFor(count)

	decision := d.rubric.Classify(ev, maturity)
	if d.metrics != nil {
		d.metrics.WorthinessScore.Observe(float64(decision.Worthiness.Total))
	}
	if decision.Suppressed {
		d.logger.Info(ctx, "notification suppressed",
			"workspace_id", ev.WorkspaceID,
			"observation_id", ev.ObservationID,
			"category", decision.Category,
			"reason", decision.SuppressReason,
		)
		return OutcomeSuppressed, nil
	}

	if ws.OrgID == "" {
		d.logger.Info(ctx, "notification skipped: workspace has no org", "workspace_id", ev.WorkspaceID)
		return OutcomeSkipped, nil
	}
	if d.delivery == nil || !d.delivery.Configured() {
		d.logger.Info(ctx, "notification skipped: delivery not configured", "workspace_id", ev.WorkspaceID)
		return OutcomeSkipped, nil
	}
	if d.directory == nil || !d.directory.Configured() {
		d.logger.Info(ctx, "notification skipped: directory not configured", "workspace_id", ev.WorkspaceID)
		return OutcomeSkipped, nil
	}

	members, err := d.directory.ListMembers(ctx, ws.OrgID)
	if err != nil {
		return "", fmt.Errorf("list org members: %w", err)
	}
	recipients := Resolve(decision.Targeting, members)
	if len(recipients) == 0 {
		d.logger.Info(ctx, "notification skipped: no recipients after targeting",
			"workspace_id", ev.WorkspaceID,
			"targeting", decision.Targeting.Kind,
		)
		return OutcomeSkipped, nil
	}

	payload := delivery.Payload{
		Recipients: recipients,
		Tenant:     ws.OrgID,
		Data: map[string]any{
			"workspace_id":   ev.WorkspaceID,
			"observation_id": ev.ObservationID,
			"type":           ev.ObservationType,
			"score":          ev.Score,
			"topics":         ev.Topics,
			"cluster_id":     ev.ClusterID,
			"actor_name":     ev.ActorName,
			"category":       decision.Category,
			"tier":           decision.Tier,
		},
	}
	if err := d.delivery.Trigger(ctx, decision.WorkflowKey, payload); err != nil {
		return "", fmt.Errorf("trigger %s: %w", decision.WorkflowKey, err)
	}

	d.logger.Info(ctx, "notification delivered",
		"workspace_id", ev.WorkspaceID,
		"observation_id", ev.ObservationID,
		"workflow", decision.WorkflowKey,
		"recipients", len(recipients),
	)
	return OutcomeDelivered, nil
}

// Resolve applies a targeting rule to the member roster.
func Resolve(rule TargetingRule, members []directory.Member) []delivery.Recipient {
	out := make([]delivery.Recipient, 0, len(members))
	for _, m := range members {
		switch rule.Kind {
		case TargetExcludeActor:
			if rule.ExcludeActorID != "" && m.ID == rule.ExcludeActorID {
				continue
			}
		case TargetRole:
			if m.Role != rule.Role {
				continue
			}
		case TargetAllMembers:
		}
		out = append(out, delivery.Recipient{ID: m.ID, Name: m.Name, Email: m.Email})
	}
	return out
}
