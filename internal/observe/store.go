package observe

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/mnemon/internal/cluster"
	"github.com/linnemanlabs/mnemon/internal/extract"
)

// ErrDuplicate is returned by Store.PersistCapture when an observation for
// the same (workspace, source id) already exists. The entity upserts in
// the same transaction are rolled back, so a concurrent retry never
// double-increments occurrence counts.
var ErrDuplicate = errors.New("observation already exists")

// ConfigError marks a non-retriable configuration failure (missing
// workspace, missing embedding setup). Callers must not retry.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s", e.Reason)
}

// IsConfigError reports whether err is a non-retriable configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Store is the persistence interface for the observation pipeline.
type Store interface {
	// Workspace fetches tenant configuration.
	Workspace(ctx context.Context, id string) (*Workspace, bool, error)
	// Observation fetches one observation by id.
	Observation(ctx context.Context, id string) (*Observation, bool, error)
	// ObservationBySource fetches the observation for (workspace, source id),
	// used as the idempotency check.
	ObservationBySource(ctx context.Context, workspaceID, sourceID string) (*Observation, bool, error)
	// ObservationCount returns the number of observations in a workspace.
	ObservationCount(ctx context.Context, workspaceID string) (int, error)
	// PersistCapture inserts the observation, upserts its entities, and
	// applies the cluster change in one transaction, so a failed or
	// retried capture never mutates the cluster without its observation.
	// Entity upserts are monotonic-max on confidence and increment
	// occurrence counts. Returns ErrDuplicate when the observation
	// already exists; nothing is written in that case.
	PersistCapture(ctx context.Context, obs *Observation, entities []extract.Entity, change cluster.Change) error
}
