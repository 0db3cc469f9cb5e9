package ports

import (
	"context"
	"time"

	"github.com/web3devz/polytrader/internal/domain"
)

// Checkpoint is a durable snapshot of a run: the full state plus the node
// pointer where execution continues. Persist data, not control flow: a
// checkpoint must survive a process restart.
type Checkpoint struct {
	RunID     string
	Node      string
	Status    domain.RunStatus
	State     domain.RunState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CheckpointStore persists run checkpoints keyed by run ID.
type CheckpointStore interface {
	// Save upserts the checkpoint for checkpoint.RunID.
	Save(ctx context.Context, cp Checkpoint) error

	// Load returns the checkpoint for the run ID.
	// Fails with domain.ErrUnknownRun if no checkpoint exists.
	Load(ctx context.Context, runID string) (Checkpoint, error)

	// ListSuspended returns the checkpoints of runs waiting at the
	// interrupt point, most recent first.
	ListSuspended(ctx context.Context) ([]Checkpoint, error)

	// Close closes the underlying database cleanly.
	Close() error
}
