// Package persistence defines the durable storage contract for run
// state. The coordinator records every state transition so a crash
// leaves each run recoverable from its last durably recorded state.
package persistence

import (
	"context"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

// Persistence is the storage boundary of the coordinator.
type Persistence interface {
	RunRepository() RunRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// RunRepository stores run records keyed by run id.
type RunRepository interface {
	// Save writes the full run record, overwriting any previous state.
	Save(ctx context.Context, run *models.Run) error

	// Get returns the run record, or ErrRunNotFound.
	Get(ctx context.Context, runID string) (*models.Run, error)

	// ListUnfinished returns runs whose status is not terminal, for
	// recovery after a coordinator restart.
	ListUnfinished(ctx context.Context) ([]*models.Run, error)
}
