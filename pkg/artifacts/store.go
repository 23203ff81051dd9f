// Package artifacts holds artifacts produced by jobs for consumption by
// their dependents within the same run.
package artifacts

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates no readable artifact exists under the name.
	// An artifact is readable only once its producing job has succeeded.
	ErrNotFound = errors.New("artifact not found")

	// ErrAlreadyExists indicates a producing job tried to overwrite one of
	// its own artifact names. Overwrites are never silent.
	ErrAlreadyExists = errors.New("artifact already exists")
)

// Store is the artifact hand-off contract between jobs of a run.
// Artifacts become visible to Get only after Seal marks the producing
// job succeeded, and are released when the owning run terminates, after
// the retention window.
type Store interface {
	Put(ctx context.Context, runID, name, producingJobID string, payload []byte) error
	Get(ctx context.Context, runID, name string) ([]byte, error)

	// Seal makes every artifact the job produced readable. Called by the
	// scheduler when the producing job reaches Succeeded.
	Seal(ctx context.Context, runID, producingJobID string) error

	// Release schedules removal of all artifacts of a terminated run once
	// the retention window elapses, so failed-run artifacts stay
	// inspectable for a while.
	Release(ctx context.Context, runID string, retention time.Duration) error

	Close() error
}
