// Package protocol defines the contracts between the orchestrator and
// pluggable step actions.
package protocol

import (
	"context"
	"log/slog"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

// Action is an opaque unit invoked for one step. It receives the step's
// execution context (parameters, working directory, injected secrets,
// artifact inputs) and returns declared artifact outputs plus a log
// stream. A non-nil error is a failure outcome; the orchestrator does
// not interpret action internals beyond that.
type Action interface {
	Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (*models.ActionResult, error)
}

// ActionFactory creates action instances from step configuration.
type ActionFactory interface {
	ID() string
	Create(config map[string]any) (Action, error)
}
