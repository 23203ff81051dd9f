// Package checkout implements the checkout action, which prepares a
// job's working directory for the ref the run was triggered on. The
// actual fetch mechanism is an external collaborator; the action only
// records what the workspace is positioned at.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

// ActionFactory creates checkout actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "checkout"
}

func (*ActionFactory) Create(_ map[string]any) (protocol.Action, error) {
	return &Action{}, nil
}

// Action marks the working directory with the checked-out ref.
type Action struct{}

func (*Action) Execute(_ context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (*models.ActionResult, error) {
	logger = logger.With("action_type", "checkout")

	if err := os.MkdirAll(execCtx.WorkingDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create working directory: %w", err)
	}

	marker := filepath.Join(execCtx.WorkingDir, ".conveyor-ref")
	if err := os.WriteFile(marker, []byte(execCtx.Event.Ref), 0600); err != nil {
		return nil, fmt.Errorf("failed to record checked-out ref: %w", err)
	}

	line := fmt.Sprintf("checked out %s", execCtx.Event.Ref)
	logger.Info("Checkout complete", "ref", execCtx.Event.Ref)

	return &models.ActionResult{Log: []string{line}}, nil
}
