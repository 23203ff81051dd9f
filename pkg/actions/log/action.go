// Package log implements the log action, used by notification and
// debugging steps.
package log

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

// ActionFactory creates log actions.
type ActionFactory struct{}

func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

func (*ActionFactory) ID() string {
	return "log"
}

func (*ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	message, _ := config["message"].(string)
	level, _ := config["level"].(string)

	return &Action{message: message, level: level}, nil
}

// Action writes a message into the step's log stream.
type Action struct {
	message string
	level   string
}

func (a *Action) Execute(_ context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (*models.ActionResult, error) {
	logger = logger.With("action_type", "log")

	message := a.message
	if message == "" {
		message = fmt.Sprintf("run %s job %s step %s", execCtx.RunID, execCtx.JobID, execCtx.StepName)
	}

	switch a.level {
	case "debug":
		logger.Debug(message)
	case "warn":
		logger.Warn(message)
	case "error":
		logger.Error(message)
	default:
		logger.Info(message)
	}

	return &models.ActionResult{Log: []string{message}}, nil
}
