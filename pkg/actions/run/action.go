// Package run implements the shell command action. Build, test and
// deploy steps of a pipeline are expressed through it.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

// ActionFactory creates run actions.
type ActionFactory struct{}

// NewActionFactory creates a new instance of ActionFactory.
func NewActionFactory() *ActionFactory {
	return &ActionFactory{}
}

// ID returns the unique identifier for the action factory.
func (*ActionFactory) ID() string {
	return "run"
}

// Create builds a run action from step configuration.
func (*ActionFactory) Create(config map[string]any) (protocol.Action, error) {
	command, _ := config["command"].(string)
	if command == "" {
		return nil, errors.New("run action requires a 'command' configuration value")
	}

	shell, _ := config["shell"].(string)
	if shell == "" {
		shell = "sh"
	}

	return &Action{command: command, shell: shell}, nil
}

// Action executes one shell command in the step's working directory.
// Secrets arrive as environment variables; artifact inputs are placed
// as files before the command starts, declared outputs are collected
// from the working directory after it exits.
type Action struct {
	command string
	shell   string
}

func (a *Action) Execute(ctx context.Context, execCtx models.ExecutionContext, logger *slog.Logger) (*models.ActionResult, error) {
	logger = logger.With("action_type", "run")

	if err := materializeInputs(execCtx); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, a.shell, "-c", a.command)
	cmd.Dir = execCtx.WorkingDir
	cmd.Env = append(os.Environ(), secretEnv(execCtx)...)

	logger.Info("Executing command", "working_dir", execCtx.WorkingDir)

	output, err := cmd.CombinedOutput()

	result := &models.ActionResult{Log: splitLines(string(output))}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result, fmt.Errorf("command exited with status %d", exitErr.ExitCode())
		}

		return result, fmt.Errorf("command failed to start: %w", err)
	}

	outputs, err := collectOutputs(execCtx)
	if err != nil {
		return result, err
	}

	result.Outputs = outputs

	return result, nil
}

// materializeInputs writes artifact inputs into the working directory
// so the command can read them as plain files.
func materializeInputs(execCtx models.ExecutionContext) error {
	for name, payload := range execCtx.Inputs {
		path := filepath.Join(execCtx.WorkingDir, name)

		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return fmt.Errorf("failed to prepare input %s: %w", name, err)
		}

		if err := os.WriteFile(path, payload, 0600); err != nil {
			return fmt.Errorf("failed to write input %s: %w", name, err)
		}
	}

	return nil
}

// collectOutputs reads declared artifact outputs from the working
// directory. A missing declared output is a failure outcome.
func collectOutputs(execCtx models.ExecutionContext) (map[string][]byte, error) {
	if len(execCtx.DeclaredOutputs) == 0 {
		return nil, nil
	}

	outputs := make(map[string][]byte, len(execCtx.DeclaredOutputs))

	for _, name := range execCtx.DeclaredOutputs {
		payload, err := os.ReadFile(filepath.Join(execCtx.WorkingDir, name)) // #nosec G304 -- path rooted in the job workdir
		if err != nil {
			return nil, fmt.Errorf("declared output %s was not produced: %w", name, err)
		}

		outputs[name] = payload
	}

	return outputs, nil
}

func secretEnv(execCtx models.ExecutionContext) []string {
	env := make([]string, 0, len(execCtx.Secrets))
	for name, value := range execCtx.Secrets {
		env = append(env, strings.ToUpper(name)+"="+value)
	}

	return env
}

func splitLines(output string) []string {
	trimmed := strings.TrimRight(output, "\n")
	if trimmed == "" {
		return nil
	}

	return strings.Split(trimmed, "\n")
}
