// Package config loads workflow and environment documents at startup.
// Documents are schema-validated, decoded into immutable structs, and
// semantically checked (dependency graph, condition syntax) before a
// workflow may ever activate. Reload means re-registering; nothing hot
// patches a running run's graph.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/expr"
	"github.com/conveyor-ci/conveyor/pkg/graph"
	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// Loader reads and validates configuration documents.
type Loader struct {
	logger   *slog.Logger
	validate *validator.Validate
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{
		logger:   logger.With("module", "config"),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// LoadWorkflows loads every *.json workflow document in dir. Any
// invalid document is a fatal configuration error; the whole load
// fails rather than activating a partial set.
func (l *Loader) LoadWorkflows(dir string) ([]*models.Workflow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows directory %s: %w", dir, err)
	}

	var names []string

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}

	sort.Strings(names)

	workflows := make([]*models.Workflow, 0, len(names))
	seen := make(map[string]string)

	for _, name := range names {
		path := filepath.Join(dir, name)

		workflow, err := l.LoadWorkflow(path)
		if err != nil {
			return nil, err
		}

		if prev, dup := seen[workflow.Name]; dup {
			return nil, fmt.Errorf("workflow %q defined in both %s and %s", workflow.Name, prev, name)
		}

		seen[workflow.Name] = name
		workflows = append(workflows, workflow)
	}

	l.logger.Info("Loaded workflow configuration", "dir", dir, "workflows", len(workflows))

	return workflows, nil
}

// LoadWorkflow loads and fully validates a single workflow document.
func (l *Loader) LoadWorkflow(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %s: %w", path, err)
	}

	if err := validateSchema(workflowSchema, data); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}

	var workflow models.Workflow

	if err := json.Unmarshal(data, &workflow); err != nil {
		return nil, fmt.Errorf("failed to decode workflow %s: %w", path, err)
	}

	if err := l.validate.Struct(&workflow); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}

	if err := Validate(&workflow); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", path, err)
	}

	return &workflow, nil
}

// LoadEnvironments loads the environments document, if present. A
// missing file means no environments are configured.
func (l *Loader) LoadEnvironments(path string) ([]models.Environment, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read environments %s: %w", path, err)
	}

	if err := validateSchema(environmentsSchema, data); err != nil {
		return nil, fmt.Errorf("environments %s: %w", path, err)
	}

	var envs []models.Environment

	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, fmt.Errorf("failed to decode environments %s: %w", path, err)
	}

	seen := make(map[string]bool, len(envs))

	for _, env := range envs {
		if seen[env.Name] {
			return nil, fmt.Errorf("environments %s: duplicate environment %q", path, env.Name)
		}

		seen[env.Name] = true
	}

	l.logger.Info("Loaded environment configuration", "path", path, "environments", len(envs))

	return envs, nil
}

// Validate performs the semantic checks on an already-decoded workflow:
// the job graph must build and every condition must parse.
func Validate(workflow *models.Workflow) error {
	if _, err := graph.Build(workflow.Jobs); err != nil {
		return err
	}

	for _, job := range workflow.Jobs {
		if _, err := expr.Compile(job.Condition); err != nil {
			return fmt.Errorf("job %s: %w", job.ID, err)
		}

		for _, step := range job.Steps {
			if _, err := expr.Compile(step.Condition); err != nil {
				return fmt.Errorf("job %s step %s: %w", job.ID, step.Name, err)
			}
		}
	}

	return nil
}

func validateSchema(schema string, document []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(document),
	)
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("invalid document: %s", strings.Join(details, "; "))
	}

	return nil
}
