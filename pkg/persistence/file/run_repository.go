package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
)

// RunRepository handles run-record file operations.
type RunRepository struct {
	root string
}

// NewRunRepository creates a run repository rooted at the given path.
func NewRunRepository(root string) *RunRepository {
	return &RunRepository{root: root}
}

// validateRunID rejects ids that are unsafe as file names.
func (r *RunRepository) validateRunID(runID string) error {
	if runID == "" {
		return errors.New("run ID cannot be empty")
	}

	if strings.Contains(runID, "..") || strings.ContainsAny(runID, `/\`) {
		return errors.New("run ID contains invalid characters")
	}

	return nil
}

func (r *RunRepository) runsDir() string {
	return filepath.Join(r.root, "runs")
}

// Save writes the full run record, overwriting previous state.
func (r *RunRepository) Save(_ context.Context, run *models.Run) error {
	if err := r.validateRunID(run.ID); err != nil {
		return fmt.Errorf("invalid run ID: %w", err)
	}

	if err := os.MkdirAll(r.runsDir(), 0750); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}

	filePath := filepath.Join(r.runsDir(), run.ID+".json")

	if err := os.WriteFile(filePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write run %s: %w", run.ID, err)
	}

	return nil
}

// Get retrieves a run record by id.
func (r *RunRepository) Get(_ context.Context, runID string) (*models.Run, error) {
	if err := r.validateRunID(runID); err != nil {
		return nil, fmt.Errorf("invalid run ID: %w", err)
	}

	filePath := filepath.Join(r.runsDir(), runID+".json")

	data, err := os.ReadFile(filePath) // #nosec G304 -- runID is validated above
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrRunNotFound, runID)
		}

		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}

	var run models.Run

	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", runID, err)
	}

	return &run, nil
}

// ListUnfinished returns every stored run whose status is not terminal.
func (r *RunRepository) ListUnfinished(ctx context.Context) ([]*models.Run, error) {
	entries, err := os.ReadDir(r.runsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var unfinished []*models.Run

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}

		run, err := r.Get(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil {
			return nil, err
		}

		if !run.Status.Terminal() {
			unfinished = append(unfinished, run)
		}
	}

	return unfinished, nil
}
