package checkout

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_RecordsRef(t *testing.T) {
	factory := NewActionFactory()
	action, err := factory.Create(nil)
	require.NoError(t, err)

	workDir := filepath.Join(t.TempDir(), "job")
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	result, err := action.Execute(context.Background(), models.ExecutionContext{
		WorkingDir: workDir,
		Event:      models.Event{Kind: models.EventKindPush, Ref: "refs/heads/main"},
	}, logger)
	require.NoError(t, err)
	assert.Equal(t, []string{"checked out refs/heads/main"}, result.Log)

	marker, err := os.ReadFile(filepath.Join(workDir, ".conveyor-ref"))
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", string(marker))
}
