package run

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func TestFactory_RequiresCommand(t *testing.T) {
	factory := NewActionFactory()

	_, err := factory.Create(map[string]any{})
	require.Error(t, err)

	action, err := factory.Create(map[string]any{"command": "true"})
	require.NoError(t, err)
	require.NotNil(t, action)
}

func TestExecute_CapturesOutput(t *testing.T) {
	factory := NewActionFactory()
	action, err := factory.Create(map[string]any{"command": "echo hello && echo world"})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.ExecutionContext{
		WorkingDir: t.TempDir(),
	}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, result.Log)
}

func TestExecute_NonZeroExit(t *testing.T) {
	factory := NewActionFactory()
	action, err := factory.Create(map[string]any{"command": "echo before-failure; exit 3"})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.ExecutionContext{
		WorkingDir: t.TempDir(),
	}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 3")
	// Output produced before the failure is still captured.
	require.NotNil(t, result)
	assert.Contains(t, result.Log, "before-failure")
}

func TestExecute_SecretsAsEnvironment(t *testing.T) {
	factory := NewActionFactory()
	action, err := factory.Create(map[string]any{"command": "echo token=$DEPLOY_TOKEN"})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.ExecutionContext{
		WorkingDir: t.TempDir(),
		Secrets:    map[string]string{"deploy_token": "s3cret"},
	}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"token=s3cret"}, result.Log)
}

func TestExecute_ArtifactRoundTrip(t *testing.T) {
	factory := NewActionFactory()
	action, err := factory.Create(map[string]any{"command": "cat source.txt | tr a-z A-Z > upper.txt"})
	require.NoError(t, err)

	result, err := action.Execute(context.Background(), models.ExecutionContext{
		WorkingDir:      t.TempDir(),
		Inputs:          map[string][]byte{"source.txt": []byte("payload")},
		DeclaredOutputs: []string{"upper.txt"},
	}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []byte("PAYLOAD"), result.Outputs["upper.txt"])
}

func TestExecute_MissingDeclaredOutput(t *testing.T) {
	factory := NewActionFactory()
	action, err := factory.Create(map[string]any{"command": "true"})
	require.NoError(t, err)

	_, err = action.Execute(context.Background(), models.ExecutionContext{
		WorkingDir:      t.TempDir(),
		DeclaredOutputs: []string{"dist.tar"},
	}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dist.tar")
}

func TestExecute_InputWithNestedPath(t *testing.T) {
	factory := NewActionFactory()
	action, err := factory.Create(map[string]any{"command": "cat build/out.txt"})
	require.NoError(t, err)

	workDir := t.TempDir()

	result, err := action.Execute(context.Background(), models.ExecutionContext{
		WorkingDir: workDir,
		Inputs:     map[string][]byte{"build/out.txt": []byte("nested")},
	}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"nested"}, result.Log)

	_, err = os.Stat(filepath.Join(workDir, "build", "out.txt"))
	require.NoError(t, err)
}
