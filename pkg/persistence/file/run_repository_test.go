package file

import (
	"context"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun(id string, status models.RunStatus) *models.Run {
	now := time.Now().UTC().Truncate(time.Second)

	return &models.Run{
		ID:           id,
		WorkflowName: "ci",
		Event:        models.Event{Kind: models.EventKindPush, Ref: "refs/heads/main"},
		Status:       status,
		Jobs: map[string]*models.JobState{
			"build": {Status: models.JobStatusSucceeded},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRunRepository_SaveAndGet(t *testing.T) {
	repo := NewRunRepository(t.TempDir())
	ctx := context.Background()

	run := sampleRun("run-1", models.RunStatusRunning)
	require.NoError(t, repo.Save(ctx, run))

	got, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, run.WorkflowName, got.WorkflowName)
	assert.Equal(t, run.Status, got.Status)
	require.Contains(t, got.Jobs, "build")
	assert.Equal(t, models.JobStatusSucceeded, got.Jobs["build"].Status)
}

func TestRunRepository_SaveOverwrites(t *testing.T) {
	repo := NewRunRepository(t.TempDir())
	ctx := context.Background()

	run := sampleRun("run-1", models.RunStatusRunning)
	require.NoError(t, repo.Save(ctx, run))

	run.Status = models.RunStatusSucceeded
	require.NoError(t, repo.Save(ctx, run))

	got, err := repo.Get(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, got.Status)
}

func TestRunRepository_GetMissing(t *testing.T) {
	repo := NewRunRepository(t.TempDir())

	_, err := repo.Get(context.Background(), "run-absent")
	require.ErrorIs(t, err, persistence.ErrRunNotFound)
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRunRepository_RejectsUnsafeIDs(t *testing.T) {
	repo := NewRunRepository(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b", `a\b`} {
		_, err := repo.Get(ctx, id)
		require.Error(t, err, "id %q", id)

		err = repo.Save(ctx, sampleRun(id, models.RunStatusRunning))
		require.Error(t, err, "id %q", id)
	}
}

func TestRunRepository_ListUnfinished(t *testing.T) {
	repo := NewRunRepository(t.TempDir())
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sampleRun("run-running", models.RunStatusRunning)))
	require.NoError(t, repo.Save(ctx, sampleRun("run-pending", models.RunStatusPending)))
	require.NoError(t, repo.Save(ctx, sampleRun("run-done", models.RunStatusSucceeded)))
	require.NoError(t, repo.Save(ctx, sampleRun("run-failed", models.RunStatusFailed)))

	unfinished, err := repo.ListUnfinished(ctx)
	require.NoError(t, err)

	ids := make([]string, 0, len(unfinished))
	for _, run := range unfinished {
		ids = append(ids, run.ID)
	}

	assert.ElementsMatch(t, []string{"run-running", "run-pending"}, ids)
}

func TestRunRepository_ListUnfinishedEmptyDir(t *testing.T) {
	repo := NewRunRepository(t.TempDir())

	unfinished, err := repo.ListUnfinished(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}

func TestPersistence_HealthCheck(t *testing.T) {
	dir := t.TempDir()

	p := NewPersistence(dir)
	require.NoError(t, p.HealthCheck(context.Background()))

	missing := NewPersistence(dir + "/nope")
	require.Error(t, missing.HealthCheck(context.Background()))
}

func TestNewPersistence_StripsFileScheme(t *testing.T) {
	dir := t.TempDir()

	p := NewPersistence("file://" + dir)
	require.NoError(t, p.HealthCheck(context.Background()))
}
