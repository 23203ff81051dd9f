package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/artifacts"
	"github.com/conveyor-ci/conveyor/pkg/environment"
	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence/file"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
	"github.com/conveyor-ci/conveyor/pkg/registry"
	"github.com/conveyor-ci/conveyor/pkg/reporter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAction is a configurable test action: it can fail, sleep, emit
// outputs, and records the artifact inputs it was handed.
type stubAction struct {
	config   map[string]any
	recorder *executionRecorder
}

type executionRecorder struct {
	mu         sync.Mutex
	executed   []string
	seenInputs map[string][]string
}

func (r *executionRecorder) record(step string, inputs map[string][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.executed = append(r.executed, step)

	for name := range inputs {
		r.seenInputs[step] = append(r.seenInputs[step], name)
	}
}

func (r *executionRecorder) steps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.executed))
	copy(out, r.executed)

	return out
}

func (r *executionRecorder) inputs(step string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.seenInputs[step]
}

func (a *stubAction) Execute(ctx context.Context, execCtx models.ExecutionContext, _ *slog.Logger) (*models.ActionResult, error) {
	a.recorder.record(execCtx.JobID+"/"+execCtx.StepName, execCtx.Inputs)

	if ms, ok := a.config["sleep_ms"].(int); ok {
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail, _ := a.config["fail"].(bool); fail {
		return nil, errors.New("stub action failed")
	}

	result := &models.ActionResult{Outputs: map[string][]byte{}}

	for _, name := range execCtx.DeclaredOutputs {
		result.Outputs[name] = []byte("artifact:" + name)
	}

	if line, ok := a.config["log"].(string); ok {
		result.Log = []string{line}
	}

	return result, nil
}

type stubFactory struct {
	recorder *executionRecorder
}

func (*stubFactory) ID() string { return "stub" }

func (f *stubFactory) Create(config map[string]any) (protocol.Action, error) {
	return &stubAction{config: config, recorder: f.recorder}, nil
}

type harness struct {
	scheduler    *Scheduler
	reporter     *reporter.Reporter
	store        *artifacts.MemoryStore
	environments *environment.Manager
	recorder     *executionRecorder
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	recorder := &executionRecorder{seenInputs: make(map[string][]string)}

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(&stubFactory{recorder: recorder})

	envManager := environment.NewManager(logger, []models.Environment{
		{Name: "staging", Secrets: map[string]string{"token": "staging-token"}},
		{Name: "production", Secrets: map[string]string{"token": "prod-token"}, Approval: models.ApprovalPolicyManual},
	})

	rep := reporter.NewReporter(logger, envManager.Redactor(), nil)
	store := artifacts.NewMemoryStore()
	persist := file.NewPersistence(t.TempDir())

	if opts.WorkspaceRoot == "" {
		opts.WorkspaceRoot = t.TempDir()
	}

	if opts.GracePeriod == 0 {
		opts.GracePeriod = time.Second
	}

	if opts.ApprovalTimeout == 0 {
		opts.ApprovalTimeout = time.Second
	}

	sched := NewScheduler(logger, reg, store, envManager, rep, persist.RunRepository(), opts)

	return &harness{
		scheduler:    sched,
		reporter:     rep,
		store:        store,
		environments: envManager,
		recorder:     recorder,
	}
}

func (h *harness) awaitRun(t *testing.T, runID string) models.Run {
	t.Helper()

	require.Eventually(t, func() bool {
		snap, err := h.reporter.Snapshot(runID)

		return err == nil && snap.Run.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)

	snap, err := h.reporter.Snapshot(runID)
	require.NoError(t, err)

	return snap.Run
}

func step(name string, with map[string]any) models.Step {
	if with == nil {
		with = map[string]any{}
	}

	return models.Step{Name: name, Action: "stub", With: with}
}

func pushEvent() models.Event {
	return models.Event{
		Kind:  models.EventKindPush,
		Ref:   "refs/heads/main",
		Actor: "alice",
	}
}

func TestScheduler_DiamondPipelineSucceeds(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 4})

	buildStep := step("compile", nil)
	buildStep.ArtifactOutputs = []string{"binary"}

	testStep := step("unit", nil)
	testStep.ArtifactInputs = []string{"binary"}

	lintStep := step("vet", nil)
	lintStep.ArtifactInputs = []string{"binary"}

	deployStep := step("ship", nil)
	deployStep.ArtifactInputs = []string{"binary"}

	workflow := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{ID: "build", Steps: []models.Step{buildStep}},
			{ID: "test", Needs: []string{"build"}, Steps: []models.Step{testStep}},
			{ID: "lint", Needs: []string{"build"}, Steps: []models.Step{lintStep}},
			{ID: "deploy", Needs: []string{"test", "lint"}, Steps: []models.Step{deployStep}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	run := h.awaitRun(t, runID)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)

	for jobID, state := range run.Jobs {
		assert.Equal(t, models.JobStatusSucceeded, state.Status, "job %s", jobID)
	}

	// The consumers saw the sealed artifact from build.
	assert.Equal(t, []string{"binary"}, h.recorder.inputs("test/unit"))
	assert.Equal(t, []string{"binary"}, h.recorder.inputs("deploy/ship"))
}

func TestScheduler_FailurePropagatesExceptAlways(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2})

	workflow := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{ID: "build", Steps: []models.Step{step("compile", nil)}},
			{ID: "test", Needs: []string{"build"}, Steps: []models.Step{step("unit", map[string]any{"fail": true})}},
			{ID: "deploy", Needs: []string{"test"}, Steps: []models.Step{step("ship", nil)}},
			{ID: "cleanup", Needs: []string{"test"}, Condition: "always()", Steps: []models.Step{step("sweep", nil)}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	run := h.awaitRun(t, runID)
	assert.Equal(t, models.RunStatusFailed, run.Status)

	assert.Equal(t, models.JobStatusSucceeded, run.Jobs["build"].Status)
	assert.Equal(t, models.JobStatusFailed, run.Jobs["test"].Status)
	assert.Equal(t, models.ReasonActionFailure, run.Jobs["test"].ReasonKind)

	assert.Equal(t, models.JobStatusSkipped, run.Jobs["deploy"].Status)
	assert.Equal(t, models.ReasonDependency, run.Jobs["deploy"].ReasonKind)

	assert.Equal(t, models.JobStatusSucceeded, run.Jobs["cleanup"].Status)
	assert.Contains(t, h.recorder.steps(), "cleanup/sweep")
	assert.NotContains(t, h.recorder.steps(), "deploy/ship")
}

func TestScheduler_ConditionSkipSatisfiesDependents(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2})

	workflow := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{ID: "build", Steps: []models.Step{step("compile", nil)}},
			{
				ID:        "docs",
				Needs:     []string{"build"},
				Condition: "ref == 'refs/heads/docs'",
				Steps:     []models.Step{step("render", nil)},
			},
			{ID: "publish", Needs: []string{"docs"}, Steps: []models.Step{step("upload", nil)}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	run := h.awaitRun(t, runID)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)

	assert.Equal(t, models.JobStatusSkipped, run.Jobs["docs"].Status)
	assert.Equal(t, models.ReasonConditionSkip, run.Jobs["docs"].ReasonKind)

	// A condition skip is not a failure: the dependent still runs.
	assert.Equal(t, models.JobStatusSucceeded, run.Jobs["publish"].Status)
}

func TestScheduler_StrictDependenciesBlockOnSkip(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2, StrictDependencies: true})

	workflow := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{
				ID:        "docs",
				Condition: "ref == 'refs/heads/docs'",
				Steps:     []models.Step{step("render", nil)},
			},
			{ID: "publish", Needs: []string{"docs"}, Steps: []models.Step{step("upload", nil)}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	run := h.awaitRun(t, runID)

	assert.Equal(t, models.JobStatusSkipped, run.Jobs["docs"].Status)
	assert.Equal(t, models.JobStatusSkipped, run.Jobs["publish"].Status)
	assert.Equal(t, models.ReasonDependency, run.Jobs["publish"].ReasonKind)
}

func TestScheduler_StatusConditionOverridesPropagation(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2})

	workflow := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{ID: "test", Steps: []models.Step{step("unit", map[string]any{"fail": true})}},
			{
				ID:        "report",
				Needs:     []string{"test"},
				Condition: "always() && status(test) == 'failed'",
				Steps:     []models.Step{step("notify", nil)},
			},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	run := h.awaitRun(t, runID)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, models.JobStatusSucceeded, run.Jobs["report"].Status)
}

func TestScheduler_ApprovalTimeout(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2, ApprovalTimeout: 50 * time.Millisecond})

	workflow := &models.Workflow{
		Name: "release",
		Jobs: []*models.Job{
			{ID: "deploy", Environment: "production", Steps: []models.Step{step("ship", nil)}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	run := h.awaitRun(t, runID)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, models.JobStatusCancelled, run.Jobs["deploy"].Status)
	assert.Equal(t, models.ReasonApproval, run.Jobs["deploy"].ReasonKind)
	assert.NotContains(t, h.recorder.steps(), "deploy/ship")
}

func TestScheduler_ApprovalGranted(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2, ApprovalTimeout: 5 * time.Second})

	workflow := &models.Workflow{
		Name: "release",
		Jobs: []*models.Job{
			{ID: "deploy", Environment: "production", Steps: []models.Step{step("ship", nil)}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.environments.Signal(runID, "deploy", true) == nil
	}, time.Second, 5*time.Millisecond)

	run := h.awaitRun(t, runID)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, models.JobStatusSucceeded, run.Jobs["deploy"].Status)
}

func TestScheduler_ApprovalRejected(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2, ApprovalTimeout: 5 * time.Second})

	workflow := &models.Workflow{
		Name: "release",
		Jobs: []*models.Job{
			{ID: "deploy", Environment: "production", Steps: []models.Step{step("ship", nil)}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.environments.Signal(runID, "deploy", false) == nil
	}, time.Second, 5*time.Millisecond)

	run := h.awaitRun(t, runID)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, models.JobStatusFailed, run.Jobs["deploy"].Status)
	assert.Equal(t, models.ReasonApproval, run.Jobs["deploy"].ReasonKind)
}

func TestScheduler_UnknownEnvironmentFailsJob(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2})

	workflow := &models.Workflow{
		Name: "release",
		Jobs: []*models.Job{
			{ID: "deploy", Environment: "qa", Steps: []models.Step{step("ship", nil)}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	run := h.awaitRun(t, runID)
	assert.Equal(t, models.JobStatusFailed, run.Jobs["deploy"].Status)
	assert.Equal(t, models.ReasonConfiguration, run.Jobs["deploy"].ReasonKind)
}

func TestScheduler_CancelStopsAtStepBoundary(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2, GracePeriod: 2 * time.Second})

	workflow := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{ID: "build", Steps: []models.Step{
				step("slow", map[string]any{"sleep_ms": 150}),
				step("second", nil),
			}},
			{ID: "after", Needs: []string{"build"}, Steps: []models.Step{step("later", nil)}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := h.reporter.Snapshot(runID)

		return err == nil && snap.Run.Jobs["build"].Status == models.JobStatusRunning
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, h.scheduler.Cancel(context.Background(), runID))

	run := h.awaitRun(t, runID)
	assert.Equal(t, models.RunStatusCancelled, run.Status)
	assert.Equal(t, models.JobStatusCancelled, run.Jobs["build"].Status)
	assert.Equal(t, models.JobStatusCancelled, run.Jobs["after"].Status)
	assert.NotContains(t, h.recorder.steps(), "build/second")
	assert.NotContains(t, h.recorder.steps(), "after/later")
}

func TestScheduler_CancelUnknownRun(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2})

	err := h.scheduler.Cancel(context.Background(), "run-missing")
	require.ErrorIs(t, err, reporter.ErrRunNotFound)
}

func TestScheduler_InvalidGraphRejectedBeforeStart(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2})

	workflow := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{ID: "a", Needs: []string{"b"}, Steps: []models.Step{step("x", nil)}},
			{ID: "b", Needs: []string{"a"}, Steps: []models.Step{step("y", nil)}},
		},
	}

	_, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.Error(t, err)
}

func TestScheduler_StepConditionSkipsStepOnly(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2})

	conditional := step("optional", nil)
	conditional.Condition = "ref == 'refs/heads/release'"

	workflow := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{ID: "build", Steps: []models.Step{
				step("compile", nil),
				conditional,
				step("package", nil),
			}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	run := h.awaitRun(t, runID)
	require.Equal(t, models.JobStatusSucceeded, run.Jobs["build"].Status)

	steps := run.Jobs["build"].Steps
	require.Len(t, steps, 3)
	assert.Equal(t, models.StepOutcomeSuccess, steps[0].Outcome)
	assert.Equal(t, models.StepOutcomeSkipped, steps[1].Outcome)
	assert.Equal(t, models.StepOutcomeSuccess, steps[2].Outcome)
}

func TestScheduler_ContinueOnError(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2})

	flaky := step("flaky", map[string]any{"fail": true})
	flaky.ContinueOnError = true

	workflow := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{ID: "build", Steps: []models.Step{flaky, step("compile", nil)}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	run := h.awaitRun(t, runID)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)
	assert.Equal(t, models.JobStatusSucceeded, run.Jobs["build"].Status)

	steps := run.Jobs["build"].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, models.StepOutcomeFailure, steps[0].Outcome)
	assert.Equal(t, models.StepOutcomeSuccess, steps[1].Outcome)
}

func TestScheduler_StepLogsAreRedacted(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2})

	leaky := step("leaky", map[string]any{"log": "deploying with prod-token now"})

	workflow := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{ID: "deploy", Environment: "staging", Steps: []models.Step{leaky}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	h.awaitRun(t, runID)

	snap, err := h.reporter.Snapshot(runID)
	require.NoError(t, err)
	require.NotEmpty(t, snap.Logs)

	for _, line := range snap.Logs {
		assert.NotContains(t, line.Line, "prod-token")
	}
}

func TestScheduler_ApprovalWaitDoesNotHoldWorkerSlot(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 1, ApprovalTimeout: 10 * time.Second})

	gated := &models.Workflow{
		Name: "release",
		Jobs: []*models.Job{
			{ID: "deploy", Environment: "production", Steps: []models.Step{step("ship", nil)}},
		},
	}

	gatedID, err := h.scheduler.StartRun(context.Background(), gated, pushEvent())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, err := h.reporter.Snapshot(gatedID)

		return err == nil && snap.Run.Jobs["deploy"].Status == models.JobStatusAwaitingApproval
	}, time.Second, 5*time.Millisecond)

	// The gated job is suspended, not executing; the only worker slot
	// must remain available to other runs.
	independent := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{ID: "build", Steps: []models.Step{step("compile", nil)}},
		},
	}

	independentID, err := h.scheduler.StartRun(context.Background(), independent, pushEvent())
	require.NoError(t, err)

	run := h.awaitRun(t, independentID)
	assert.Equal(t, models.RunStatusSucceeded, run.Status)

	require.Eventually(t, func() bool {
		return h.environments.Signal(gatedID, "deploy", false) == nil
	}, time.Second, 5*time.Millisecond)
	h.awaitRun(t, gatedID)
}

func TestScheduler_MultiFailureReasonIsDeterministic(t *testing.T) {
	h := newHarness(t, Options{MaxConcurrency: 2})

	workflow := &models.Workflow{
		Name: "ci",
		Jobs: []*models.Job{
			{ID: "alpha", Steps: []models.Step{step("a", map[string]any{"fail": true})}},
			{ID: "beta", Steps: []models.Step{step("b", map[string]any{"fail": true})}},
		},
	}

	runID, err := h.scheduler.StartRun(context.Background(), workflow, pushEvent())
	require.NoError(t, err)

	run := h.awaitRun(t, runID)
	assert.Equal(t, models.RunStatusFailed, run.Status)
	assert.Equal(t, models.ReasonActionFailure, run.ReasonKind)

	// Both jobs failed; the recorded reason names the first in sorted
	// order, independent of completion order.
	assert.Contains(t, run.Reason, "job alpha:")
}
