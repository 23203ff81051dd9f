// Package scheduler drives runs to completion: it walks the job DAG,
// dispatches ready jobs onto concurrent workers, consults conditions
// and environment gates before each job, and records every transition
// durably so a crash never silently drops a run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/artifacts"
	"github.com/conveyor-ci/conveyor/pkg/environment"
	"github.com/conveyor-ci/conveyor/pkg/expr"
	"github.com/conveyor-ci/conveyor/pkg/graph"
	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
	"github.com/conveyor-ci/conveyor/pkg/registry"
	"github.com/conveyor-ci/conveyor/pkg/reporter"
	"github.com/google/uuid"
)

// Options tune scheduling behavior.
type Options struct {
	// MaxConcurrency bounds concurrently running jobs across all runs.
	MaxConcurrency int

	// GracePeriod is how long a cancelled run lets its running jobs reach
	// the next step boundary before they are force-terminated.
	GracePeriod time.Duration

	// ApprovalTimeout bounds how long an environment-gated job waits for
	// a manual approval signal.
	ApprovalTimeout time.Duration

	// Retention is how long a terminated run's artifacts stay
	// inspectable before release.
	Retention time.Duration

	// StrictDependencies makes a skipped dependency block its dependents
	// instead of satisfying them.
	StrictDependencies bool

	// WorkspaceRoot is where job working directories are created.
	WorkspaceRoot string
}

// DefaultOptions are the scheduling defaults.
func DefaultOptions() Options {
	return Options{
		MaxConcurrency:  4,
		GracePeriod:     30 * time.Second,
		ApprovalTimeout: 15 * time.Minute,
		Retention:       time.Hour,
		WorkspaceRoot:   "./workspace",
	}
}

// Scheduler owns all in-flight runs. One coordinating loop per run
// drives state transitions; job workers share a global concurrency
// limit.
type Scheduler struct {
	logger       *slog.Logger
	registry     *registry.Registry
	store        artifacts.Store
	environments *environment.Manager
	reporter     *reporter.Reporter
	runs         persistence.RunRepository
	opts         Options
	sem          chan struct{}

	mu     sync.Mutex
	active map[string]*runState
	wg     sync.WaitGroup
}

type runState struct {
	run      *models.Run
	workflow *models.Workflow
	dag      *graph.Graph
	conds    map[string]*expr.Condition

	cancel    context.CancelFunc
	cancelled atomic.Bool

	// signal carries job-completion notifications into the control loop.
	signal chan string

	mu sync.Mutex
}

// NewScheduler wires a scheduler over its collaborators.
func NewScheduler(
	logger *slog.Logger,
	reg *registry.Registry,
	store artifacts.Store,
	environments *environment.Manager,
	rep *reporter.Reporter,
	runs persistence.RunRepository,
	opts Options,
) *Scheduler {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultOptions().MaxConcurrency
	}

	return &Scheduler{
		logger:       logger.With("module", "scheduler"),
		registry:     reg,
		store:        store,
		environments: environments,
		reporter:     rep,
		runs:         runs,
		opts:         opts,
		sem:          make(chan struct{}, opts.MaxConcurrency),
		active:       make(map[string]*runState),
	}
}

// StartRun instantiates a workflow against an event and begins driving
// it. The job set is fixed here; nothing is added or removed mid-run.
func (s *Scheduler) StartRun(ctx context.Context, workflow *models.Workflow, event models.Event) (string, error) {
	dag, err := graph.Build(workflow.Jobs)
	if err != nil {
		return "", fmt.Errorf("failed to build job graph for %s: %w", workflow.Name, err)
	}

	conds := make(map[string]*expr.Condition, dag.Len())

	for _, job := range workflow.Jobs {
		cond, err := expr.Compile(job.Condition)
		if err != nil {
			return "", fmt.Errorf("workflow %s job %s: %w", workflow.Name, job.ID, err)
		}

		conds[job.ID] = cond
	}

	now := time.Now().UTC()
	run := &models.Run{
		ID:           "run-" + uuid.New().String()[:8],
		WorkflowName: workflow.Name,
		Event:        event,
		Status:       models.RunStatusPending,
		Jobs:         make(map[string]*models.JobState, dag.Len()),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	for _, id := range dag.JobIDs() {
		run.Jobs[id] = &models.JobState{Status: models.JobStatusBlocked}
	}

	// The run is durable as Pending before any scheduling state exists;
	// a crash between the two writes leaves a Pending record for
	// Recover to reconcile.
	if err := s.runs.Save(ctx, run); err != nil {
		return "", fmt.Errorf("failed to persist run %s: %w", run.ID, err)
	}

	run.Status = models.RunStatusRunning
	run.UpdatedAt = time.Now().UTC()

	if err := s.runs.Save(ctx, run); err != nil {
		return "", fmt.Errorf("failed to persist run %s: %w", run.ID, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	rs := &runState{
		run:      run,
		workflow: workflow,
		dag:      dag,
		conds:    conds,
		cancel:   cancel,
		signal:   make(chan string, dag.Len()),
	}

	s.mu.Lock()
	s.active[run.ID] = rs
	s.mu.Unlock()

	s.reporter.RunStarted(ctx, *run, dag.TopologicalOrder())

	s.logger.Info("Run started",
		"run_id", run.ID,
		"workflow", workflow.Name,
		"event_kind", event.Kind,
		"ref", event.Ref,
		"jobs", dag.Len())

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.runLoop(runCtx, rs)
	}()

	return run.ID, nil
}

// Cancel signals a run to stop. Dispatching halts immediately; running
// jobs get a grace period to reach a step boundary before forced
// termination.
func (s *Scheduler) Cancel(ctx context.Context, runID string) error {
	s.mu.Lock()
	rs, ok := s.active[runID]
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", reporter.ErrRunNotFound, runID)
	}

	s.logger.Info("Run cancellation requested", "run_id", runID)
	s.reporter.RunCancelled(ctx, runID, "cancellation requested")
	rs.cancel()

	return nil
}

// Shutdown waits for all in-flight runs to finish driving.
func (s *Scheduler) Shutdown() {
	s.wg.Wait()
}

// runLoop is the single coordinating control loop of one run.
func (s *Scheduler) runLoop(ctx context.Context, rs *runState) {
	defer rs.cancel()

	cancelCh := ctx.Done()

	for {
		if !rs.cancelled.Load() {
			s.advance(ctx, rs)
		}

		if s.allTerminal(rs) {
			break
		}

		select {
		case <-rs.signal:
		case <-cancelCh:
			// A nil channel never fires again; cancellation is handled once.
			cancelCh = nil

			rs.cancelled.Store(true)
			s.cancelBlocked(ctx, rs)
		}
	}

	s.finalize(ctx, rs)
}

// advance moves every job whose dependencies are all terminal out of
// Blocked: to Ready (and a worker) when its condition holds, otherwise
// to Skipped.
func (s *Scheduler) advance(ctx context.Context, rs *runState) {
	for _, jobID := range rs.dag.JobIDs() {
		rs.mu.Lock()
		status := rs.run.Jobs[jobID].Status
		rs.mu.Unlock()

		if status != models.JobStatusBlocked {
			continue
		}

		job, _ := rs.dag.Job(jobID)

		statuses := s.terminalStatuses(rs)
		if !depsTerminal(job.Needs, statuses) {
			continue
		}

		decision, state := s.decide(rs, job, statuses)
		if decision {
			s.transition(ctx, rs, jobID, models.JobState{Status: models.JobStatusReady})

			s.wg.Add(1)

			go func(job *models.Job) {
				defer s.wg.Done()
				s.executeJob(ctx, rs, job)
			}(job)

			continue
		}

		s.transition(ctx, rs, jobID, state)
	}
}

// decide evaluates a job's condition against the terminal-state
// snapshot. Returns true to dispatch, or false plus the terminal state
// to record instead.
func (s *Scheduler) decide(rs *runState, job *models.Job, statuses map[string]models.JobStatus) (bool, models.JobState) {
	cond := rs.conds[job.ID]

	// A failed or cancelled dependency propagates as "dependency not
	// satisfied" unless the job opted out with always().
	if depFailed(job.Needs, statuses) && !cond.UsesAlways() {
		return false, models.JobState{
			Status:     models.JobStatusSkipped,
			ReasonKind: models.ReasonDependency,
			Reason:     "dependency not satisfied",
		}
	}

	if cond.IsDefault() {
		if expr.DependenciesSatisfied(job.Needs, statuses, s.opts.StrictDependencies) {
			return true, models.JobState{}
		}

		return false, models.JobState{
			Status:     models.JobStatusSkipped,
			ReasonKind: models.ReasonDependency,
			Reason:     "dependency not satisfied",
		}
	}

	ok, err := cond.Evaluate(&expr.Context{
		Event:       rs.run.Event,
		Environment: job.Environment,
		Statuses:    statuses,
	})
	if err != nil {
		return false, models.JobState{
			Status:     models.JobStatusFailed,
			ReasonKind: models.ReasonConfiguration,
			Reason:     fmt.Sprintf("condition evaluation failed: %v", err),
		}
	}

	if !ok {
		return false, models.JobState{
			Status:     models.JobStatusSkipped,
			ReasonKind: models.ReasonConditionSkip,
			Reason:     fmt.Sprintf("condition %q evaluated to false", cond.Source()),
		}
	}

	return true, models.JobState{}
}

// cancelBlocked drives every still-Blocked job to Cancelled. Ready and
// running jobs are owned by their workers, which observe the same
// cancellation themselves.
func (s *Scheduler) cancelBlocked(ctx context.Context, rs *runState) {
	for _, jobID := range rs.dag.JobIDs() {
		rs.mu.Lock()
		status := rs.run.Jobs[jobID].Status
		rs.mu.Unlock()

		if status != models.JobStatusBlocked {
			continue
		}

		s.transition(ctx, rs, jobID, models.JobState{
			Status:     models.JobStatusCancelled,
			ReasonKind: models.ReasonCancelled,
			Reason:     "run cancelled",
		})
	}
}

// finalize computes and records the run's terminal status.
func (s *Scheduler) finalize(ctx context.Context, rs *runState) {
	status := models.RunStatusSucceeded
	reasonKind := models.ReasonKind("")
	reason := ""

	rs.mu.Lock()

	// Sorted iteration keeps the recorded reason stable when several
	// jobs failed.
	for _, jobID := range rs.dag.JobIDs() {
		state := rs.run.Jobs[jobID]
		if state.Status == models.JobStatusFailed || state.Status == models.JobStatusCancelled {
			status = models.RunStatusFailed
			reasonKind = state.ReasonKind
			reason = fmt.Sprintf("job %s: %s", jobID, state.Reason)

			break
		}
	}

	if rs.cancelled.Load() {
		status = models.RunStatusCancelled
		reasonKind = models.ReasonCancelled
		reason = "run cancelled"
	}

	now := time.Now().UTC()
	rs.run.Status = status
	rs.run.ReasonKind = reasonKind
	rs.run.Reason = reason
	rs.run.UpdatedAt = now
	rs.run.FinishedAt = &now
	runCopy := snapshotRun(rs.run)
	rs.mu.Unlock()

	if err := s.runs.Save(ctx, &runCopy); err != nil {
		s.logger.Error("Failed to persist terminal run state", "run_id", runCopy.ID, "error", err)
	}

	if err := s.reporter.RunFinished(ctx, runCopy.ID, status, reasonKind, reason); err != nil {
		s.logger.Error("Failed to report run finish", "run_id", runCopy.ID, "error", err)
	}

	if err := s.store.Release(ctx, runCopy.ID, s.opts.Retention); err != nil {
		s.logger.Error("Failed to release run artifacts", "run_id", runCopy.ID, "error", err)
	}

	s.mu.Lock()
	delete(s.active, runCopy.ID)
	s.mu.Unlock()

	s.logger.Info("Run finished",
		"run_id", runCopy.ID,
		"status", status,
		"reason", reason,
		"duration", now.Sub(runCopy.CreatedAt))
}

// transition records a job state change durably and in the reporter,
// then wakes the control loop if the state is terminal.
func (s *Scheduler) transition(ctx context.Context, rs *runState, jobID string, state models.JobState) {
	rs.mu.Lock()

	prev := rs.run.Jobs[jobID]
	if state.StartedAt == nil {
		state.StartedAt = prev.StartedAt
	}

	if len(state.Steps) == 0 {
		state.Steps = prev.Steps
	}

	rs.run.Jobs[jobID] = &state
	rs.run.UpdatedAt = time.Now().UTC()
	runCopy := snapshotRun(rs.run)
	rs.mu.Unlock()

	if err := s.runs.Save(ctx, &runCopy); err != nil {
		s.logger.Error("Failed to persist run state", "run_id", runCopy.ID, "job_id", jobID, "error", err)
	}

	if err := s.reporter.JobTransition(ctx, runCopy.ID, jobID, state); err != nil {
		s.logger.Error("Failed to report job transition", "run_id", runCopy.ID, "job_id", jobID, "error", err)
	}

	if state.Status.Terminal() {
		rs.signal <- jobID
	}
}

func (s *Scheduler) allTerminal(rs *runState) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	for _, state := range rs.run.Jobs {
		if !state.Status.Terminal() {
			return false
		}
	}

	return true
}

// terminalStatuses snapshots the statuses of all already-terminal jobs.
// Conditions only ever see this snapshot, which keeps evaluation
// deterministic.
func (s *Scheduler) terminalStatuses(rs *runState) map[string]models.JobStatus {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	statuses := make(map[string]models.JobStatus)

	for jobID, state := range rs.run.Jobs {
		if state.Status.Terminal() {
			statuses[jobID] = state.Status
		}
	}

	return statuses
}

// snapshotRun deep-copies the run record so persistence and reporting
// never observe it mid-mutation.
func snapshotRun(run *models.Run) models.Run {
	copied := *run
	copied.Jobs = make(map[string]*models.JobState, len(run.Jobs))

	for jobID, state := range run.Jobs {
		stateCopy := *state
		stateCopy.Steps = append([]models.StepResult(nil), state.Steps...)
		copied.Jobs[jobID] = &stateCopy
	}

	return copied
}

func depsTerminal(needs []string, statuses map[string]models.JobStatus) bool {
	for _, dep := range needs {
		if _, ok := statuses[dep]; !ok {
			return false
		}
	}

	return true
}

func depFailed(needs []string, statuses map[string]models.JobStatus) bool {
	for _, dep := range needs {
		switch statuses[dep] {
		case models.JobStatusFailed, models.JobStatusCancelled:
			return true
		}
	}

	return false
}
