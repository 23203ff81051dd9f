package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/artifacts"
	"github.com/conveyor-ci/conveyor/pkg/environment"
	"github.com/conveyor-ci/conveyor/pkg/expr"
	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

// errInfrastructure marks failures of the engine itself rather than of
// the action being run.
var errInfrastructure = errors.New("infrastructure failure")

// executeJob runs one Ready job to a terminal state: environment
// resolution, approval gating, sequential step execution, artifact
// exchange. It reports the terminal state through transition, which
// wakes the control loop.
func (s *Scheduler) executeJob(runCtx context.Context, rs *runState, job *models.Job) {
	logger := s.logger.With("run_id", rs.run.ID, "job_id", job.ID)

	var secrets map[string]string

	if job.Environment != "" {
		env, err := s.environments.Resolve(job.Environment)
		if err != nil {
			s.transition(runCtx, rs, job.ID, models.JobState{
				Status:     models.JobStatusFailed,
				ReasonKind: models.ReasonConfiguration,
				Reason:     fmt.Sprintf("environment %s: %v", job.Environment, err),
			})

			return
		}

		secrets = env.Secrets

		if env.Approval == models.ApprovalPolicyManual {
			state, ok := s.awaitApproval(runCtx, rs, job, env)
			if !ok {
				s.transition(runCtx, rs, job.ID, state)

				return
			}
		}
	}

	// The worker slot bounds step execution only. A job parked at an
	// approval gate is suspended, so the slot is acquired after the gate
	// opens. Acquisition respects cancellation so a cancelled run does
	// not queue behind other runs' jobs.
	select {
	case s.sem <- struct{}{}:
	case <-runCtx.Done():
		s.transition(runCtx, rs, job.ID, models.JobState{
			Status:     models.JobStatusCancelled,
			ReasonKind: models.ReasonCancelled,
			Reason:     "run cancelled before job started",
		})

		return
	}
	defer func() { <-s.sem }()

	started := time.Now().UTC()
	s.transition(runCtx, rs, job.ID, models.JobState{
		Status:    models.JobStatusRunning,
		StartedAt: &started,
	})

	state := s.runSteps(runCtx, rs, job, secrets, logger)

	finished := time.Now().UTC()
	state.StartedAt = &started
	state.FinishedAt = &finished

	if state.Status == models.JobStatusSucceeded {
		if err := s.store.Seal(runCtx, rs.run.ID, job.ID); err != nil {
			logger.Error("Failed to seal job artifacts", "error", err)

			state.Status = models.JobStatusFailed
			state.ReasonKind = models.ReasonInfrastructure
			state.Reason = fmt.Sprintf("failed to seal artifacts: %v", err)
		}
	}

	s.transition(runCtx, rs, job.ID, state)
}

// awaitApproval parks the job in AwaitingApproval until an operator
// decides or the timeout elapses. Returns ok=false with the terminal
// state to record when the gate does not open.
func (s *Scheduler) awaitApproval(runCtx context.Context, rs *runState, job *models.Job, env models.Environment) (models.JobState, bool) {
	s.transition(runCtx, rs, job.ID, models.JobState{Status: models.JobStatusAwaitingApproval})
	s.reporter.ApprovalRequested(runCtx, rs.run.ID, job.ID, env.Name)

	err := s.environments.AwaitApproval(runCtx, rs.run.ID, job.ID, env, s.opts.ApprovalTimeout)
	if err == nil {
		return models.JobState{}, true
	}

	switch {
	case errors.Is(err, environment.ErrApprovalRejected):
		return models.JobState{
			Status:     models.JobStatusFailed,
			ReasonKind: models.ReasonApproval,
			Reason:     fmt.Sprintf("deployment to %s rejected", env.Name),
		}, false
	case errors.Is(err, environment.ErrApprovalTimeout):
		return models.JobState{
			Status:     models.JobStatusCancelled,
			ReasonKind: models.ReasonApproval,
			Reason:     fmt.Sprintf("approval for %s timed out after %s", env.Name, s.opts.ApprovalTimeout),
		}, false
	default:
		return models.JobState{
			Status:     models.JobStatusCancelled,
			ReasonKind: models.ReasonCancelled,
			Reason:     "run cancelled while awaiting approval",
		}, false
	}
}

// runSteps executes a job's steps in order inside its working
// directory. Cancellation is honored at step boundaries; the grace
// period bounds how long an in-flight step may keep running afterwards.
func (s *Scheduler) runSteps(runCtx context.Context, rs *runState, job *models.Job, secrets map[string]string, logger *slog.Logger) models.JobState {
	// Steps run under their own context so that run cancellation stops
	// them only after the grace period, not immediately.
	stepCtx, force := context.WithCancel(context.Background())
	defer force()

	stop := context.AfterFunc(runCtx, func() {
		timer := time.NewTimer(s.opts.GracePeriod)
		defer timer.Stop()

		select {
		case <-timer.C:
			force()
		case <-stepCtx.Done():
		}
	})
	defer stop()

	workDir := filepath.Join(s.opts.WorkspaceRoot, rs.run.ID, job.ID)
	if err := os.MkdirAll(workDir, 0o750); err != nil {
		return models.JobState{
			Status:     models.JobStatusFailed,
			ReasonKind: models.ReasonInfrastructure,
			Reason:     fmt.Sprintf("failed to create working directory: %v", err),
		}
	}

	outcomes := make(map[string]models.StepOutcome, len(job.Steps))
	steps := make([]models.StepResult, 0, len(job.Steps))

	for _, step := range job.Steps {
		if runCtx.Err() != nil {
			return models.JobState{
				Status:     models.JobStatusCancelled,
				ReasonKind: models.ReasonCancelled,
				Reason:     fmt.Sprintf("run cancelled before step %s", step.Name),
				Steps:      steps,
			}
		}

		runStep, failState := s.evaluateStepCondition(rs, job, step, outcomes)
		if failState != nil {
			failState.Steps = steps

			return *failState
		}

		if !runStep {
			outcomes[step.Name] = models.StepOutcomeSkipped
			steps = append(steps, models.StepResult{
				Name:       step.Name,
				Outcome:    models.StepOutcomeSkipped,
				ReasonKind: models.ReasonConditionSkip,
				Reason:     fmt.Sprintf("condition %q evaluated to false", step.Condition),
			})

			continue
		}

		result := s.executeStep(stepCtx, rs, job, step, workDir, secrets, logger)
		outcomes[step.Name] = result.Outcome
		steps = append(steps, result)

		if result.Outcome != models.StepOutcomeFailure {
			continue
		}

		if stepCtx.Err() != nil && runCtx.Err() != nil {
			return models.JobState{
				Status:     models.JobStatusCancelled,
				ReasonKind: models.ReasonCancelled,
				Reason:     fmt.Sprintf("run cancelled, step %s terminated after grace period", step.Name),
				Steps:      steps,
			}
		}

		if step.ContinueOnError {
			logger.Warn("Step failed but continue_on_error is set", "step", step.Name, "reason", result.Reason)

			continue
		}

		return models.JobState{
			Status:     models.JobStatusFailed,
			ReasonKind: result.ReasonKind,
			Reason:     fmt.Sprintf("step %s: %s", step.Name, result.Reason),
			Steps:      steps,
		}
	}

	return models.JobState{Status: models.JobStatusSucceeded, Steps: steps}
}

// evaluateStepCondition decides whether a step runs. A non-nil state
// means the whole job fails; evaluation errors are configuration
// faults.
func (s *Scheduler) evaluateStepCondition(rs *runState, job *models.Job, step models.Step, outcomes map[string]models.StepOutcome) (bool, *models.JobState) {
	cond, err := expr.Compile(step.Condition)
	if err != nil {
		return false, &models.JobState{
			Status:     models.JobStatusFailed,
			ReasonKind: models.ReasonConfiguration,
			Reason:     fmt.Sprintf("step %s condition: %v", step.Name, err),
		}
	}

	if cond.IsDefault() {
		return true, nil
	}

	ok, err := cond.Evaluate(&expr.Context{
		Event:       rs.run.Event,
		Environment: job.Environment,
		Statuses:    s.terminalStatuses(rs),
		StepResults: outcomes,
	})
	if err != nil {
		return false, &models.JobState{
			Status:     models.JobStatusFailed,
			ReasonKind: models.ReasonConfiguration,
			Reason:     fmt.Sprintf("step %s condition: %v", step.Name, err),
		}
	}

	return ok, nil
}

// executeStep resolves artifact inputs, runs the action with panic
// containment, stores declared outputs, and appends redacted log lines.
func (s *Scheduler) executeStep(stepCtx context.Context, rs *runState, job *models.Job, step models.Step, workDir string, secrets map[string]string, logger *slog.Logger) models.StepResult {
	started := time.Now().UTC()

	fail := func(kind models.ReasonKind, reason string) models.StepResult {
		return models.StepResult{
			Name:       step.Name,
			Outcome:    models.StepOutcomeFailure,
			ReasonKind: kind,
			Reason:     s.environments.Redactor().Redact(reason),
			StartedAt:  started,
			FinishedAt: time.Now().UTC(),
		}
	}

	inputs := make(map[string][]byte, len(step.ArtifactInputs))

	for _, name := range step.ArtifactInputs {
		payload, err := s.store.Get(stepCtx, rs.run.ID, name)
		if err != nil {
			return fail(models.ReasonConfiguration, fmt.Sprintf("artifact input %s not available: %v", name, err))
		}

		inputs[name] = payload
	}

	action, err := s.registry.CreateAction(step.Action, step.With)
	if err != nil {
		return fail(models.ReasonConfiguration, fmt.Sprintf("failed to create action %s: %v", step.Action, err))
	}

	execCtx := models.ExecutionContext{
		RunID:           rs.run.ID,
		WorkflowName:    rs.run.WorkflowName,
		JobID:           job.ID,
		StepName:        step.Name,
		Event:           rs.run.Event,
		WorkingDir:      workDir,
		Params:          step.With,
		Secrets:         secrets,
		Inputs:          inputs,
		DeclaredOutputs: step.ArtifactOutputs,
	}

	result, err := runAction(stepCtx, action, execCtx, logger)
	if result != nil && len(result.Log) > 0 {
		s.reporter.AppendLog(rs.run.ID, job.ID, result.Log...)
	}

	if err != nil {
		kind := models.ReasonActionFailure
		if errors.Is(err, errInfrastructure) {
			kind = models.ReasonInfrastructure
		}

		return fail(kind, err.Error())
	}

	for name, payload := range result.Outputs {
		if err := s.store.Put(stepCtx, rs.run.ID, name, job.ID, payload); err != nil {
			kind := models.ReasonInfrastructure
			if errors.Is(err, artifacts.ErrAlreadyExists) {
				kind = models.ReasonConfiguration
			}

			return fail(kind, fmt.Sprintf("failed to store artifact %s: %v", name, err))
		}
	}

	return models.StepResult{
		Name:       step.Name,
		Outcome:    models.StepOutcomeSuccess,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}
}

// runAction executes the action with panic recovery so a misbehaving
// action cannot take down a worker.
func runAction(ctx context.Context, action protocol.Action, execCtx models.ExecutionContext, logger *slog.Logger) (result *models.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: action panicked: %v", errInfrastructure, r)
		}
	}()

	return action.Execute(ctx, execCtx, logger)
}
