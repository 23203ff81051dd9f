package models

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether the run has reached a final state.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// JobStatus is the runtime state of one job within a run.
type JobStatus string

const (
	JobStatusBlocked          JobStatus = "blocked"
	JobStatusReady            JobStatus = "ready"
	JobStatusAwaitingApproval JobStatus = "awaiting_approval"
	JobStatusRunning          JobStatus = "running"
	JobStatusSucceeded        JobStatus = "succeeded"
	JobStatusFailed           JobStatus = "failed"
	JobStatusSkipped          JobStatus = "skipped"
	JobStatusCancelled        JobStatus = "cancelled"
)

// Terminal reports whether the job has reached a final state. A skipped
// job is terminal for its dependents' condition evaluation.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusSkipped, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// ReasonKind distinguishes why a job or run ended the way it did, so
// external tooling can tell configuration problems from action failures.
type ReasonKind string

const (
	ReasonConfiguration  ReasonKind = "configuration"
	ReasonConditionSkip  ReasonKind = "condition_skip"
	ReasonDependency     ReasonKind = "dependency_not_satisfied"
	ReasonActionFailure  ReasonKind = "action_failure"
	ReasonApproval       ReasonKind = "approval"
	ReasonInfrastructure ReasonKind = "infrastructure"
	ReasonCancelled      ReasonKind = "cancelled"
)

// StepOutcome is the terminal result of one step execution.
type StepOutcome string

const (
	StepOutcomeSuccess StepOutcome = "success"
	StepOutcomeFailure StepOutcome = "failure"
	StepOutcomeSkipped StepOutcome = "skipped"
)

// StepResult records the outcome of a single step within a job run.
type StepResult struct {
	Name       string      `json:"name"`
	Outcome    StepOutcome `json:"outcome"`
	ReasonKind ReasonKind  `json:"reason_kind,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
}

// JobState is the mutable runtime record of one job inside a run. It is
// owned exclusively by that run.
type JobState struct {
	Status     JobStatus    `json:"status"`
	ReasonKind ReasonKind   `json:"reason_kind,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	StartedAt  *time.Time   `json:"started_at,omitempty"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Steps      []StepResult `json:"steps,omitempty"`
}

// Duration returns how long the job ran, or zero if it never started.
func (j *JobState) Duration() time.Duration {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return 0
	}

	return j.FinishedAt.Sub(*j.StartedAt)
}

// Run is one execution instance of a workflow triggered by one event.
// The job set is fixed at build time; no job is added or removed mid-run.
type Run struct {
	ID           string               `json:"id"`
	WorkflowName string               `json:"workflow_name"`
	Event        Event                `json:"event"`
	Status       RunStatus            `json:"status"`
	ReasonKind   ReasonKind           `json:"reason_kind,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	Jobs         map[string]*JobState `json:"jobs"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	FinishedAt   *time.Time           `json:"finished_at,omitempty"`
}
