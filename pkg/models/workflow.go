package models

// TriggerClause is one trigger predicate of a workflow. Fields that are
// set must all match (AND); a workflow activates if any of its clauses
// matches the incoming event (OR across clauses).
type TriggerClause struct {
	Kind           EventKind `json:"kind,omitempty"`
	RefPattern     string    `json:"ref_pattern,omitempty"`
	ManualDispatch bool      `json:"manual_dispatch,omitempty"`
	Schedule       string    `json:"schedule,omitempty"` // cron expression, drives the schedule source
}

// Workflow is a declarative pipeline definition. It is loaded once at
// configuration time and is immutable for the lifetime of any run
// instantiated from it.
type Workflow struct {
	Name     string          `json:"name"     validate:"required,min=3"`
	Triggers []TriggerClause `json:"triggers" validate:"required,min=1"`
	Jobs     []*Job          `json:"jobs"     validate:"required,min=1,dive"`
}

// Job is a unit of work scheduled as a whole. Dependencies reference
// other job ids within the same workflow.
type Job struct {
	ID          string         `json:"id"          validate:"required"`
	Needs       []string       `json:"needs,omitempty"`
	Condition   string         `json:"condition,omitempty"`
	Environment string         `json:"environment,omitempty"`
	Steps       []Step         `json:"steps"       validate:"required,min=1,dive"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Step is a sequential unit of work inside a job, bound to one action.
type Step struct {
	Name            string         `json:"name"   validate:"required"`
	Condition       string         `json:"condition,omitempty"`
	Action          string         `json:"action" validate:"required"`
	With            map[string]any `json:"with,omitempty"`
	ArtifactInputs  []string       `json:"artifact_inputs,omitempty"`
	ArtifactOutputs []string       `json:"artifact_outputs,omitempty"`
	ContinueOnError bool           `json:"continue_on_error,omitempty"`
}

// FindJob returns the job declaration with the given id, if present.
func (w *Workflow) FindJob(id string) (*Job, bool) {
	for _, job := range w.Jobs {
		if job.ID == id {
			return job, true
		}
	}

	return nil, false
}
