package models

// ExecutionContext carries everything one step's action may see: the
// triggering event, configured parameters, resolved artifact inputs and
// the secrets of the job's bound environment. Secrets are passed by
// value and never escape this context.
type ExecutionContext struct {
	RunID        string            `json:"run_id"`
	WorkflowName string            `json:"workflow_name"`
	JobID        string            `json:"job_id"`
	StepName     string            `json:"step_name"`
	Event        Event             `json:"event"`
	WorkingDir   string            `json:"working_dir"`
	Params       map[string]any    `json:"params,omitempty"`
	Secrets      map[string]string `json:"-"`
	Inputs       map[string][]byte `json:"-"`

	// DeclaredOutputs are the artifact names the step promised to
	// produce; actions that materialize files collect them from the
	// working directory under these names.
	DeclaredOutputs []string `json:"declared_outputs,omitempty"`
}

// ActionResult is what an action hands back across the invocation
// boundary: declared artifact outputs plus a log stream. A failure
// outcome is signalled by the action's error return.
type ActionResult struct {
	Outputs map[string][]byte
	Log     []string
}
