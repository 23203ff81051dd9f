package models

// ApprovalPolicy controls whether jobs bound to an environment need a
// manual approval signal before they may start.
type ApprovalPolicy string

const (
	ApprovalPolicyNone   ApprovalPolicy = "none"
	ApprovalPolicyManual ApprovalPolicy = "manual"
)

// Environment is a named deployment target. Secrets are resolved at job
// dispatch time and never logged; job declarations reference environments
// by name, never copy them.
type Environment struct {
	Name     string            `json:"name"    validate:"required"`
	Secrets  map[string]string `json:"secrets,omitempty"`
	Approval ApprovalPolicy    `json:"approval,omitempty"`
}
