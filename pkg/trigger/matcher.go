// Package trigger decides which workflows an incoming event activates.
package trigger

import (
	"log/slog"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

// Matcher matches normalized events against workflow trigger clauses.
// Matching is a pure function of (event, workflow); the matcher carries
// only a logger.
type Matcher struct {
	logger *slog.Logger
}

// Match records which clause of a workflow fired and why. The matched
// clause feeds the downstream conditional context.
type Match struct {
	Workflow *models.Workflow
	Clause   models.TriggerClause
	Reason   string
}

// NewMatcher creates a trigger matcher.
func NewMatcher(logger *slog.Logger) *Matcher {
	return &Matcher{
		logger: logger.With("module", "trigger_matcher"),
	}
}

// MatchWorkflows returns one Match per workflow the event activates. A
// workflow matches if any of its clauses matches (OR across clauses).
func (m *Matcher) MatchWorkflows(event models.Event, workflows []*models.Workflow) []Match {
	var results []Match

	for _, workflow := range workflows {
		if match, ok := m.MatchWorkflow(event, workflow); ok {
			results = append(results, match)

			m.logger.Debug("Workflow activated by event",
				"workflow", workflow.Name,
				"event_kind", event.Kind,
				"ref", event.Ref,
				"reason", match.Reason)
		}
	}

	m.logger.Info("Completed trigger matching",
		"event_kind", event.Kind,
		"ref", event.Ref,
		"workflows_count", len(workflows),
		"matches_found", len(results))

	return results
}

// MatchWorkflow checks a single workflow and reports the first clause
// that matches. All set fields of a clause must match (AND within a
// clause).
func (m *Matcher) MatchWorkflow(event models.Event, workflow *models.Workflow) (Match, bool) {
	for _, clause := range workflow.Triggers {
		reason, ok := matchClause(event, clause, workflow.Name)
		if !ok {
			continue
		}

		return Match{Workflow: workflow, Clause: clause, Reason: reason}, true
	}

	return Match{}, false
}

func matchClause(event models.Event, clause models.TriggerClause, workflowName string) (string, bool) {
	// Schedule clauses only describe the cron source; they never match
	// inbound repository events. A firing addresses exactly one
	// workflow, so two workflows sharing a cron spec fire independently.
	if clause.Schedule != "" {
		if event.Kind != models.EventKindDispatch {
			return "", false
		}

		if spec, ok := event.Payload["schedule"].(string); !ok || spec != clause.Schedule {
			return "", false
		}

		if owner, ok := event.Payload["workflow"].(string); !ok || owner != workflowName {
			return "", false
		}

		return "schedule " + clause.Schedule, true
	}

	if clause.ManualDispatch {
		if event.Kind != models.EventKindDispatch {
			return "", false
		}

		// Schedule firings are synthetic dispatch events addressed to
		// their owning workflow; they never open a manual-dispatch gate.
		if _, scheduled := event.Payload["schedule"]; scheduled {
			return "", false
		}

		return "manual dispatch", true
	}

	if clause.Kind != "" && clause.Kind != event.Kind {
		return "", false
	}

	if clause.RefPattern != "" && !matchPattern(event.Ref, clause.RefPattern) {
		return "", false
	}

	reason := "event kind " + string(event.Kind)
	if clause.RefPattern != "" {
		reason += ", ref pattern " + clause.RefPattern
	}

	return reason, true
}

// matchPattern performs glob matching on branch and tag names. A single
// '*' wildcard splits the pattern into a required prefix and suffix.
func matchPattern(value, pattern string) bool {
	if pattern == "*" {
		return true
	}

	if strings.Contains(pattern, "*") {
		parts := strings.SplitN(pattern, "*", 2)
		if !strings.Contains(parts[1], "*") {
			return strings.HasPrefix(value, parts[0]) && strings.HasSuffix(value, parts[1])
		}
	}

	return value == pattern
}
