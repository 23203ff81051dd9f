package expr

import (
	"fmt"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

// Condition is a compiled job or step condition. The zero value (no
// expression) means "all direct dependencies succeeded", which the
// scheduler resolves before consulting the tree.
type Condition struct {
	source string
	tree   Node
}

// Compile parses source into a Condition. An empty source yields the
// default condition.
func Compile(source string) (*Condition, error) {
	cond := &Condition{source: source}

	if source == "" {
		return cond, nil
	}

	tree, err := Parse(source)
	if err != nil {
		return nil, fmt.Errorf("invalid condition %q: %w", source, err)
	}

	cond.tree = tree

	return cond, nil
}

// IsDefault reports whether no explicit expression was declared.
func (c *Condition) IsDefault() bool {
	return c.tree == nil
}

// UsesAlways reports whether the condition contains the always()
// sentinel, which exempts the job from dependency-failure propagation.
func (c *Condition) UsesAlways() bool {
	return c.tree != nil && c.tree.UsesAlways()
}

// Source returns the original expression text.
func (c *Condition) Source() string {
	return c.source
}

// Evaluate resolves the condition against a terminal-state snapshot.
// Deterministic: the same snapshot always produces the same answer.
func (c *Condition) Evaluate(ctx *Context) (bool, error) {
	if c.tree == nil {
		return true, nil
	}

	return c.tree.Eval(ctx)
}

// DependenciesSatisfied applies the default dependency rule for a job:
// every dependency terminal, none failed or cancelled. When strict is
// false a skipped dependency satisfies the rule; when true it does not.
func DependenciesSatisfied(needs []string, statuses map[string]models.JobStatus, strict bool) bool {
	for _, dep := range needs {
		status, ok := statuses[dep]
		if !ok {
			return false
		}

		switch status {
		case models.JobStatusSucceeded:
		case models.JobStatusSkipped:
			if strict {
				return false
			}
		default:
			return false
		}
	}

	return true
}
