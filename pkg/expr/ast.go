// Package expr implements the condition language used by job and step
// declarations: string equality, boolean combinators, a status(job_id)
// accessor and the always() sentinel. Expressions parse once into a
// typed tree and evaluate against an immutable context snapshot, so
// re-evaluation with the same snapshot always yields the same result.
package expr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

var (
	// ErrUnknownIdentifier indicates the expression referenced a field the
	// context does not carry.
	ErrUnknownIdentifier = errors.New("unknown identifier")

	// ErrUnknownJob indicates a status() accessor named a job that is not
	// terminal in the run (or does not exist at all).
	ErrUnknownJob = errors.New("unknown job in status()")

	// ErrNotBoolean indicates a value was used where a boolean was needed.
	ErrNotBoolean = errors.New("expression is not boolean")
)

// Context is the fixed snapshot a condition evaluates against. Statuses
// holds only jobs that are already terminal in the run.
type Context struct {
	Event       models.Event
	Environment string
	Statuses    map[string]models.JobStatus
	StepResults map[string]models.StepOutcome
}

// Node is one node of the parsed expression tree.
type Node interface {
	// Eval returns the boolean value of this node.
	Eval(ctx *Context) (bool, error)

	// UsesAlways reports whether the subtree contains the always()
	// sentinel, which exempts a job from dependency-failure propagation.
	UsesAlways() bool
}

// value nodes produce strings; only comparison and call nodes are boolean.

type valueNode interface {
	value(ctx *Context) (string, error)
}

type literalNode struct {
	text string
}

func (n *literalNode) value(_ *Context) (string, error) {
	return n.text, nil
}

type identNode struct {
	name string
}

func (n *identNode) value(ctx *Context) (string, error) {
	switch n.name {
	case "ref", "event.ref":
		return ctx.Event.Ref, nil
	case "actor", "event.actor":
		return ctx.Event.Actor, nil
	case "event.kind":
		return string(ctx.Event.Kind), nil
	case "environment":
		return ctx.Environment, nil
	}

	if key, ok := strings.CutPrefix(n.name, "payload."); ok {
		if v, exists := ctx.Event.Payload[key]; exists {
			return fmt.Sprintf("%v", v), nil
		}

		return "", nil
	}

	if name, ok := strings.CutPrefix(n.name, "steps."); ok {
		if outcome, exists := ctx.StepResults[name]; exists {
			return string(outcome), nil
		}

		return "", nil
	}

	return "", fmt.Errorf("%w: %s", ErrUnknownIdentifier, n.name)
}

type statusNode struct {
	jobID string
}

func (n *statusNode) value(ctx *Context) (string, error) {
	status, ok := ctx.Statuses[n.jobID]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, n.jobID)
	}

	return string(status), nil
}

type compareNode struct {
	left, right valueNode
	negate      bool
}

func (n *compareNode) Eval(ctx *Context) (bool, error) {
	l, err := n.left.value(ctx)
	if err != nil {
		return false, err
	}

	r, err := n.right.value(ctx)
	if err != nil {
		return false, err
	}

	if n.negate {
		return l != r, nil
	}

	return l == r, nil
}

func (n *compareNode) UsesAlways() bool { return false }

type alwaysNode struct{}

func (*alwaysNode) Eval(_ *Context) (bool, error) { return true, nil }
func (*alwaysNode) UsesAlways() bool              { return true }

type notNode struct {
	inner Node
}

func (n *notNode) Eval(ctx *Context) (bool, error) {
	v, err := n.inner.Eval(ctx)
	if err != nil {
		return false, err
	}

	return !v, nil
}

func (n *notNode) UsesAlways() bool { return n.inner.UsesAlways() }

type binaryNode struct {
	op          string // "&&" or "||"
	left, right Node
}

func (n *binaryNode) Eval(ctx *Context) (bool, error) {
	l, err := n.left.Eval(ctx)
	if err != nil {
		return false, err
	}

	// Short-circuit the way the operators read.
	if n.op == "&&" && !l {
		return false, nil
	}

	if n.op == "||" && l {
		return true, nil
	}

	return n.right.Eval(ctx)
}

func (n *binaryNode) UsesAlways() bool {
	return n.left.UsesAlways() || n.right.UsesAlways()
}
