// Package coordinator connects event ingestion to run scheduling: it
// matches incoming events against registered workflows, starts one run
// per match, and reconciles runs left behind by a previous process.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
	"github.com/conveyor-ci/conveyor/pkg/scheduler"
	"github.com/conveyor-ci/conveyor/pkg/trigger"
	"github.com/google/uuid"
)

// Coordinator owns the registered workflow set and turns events into
// runs.
type Coordinator struct {
	logger    *slog.Logger
	matcher   *trigger.Matcher
	scheduler *scheduler.Scheduler
	runs      persistence.RunRepository

	mu        sync.RWMutex
	workflows map[string]*models.Workflow
}

// NewCoordinator creates a coordinator with no workflows registered.
func NewCoordinator(logger *slog.Logger, matcher *trigger.Matcher, sched *scheduler.Scheduler, runs persistence.RunRepository) *Coordinator {
	return &Coordinator{
		logger:    logger.With("module", "coordinator"),
		matcher:   matcher,
		scheduler: sched,
		runs:      runs,
		workflows: make(map[string]*models.Workflow),
	}
}

// RegisterWorkflows replaces the registered workflow set.
func (c *Coordinator) RegisterWorkflows(workflows []*models.Workflow) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.workflows = make(map[string]*models.Workflow, len(workflows))
	for _, workflow := range workflows {
		c.workflows[workflow.Name] = workflow
	}

	c.logger.Info("Workflows registered", "count", len(workflows))
}

// Workflows returns the registered workflows sorted by name.
func (c *Coordinator) Workflows() []*models.Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.Workflow, 0, len(c.workflows))
	for _, workflow := range c.workflows {
		out = append(out, workflow)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// Workflow returns one registered workflow by name.
func (c *Coordinator) Workflow(name string) (*models.Workflow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	workflow, ok := c.workflows[name]

	return workflow, ok
}

// Ingest matches an event against every registered workflow and starts
// one run per matched workflow. A workflow matching on several trigger
// clauses still yields a single run. Returns the started run ids.
func (c *Coordinator) Ingest(ctx context.Context, event models.Event) ([]string, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	matches := c.matcher.MatchWorkflows(event, c.Workflows())
	if len(matches) == 0 {
		c.logger.Debug("Event matched no workflows",
			"event_id", event.ID,
			"event_kind", event.Kind,
			"ref", event.Ref)

		return nil, nil
	}

	runIDs := make([]string, 0, len(matches))

	for _, match := range matches {
		runID, err := c.scheduler.StartRun(ctx, match.Workflow, event)
		if err != nil {
			return runIDs, fmt.Errorf("failed to start run for workflow %s: %w", match.Workflow.Name, err)
		}

		c.logger.Info("Event triggered run",
			"event_id", event.ID,
			"workflow", match.Workflow.Name,
			"run_id", runID,
			"matched_on", match.Reason)

		runIDs = append(runIDs, runID)
	}

	return runIDs, nil
}

// Dispatch starts a run of a named workflow directly, bypassing trigger
// matching except for the manual-dispatch opt-in check.
func (c *Coordinator) Dispatch(ctx context.Context, workflowName string, event models.Event) (string, error) {
	workflow, ok := c.Workflow(workflowName)
	if !ok {
		return "", fmt.Errorf("workflow %q is not registered", workflowName)
	}

	dispatchable := false

	for _, clause := range workflow.Triggers {
		if clause.ManualDispatch {
			dispatchable = true

			break
		}
	}

	if !dispatchable {
		return "", fmt.Errorf("workflow %q does not allow manual dispatch", workflowName)
	}

	event.Kind = models.EventKindDispatch

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	return c.scheduler.StartRun(ctx, workflow, event)
}

// Recover reconciles runs the previous process left unfinished. The
// durable record is authoritative after a crash; since the in-memory
// scheduling state is gone, each such run is closed out as failed
// rather than silently dropped.
func (c *Coordinator) Recover(ctx context.Context) error {
	unfinished, err := c.runs.ListUnfinished(ctx)
	if err != nil {
		return fmt.Errorf("failed to list unfinished runs: %w", err)
	}

	for _, run := range unfinished {
		now := time.Now().UTC()

		for _, state := range run.Jobs {
			if state.Status.Terminal() {
				continue
			}

			state.Status = models.JobStatusCancelled
			state.ReasonKind = models.ReasonInfrastructure
			state.Reason = "orchestrator restarted mid-run"
		}

		run.Status = models.RunStatusFailed
		run.ReasonKind = models.ReasonInfrastructure
		run.Reason = "orchestrator restarted mid-run"
		run.UpdatedAt = now
		run.FinishedAt = &now

		if err := c.runs.Save(ctx, run); err != nil {
			return fmt.Errorf("failed to reconcile run %s: %w", run.ID, err)
		}

		c.logger.Warn("Reconciled interrupted run", "run_id", run.ID, "workflow", run.WorkflowName)
	}

	if len(unfinished) > 0 {
		c.logger.Info("Recovery complete", "reconciled", len(unfinished))
	}

	return nil
}
