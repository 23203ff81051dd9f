// Package reporter aggregates run, job and step outcomes into live
// read-only snapshots for external reporting, and forwards lifecycle
// events onto the event bus. All log output passes through secret
// redaction before it is stored or forwarded.
package reporter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/environment"
	"github.com/conveyor-ci/conveyor/pkg/eventbus"
	"github.com/conveyor-ci/conveyor/pkg/events"
	"github.com/conveyor-ci/conveyor/pkg/models"
)

// ErrRunNotFound indicates no run is known under the given id.
var ErrRunNotFound = errors.New("run not found")

// LogLine is one redacted line of a run's log stream.
type LogLine struct {
	Time  time.Time `json:"time"`
	JobID string    `json:"job_id,omitempty"`
	Line  string    `json:"line"`
}

// Snapshot is a point-in-time copy of a run's state. It reflects
// partial progress while the run is still in flight.
type Snapshot struct {
	Run  models.Run `json:"run"`
	Logs []LogLine  `json:"logs"`
}

// Reporter keeps one record per run. Per-run records are guarded by one
// lock each so unrelated runs update independently.
type Reporter struct {
	logger    *slog.Logger
	redactor  *environment.Redactor
	publisher eventbus.EventPublisher

	mu   sync.RWMutex
	runs map[string]*record
}

type record struct {
	mu   sync.Mutex
	run  models.Run
	logs []LogLine
}

// NewReporter creates a reporter. publisher may be nil when no bus is
// configured; events are then dropped.
func NewReporter(logger *slog.Logger, redactor *environment.Redactor, publisher eventbus.EventPublisher) *Reporter {
	return &Reporter{
		logger:    logger.With("module", "reporter"),
		redactor:  redactor,
		publisher: publisher,
		runs:      make(map[string]*record),
	}
}

// RunStarted registers a new run and publishes its start event.
func (r *Reporter) RunStarted(ctx context.Context, run models.Run, jobOrder []string) {
	r.mu.Lock()
	r.runs[run.ID] = &record{run: cloneRun(run)}
	r.mu.Unlock()

	r.publish(ctx, run.ID, events.RunStarted{
		BaseEvent: events.NewBaseEvent(events.RunStartedEvent, run.ID, run.WorkflowName),
		Event:     run.Event,
		JobOrder:  jobOrder,
	})
}

// JobTransition records a job state change and publishes start/finish
// events for the transitions external tooling cares about.
func (r *Reporter) JobTransition(ctx context.Context, runID, jobID string, state models.JobState) error {
	rec, err := r.record(runID)
	if err != nil {
		return err
	}

	cloned := cloneJobState(state)

	rec.mu.Lock()
	rec.run.Jobs[jobID] = &cloned
	rec.run.UpdatedAt = time.Now().UTC()
	workflowName := rec.run.WorkflowName
	rec.mu.Unlock()

	switch state.Status {
	case models.JobStatusRunning:
		r.publish(ctx, runID, events.JobStarted{
			BaseEvent: events.NewBaseEvent(events.JobStartedEvent, runID, workflowName),
			JobID:     jobID,
		})
	case models.JobStatusSucceeded, models.JobStatusFailed, models.JobStatusSkipped, models.JobStatusCancelled:
		r.publish(ctx, runID, events.JobFinished{
			BaseEvent: events.NewBaseEvent(events.JobFinishedEvent, runID, workflowName),
			JobID:     jobID,
			Status:    state.Status,
			Reason:    state.Reason,
			Duration:  state.Duration(),
			Steps:     state.Steps,
		})
	}

	return nil
}

// ApprovalRequested publishes the approval gate notification.
func (r *Reporter) ApprovalRequested(ctx context.Context, runID, jobID, env string) {
	rec, err := r.record(runID)
	if err != nil {
		return
	}

	rec.mu.Lock()
	workflowName := rec.run.WorkflowName
	rec.mu.Unlock()

	r.publish(ctx, runID, events.ApprovalRequested{
		BaseEvent:   events.NewBaseEvent(events.ApprovalRequestedEvent, runID, workflowName),
		JobID:       jobID,
		Environment: env,
	})
}

// ApprovalResolved publishes the outcome of an approval gate.
func (r *Reporter) ApprovalResolved(ctx context.Context, runID, jobID string, approved bool) {
	rec, err := r.record(runID)
	if err != nil {
		return
	}

	rec.mu.Lock()
	workflowName := rec.run.WorkflowName
	rec.mu.Unlock()

	r.publish(ctx, runID, events.ApprovalResolved{
		BaseEvent: events.NewBaseEvent(events.ApprovalResolvedEvent, runID, workflowName),
		JobID:     jobID,
		Approved:  approved,
	})
}

// RunCancelled publishes the cancellation request notification. The
// terminal state still arrives later through RunFinished once workers
// wind down.
func (r *Reporter) RunCancelled(ctx context.Context, runID, reason string) {
	rec, err := r.record(runID)
	if err != nil {
		return
	}

	rec.mu.Lock()
	workflowName := rec.run.WorkflowName
	rec.mu.Unlock()

	r.publish(ctx, runID, events.RunCancelled{
		BaseEvent: events.NewBaseEvent(events.RunCancelledEvent, runID, workflowName),
		Reason:    reason,
	})
}

// RunFinished records the terminal run status and publishes the final
// event.
func (r *Reporter) RunFinished(ctx context.Context, runID string, status models.RunStatus, reasonKind models.ReasonKind, reason string) error {
	rec, err := r.record(runID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	rec.mu.Lock()
	rec.run.Status = status
	rec.run.ReasonKind = reasonKind
	rec.run.Reason = reason
	rec.run.UpdatedAt = now
	rec.run.FinishedAt = &now
	workflowName := rec.run.WorkflowName
	duration := now.Sub(rec.run.CreatedAt)
	rec.mu.Unlock()

	r.publish(ctx, runID, events.RunFinished{
		BaseEvent: events.NewBaseEvent(events.RunFinishedEvent, runID, workflowName),
		Status:    status,
		Reason:    reason,
		Duration:  duration,
	})

	return nil
}

// AppendLog adds redacted log lines to the run's stream.
func (r *Reporter) AppendLog(runID, jobID string, lines ...string) {
	rec, err := r.record(runID)
	if err != nil {
		return
	}

	now := time.Now().UTC()

	rec.mu.Lock()
	defer rec.mu.Unlock()

	for _, line := range lines {
		rec.logs = append(rec.logs, LogLine{
			Time:  now,
			JobID: jobID,
			Line:  r.redactor.Redact(line),
		})
	}
}

// Snapshot returns a copy of the run's current state, including partial
// progress of an in-flight run.
func (r *Reporter) Snapshot(runID string) (*Snapshot, error) {
	rec, err := r.record(runID)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	snap := &Snapshot{
		Run:  cloneRun(rec.run),
		Logs: make([]LogLine, len(rec.logs)),
	}
	copy(snap.Logs, rec.logs)

	return snap, nil
}

// ListRuns returns summaries (no logs) of all known runs.
func (r *Reporter) ListRuns() []models.Run {
	r.mu.RLock()
	records := make([]*record, 0, len(r.runs))

	for _, rec := range r.runs {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	out := make([]models.Run, 0, len(records))

	for _, rec := range records {
		rec.mu.Lock()
		out = append(out, cloneRun(rec.run))
		rec.mu.Unlock()
	}

	return out
}

func (r *Reporter) record(runID string) (*record, error) {
	r.mu.RLock()
	rec, ok := r.runs[runID]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	return rec, nil
}

func (r *Reporter) publish(ctx context.Context, key string, event eventbus.Event) {
	if r.publisher == nil {
		return
	}

	if err := r.publisher.Publish(ctx, key, event); err != nil {
		r.logger.Error("Failed to publish lifecycle event",
			"event_type", event.GetType(),
			"error", err)
	}
}

func cloneRun(run models.Run) models.Run {
	out := run
	out.Jobs = make(map[string]*models.JobState, len(run.Jobs))

	for id, state := range run.Jobs {
		cloned := cloneJobState(*state)
		out.Jobs[id] = &cloned
	}

	return out
}

func cloneJobState(state models.JobState) models.JobState {
	out := state
	out.Steps = make([]models.StepResult, len(state.Steps))
	copy(out.Steps, state.Steps)

	return out
}
