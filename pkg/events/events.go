// Package events defines the lifecycle notifications a run emits while
// it progresses. External collaborators (commit-status updaters,
// notification hooks) subscribe to these on the event bus.
package events

import (
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every run lifecycle event.
const Topic = "conveyor.runs"

const EventKeyMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunStartedEvent        EventType = "run.started"
	RunFinishedEvent       EventType = "run.finished"
	RunCancelledEvent      EventType = "run.cancelled"
	JobStartedEvent        EventType = "job.started"
	JobFinishedEvent       EventType = "job.finished"
	ApprovalRequestedEvent EventType = "approval.requested"
	ApprovalResolvedEvent  EventType = "approval.resolved"
)

type BaseEvent struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	Timestamp    time.Time `json:"timestamp"`
	RunID        string    `json:"run_id"`
	WorkflowName string    `json:"workflow_name"`
}

func NewBaseEvent(eventType EventType, runID, workflowName string) BaseEvent {
	return BaseEvent{
		ID:           uuid.New().String(),
		Type:         eventType,
		Timestamp:    time.Now().UTC(),
		RunID:        runID,
		WorkflowName: workflowName,
	}
}

type RunStarted struct {
	BaseEvent

	Event    models.Event `json:"event"`
	JobOrder []string     `json:"job_order"`
}

func (e RunStarted) GetType() EventType { return RunStartedEvent }

type RunFinished struct {
	BaseEvent

	Status   models.RunStatus `json:"status"`
	Reason   string           `json:"reason,omitempty"`
	Duration time.Duration    `json:"duration"`
}

func (e RunFinished) GetType() EventType { return RunFinishedEvent }

type RunCancelled struct {
	BaseEvent

	Reason string `json:"reason,omitempty"`
}

func (e RunCancelled) GetType() EventType { return RunCancelledEvent }

type JobStarted struct {
	BaseEvent

	JobID       string `json:"job_id"`
	Environment string `json:"environment,omitempty"`
}

func (e JobStarted) GetType() EventType { return JobStartedEvent }

type JobFinished struct {
	BaseEvent

	JobID    string              `json:"job_id"`
	Status   models.JobStatus    `json:"status"`
	Reason   string              `json:"reason,omitempty"`
	Duration time.Duration       `json:"duration"`
	Steps    []models.StepResult `json:"steps,omitempty"`
}

func (e JobFinished) GetType() EventType { return JobFinishedEvent }

type ApprovalRequested struct {
	BaseEvent

	JobID       string `json:"job_id"`
	Environment string `json:"environment"`
}

func (e ApprovalRequested) GetType() EventType { return ApprovalRequestedEvent }

type ApprovalResolved struct {
	BaseEvent

	JobID    string `json:"job_id"`
	Approved bool   `json:"approved"`
}

func (e ApprovalResolved) GetType() EventType { return ApprovalResolvedEvent }
