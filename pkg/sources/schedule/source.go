// Package schedule turns cron trigger clauses into synthetic dispatch
// events, so scheduled workflows flow through the same ingestion path
// as external events.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// EventCallback receives each synthetic event as its schedule fires.
type EventCallback func(ctx context.Context, event models.Event)

// Source runs one cron runner over every scheduled trigger clause of
// the registered workflows.
type Source struct {
	logger   *slog.Logger
	callback EventCallback

	mu      sync.Mutex
	cron    *cron.Cron
	started bool
	entries int
}

// NewSource creates a stopped schedule source.
func NewSource(logger *slog.Logger) *Source {
	return &Source{
		logger: logger.With("module", "schedule_source"),
		cron:   cron.New(),
	}
}

// Configure replaces the schedule set from the given workflows. Each
// trigger clause with a schedule expression becomes one cron entry.
// Invalid expressions are configuration errors and fail the whole
// reconfiguration.
func (s *Source) Configure(workflows []*models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	replacement := cron.New()
	entries := 0

	for _, workflow := range workflows {
		for _, clause := range workflow.Triggers {
			if clause.Schedule == "" {
				continue
			}

			spec := clause.Schedule
			name := workflow.Name

			_, err := replacement.AddFunc(spec, func() {
				s.fire(name, spec)
			})
			if err != nil {
				return fmt.Errorf("workflow %s schedule %q: %w", name, spec, err)
			}

			entries++
		}
	}

	if s.started {
		s.cron.Stop()
		replacement.Start()
	}

	s.cron = replacement
	s.entries = entries

	s.logger.Info("Schedules configured", "entries", entries)

	return nil
}

// Start begins firing schedules into the callback.
func (s *Source) Start(callback EventCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	s.callback = callback
	s.cron.Start()
	s.started = true

	s.logger.Info("Schedule source started", "entries", s.entries)
}

// Stop halts the cron runner and waits for in-flight firings.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	stopCtx := s.cron.Stop()
	s.started = false

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("Schedule source stopped")

	return nil
}

// fire emits one synthetic dispatch event for a due schedule.
func (s *Source) fire(workflowName, spec string) {
	now := time.Now().UTC()

	event := models.Event{
		ID:    uuid.New().String(),
		Kind:  models.EventKindDispatch,
		Actor: "schedule",
		Payload: map[string]any{
			"schedule":     spec,
			"workflow":     workflowName,
			"scheduled_at": now.Format(time.RFC3339),
		},
		ReceivedAt: now,
	}

	s.logger.Info("Schedule fired", "workflow", workflowName, "schedule", spec)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.callback(ctx, event)
}
