// Package web provides the HTTP surface of the orchestrator: event
// ingestion, run inspection, cancellation and approval endpoints.
package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/conveyor-ci/conveyor/pkg/coordinator"
	"github.com/conveyor-ci/conveyor/pkg/environment"
	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
	"github.com/conveyor-ci/conveyor/pkg/registry"
	"github.com/conveyor-ci/conveyor/pkg/reporter"
	"github.com/conveyor-ci/conveyor/pkg/scheduler"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
)

type APIHandlers struct {
	coordinator  *coordinator.Coordinator
	scheduler    *scheduler.Scheduler
	reporter     *reporter.Reporter
	environments *environment.Manager
	persistence  persistence.Persistence
	registry     *registry.Registry
	validator    *validator.Validate
}

func NewAPIHandlers(
	coord *coordinator.Coordinator,
	sched *scheduler.Scheduler,
	rep *reporter.Reporter,
	environments *environment.Manager,
	persist persistence.Persistence,
	reg *registry.Registry,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		coordinator:  coord,
		scheduler:    sched,
		reporter:     rep,
		environments: environments,
		persistence:  persist,
		registry:     reg,
		validator:    validate,
	}
}

// IngestEvent accepts a normalized repository event and starts a run
// for every workflow it triggers. An event matching nothing is still a
// successful ingestion.
func (h *APIHandlers) IngestEvent(c fiber.Ctx) error {
	var req IngestEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	event := models.Event{
		ID:         uuid.New().String(),
		Kind:       models.EventKind(req.Kind),
		Ref:        req.Ref,
		Actor:      req.Actor,
		Payload:    req.Payload,
		ReceivedAt: time.Now().UTC(),
	}

	runIDs, err := h.coordinator.Ingest(c.Context(), event)
	if err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(IngestEventResponse{
		EventID: event.ID,
		RunIDs:  runIDs,
	})
}

// DispatchWorkflow starts a named workflow manually. Only workflows
// that opted into manual dispatch accept this.
func (h *APIHandlers) DispatchWorkflow(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Workflow name is required")
	}

	var req DispatchRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if _, ok := h.coordinator.Workflow(name); !ok {
		return notFound(c, "Workflow not found")
	}

	runID, err := h.coordinator.Dispatch(c.Context(), name, models.Event{
		Ref:     req.Ref,
		Actor:   req.Actor,
		Payload: req.Payload,
	})
	if err != nil {
		return conflict(c, err.Error())
	}

	return c.Status(fiber.StatusCreated).JSON(DispatchResponse{RunID: runID})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"workflows": h.coordinator.Workflows(),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	name := c.Params("name")
	if name == "" {
		return badRequest(c, "Workflow name is required")
	}

	workflow, ok := h.coordinator.Workflow(name)
	if !ok {
		return notFound(c, "Workflow not found")
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) GetRuns(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"runs": h.reporter.ListRuns(),
	})
}

// GetRun returns the run snapshot with its redacted log stream. Runs
// from before the current process are served from durable storage,
// without logs.
func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	snapshot, err := h.reporter.Snapshot(id)
	if err == nil {
		return c.JSON(snapshot)
	}

	if !errors.Is(err, reporter.ErrRunNotFound) {
		return internalError(c, err)
	}

	run, err := h.persistence.RunRepository().Get(c.Context(), id)
	if err != nil {
		if persistence.IsRunNotFound(err) {
			return notFound(c, "Run not found")
		}

		return internalError(c, err)
	}

	return c.JSON(reporter.Snapshot{Run: *run, Logs: []reporter.LogLine{}})
}

// CancelRun requests cooperative cancellation of an in-flight run.
func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Run ID is required")
	}

	err := h.scheduler.Cancel(c.Context(), id)
	if err == nil {
		return c.SendStatus(fiber.StatusAccepted)
	}

	if !errors.Is(err, reporter.ErrRunNotFound) {
		return internalError(c, err)
	}

	run, getErr := h.persistence.RunRepository().Get(c.Context(), id)
	if getErr != nil {
		return notFound(c, "Run not found")
	}

	if run.Status.Terminal() {
		return conflict(c, "Run already finished")
	}

	return notFound(c, "Run not found")
}

// ResolveApproval approves or rejects a job waiting on an environment
// gate.
func (h *APIHandlers) ResolveApproval(c fiber.Ctx) error {
	runID := c.Params("id")
	jobID := c.Params("jobId")

	if runID == "" || jobID == "" {
		return badRequest(c, "Run ID and job ID are required")
	}

	var req ApprovalRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.environments.Signal(runID, jobID, req.Approved); err != nil {
		if errors.Is(err, environment.ErrNoPendingApproval) {
			return notFound(c, "No pending approval for this job")
		}

		return internalError(c, err)
	}

	h.reporter.ApprovalResolved(c.Context(), runID, jobID, req.Approved)

	return c.JSON(fiber.Map{
		"run_id":   runID,
		"job_id":   jobID,
		"approved": req.Approved,
		"approver": req.Approver,
	})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck := "ok"
	healthy := true

	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		repositoryCheck = err.Error()
		healthy = false
	}

	status := "healthy"
	httpStatus := http.StatusOK

	if !healthy {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"actions":   h.registry.ActionIDs(),
		"timestamp": time.Now().UTC(),
	})
}
