package main

import (
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/conveyor-ci/conveyor/pkg/coordinator"
	"github.com/conveyor-ci/conveyor/pkg/environment"
	"github.com/conveyor-ci/conveyor/pkg/persistence"
	"github.com/conveyor-ci/conveyor/pkg/registry"
	"github.com/conveyor-ci/conveyor/pkg/reporter"
	"github.com/conveyor-ci/conveyor/pkg/scheduler"
	"github.com/conveyor-ci/conveyor/pkg/web"
)

type API struct {
	logger       *slog.Logger
	coordinator  *coordinator.Coordinator
	scheduler    *scheduler.Scheduler
	reporter     *reporter.Reporter
	environments *environment.Manager
	persistence  persistence.Persistence
	registry     *registry.Registry
	validate     *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	coord *coordinator.Coordinator,
	sched *scheduler.Scheduler,
	rep *reporter.Reporter,
	environments *environment.Manager,
	persist persistence.Persistence,
	reg *registry.Registry,
) *API {
	return &API{
		logger:       logger,
		coordinator:  coord,
		scheduler:    sched,
		reporter:     rep,
		environments: environments,
		persistence:  persist,
		registry:     reg,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.coordinator,
		a.scheduler,
		a.reporter,
		a.environments,
		a.persistence,
		a.registry,
		a.validate,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Conveyor API")
	})

	app.Post("/events", handlers.IngestEvent)

	w := app.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Get("/:name", handlers.GetWorkflow)
	w.Post("/:name/dispatch", handlers.DispatchWorkflow)

	r := app.Group("/runs")
	r.Get("/", handlers.GetRuns)
	r.Get("/:id", handlers.GetRun)
	r.Post("/:id/cancel", handlers.CancelRun)
	r.Post("/:id/jobs/:jobId/approve", handlers.ResolveApproval)

	app.Get("/health", handlers.HealthCheck)

	return app
}
