package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/conveyor-ci/conveyor/pkg/cmd"
	"github.com/conveyor-ci/conveyor/pkg/config"
	"github.com/conveyor-ci/conveyor/pkg/coordinator"
	"github.com/conveyor-ci/conveyor/pkg/environment"
	"github.com/conveyor-ci/conveyor/pkg/log"
	"github.com/conveyor-ci/conveyor/pkg/models"
	"github.com/conveyor-ci/conveyor/pkg/reporter"
	"github.com/conveyor-ci/conveyor/pkg/scheduler"
	"github.com/conveyor-ci/conveyor/pkg/sources/schedule"
	"github.com/conveyor-ci/conveyor/pkg/trigger"
)

// runDaemon wires every component together and blocks until shutdown.
func runDaemon(ctx context.Context, command *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.WithModule("conveyord")
	logger.Info("Initializing Conveyor orchestrator")

	loader := config.NewLoader(logger)

	workflows, err := loader.LoadWorkflows(command.String("workflows-dir"))
	if err != nil {
		return fmt.Errorf("failed to load workflows: %w", err)
	}

	environments, err := loader.LoadEnvironments(command.String("environments-file"))
	if err != nil {
		return fmt.Errorf("failed to load environments: %w", err)
	}

	envManager := environment.NewManager(logger, environments)

	eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.Error("Failed to close event bus", "error", err)
		}
	}()

	persistence := cmd.NewPersistence(command.String("database-url"))
	defer func() {
		if err := persistence.Close(context.Background()); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	store, err := cmd.NewArtifactStore(command.String("artifact-store-url"))
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}

	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close artifact store", "error", err)
		}
	}()

	registry := cmd.NewRegistry(logger)
	rep := reporter.NewReporter(logger, envManager.Redactor(), eventBus)

	sched := scheduler.NewScheduler(logger, registry, store, envManager, rep, persistence.RunRepository(), scheduler.Options{
		MaxConcurrency:     int(command.Int("max-concurrency")),
		GracePeriod:        command.Duration("grace-period"),
		ApprovalTimeout:    command.Duration("approval-timeout"),
		Retention:          command.Duration("artifact-retention"),
		StrictDependencies: command.Bool("strict-dependencies"),
		WorkspaceRoot:      command.String("workspace-root"),
	})

	coord := coordinator.NewCoordinator(logger, trigger.NewMatcher(logger), sched, persistence.RunRepository())
	coord.RegisterWorkflows(workflows)

	if err := coord.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted runs: %w", err)
	}

	scheduleSource := schedule.NewSource(logger)
	if err := scheduleSource.Configure(workflows); err != nil {
		return fmt.Errorf("failed to configure schedules: %w", err)
	}

	scheduleSource.Start(func(fireCtx context.Context, event models.Event) {
		if _, err := coord.Ingest(fireCtx, event); err != nil {
			logger.Error("Failed to ingest scheduled event", "error", err)
		}
	})

	api := NewAPI(logger, coord, sched, rep, envManager, persistence, registry)
	app := api.App()

	errCh := make(chan error, 1)

	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", command.Int("port")))
	}()

	logger.Info("Conveyor orchestrator started", "port", command.Int("port"), "workflows", len(workflows))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	if err := app.Shutdown(); err != nil {
		logger.Error("Failed to shut down HTTP server", "error", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), command.Duration("grace-period"))
	defer cancel()

	if err := scheduleSource.Stop(stopCtx); err != nil {
		logger.Error("Failed to stop schedule source", "error", err)
	}

	sched.Shutdown()
	logger.Info("Shutdown complete")

	return nil
}
