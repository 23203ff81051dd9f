// Package main provides the Conveyor orchestrator daemon: it loads
// workflow and environment configuration, ingests repository events
// over HTTP, schedules runs, and reports their progress.
package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/conveyor-ci/conveyor/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "conveyord",
		EnableShellCompletion: true,
		Usage:                 "Run the Conveyor pipeline orchestrator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workflows-dir",
				Usage:   "Directory containing workflow definition files",
				Value:   "./workflows",
				Sources: cli.EnvVars("WORKFLOWS_DIR"),
			},
			&cli.StringFlag{
				Name:    "environments-file",
				Usage:   "Path to the environments definition file",
				Value:   "./environments.json",
				Sources: cli.EnvVars("ENVIRONMENTS_FILE"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Storage URL for run records (e.g. file://./data/runs)",
				Value:   "file://./data",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "artifact-store-url",
				Usage:   "Artifact store URL (memory, redis://...)",
				Value:   "memory",
				Sources: cli.EnvVars("ARTIFACT_STORE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Lifecycle event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.IntFlag{
				Name:    "max-concurrency",
				Usage:   "Maximum number of concurrently running jobs",
				Value:   4,
				Sources: cli.EnvVars("MAX_CONCURRENCY"),
			},
			&cli.DurationFlag{
				Name:    "grace-period",
				Usage:   "How long cancelled jobs may run before forced termination",
				Value:   30 * time.Second,
				Sources: cli.EnvVars("GRACE_PERIOD"),
			},
			&cli.DurationFlag{
				Name:    "approval-timeout",
				Usage:   "How long a job waits for a manual approval",
				Value:   15 * time.Minute,
				Sources: cli.EnvVars("APPROVAL_TIMEOUT"),
			},
			&cli.DurationFlag{
				Name:    "artifact-retention",
				Usage:   "How long finished runs keep their artifacts inspectable",
				Value:   time.Hour,
				Sources: cli.EnvVars("ARTIFACT_RETENTION"),
			},
			&cli.BoolFlag{
				Name:    "strict-dependencies",
				Usage:   "Treat skipped dependencies as unsatisfied",
				Sources: cli.EnvVars("STRICT_DEPENDENCIES"),
			},
			&cli.StringFlag{
				Name:    "workspace-root",
				Usage:   "Root directory for job working directories",
				Value:   "./workspace",
				Sources: cli.EnvVars("WORKSPACE_ROOT"),
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the HTTP API on",
				Value:   9000,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "json",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return runDaemon(ctx, command)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
