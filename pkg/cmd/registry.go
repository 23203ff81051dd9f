// Package cmd provides common initialization functions for command-line
// applications.
package cmd

import (
	"log/slog"

	"github.com/conveyor-ci/conveyor/pkg/actions/checkout"
	"github.com/conveyor-ci/conveyor/pkg/actions/httprequest"
	logaction "github.com/conveyor-ci/conveyor/pkg/actions/log"
	"github.com/conveyor-ci/conveyor/pkg/actions/run"
	"github.com/conveyor-ci/conveyor/pkg/registry"
)

// NewRegistry returns a registry with every native action registered.
func NewRegistry(logger *slog.Logger) *registry.Registry {
	reg := registry.NewRegistry(logger)

	reg.RegisterAction(checkout.NewActionFactory())
	reg.RegisterAction(run.NewActionFactory())
	reg.RegisterAction(logaction.NewActionFactory())
	reg.RegisterAction(httprequest.NewActionFactory())

	return reg
}
