// Package registry resolves step action references to their factories.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/conveyor-ci/conveyor/pkg/protocol"
)

// Registry maps action type ids to their factories.
type Registry struct {
	logger    *slog.Logger
	factories map[string]protocol.ActionFactory
}

// NewRegistry creates an empty action registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger.With("module", "registry"),
		factories: make(map[string]protocol.ActionFactory),
	}
}

// RegisterAction adds a factory; a later registration under the same id
// replaces the earlier one.
func (r *Registry) RegisterAction(factory protocol.ActionFactory) {
	r.factories[factory.ID()] = factory
	r.logger.Debug("Registered action", "action_id", factory.ID())
}

// CreateAction instantiates an action for a step.
func (r *Registry) CreateAction(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.factories[actionType]
	if !ok {
		return nil, fmt.Errorf("action type %q not registered", actionType)
	}

	return factory.Create(config)
}

// ActionIDs returns the registered action type ids, sorted.
func (r *Registry) ActionIDs() []string {
	ids := make([]string, 0, len(r.factories))
	for id := range r.factories {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}
