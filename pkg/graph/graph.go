// Package graph builds and validates the job dependency graph of a
// workflow. Validation happens once at configuration time; a run never
// mutates its graph.
package graph

import (
	"errors"
	"fmt"
	"sort"

	"github.com/conveyor-ci/conveyor/pkg/models"
)

var (
	// ErrDuplicateJob indicates two jobs share the same id.
	ErrDuplicateJob = errors.New("duplicate job id")

	// ErrUnknownDependency indicates a job needs an id that no job declares.
	ErrUnknownDependency = errors.New("unknown dependency")

	// ErrCycle indicates the dependency relation is not acyclic.
	ErrCycle = errors.New("dependency cycle")
)

// Graph is a validated, immutable job DAG.
type Graph struct {
	jobs       map[string]*models.Job
	dependents map[string][]string
	order      []string
}

// Build validates job declarations into a Graph. Each validation rule is
// a distinct fatal error: duplicate id, unknown dependency reference,
// and dependency cycle.
func Build(jobs []*models.Job) (*Graph, error) {
	g := &Graph{
		jobs:       make(map[string]*models.Job, len(jobs)),
		dependents: make(map[string][]string),
	}

	for _, job := range jobs {
		if _, exists := g.jobs[job.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
		}

		g.jobs[job.ID] = job
	}

	for _, job := range jobs {
		for _, dep := range job.Needs {
			if _, exists := g.jobs[dep]; !exists {
				return nil, fmt.Errorf("%w: job %s needs %s", ErrUnknownDependency, job.ID, dep)
			}

			g.dependents[dep] = append(g.dependents[dep], job.ID)
		}
	}

	order, err := topoSort(g.jobs)
	if err != nil {
		return nil, err
	}

	g.order = order

	return g, nil
}

// Jobs returns the job declaration for an id.
func (g *Graph) Job(id string) (*models.Job, bool) {
	job, ok := g.jobs[id]

	return job, ok
}

// JobIDs returns all job ids, sorted.
func (g *Graph) JobIDs() []string {
	ids := make([]string, 0, len(g.jobs))
	for id := range g.jobs {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Dependents returns the jobs that directly need the given job.
func (g *Graph) Dependents(id string) []string {
	return g.dependents[id]
}

// TopologicalOrder is a deterministic ordering used for display only.
// Execution order is dependency-driven, not this list.
func (g *Graph) TopologicalOrder() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)

	return out
}

// Len returns the number of jobs in the graph.
func (g *Graph) Len() int {
	return len(g.jobs)
}

// topoSort is Kahn's algorithm with sorted ready sets so the order is
// deterministic. Any node left unsorted after exhausting in-degree-zero
// removal sits on a cycle.
func topoSort(jobs map[string]*models.Job) ([]string, error) {
	indegree := make(map[string]int, len(jobs))
	for id, job := range jobs {
		indegree[id] = len(job.Needs)
	}

	var ready []string

	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	sort.Strings(ready)

	order := make([]string, 0, len(jobs))

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var unlocked []string

		for otherID, job := range jobs {
			for _, dep := range job.Needs {
				if dep != id {
					continue
				}

				indegree[otherID]--
				if indegree[otherID] == 0 {
					unlocked = append(unlocked, otherID)
				}
			}
		}

		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
	}

	if len(order) != len(jobs) {
		remaining := make([]string, 0)

		for id := range jobs {
			if indegree[id] > 0 {
				remaining = append(remaining, id)
			}
		}

		sort.Strings(remaining)

		return nil, fmt.Errorf("%w involving jobs %v", ErrCycle, remaining)
	}

	return order, nil
}
