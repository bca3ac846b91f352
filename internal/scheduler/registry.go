// package scheduler runs registered tasks on intervals with dependency
// ordering.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/MXC1/spotiseek/internal/shared"
)

// Result reports what a task run accomplished.
type Result struct {
	TracksProcessed int
}

// Definition describes a schedulable task. An Interval of 0 disables the
// task entirely.
type Definition struct {
	Name      string
	Interval  time.Duration
	DependsOn []string
	Run       func(ctx context.Context) (Result, error)
}

// Registry holds task definitions. It is constructed explicitly and
// passed where needed; there is no package-level registry.
type Registry struct {
	defs  map[string]Definition
	order []string
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. A rejected definition leaves the registry
// unchanged.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("%w: task name is required", shared.ErrInvalidInput)
	}
	if def.Run == nil {
		return fmt.Errorf("%w: task %q has no body", shared.ErrInvalidInput, def.Name)
	}
	if _, exists := r.defs[def.Name]; exists {
		return fmt.Errorf("%w: task %q already registered", shared.ErrInvalidInput, def.Name)
	}

	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// Finalize validates the dependency graph: every referenced dependency
// must exist and the graph must be acyclic. Called once after all tasks
// are registered; an error here is a configuration error and fatal to
// startup.
func (r *Registry) Finalize() error {
	for _, name := range r.order {
		for _, dep := range r.defs[name].DependsOn {
			if _, ok := r.defs[dep]; !ok {
				return fmt.Errorf("%w: task %q depends on unknown task %q", shared.ErrInvalidInput, name, dep)
			}
		}
	}

	if _, err := r.topological(); err != nil {
		return err
	}
	return nil
}

// Get looks up a definition by name.
func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Names returns the registered task names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// topological returns task names in dependency order via Kahn's
// algorithm. Registration order breaks ties, so the result is
// deterministic.
func (r *Registry) topological() ([]string, error) {
	indegree := make(map[string]int, len(r.defs))
	dependents := make(map[string][]string, len(r.defs))
	for _, name := range r.order {
		indegree[name] = len(r.defs[name].DependsOn)
		for _, dep := range r.defs[name].DependsOn {
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var queue []string
	for _, name := range r.order {
		if indegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var sorted []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		sorted = append(sorted, name)

		for _, dependent := range dependents[name] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(sorted) != len(r.defs) {
		return nil, fmt.Errorf("%w: dependency graph has a cycle", shared.ErrCyclicTasks)
	}
	return sorted, nil
}

// depth returns each task's distance from the graph's roots. Tasks at the
// same depth share no dependency edge and may run concurrently.
func (r *Registry) depth() map[string]int {
	depths := make(map[string]int, len(r.defs))

	var resolve func(name string) int
	resolve = func(name string) int {
		if d, ok := depths[name]; ok {
			return d
		}
		depths[name] = 0 // cycle guard; Finalize already rejected cycles
		max := 0
		for _, dep := range r.defs[name].DependsOn {
			if d := resolve(dep) + 1; d > max {
				max = d
			}
		}
		depths[name] = max
		return max
	}

	for _, name := range r.order {
		resolve(name)
	}
	return depths
}
