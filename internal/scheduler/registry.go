package scheduler

import "context"

// Task is a unit of periodic work run by the scheduler worker.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry tracks registered tasks.
type Registry struct {
	tasks []Task
}

// NewRegistry builds a registry preloaded with the provided tasks.
func NewRegistry(tasks ...Task) *Registry {
	registry := &Registry{}
	for _, task := range tasks {
		if task == nil {
			continue
		}
		registry.tasks = append(registry.tasks, task)
	}
	return registry
}

// Register adds a task to the registry.
func (r *Registry) Register(task Task) {
	if task == nil {
		return
	}
	r.tasks = append(r.tasks, task)
}

// Tasks returns the registered tasks in the order they were added.
func (r *Registry) Tasks() []Task {
	tasks := make([]Task, len(r.tasks))
	copy(tasks, r.tasks)
	return tasks
}
