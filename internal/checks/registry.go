package checks

import (
	"fmt"
	"sync"
)

// Kind tags how a Strategy was chosen.
type Kind string

const (
	KindTask    Kind = "task"
	KindDefault Kind = "default"
)

// Strategy is what Lookup returns for a task id. It always carries a routine.
type Strategy struct {
	Kind    Kind
	TaskID  int
	Routine Routine
}

func (s Strategy) String() string {
	if s.Kind == KindDefault {
		return fmt.Sprintf("default(%s)", s.Routine.Name)
	}
	return fmt.Sprintf("task-%d(%s)", s.TaskID, s.Routine.Name)
}

// Registry maps task ids to routines, with an explicit default.
type Registry struct {
	mu       sync.RWMutex
	routines map[int]Routine
	fallback Routine
}

// NewRegistry creates a registry whose default variant is fallback.
func NewRegistry(fallback Routine) *Registry {
	return &Registry{routines: make(map[int]Routine), fallback: fallback}
}

// Register binds routine to taskID, replacing any previous binding.
func (r *Registry) Register(taskID int, routine Routine) {
	r.mu.Lock()
	r.routines[taskID] = routine
	r.mu.Unlock()
}

// Lookup returns the task's strategy, or the default strategy when none is registered.
func (r *Registry) Lookup(taskID int) Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if routine, ok := r.routines[taskID]; ok {
		return Strategy{Kind: KindTask, TaskID: taskID, Routine: routine}
	}
	return Strategy{Kind: KindDefault, TaskID: taskID, Routine: r.fallback}
}

// TaskIDs returns the ids with a dedicated routine.
func (r *Registry) TaskIDs() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]int, 0, len(r.routines))
	for id := range r.routines {
		ids = append(ids, id)
	}
	return ids
}
