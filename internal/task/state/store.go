// Package state keeps the in-memory per-task status and last check result.
// Nothing here survives a restart.
package state

import (
	"sync"
	"time"

	"github.com/kandev/examlab/internal/checks"
)

// Status is the last known lifecycle outcome for a task. It is a hint; the engine is authoritative.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
	StatusError   Status = "error"
)

// TaskState is a copy of one task's record.
type TaskState struct {
	TaskID    int            `json:"taskId"`
	Status    Status         `json:"status"`
	Error     string         `json:"error,omitempty"`
	LastCheck *checks.Result `json:"lastCheck"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// Store is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	order []int
	tasks map[int]*TaskState
	now   func() time.Time
}

// NewStore seeds an idle record for every id, in order.
func NewStore(ids []int) *Store {
	s := &Store{tasks: make(map[int]*TaskState, len(ids)), now: time.Now}
	for _, id := range ids {
		s.entry(id)
	}
	return s
}

// entry returns the record for id, creating it when unseen. Caller holds mu for writing.
func (s *Store) entry(id int) *TaskState {
	ts, ok := s.tasks[id]
	if !ok {
		ts = &TaskState{TaskID: id, Status: StatusIdle}
		s.tasks[id] = ts
		s.order = append(s.order, id)
	}
	return ts
}

// Get returns a copy of the record for id.
func (s *Store) Get(id int) (TaskState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ts, ok := s.tasks[id]
	if !ok {
		return TaskState{}, false
	}
	return *ts, true
}

// Snapshot returns copies of all records in seed order.
func (s *Store) Snapshot() []TaskState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]TaskState, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.tasks[id])
	}
	return out
}

// SetStatus records a lifecycle outcome. errMsg is kept only for StatusError.
func (s *Store) SetStatus(id int, status Status, errMsg string) TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.entry(id)
	ts.Status = status
	ts.Error = ""
	if status == StatusError {
		ts.Error = errMsg
	}
	ts.UpdatedAt = s.now()
	return *ts
}

// SetLastCheck replaces the last check result.
func (s *Store) SetLastCheck(id int, res checks.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.entry(id)
	res.Details = append([]checks.Detail(nil), res.Details...)
	ts.LastCheck = &res
	ts.UpdatedAt = s.now()
}
