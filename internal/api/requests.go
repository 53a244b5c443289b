// Package api provides the REST handlers for tasks, environments and checks.
package api

import (
	"github.com/kandev/examlab/internal/checks"
	"github.com/kandev/examlab/internal/task/state"
)

// TaskResponse is a catalog entry merged with its current state.
type TaskResponse struct {
	ID           int            `json:"id"`
	Node         string         `json:"node"`
	Title        string         `json:"title"`
	Instructions string         `json:"instructions"`
	Status       state.Status   `json:"status"`
	Error        string         `json:"error,omitempty"`
	LastCheck    *checks.Result `json:"lastCheck"`
}

// LifecycleResponse answers start, stop and reset.
type LifecycleResponse struct {
	OK     bool         `json:"ok"`
	Status state.Status `json:"status,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// DockerStatusResponse reports whether the container engine is reachable.
type DockerStatusResponse struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}
