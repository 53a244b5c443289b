// Package checks runs read-only verification routines against a task's environment
// and aggregates their outcome into a timestamped Result.
package checks

import (
	"context"
	"time"

	"github.com/kandev/examlab/internal/probe"
)

// Status is the overall verdict of a check run.
type Status string

const (
	StatusPass  Status = "PASS"
	StatusFail  Status = "FAIL"
	StatusError Status = "ERROR"
)

// Detail is the outcome of one named check.
type Detail struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// Result is the aggregated outcome of a routine.
type Result struct {
	Status    Status    `json:"status"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
	Details   []Detail  `json:"details"`
}

// Prober runs one probe command in an instance with the default timeout.
type Prober interface {
	Run(ctx context.Context, instance string, argv []string) probe.Result
}

// CheckFunc inspects the target and reports pass/fail with a human-readable message.
type CheckFunc func(ctx context.Context, t *Target) (bool, string)

// Check is a named CheckFunc.
type Check struct {
	Name string
	Fn   CheckFunc
}

// Routine is the ordered list of checks verifying one task.
type Routine struct {
	Name   string
	Checks []Check
}
