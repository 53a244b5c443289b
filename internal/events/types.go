package events

import "fmt"

// Event types.
const (
	EnvironmentStarted = "environment.started"
	EnvironmentStopped = "environment.stopped"
	EnvironmentReset   = "environment.reset"
	EnvironmentFailed  = "environment.failed"
	CheckCompleted     = "check.completed"
)

// TaskSubjects matches every per-task subject.
const TaskSubjects = "task.>"

// LifecycleSubject is where environment transitions for a task are published.
func LifecycleSubject(taskID int) string {
	return fmt.Sprintf("task.lifecycle.%d", taskID)
}

// CheckSubject is where check results for a task are published.
func CheckSubject(taskID int) string {
	return fmt.Sprintf("task.check.%d", taskID)
}
