// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// ImagePullTimeout bounds a base image pull during the first create.
	ImagePullTimeout = 10 * time.Minute

	// LifecycleTimeout bounds a single start/stop/reset request issued over HTTP.
	LifecycleTimeout = 12 * time.Minute

	// ContainerStopGrace is passed to the engine as the stop timeout, in seconds.
	ContainerStopGrace = 10

	// CheckRunTimeout bounds a whole check routine.
	CheckRunTimeout = 2 * time.Minute

	// ExecInspectTimeout bounds the exit-code lookup after a session ends.
	ExecInspectTimeout = 5 * time.Second

	// ResizeTimeout bounds a terminal resize call.
	ResizeTimeout = 5 * time.Second
)
