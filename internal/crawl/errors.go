package crawl

import "errors"

// Sentinel errors returned by the task manager.
var (
	// ErrTaskNotFound is returned when no task with the given ID exists.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskAlreadyRunning is returned when starting a task whose runner
	// is already live in this process.
	ErrTaskAlreadyRunning = errors.New("task is already running")

	// ErrImageNotFound is returned when no collected image with the given
	// ID exists.
	ErrImageNotFound = errors.New("collected image not found")
)
