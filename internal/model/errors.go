package model

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by model validation.
// Package-level sentinels allow callers to branch with errors.Is while the
// messages stay human-readable.
var (
	// ErrUnknownSourceType is returned for a source type no adapter exists
	// for. Task creation rejects these before any task object exists.
	ErrUnknownSourceType = errors.New("unknown source type")

	// ErrUnknownTaskStatus is returned when parsing an unrecognized task
	// status string (e.g. from a CLI flag or a stored row).
	ErrUnknownTaskStatus = errors.New("unknown task status")

	// ErrEmptySearchQuery is returned when a task is created without a
	// search query.
	ErrEmptySearchQuery = errors.New("search query must not be empty")

	// ErrInvalidFaceRange is returned when min faces exceeds max faces or
	// either bound is negative.
	ErrInvalidFaceRange = errors.New("invalid face count range")

	// ErrInvalidResolution is returned when a minimum dimension is negative.
	ErrInvalidResolution = errors.New("invalid minimum resolution")
)

// InvalidStateTransitionError reports a rejected task lifecycle transition.
// The task is left untouched when this error is returned.
type InvalidStateTransitionError struct {
	// Current is the task's status at the time of the request.
	Current TaskStatus

	// Requested is the operation that was attempted (start, pause, ...).
	Requested string
}

// Error implements the error interface.
func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s task with status %q", e.Requested, e.Current)
}

// IsInvalidStateTransition reports whether err is an
// InvalidStateTransitionError.
func IsInvalidStateTransition(err error) bool {
	var iste *InvalidStateTransitionError
	return errors.As(err, &iste)
}
