package model

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a CrawlTask.
type TaskStatus string

// Task lifecycle states. Completed and Failed are terminal.
const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusPaused    TaskStatus = "paused"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// TaskStatuses returns all task statuses in a stable order.
func TaskStatuses() []TaskStatus {
	return []TaskStatus{StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed}
}

// ParseTaskStatus converts a string into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch TaskStatus(s) {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
		return TaskStatus(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTaskStatus, s)
	}
}

// IsTerminal reports whether the status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// String returns the status as a string.
func (s TaskStatus) String() string {
	return string(s)
}

// CancelledByUser is the error message recorded when a task is cancelled.
const CancelledByUser = "Cancelled by user"

// CrawlTask is one user-initiated collection run against a source, query and
// filter combination. It is owned exclusively by the crawl manager and must
// be mutated only through the lifecycle methods below, which enforce the
// transition table:
//
//	start:    pending|paused  -> running
//	pause:    running         -> paused
//	resume:   paused          -> running
//	cancel:   running|paused  -> failed ("Cancelled by user")
//	complete: running         -> completed
//	fail:     running         -> failed
//
// Any other requested transition returns InvalidStateTransitionError and
// leaves every field untouched.
type CrawlTask struct {
	// ID uniquely identifies the task.
	ID string `json:"id"`

	// SourceType is the image source this task crawls.
	SourceType SourceType `json:"source_type"`

	// SearchQuery is the upstream search expression (e.g. "1boy_1girl").
	SearchQuery string `json:"search_query"`

	// Category is the user-facing grouping for collected images
	// (e.g. "acg", "movie").
	Category string `json:"category,omitempty"`

	// Filters are the content criteria applied to yielded records.
	Filters FilterCriteria `json:"filters"`

	// TargetCount is how many surviving images the task tries to collect.
	TargetCount int `json:"target_count"`

	// Status is the current lifecycle state.
	Status TaskStatus `json:"status"`

	// ImagesCollected counts records that survived filtering and
	// deduplication and were persisted.
	ImagesCollected int `json:"images_collected"`

	// ImagesSaved counts collected images promoted to templates.
	ImagesSaved int `json:"images_saved"`

	// ImagesFiltered counts records dropped by the filter pipeline or
	// deduplication.
	ImagesFiltered int `json:"images_filtered"`

	// Progress is min(100, ImagesCollected*100/TargetCount).
	Progress int `json:"progress"`

	// ErrorMessage is the human-readable failure cause, set only when
	// Status is failed.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	PausedAt    *time.Time `json:"paused_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Start transitions the task to running. Valid from pending or paused.
func (t *CrawlTask) Start(now time.Time) error {
	if t.Status != StatusPending && t.Status != StatusPaused {
		return &InvalidStateTransitionError{Current: t.Status, Requested: "start"}
	}
	t.Status = StatusRunning
	t.StartedAt = &now
	t.PausedAt = nil
	return nil
}

// Pause transitions a running task to paused.
func (t *CrawlTask) Pause(now time.Time) error {
	if t.Status != StatusRunning {
		return &InvalidStateTransitionError{Current: t.Status, Requested: "pause"}
	}
	t.Status = StatusPaused
	t.PausedAt = &now
	return nil
}

// Resume transitions a paused task back to running and clears PausedAt.
func (t *CrawlTask) Resume() error {
	if t.Status != StatusPaused {
		return &InvalidStateTransitionError{Current: t.Status, Requested: "resume"}
	}
	t.Status = StatusRunning
	t.PausedAt = nil
	return nil
}

// Cancel transitions a running or paused task to failed with the
// "Cancelled by user" message. Images collected so far are retained.
func (t *CrawlTask) Cancel(now time.Time) error {
	if t.Status != StatusRunning && t.Status != StatusPaused {
		return &InvalidStateTransitionError{Current: t.Status, Requested: "cancel"}
	}
	t.Status = StatusFailed
	t.ErrorMessage = CancelledByUser
	t.CompletedAt = &now
	return nil
}

// Complete transitions a running task to completed. Used internally when the
// adapter is exhausted or the target count is reached.
func (t *CrawlTask) Complete(now time.Time) error {
	if t.Status != StatusRunning {
		return &InvalidStateTransitionError{Current: t.Status, Requested: "complete"}
	}
	t.Status = StatusCompleted
	t.CompletedAt = &now
	return nil
}

// Fail transitions a running task to failed with the given cause. Used
// internally when an adapter error survives all retries.
func (t *CrawlTask) Fail(now time.Time, cause string) error {
	if t.Status != StatusRunning {
		return &InvalidStateTransitionError{Current: t.Status, Requested: "fail"}
	}
	t.Status = StatusFailed
	t.ErrorMessage = cause
	t.CompletedAt = &now
	return nil
}

// UpdateProgress recomputes Progress from the collected and target counts.
// Progress never exceeds 100 even when deduplication over-delivers.
func (t *CrawlTask) UpdateProgress() {
	if t.TargetCount <= 0 {
		t.Progress = 0
		return
	}
	p := t.ImagesCollected * 100 / t.TargetCount
	if p > 100 {
		p = 100
	}
	t.Progress = p
}
