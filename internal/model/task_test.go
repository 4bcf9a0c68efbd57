package model

import (
	"errors"
	"testing"
	"time"
)

func newTask(status TaskStatus) *CrawlTask {
	return &CrawlTask{
		ID:          "crawl_test",
		SourceType:  SourceDanbooru,
		SearchQuery: "blue_sky",
		TargetCount: 20,
		Status:      status,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestCrawlTaskTransitionTable(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()

	tests := []struct {
		name    string
		from    TaskStatus
		apply   func(*CrawlTask) error
		wantOK  bool
		wantTo  TaskStatus
	}{
		{"start from pending", StatusPending, func(task *CrawlTask) error { return task.Start(now) }, true, StatusRunning},
		{"start from paused", StatusPaused, func(task *CrawlTask) error { return task.Start(now) }, true, StatusRunning},
		{"start from running", StatusRunning, func(task *CrawlTask) error { return task.Start(now) }, false, StatusRunning},
		{"start from completed", StatusCompleted, func(task *CrawlTask) error { return task.Start(now) }, false, StatusCompleted},
		{"start from failed", StatusFailed, func(task *CrawlTask) error { return task.Start(now) }, false, StatusFailed},
		{"pause from running", StatusRunning, func(task *CrawlTask) error { return task.Pause(now) }, true, StatusPaused},
		{"pause from pending", StatusPending, func(task *CrawlTask) error { return task.Pause(now) }, false, StatusPending},
		{"pause from paused", StatusPaused, func(task *CrawlTask) error { return task.Pause(now) }, false, StatusPaused},
		{"resume from paused", StatusPaused, func(task *CrawlTask) error { return task.Resume() }, true, StatusRunning},
		{"resume from running", StatusRunning, func(task *CrawlTask) error { return task.Resume() }, false, StatusRunning},
		{"resume from completed", StatusCompleted, func(task *CrawlTask) error { return task.Resume() }, false, StatusCompleted},
		{"cancel from running", StatusRunning, func(task *CrawlTask) error { return task.Cancel(now) }, true, StatusFailed},
		{"cancel from paused", StatusPaused, func(task *CrawlTask) error { return task.Cancel(now) }, true, StatusFailed},
		{"cancel from pending", StatusPending, func(task *CrawlTask) error { return task.Cancel(now) }, false, StatusPending},
		{"cancel from completed", StatusCompleted, func(task *CrawlTask) error { return task.Cancel(now) }, false, StatusCompleted},
		{"cancel from failed", StatusFailed, func(task *CrawlTask) error { return task.Cancel(now) }, false, StatusFailed},
		{"complete from running", StatusRunning, func(task *CrawlTask) error { return task.Complete(now) }, true, StatusCompleted},
		{"complete from paused", StatusPaused, func(task *CrawlTask) error { return task.Complete(now) }, false, StatusPaused},
		{"fail from running", StatusRunning, func(task *CrawlTask) error { return task.Fail(now, "boom") }, true, StatusFailed},
		{"fail from completed", StatusCompleted, func(task *CrawlTask) error { return task.Fail(now, "boom") }, false, StatusCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			task := newTask(tt.from)
			err := tt.apply(task)

			if tt.wantOK {
				if err != nil {
					t.Fatalf("expected transition to succeed, got %v", err)
				}
			} else {
				if !IsInvalidStateTransition(err) {
					t.Fatalf("expected InvalidStateTransitionError, got %v", err)
				}
			}
			if task.Status != tt.wantTo {
				t.Errorf("expected status %q, got %q", tt.wantTo, task.Status)
			}
		})
	}
}

func TestCrawlTaskCancelRecordsCause(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	task := newTask(StatusRunning)
	task.ImagesCollected = 7

	if err := task.Cancel(now); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if task.ErrorMessage != CancelledByUser {
		t.Errorf("expected %q, got %q", CancelledByUser, task.ErrorMessage)
	}
	if task.CompletedAt == nil || !task.CompletedAt.Equal(now) {
		t.Errorf("expected CompletedAt %v, got %v", now, task.CompletedAt)
	}
	// Cancellation keeps what was collected.
	if task.ImagesCollected != 7 {
		t.Errorf("expected collected count preserved, got %d", task.ImagesCollected)
	}
}

func TestCrawlTaskRejectedTransitionMutatesNothing(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	task := newTask(StatusCompleted)
	task.ErrorMessage = ""
	done := now.Add(-time.Hour)
	task.CompletedAt = &done

	if err := task.Fail(now, "late failure"); !IsInvalidStateTransition(err) {
		t.Fatalf("expected rejection, got %v", err)
	}
	if task.ErrorMessage != "" {
		t.Errorf("rejected transition set ErrorMessage %q", task.ErrorMessage)
	}
	if !task.CompletedAt.Equal(done) {
		t.Errorf("rejected transition moved CompletedAt to %v", task.CompletedAt)
	}
}

func TestCrawlTaskResumeClearsPausedAt(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	task := newTask(StatusRunning)
	if err := task.Pause(now); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if task.PausedAt == nil {
		t.Fatal("expected PausedAt to be set")
	}
	if err := task.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if task.PausedAt != nil {
		t.Errorf("expected PausedAt cleared, got %v", task.PausedAt)
	}
	if task.Status != StatusRunning {
		t.Errorf("expected running, got %q", task.Status)
	}
}

func TestUpdateProgress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		collected int
		target    int
		want      int
	}{
		{"zero collected", 0, 20, 0},
		{"half way", 10, 20, 50},
		{"rounds down", 1, 3, 33},
		{"exact target", 20, 20, 100},
		{"over target capped", 30, 20, 100},
		{"zero target", 5, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			task := &CrawlTask{ImagesCollected: tt.collected, TargetCount: tt.target}
			task.UpdateProgress()
			if task.Progress != tt.want {
				t.Errorf("expected progress %d, got %d", tt.want, task.Progress)
			}
		})
	}
}

func TestTaskStatusIsTerminal(t *testing.T) {
	t.Parallel()

	terminal := map[TaskStatus]bool{
		StatusPending:   false,
		StatusRunning:   false,
		StatusPaused:    false,
		StatusCompleted: true,
		StatusFailed:    true,
	}
	for _, status := range TaskStatuses() {
		if got := status.IsTerminal(); got != terminal[status] {
			t.Errorf("IsTerminal(%q) = %v, want %v", status, got, terminal[status])
		}
	}
}

func TestParseTaskStatus(t *testing.T) {
	t.Parallel()

	for _, status := range TaskStatuses() {
		got, err := ParseTaskStatus(status.String())
		if err != nil {
			t.Errorf("ParseTaskStatus(%q): %v", status, err)
		}
		if got != status {
			t.Errorf("ParseTaskStatus(%q) = %q", status, got)
		}
	}

	if _, err := ParseTaskStatus("sleeping"); !errors.Is(err, ErrUnknownTaskStatus) {
		t.Errorf("expected ErrUnknownTaskStatus, got %v", err)
	}
}
