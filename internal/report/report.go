package report

import (
	"time"

	"github.com/nekozuka/imgcatcher/internal/model"
)

// TaskReport bundles one crawl task with its collected images for output.
type TaskReport struct {
	// Task is the reported crawl task.
	Task *model.CrawlTask `json:"task"`

	// Images are the task's collected images, in collection order.
	Images []*model.CollectedImage `json:"images"`

	// GeneratedAt is when this report was assembled.
	GeneratedAt time.Time `json:"generated_at"`
}

// NewTaskReport assembles a report for a task and its images.
func NewTaskReport(task *model.CrawlTask, images []*model.CollectedImage) *TaskReport {
	return &TaskReport{
		Task:        task,
		Images:      images,
		GeneratedAt: time.Now().UTC(),
	}
}

// Duration returns how long the task ran, zero when it never started.
// For tasks still running it measures up to the report time.
func (r *TaskReport) Duration() time.Duration {
	if r.Task.StartedAt == nil {
		return 0
	}
	end := r.GeneratedAt
	if r.Task.CompletedAt != nil {
		end = *r.Task.CompletedAt
	}
	if end.Before(*r.Task.StartedAt) {
		return 0
	}
	return end.Sub(*r.Task.StartedAt)
}

// DownloadCounts returns how many images are in each download state.
func (r *TaskReport) DownloadCounts() map[model.DownloadStatus]int {
	counts := make(map[model.DownloadStatus]int)
	for _, img := range r.Images {
		counts[img.DownloadStatus]++
	}
	return counts
}

// SavedCount returns how many images were promoted to templates.
func (r *TaskReport) SavedCount() int {
	n := 0
	for _, img := range r.Images {
		if img.SavedAsTemplate {
			n++
		}
	}
	return n
}
