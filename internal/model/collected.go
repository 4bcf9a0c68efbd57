package model

import "time"

// DownloadStatus is the download state of a collected image.
type DownloadStatus string

// Download states for collected images.
const (
	DownloadPending    DownloadStatus = "pending"
	DownloadDownloaded DownloadStatus = "downloaded"
	DownloadFailed     DownloadStatus = "failed"
)

// CollectedImage associates a CrawlTask with one ImageRecord plus task-local
// state. A row is created when an adapter yields a surviving record during a
// running task, updated on download or template promotion, and becomes
// immutable once the owning task reaches a terminal state (template
// promotion excepted, as that is driven externally).
type CollectedImage struct {
	// ID is the datastore identifier of this row.
	ID int64 `json:"id"`

	// TaskID is the owning crawl task.
	TaskID string `json:"task_id"`

	// Record is the canonical image metadata.
	Record ImageRecord `json:"record"`

	// DownloadStatus tracks whether the image bytes were fetched.
	DownloadStatus DownloadStatus `json:"download_status"`

	// SavedAsTemplate is true once the image was promoted to a template.
	SavedAsTemplate bool `json:"saved_as_template"`

	// CollectedAt is when the row was persisted.
	CollectedAt time.Time `json:"collected_at"`
}
