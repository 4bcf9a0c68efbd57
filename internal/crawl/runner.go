package crawl

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/nekozuka/imgcatcher/internal/filter"
	"github.com/nekozuka/imgcatcher/internal/model"
	"github.com/nekozuka/imgcatcher/internal/source"
)

// collectOversample is how many records beyond the target count a runner
// may pull from a source. Filtering and deduplication discard records, so
// the pager budget must exceed the target; the page ceiling still bounds
// total work.
const collectOversample = 10

// runner supervises one running task. Its task object is authoritative
// while the runner is live and is guarded by the manager's mutex.
type runner struct {
	task *model.CrawlTask

	// cancel aborts the in-flight page fetch.
	cancel context.CancelFunc

	// resumed is signaled when the task leaves paused, is cancelled, or
	// the manager shuts down. Its locker is the manager's mutex.
	resumed *sync.Cond

	// shuttingDown distinguishes process shutdown from user cancellation:
	// on shutdown the task keeps its persisted status.
	shuttingDown bool

	// done is closed when the runner goroutine exits.
	done chan struct{}
}

// run is the runner goroutine: it walks the adapter's pages, filters and
// deduplicates each batch, persists progress, and drives the task to a
// terminal state. Pause and cancel take effect between pages; a batch that
// was already fetched is always processed.
func (m *Manager) run(ctx context.Context, r *runner, adapter source.Adapter) {
	defer close(r.done)
	defer func() {
		m.mu.Lock()
		delete(m.runners, r.task.ID)
		m.mu.Unlock()
	}()

	m.mu.Lock()
	taskID := r.task.ID
	query := r.task.SearchQuery
	criteria := r.task.Filters
	budget := r.task.TargetCount * collectOversample
	m.mu.Unlock()

	pager := adapter.Search(query, budget, criteria)

	for {
		if stop := m.waitResumed(r); stop {
			return
		}

		records, err := pager.Next(ctx)
		if err != nil {
			m.finishFail(r, err)
			return
		}
		if len(records) == 0 {
			m.finishComplete(r)
			return
		}

		reached, err := m.processBatch(ctx, r, adapter, taskID, criteria, records)
		if err != nil {
			m.finishFail(r, err)
			return
		}
		if reached {
			m.finishComplete(r)
			return
		}
	}
}

// waitResumed blocks while the task is paused and reports whether the
// runner should stop (terminal state or shutdown).
func (m *Manager) waitResumed(r *runner) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for r.task.Status == model.StatusPaused && !r.shuttingDown {
		r.resumed.Wait()
	}
	return r.task.Status.IsTerminal() || r.shuttingDown
}

// processBatch filters, deduplicates and persists one page of records. It
// reports whether the target count was reached.
func (m *Manager) processBatch(ctx context.Context, r *runner, adapter source.Adapter, taskID string, criteria model.FilterCriteria, records []*model.ImageRecord) (bool, error) {
	kept := filter.Apply(records, criteria)
	filteredOut := len(records) - len(kept)

	for _, record := range kept {
		m.mu.Lock()
		need := r.task.TargetCount - r.task.ImagesCollected
		m.mu.Unlock()
		if need <= 0 {
			break
		}

		rowID, inserted, err := m.db.AppendCollectedImage(ctx, taskID, record)
		if err != nil {
			return false, err
		}
		if !inserted {
			// Duplicate within this task.
			filteredOut++
			continue
		}

		if m.cfg.DownloadDir != "" {
			m.downloadCollected(ctx, adapter, taskID, rowID, record)
		}

		m.mu.Lock()
		r.task.ImagesCollected++
		m.mu.Unlock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	r.task.ImagesFiltered += filteredOut
	r.task.UpdateProgress()
	if err := m.db.UpdateTask(ctx, r.task); err != nil {
		return false, err
	}
	return r.task.ImagesCollected >= r.task.TargetCount, nil
}

// downloadCollected fetches the image bytes for a freshly collected record.
// Download failures are recorded per image and never fail the task.
func (m *Manager) downloadCollected(ctx context.Context, adapter source.Adapter, taskID string, rowID int64, record *model.ImageRecord) {
	dest := filepath.Join(m.cfg.DownloadDir, taskID, record.ID+imageExt(record.SourceURL))

	status := model.DownloadDownloaded
	if err := adapter.DownloadImage(ctx, record.SourceURL, dest); err != nil {
		m.logger.WarnContext(ctx, "image download failed",
			"task", taskID, "url", record.SourceURL, "error", err)
		status = model.DownloadFailed
	}
	if err := m.db.SetDownloadStatus(ctx, rowID, status); err != nil {
		m.logger.WarnContext(ctx, "failed to record download status",
			"task", taskID, "image", rowID, "error", err)
	}
}

// finishComplete drives the task to completed, unless a cancellation or
// shutdown already decided its fate.
func (m *Manager) finishComplete(r *runner) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.task.Status.IsTerminal() || r.shuttingDown {
		return
	}
	if err := r.task.Complete(time.Now().UTC()); err != nil {
		m.logger.Warn("could not complete task", "task", r.task.ID, "error", err)
		return
	}
	if err := m.db.UpdateTask(context.Background(), r.task); err != nil {
		m.logger.Warn("failed to persist completed task", "task", r.task.ID, "error", err)
		return
	}
	m.logger.Info("crawl task completed",
		"task", r.task.ID, "collected", r.task.ImagesCollected,
		"filtered", r.task.ImagesFiltered)
}

// finishFail drives the task to failed with the given cause. User
// cancellation already moved the task to failed, and shutdown leaves the
// persisted status alone; both make this a no-op.
func (m *Manager) finishFail(r *runner, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.task.Status.IsTerminal() || r.shuttingDown {
		return
	}
	if err := r.task.Fail(time.Now().UTC(), cause.Error()); err != nil {
		m.logger.Warn("could not fail task", "task", r.task.ID, "error", err)
		return
	}
	if err := m.db.UpdateTask(context.Background(), r.task); err != nil {
		m.logger.Warn("failed to persist failed task", "task", r.task.ID, "error", err)
		return
	}
	m.logger.Error("crawl task failed", "task", r.task.ID, "cause", cause)
}

// imageExt extracts the file extension from an image URL, defaulting to
// .jpg when the URL carries none.
func imageExt(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ".jpg"
	}
	if ext := path.Ext(u.Path); ext != "" {
		return ext
	}
	return ".jpg"
}
