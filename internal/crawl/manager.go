package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nekozuka/imgcatcher/internal/config"
	"github.com/nekozuka/imgcatcher/internal/database"
	"github.com/nekozuka/imgcatcher/internal/model"
	"github.com/nekozuka/imgcatcher/internal/source"
)

// AdapterFactory constructs a source adapter. Swapped out in tests.
type AdapterFactory func(sourceType model.SourceType, opts source.Options) (source.Adapter, error)

// TemplateCreator receives collected images promoted to templates.
// Implementations hand the image to whatever template store the host
// application uses.
type TemplateCreator interface {
	CreateTemplate(ctx context.Context, img *model.CollectedImage) error
}

// Manager owns the crawl task lifecycle. All task state transitions go
// through it: it validates requests, persists tasks, and supervises one
// background runner per running task.
type Manager struct {
	db     *database.TaskDB
	cfg    *config.Config
	logger *slog.Logger

	newAdapter AdapterFactory
	templates  TemplateCreator

	// mu guards runners and every task object a live runner holds.
	mu      sync.Mutex
	runners map[string]*runner
	wg      sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithAdapterFactory replaces the source adapter constructor.
func WithAdapterFactory(f AdapterFactory) ManagerOption {
	return func(m *Manager) {
		m.newAdapter = f
	}
}

// WithTemplateCreator sets the sink for promoted images.
func WithTemplateCreator(tc TemplateCreator) ManagerOption {
	return func(m *Manager) {
		m.templates = tc
	}
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a task manager on top of the given store and
// configuration.
func NewManager(db *database.TaskDB, cfg *config.Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		db:         db,
		cfg:        cfg,
		logger:     slog.Default(),
		newAdapter: source.New,
		runners:    make(map[string]*runner),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateTaskRequest carries the user's parameters for a new crawl task.
type CreateTaskRequest struct {
	SourceType  string
	SearchQuery string
	Category    string
	TargetCount int
	Filters     model.FilterCriteria
}

// CreateTask validates the request and persists a new pending task.
// Invalid requests are rejected before any task object exists.
func (m *Manager) CreateTask(ctx context.Context, req CreateTaskRequest) (*model.CrawlTask, error) {
	sourceType, err := model.ParseSourceType(req.SourceType)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.SearchQuery) == "" {
		return nil, model.ErrEmptySearchQuery
	}
	if req.TargetCount == 0 {
		req.TargetCount = config.DefaultTargetCount
	}
	if err := config.ValidateTargetCount(req.TargetCount); err != nil {
		return nil, err
	}
	if err := req.Filters.Validate(); err != nil {
		return nil, err
	}

	task := &model.CrawlTask{
		ID:          "crawl_" + uuid.NewString(),
		SourceType:  sourceType,
		SearchQuery: strings.TrimSpace(req.SearchQuery),
		Category:    req.Category,
		Filters:     req.Filters,
		TargetCount: req.TargetCount,
		Status:      model.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}

	if err := m.db.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	m.logger.InfoContext(ctx, "created crawl task",
		"task", task.ID, "source", task.SourceType, "query", task.SearchQuery,
		"target", task.TargetCount)
	return task, nil
}

// Task returns the task with the given ID.
func (m *Manager) Task(ctx context.Context, id string) (*model.CrawlTask, error) {
	// A live runner holds the freshest copy.
	m.mu.Lock()
	if r, ok := m.runners[id]; ok {
		task := *r.task
		m.mu.Unlock()
		return &task, nil
	}
	m.mu.Unlock()

	task, err := m.db.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, nil
}

// ListTasks returns tasks newest first, optionally filtered by status
// and/or source type. Empty filter values match everything.
func (m *Manager) ListTasks(ctx context.Context, status, sourceType string) ([]*model.CrawlTask, error) {
	if status != "" {
		if _, err := model.ParseTaskStatus(status); err != nil {
			return nil, err
		}
	}
	if sourceType != "" {
		if _, err := model.ParseSourceType(sourceType); err != nil {
			return nil, err
		}
	}
	return m.db.ListTasks(ctx, status, sourceType)
}

// Start transitions a task to running and launches its background runner.
// Valid from pending, and from paused: a paused task with a live runner is
// woken in place, while one without (e.g. after a restart) gets a fresh
// runner.
func (m *Manager) Start(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, r, err := m.lockedTask(ctx, id)
	if err != nil {
		return err
	}

	if r != nil {
		if task.Status == model.StatusPaused {
			return m.resumeRunnerLocked(ctx, task, r)
		}
		return fmt.Errorf("%w: %s", ErrTaskAlreadyRunning, id)
	}

	return m.startRunnerLocked(ctx, task)
}

// startRunnerLocked transitions task to running, persists it and launches
// its runner. Caller holds m.mu.
func (m *Manager) startRunnerLocked(ctx context.Context, task *model.CrawlTask) error {
	if err := task.Start(time.Now().UTC()); err != nil {
		return err
	}
	if err := m.db.UpdateTask(ctx, task); err != nil {
		return err
	}

	adapter, err := m.newAdapter(task.SourceType, m.adapterOptions(task.SourceType))
	if err != nil {
		// Roll the row back so the task is not stuck running forever.
		task.Status = model.StatusPending
		task.StartedAt = nil
		_ = m.db.UpdateTask(ctx, task)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &runner{
		task:   task,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.resumed = sync.NewCond(&m.mu)
	m.runners[task.ID] = r

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(runCtx, r, adapter)
	}()

	m.logger.InfoContext(ctx, "started crawl task", "task", task.ID)
	return nil
}

// adapterOptions assembles per-source adapter options from the engine
// configuration.
func (m *Manager) adapterOptions(sourceType model.SourceType) source.Options {
	return source.Options{
		Credentials: m.cfg.Credentials.Source(sourceType.String()),
		Timeout:     m.cfg.Timeout,
		MaxRetries:  m.cfg.MaxRetries,
		PageCeiling: m.cfg.PageCeiling,
		Logger:      m.logger,
	}
}

// Pause transitions a running task to paused. The runner suspends at its
// next page boundary; records already fetched are still processed.
func (m *Manager) Pause(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// The runner observes the paused status at its next page boundary.
	task, _, err := m.lockedTask(ctx, id)
	if err != nil {
		return err
	}
	if err := task.Pause(time.Now().UTC()); err != nil {
		return err
	}
	if err := m.db.UpdateTask(ctx, task); err != nil {
		return err
	}

	m.logger.InfoContext(ctx, "paused crawl task", "task", id)
	return nil
}

// Resume transitions a paused task back to running. When the task's runner
// is still live it picks up where it stopped; after a restart a fresh
// runner is launched and pagination starts from page 0, with deduplication
// preventing double collection.
func (m *Manager) Resume(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, r, err := m.lockedTask(ctx, id)
	if err != nil {
		return err
	}

	if r == nil {
		return m.startRunnerLocked(ctx, task)
	}
	return m.resumeRunnerLocked(ctx, task, r)
}

// resumeRunnerLocked moves a paused task back to running and wakes its
// parked runner. Caller holds m.mu.
func (m *Manager) resumeRunnerLocked(ctx context.Context, task *model.CrawlTask, r *runner) error {
	if err := task.Resume(); err != nil {
		return err
	}
	if err := m.db.UpdateTask(ctx, task); err != nil {
		return err
	}
	r.resumed.Broadcast()

	m.logger.InfoContext(ctx, "resumed crawl task", "task", task.ID)
	return nil
}

// Cancel stops a running or paused task. The task ends failed with the
// cancellation message; images collected so far are retained.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, r, err := m.lockedTask(ctx, id)
	if err != nil {
		return err
	}
	if err := task.Cancel(time.Now().UTC()); err != nil {
		return err
	}
	if err := m.db.UpdateTask(ctx, task); err != nil {
		return err
	}

	if r != nil {
		r.cancel()
		r.resumed.Broadcast()
	}

	m.logger.InfoContext(ctx, "cancelled crawl task", "task", id)
	return nil
}

// lockedTask resolves a task and its live runner (nil when none). When a
// runner exists its task object is authoritative; otherwise the row is
// loaded. Caller holds m.mu.
func (m *Manager) lockedTask(ctx context.Context, id string) (*model.CrawlTask, *runner, error) {
	if r, ok := m.runners[id]; ok {
		return r.task, r, nil
	}
	task, err := m.db.GetTask(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return task, nil, nil
}

// ListCollectedImages returns one page of a task's collected images plus
// the total count. page is 1-based; perPage 0 uses the default.
func (m *Manager) ListCollectedImages(ctx context.Context, id string, page, perPage int) ([]*model.CollectedImage, int, error) {
	if perPage <= 0 {
		perPage = config.DefaultListPageSize
	}

	task, err := m.db.GetTask(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if task == nil {
		return nil, 0, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}

	return m.db.ListCollectedImages(ctx, id, page, perPage)
}

// PromoteToTemplate marks a collected image as saved and hands it to the
// template creator when one is configured. Promoting an already promoted
// image is a no-op.
func (m *Manager) PromoteToTemplate(ctx context.Context, imageID int64) error {
	img, err := m.db.GetCollectedImage(ctx, imageID)
	if err != nil {
		return err
	}
	if img == nil {
		return fmt.Errorf("%w: %d", ErrImageNotFound, imageID)
	}

	marked, err := m.db.MarkSavedAsTemplate(ctx, imageID)
	if err != nil {
		return err
	}
	if !marked {
		return nil
	}
	img.SavedAsTemplate = true

	if m.templates != nil {
		if err := m.templates.CreateTemplate(ctx, img); err != nil {
			return fmt.Errorf("create template from image %d: %w", imageID, err)
		}
	}

	// Keep the owning task's saved counter in step, unless a live runner
	// owns the task object.
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runners[img.TaskID]; ok {
		r.task.ImagesSaved++
		return m.db.UpdateTask(ctx, r.task)
	}
	task, err := m.db.GetTask(ctx, img.TaskID)
	if err != nil || task == nil {
		return err
	}
	task.ImagesSaved++
	return m.db.UpdateTask(ctx, task)
}

// Stats returns aggregate statistics over all stored tasks.
func (m *Manager) Stats(ctx context.Context) (*database.Stats, error) {
	return m.db.GetStats(ctx)
}

// Shutdown cancels every live runner and waits for them to finish
// persisting. Running tasks stay running in the store and can be resumed
// on the next start.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, r := range m.runners {
		r.shuttingDown = true
		r.cancel()
		r.resumed.Broadcast()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every live runner has finished. Used by the one-shot
// CLI flow that starts tasks and waits for them to complete.
func (m *Manager) Wait() {
	m.wg.Wait()
}
