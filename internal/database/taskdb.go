package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nekozuka/imgcatcher/internal/model"
)

// TaskDB provides SQLite-based storage for crawl tasks and the images they
// collect. It manages connection pooling and provides methods for CRUD
// operations.
//
// A single database file holds every task. This keeps cross-task queries
// (stats, listings) simple and makes backup a single-file copy.
type TaskDB struct {
	// db is the underlying SQL database connection.
	db *sql.DB

	// dbPath is the path to the SQLite database file.
	dbPath string
}

// Options configures TaskDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging for better concurrent
	// performance. Recommended: the crawl runner writes while the CLI reads.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates a TaskDB at the specified directory.
// If CreateIfNotExists is true, the directory and database file are created.
// If CreateIfNotExists is false and the database doesn't exist, an error is
// returned.
func Open(dbDir string, opts Options) (*TaskDB, error) {
	dbPath := filepath.Join(dbDir, "imgcatcher.db")

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// modernc.org/sqlite connection string: mode=rw prevents creating new
	// files, mode=rwc allows creation.
	var dsn string
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	} else {
		dsn = dbPath + "?mode=rw"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	tdb := &TaskDB{
		db:     db,
		dbPath: dbPath,
	}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := tdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return tdb, nil
}

// Close closes the database connection.
func (tdb *TaskDB) Close() error {
	return tdb.db.Close()
}

// createTables creates the database schema if it doesn't exist.
func (tdb *TaskDB) createTables() error {
	schema := `
	-- Crawl tasks store one row per user-initiated collection run
	CREATE TABLE IF NOT EXISTS crawl_tasks (
		id TEXT PRIMARY KEY,
		source_type TEXT NOT NULL,
		search_query TEXT NOT NULL,
		category TEXT,
		filters TEXT NOT NULL,
		target_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		images_collected INTEGER NOT NULL DEFAULT 0,
		images_saved INTEGER NOT NULL DEFAULT 0,
		images_filtered INTEGER NOT NULL DEFAULT 0,
		progress INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TEXT NOT NULL,
		started_at TEXT,
		paused_at TEXT,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_status ON crawl_tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_source ON crawl_tasks(source_type);
	CREATE INDEX IF NOT EXISTS idx_tasks_created ON crawl_tasks(created_at);

	-- Collected images associate a task with one deduplicated image.
	-- The UNIQUE(task_id, dedupe_key) constraint is the per-task
	-- deduplication boundary: the same image may appear under two tasks
	-- but never twice under one.
	CREATE TABLE IF NOT EXISTS collected_images (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL REFERENCES crawl_tasks(id),
		dedupe_key TEXT NOT NULL,
		record TEXT NOT NULL,
		download_status TEXT NOT NULL DEFAULT 'pending',
		saved_as_template INTEGER NOT NULL DEFAULT 0,
		collected_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(task_id, dedupe_key)
	);

	CREATE INDEX IF NOT EXISTS idx_images_task ON collected_images(task_id);
	CREATE INDEX IF NOT EXISTS idx_images_collected ON collected_images(collected_at);
	`

	_, err := tdb.db.ExecContext(context.Background(), schema)
	return err
}

// CreateTask inserts a new task row. The task's ID must be unique.
func (tdb *TaskDB) CreateTask(ctx context.Context, task *model.CrawlTask) error {
	filtersJSON, err := json.Marshal(task.Filters)
	if err != nil {
		return fmt.Errorf("failed to serialize filters: %w", err)
	}

	query := `
	INSERT INTO crawl_tasks (
		id, source_type, search_query, category, filters, target_count,
		status, images_collected, images_saved, images_filtered, progress,
		error_message, created_at, started_at, paused_at, completed_at
	)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tdb.db.ExecContext(ctx, query,
		task.ID,
		task.SourceType.String(),
		task.SearchQuery,
		task.Category,
		string(filtersJSON),
		task.TargetCount,
		task.Status.String(),
		task.ImagesCollected,
		task.ImagesSaved,
		task.ImagesFiltered,
		task.Progress,
		task.ErrorMessage,
		formatTime(task.CreatedAt),
		formatTimePtr(task.StartedAt),
		formatTimePtr(task.PausedAt),
		formatTimePtr(task.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}

	return nil
}

// UpdateTask persists every mutable field of an existing task row.
func (tdb *TaskDB) UpdateTask(ctx context.Context, task *model.CrawlTask) error {
	filtersJSON, err := json.Marshal(task.Filters)
	if err != nil {
		return fmt.Errorf("failed to serialize filters: %w", err)
	}

	query := `
	UPDATE crawl_tasks SET
		source_type = ?,
		search_query = ?,
		category = ?,
		filters = ?,
		target_count = ?,
		status = ?,
		images_collected = ?,
		images_saved = ?,
		images_filtered = ?,
		progress = ?,
		error_message = ?,
		started_at = ?,
		paused_at = ?,
		completed_at = ?
	WHERE id = ?
	`

	result, err := tdb.db.ExecContext(ctx, query,
		task.SourceType.String(),
		task.SearchQuery,
		task.Category,
		string(filtersJSON),
		task.TargetCount,
		task.Status.String(),
		task.ImagesCollected,
		task.ImagesSaved,
		task.ImagesFiltered,
		task.Progress,
		task.ErrorMessage,
		formatTimePtr(task.StartedAt),
		formatTimePtr(task.PausedAt),
		formatTimePtr(task.CompletedAt),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s not found", task.ID)
	}

	return nil
}

const taskColumns = `
	id, source_type, search_query, category, filters, target_count,
	status, images_collected, images_saved, images_filtered, progress,
	error_message, created_at, started_at, paused_at, completed_at
`

// GetTask retrieves a task by ID. It returns (nil, nil) when no task with
// that ID exists.
func (tdb *TaskDB) GetTask(ctx context.Context, id string) (*model.CrawlTask, error) {
	query := `SELECT ` + taskColumns + ` FROM crawl_tasks WHERE id = ?`

	task, err := scanTask(tdb.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// ListTasks returns tasks newest first, optionally filtered by status
// and/or source type. Empty filter values match everything.
func (tdb *TaskDB) ListTasks(ctx context.Context, status, sourceType string) ([]*model.CrawlTask, error) {
	query := `SELECT ` + taskColumns + ` FROM crawl_tasks WHERE 1=1`
	args := make([]any, 0)

	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	if sourceType != "" {
		query += " AND source_type = ?"
		args = append(args, sourceType)
	}

	query += " ORDER BY created_at DESC, id DESC"

	rows, err := tdb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.CrawlTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}

	return tasks, rows.Err()
}

// scanner abstracts *sql.Row and *sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

// scanTask reads one crawl_tasks row into a model.CrawlTask.
func scanTask(row scanner) (*model.CrawlTask, error) {
	var task model.CrawlTask
	var sourceType, status, filtersJSON, createdAt string
	var category, errorMessage, startedAt, pausedAt, completedAt sql.NullString

	err := row.Scan(
		&task.ID,
		&sourceType,
		&task.SearchQuery,
		&category,
		&filtersJSON,
		&task.TargetCount,
		&status,
		&task.ImagesCollected,
		&task.ImagesSaved,
		&task.ImagesFiltered,
		&task.Progress,
		&errorMessage,
		&createdAt,
		&startedAt,
		&pausedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	task.SourceType = model.SourceType(sourceType)
	task.Status = model.TaskStatus(status)
	task.Category = category.String
	task.ErrorMessage = errorMessage.String
	task.CreatedAt = parseTimestamp(createdAt)
	task.StartedAt = parseTimestampPtr(startedAt)
	task.PausedAt = parseTimestampPtr(pausedAt)
	task.CompletedAt = parseTimestampPtr(completedAt)

	if err := json.Unmarshal([]byte(filtersJSON), &task.Filters); err != nil {
		return nil, fmt.Errorf("failed to parse filters: %w", err)
	}

	return &task, nil
}

// AppendCollectedImage inserts one collected image under a task and returns
// the new row's ID. It returns (0, false, nil) when the task already holds
// an image with the same dedupe key; the caller counts that as a filtered
// duplicate.
func (tdb *TaskDB) AppendCollectedImage(ctx context.Context, taskID string, record *model.ImageRecord) (int64, bool, error) {
	recordJSON, err := json.Marshal(record)
	if err != nil {
		return 0, false, fmt.Errorf("failed to serialize record: %w", err)
	}

	query := `
	INSERT INTO collected_images (task_id, dedupe_key, record, download_status)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(task_id, dedupe_key) DO NOTHING
	`

	result, err := tdb.db.ExecContext(ctx, query,
		taskID,
		record.ID,
		string(recordJSON),
		string(model.DownloadPending),
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert collected image: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to check insert result: %w", err)
	}
	if affected == 0 {
		return 0, false, nil
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read inserted ID: %w", err)
	}

	return id, true, nil
}

// ListCollectedImages returns one page of a task's collected images in
// collection order, plus the total count for pagination. page is 1-based.
func (tdb *TaskDB) ListCollectedImages(ctx context.Context, taskID string, page, perPage int) ([]*model.CollectedImage, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM collected_images WHERE task_id = ?`
	if err := tdb.db.QueryRowContext(ctx, countQuery, taskID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count collected images: %w", err)
	}

	query := `
	SELECT id, task_id, record, download_status, saved_as_template, collected_at
	FROM collected_images
	WHERE task_id = ?
	ORDER BY id
	LIMIT ? OFFSET ?
	`

	rows, err := tdb.db.QueryContext(ctx, query, taskID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list collected images: %w", err)
	}
	defer rows.Close()

	var images []*model.CollectedImage
	for rows.Next() {
		var img model.CollectedImage
		var recordJSON, downloadStatus, collectedAt string
		var saved int

		if err := rows.Scan(&img.ID, &img.TaskID, &recordJSON, &downloadStatus, &saved, &collectedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan collected image: %w", err)
		}

		if err := json.Unmarshal([]byte(recordJSON), &img.Record); err != nil {
			return nil, 0, fmt.Errorf("failed to parse record: %w", err)
		}
		img.DownloadStatus = model.DownloadStatus(downloadStatus)
		img.SavedAsTemplate = saved != 0
		img.CollectedAt = parseTimestamp(collectedAt)

		images = append(images, &img)
	}

	return images, total, rows.Err()
}

// SetDownloadStatus updates the download state of one collected image.
func (tdb *TaskDB) SetDownloadStatus(ctx context.Context, imageID int64, status model.DownloadStatus) error {
	query := `UPDATE collected_images SET download_status = ? WHERE id = ?`

	result, err := tdb.db.ExecContext(ctx, query, string(status), imageID)
	if err != nil {
		return fmt.Errorf("failed to update download status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("collected image %d not found", imageID)
	}

	return nil
}

// MarkSavedAsTemplate records that a collected image was promoted to a
// template. It returns false without error when the image was already
// promoted.
func (tdb *TaskDB) MarkSavedAsTemplate(ctx context.Context, imageID int64) (bool, error) {
	query := `
	UPDATE collected_images SET saved_as_template = 1
	WHERE id = ? AND saved_as_template = 0
	`

	result, err := tdb.db.ExecContext(ctx, query, imageID)
	if err != nil {
		return false, fmt.Errorf("failed to mark image as template: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check update result: %w", err)
	}

	return affected > 0, nil
}

// GetCollectedImage retrieves one collected image by its row ID. It returns
// (nil, nil) when no image with that ID exists.
func (tdb *TaskDB) GetCollectedImage(ctx context.Context, imageID int64) (*model.CollectedImage, error) {
	query := `
	SELECT id, task_id, record, download_status, saved_as_template, collected_at
	FROM collected_images
	WHERE id = ?
	`

	var img model.CollectedImage
	var recordJSON, downloadStatus, collectedAt string
	var saved int

	err := tdb.db.QueryRowContext(ctx, query, imageID).Scan(
		&img.ID, &img.TaskID, &recordJSON, &downloadStatus, &saved, &collectedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collected image: %w", err)
	}

	if err := json.Unmarshal([]byte(recordJSON), &img.Record); err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	img.DownloadStatus = model.DownloadStatus(downloadStatus)
	img.SavedAsTemplate = saved != 0
	img.CollectedAt = parseTimestamp(collectedAt)

	return &img, nil
}

// Stats summarizes the stored tasks and images.
type Stats struct {
	// TotalTasks is the number of stored tasks.
	TotalTasks int `json:"total_tasks"`

	// TasksByStatus counts tasks per lifecycle state.
	TasksByStatus map[string]int `json:"tasks_by_status"`

	// TotalCollected is the number of collected image rows across tasks.
	TotalCollected int `json:"total_collected"`

	// TotalSaved is the number of images promoted to templates.
	TotalSaved int `json:"total_saved"`
}

// GetStats computes aggregate statistics over all tasks.
func (tdb *TaskDB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{TasksByStatus: make(map[string]int)}

	rows, err := tdb.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM crawl_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan task count: %w", err)
		}
		stats.TasksByStatus[status] = count
		stats.TotalTasks += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tdb.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(saved_as_template), 0) FROM collected_images`,
	).Scan(&stats.TotalCollected, &stats.TotalSaved); err != nil {
		return nil, fmt.Errorf("failed to count collected images: %w", err)
	}

	return stats, nil
}

// storedTimeFormat is UTC RFC3339 with fixed-width nanoseconds. Unlike
// RFC3339Nano it never drops trailing zeros, so stored timestamps order
// correctly under string comparison (ORDER BY relies on this).
const storedTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// formatTime serializes a time for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(storedTimeFormat)
}

// formatTimePtr serializes an optional time, mapping nil to SQL NULL.
func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

// timestampFormats contains the timestamp formats that SQLite may return.
// The order matters: more specific formats should come first.
var timestampFormats = []string{
	time.RFC3339Nano,          // Our own storage format
	time.RFC3339,              // Full RFC3339 format
	"2006-01-02 15:04:05",     // SQLite default datetime format
	"2006-01-02T15:04:05Z",    // ISO 8601 with Z suffix
	"2006-01-02T15:04:05",     // ISO 8601 without timezone
	"2006-01-02 15:04:05.999", // SQLite with milliseconds
}

// parseTimestamp attempts to parse a timestamp string using multiple
// formats. SQLite may return timestamps in different formats depending on
// configuration. If parsing fails with all formats, returns zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseTimestampPtr parses an optional timestamp, mapping NULL to nil.
func parseTimestampPtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTimestamp(s.String)
	return &t
}
