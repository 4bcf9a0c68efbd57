package database

import (
	"context"
	"testing"
	"time"

	"github.com/nekozuka/imgcatcher/internal/model"
)

// setupTestDB creates a TaskDB backed by a temporary directory.
func setupTestDB(t *testing.T) *TaskDB {
	t.Helper()

	tdb, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := tdb.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})
	return tdb
}

func testTask(id string) *model.CrawlTask {
	return &model.CrawlTask{
		ID:          id,
		SourceType:  model.SourceDanbooru,
		SearchQuery: "blue_sky",
		Category:    "acg",
		Filters:     model.FilterCriteria{MinWidth: 800, MinScore: 10},
		TargetCount: 20,
		Status:      model.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestOpenRequiresExistingDatabase(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	opts := DefaultOptions()
	opts.CreateIfNotExists = false

	if _, err := Open(dir, opts); err == nil {
		t.Fatal("expected error opening a missing database without create")
	}

	// Creating first makes the strict open succeed.
	tdb, err := Open(dir, DefaultOptions())
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	if err := tdb.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	tdb, err = Open(dir, opts)
	if err != nil {
		t.Fatalf("failed to open existing database: %v", err)
	}
	_ = tdb.Close()
}

func TestCreateAndGetTask(t *testing.T) {
	t.Parallel()

	tdb := setupTestDB(t)
	ctx := context.Background()

	task := testTask("crawl_1")
	started := time.Now().UTC().Truncate(time.Second)
	task.Status = model.StatusRunning
	task.StartedAt = &started

	if err := tdb.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	got, err := tdb.GetTask(ctx, "crawl_1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.SourceType != model.SourceDanbooru {
		t.Errorf("expected danbooru, got %q", got.SourceType)
	}
	if got.SearchQuery != "blue_sky" {
		t.Errorf("expected query blue_sky, got %q", got.SearchQuery)
	}
	if got.Category != "acg" {
		t.Errorf("expected category acg, got %q", got.Category)
	}
	if got.Status != model.StatusRunning {
		t.Errorf("expected running, got %q", got.Status)
	}
	if got.Filters.MinWidth != 800 || got.Filters.MinScore != 10 {
		t.Errorf("filters did not round-trip: %+v", got.Filters)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("expected StartedAt %v, got %v", started, got.StartedAt)
	}
	if got.PausedAt != nil || got.CompletedAt != nil {
		t.Error("expected unset optional timestamps to stay nil")
	}
}

func TestGetTaskNotFound(t *testing.T) {
	t.Parallel()

	tdb := setupTestDB(t)

	got, err := tdb.GetTask(context.Background(), "crawl_missing")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing task, got %+v", got)
	}
}

func TestUpdateTask(t *testing.T) {
	t.Parallel()

	tdb := setupTestDB(t)
	ctx := context.Background()

	task := testTask("crawl_2")
	if err := tdb.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := task.Start(now); err != nil {
		t.Fatalf("start: %v", err)
	}
	task.ImagesCollected = 5
	task.ImagesFiltered = 2
	task.UpdateProgress()

	if err := tdb.UpdateTask(ctx, task); err != nil {
		t.Fatalf("update task: %v", err)
	}

	got, err := tdb.GetTask(ctx, "crawl_2")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != model.StatusRunning {
		t.Errorf("expected running, got %q", got.Status)
	}
	if got.ImagesCollected != 5 || got.ImagesFiltered != 2 {
		t.Errorf("counters did not round-trip: %+v", got)
	}
	if got.Progress != 25 {
		t.Errorf("expected progress 25, got %d", got.Progress)
	}
}

func TestUpdateTaskNotFound(t *testing.T) {
	t.Parallel()

	tdb := setupTestDB(t)

	if err := tdb.UpdateTask(context.Background(), testTask("crawl_ghost")); err == nil {
		t.Fatal("expected error updating a missing task")
	}
}

func TestListTasksFilters(t *testing.T) {
	t.Parallel()

	tdb := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, spec := range []struct {
		id     string
		source model.SourceType
		status model.TaskStatus
	}{
		{"crawl_a", model.SourceDanbooru, model.StatusCompleted},
		{"crawl_b", model.SourcePixiv, model.StatusRunning},
		{"crawl_c", model.SourceDanbooru, model.StatusRunning},
	} {
		task := testTask(spec.id)
		task.SourceType = spec.source
		task.Status = spec.status
		task.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := tdb.CreateTask(ctx, task); err != nil {
			t.Fatalf("create %s: %v", spec.id, err)
		}
	}

	all, err := tdb.ListTasks(ctx, "", "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	// Newest first.
	if all[0].ID != "crawl_c" || all[2].ID != "crawl_a" {
		t.Errorf("unexpected order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}

	running, err := tdb.ListTasks(ctx, model.StatusRunning.String(), "")
	if err != nil {
		t.Fatalf("list running: %v", err)
	}
	if len(running) != 2 {
		t.Errorf("expected 2 running tasks, got %d", len(running))
	}

	danbooruRunning, err := tdb.ListTasks(ctx, model.StatusRunning.String(), model.SourceDanbooru.String())
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(danbooruRunning) != 1 || danbooruRunning[0].ID != "crawl_c" {
		t.Errorf("expected only crawl_c, got %+v", danbooruRunning)
	}
}

func TestListTasksOrderWithMixedFractionalSeconds(t *testing.T) {
	t.Parallel()

	tdb := setupTestDB(t)
	ctx := context.Background()

	// A whole-second timestamp followed by a fractional one: formats that
	// drop trailing zeros would string-sort these in the wrong order.
	base := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	older := testTask("crawl_whole")
	older.CreatedAt = base
	newer := testTask("crawl_fractional")
	newer.CreatedAt = base.Add(500 * time.Millisecond)

	for _, task := range []*model.CrawlTask{older, newer} {
		if err := tdb.CreateTask(ctx, task); err != nil {
			t.Fatalf("create %s: %v", task.ID, err)
		}
	}

	all, err := tdb.ListTasks(ctx, "", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(all))
	}
	if all[0].ID != "crawl_fractional" || all[1].ID != "crawl_whole" {
		t.Errorf("unexpected order: %s, %s", all[0].ID, all[1].ID)
	}
	if !all[1].CreatedAt.Equal(base) {
		t.Errorf("whole-second timestamp did not round-trip: %v", all[1].CreatedAt)
	}
}

func TestAppendCollectedImageDeduplicates(t *testing.T) {
	t.Parallel()

	tdb := setupTestDB(t)
	ctx := context.Background()

	if err := tdb.CreateTask(ctx, testTask("crawl_d")); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := tdb.CreateTask(ctx, testTask("crawl_e")); err != nil {
		t.Fatalf("create task: %v", err)
	}

	record := model.NewImageRecord("https://cdn.example/a.jpg", model.SourceDanbooru)

	id, inserted, err := tdb.AppendCollectedImage(ctx, "crawl_d", record)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !inserted || id == 0 {
		t.Fatalf("expected first append to insert, got id=%d inserted=%v", id, inserted)
	}

	// Same image under the same task is a duplicate.
	_, inserted, err = tdb.AppendCollectedImage(ctx, "crawl_d", record)
	if err != nil {
		t.Fatalf("duplicate append: %v", err)
	}
	if inserted {
		t.Error("expected duplicate append to be ignored")
	}

	// Same image under another task is not.
	_, inserted, err = tdb.AppendCollectedImage(ctx, "crawl_e", record)
	if err != nil {
		t.Fatalf("cross-task append: %v", err)
	}
	if !inserted {
		t.Error("expected append under a different task to insert")
	}
}

func TestListCollectedImagesPagination(t *testing.T) {
	t.Parallel()

	tdb := setupTestDB(t)
	ctx := context.Background()

	if err := tdb.CreateTask(ctx, testTask("crawl_f")); err != nil {
		t.Fatalf("create task: %v", err)
	}

	for i := range 5 {
		record := model.NewImageRecord(
			"https://cdn.example/img"+string(rune('a'+i))+".jpg", model.SourceDanbooru)
		if _, _, err := tdb.AppendCollectedImage(ctx, "crawl_f", record); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	first, total, err := tdb.ListCollectedImages(ctx, "crawl_f", 1, 2)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
	if len(first) != 2 {
		t.Fatalf("expected 2 images on page 1, got %d", len(first))
	}
	if first[0].Record.SourceURL != "https://cdn.example/imga.jpg" {
		t.Errorf("unexpected first image %q", first[0].Record.SourceURL)
	}
	if first[0].DownloadStatus != model.DownloadPending {
		t.Errorf("expected pending download status, got %q", first[0].DownloadStatus)
	}

	last, _, err := tdb.ListCollectedImages(ctx, "crawl_f", 3, 2)
	if err != nil {
		t.Fatalf("list page 3: %v", err)
	}
	if len(last) != 1 {
		t.Errorf("expected 1 image on the final page, got %d", len(last))
	}

	empty, total, err := tdb.ListCollectedImages(ctx, "crawl_missing", 1, 10)
	if err != nil {
		t.Fatalf("list missing task: %v", err)
	}
	if total != 0 || len(empty) != 0 {
		t.Errorf("expected no images for unknown task, got %d/%d", len(empty), total)
	}
}

func TestMarkSavedAsTemplate(t *testing.T) {
	t.Parallel()

	tdb := setupTestDB(t)
	ctx := context.Background()

	if err := tdb.CreateTask(ctx, testTask("crawl_g")); err != nil {
		t.Fatalf("create task: %v", err)
	}
	record := model.NewImageRecord("https://cdn.example/t.jpg", model.SourceDanbooru)
	if _, _, err := tdb.AppendCollectedImage(ctx, "crawl_g", record); err != nil {
		t.Fatalf("append: %v", err)
	}

	images, _, err := tdb.ListCollectedImages(ctx, "crawl_g", 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	imageID := images[0].ID

	marked, err := tdb.MarkSavedAsTemplate(ctx, imageID)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if !marked {
		t.Fatal("expected first promotion to succeed")
	}

	// A second promotion is a no-op.
	marked, err = tdb.MarkSavedAsTemplate(ctx, imageID)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if marked {
		t.Error("expected repeated promotion to report false")
	}

	got, err := tdb.GetCollectedImage(ctx, imageID)
	if err != nil {
		t.Fatalf("get image: %v", err)
	}
	if got == nil || !got.SavedAsTemplate {
		t.Errorf("expected image marked as template, got %+v", got)
	}
}

func TestSetDownloadStatus(t *testing.T) {
	t.Parallel()

	tdb := setupTestDB(t)
	ctx := context.Background()

	if err := tdb.CreateTask(ctx, testTask("crawl_h")); err != nil {
		t.Fatalf("create task: %v", err)
	}
	record := model.NewImageRecord("https://cdn.example/d.jpg", model.SourceDanbooru)
	if _, _, err := tdb.AppendCollectedImage(ctx, "crawl_h", record); err != nil {
		t.Fatalf("append: %v", err)
	}

	images, _, err := tdb.ListCollectedImages(ctx, "crawl_h", 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := tdb.SetDownloadStatus(ctx, images[0].ID, model.DownloadDownloaded); err != nil {
		t.Fatalf("set status: %v", err)
	}

	got, err := tdb.GetCollectedImage(ctx, images[0].ID)
	if err != nil {
		t.Fatalf("get image: %v", err)
	}
	if got.DownloadStatus != model.DownloadDownloaded {
		t.Errorf("expected downloaded, got %q", got.DownloadStatus)
	}

	if err := tdb.SetDownloadStatus(ctx, 9999, model.DownloadFailed); err == nil {
		t.Error("expected error for unknown image ID")
	}
}

func TestGetStats(t *testing.T) {
	t.Parallel()

	tdb := setupTestDB(t)
	ctx := context.Background()

	for _, spec := range []struct {
		id     string
		status model.TaskStatus
	}{
		{"crawl_s1", model.StatusCompleted},
		{"crawl_s2", model.StatusCompleted},
		{"crawl_s3", model.StatusRunning},
	} {
		task := testTask(spec.id)
		task.Status = spec.status
		if err := tdb.CreateTask(ctx, task); err != nil {
			t.Fatalf("create %s: %v", spec.id, err)
		}
	}

	record := model.NewImageRecord("https://cdn.example/s.jpg", model.SourceDanbooru)
	if _, _, err := tdb.AppendCollectedImage(ctx, "crawl_s1", record); err != nil {
		t.Fatalf("append: %v", err)
	}
	images, _, err := tdb.ListCollectedImages(ctx, "crawl_s1", 1, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if _, err := tdb.MarkSavedAsTemplate(ctx, images[0].ID); err != nil {
		t.Fatalf("mark: %v", err)
	}

	stats, err := tdb.GetStats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalTasks != 3 {
		t.Errorf("expected 3 tasks, got %d", stats.TotalTasks)
	}
	if stats.TasksByStatus[model.StatusCompleted.String()] != 2 {
		t.Errorf("expected 2 completed tasks, got %d", stats.TasksByStatus[model.StatusCompleted.String()])
	}
	if stats.TotalCollected != 1 || stats.TotalSaved != 1 {
		t.Errorf("expected 1 collected and 1 saved, got %d/%d", stats.TotalCollected, stats.TotalSaved)
	}
}
