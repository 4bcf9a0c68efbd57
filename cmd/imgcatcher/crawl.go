package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nekozuka/imgcatcher/internal/config"
	"github.com/nekozuka/imgcatcher/internal/crawl"
	"github.com/nekozuka/imgcatcher/internal/database"
	"github.com/nekozuka/imgcatcher/internal/log"
	"github.com/nekozuka/imgcatcher/internal/model"
	"github.com/nekozuka/imgcatcher/internal/report"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// progressPollInterval is how often the foreground wait loop re-reads the
// task while a crawl runs.
const progressPollInterval = 500 * time.Millisecond

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [search-query]",
		Short: "Create and run image collection tasks",
		Long: `Crawl creates one collection task per search query and runs them in the
foreground.

It searches the chosen source by tag, filters the results by content
criteria (resolution, score, face count), deduplicates against images the
task already collected, and stores surviving records. Press Ctrl-C to
cancel; images collected so far are retained.

Examples:
  # Collect 20 images from Danbooru (default source and limit)
  imgcatcher crawl "blue_sky"

  # Run several queries concurrently, one task each
  imgcatcher crawl "blue_sky" "starry_sky" "sunset"

  # Collect 100 high-resolution images from Gelbooru
  imgcatcher crawl --source gelbooru --limit 100 --min-width 1920 --min-height 1080 "landscape"

  # Collect popular Pixiv illustrations (requires a refresh token)
  imgcatcher crawl --source pixiv --sort popular --min-bookmarks 1000 "風景"

  # Collect without downloading image files
  imgcatcher crawl --no-download "1girl"

  # Output JSON report when done
  imgcatcher crawl --json "blue_sky"

Credentials file (credentials.yaml) example:
  sources:
    danbooru:
      username: alice
      api_key: "..."
    pixiv:
      refresh_token: "..."`,
		Args: cobra.MinimumNArgs(1),
		RunE: runCrawlCmd,
	}

	// Task parameters
	cmd.Flags().StringP("source", "s", "danbooru",
		"Image source to crawl (danbooru, gelbooru, pixiv)")
	cmd.Flags().IntP("limit", "n", config.DefaultTargetCount,
		fmt.Sprintf("Number of images to collect (%d-%d)", config.MinTargetCount, config.MaxTargetCount))
	cmd.Flags().String("category", "",
		"User-facing grouping for collected images (e.g. acg, movie)")

	// Filter criteria
	cmd.Flags().Int("min-width", 0, "Minimum image width in pixels")
	cmd.Flags().Int("min-height", 0, "Minimum image height in pixels")
	cmd.Flags().Int("min-faces", -1, "Minimum detected face count (-1 disables)")
	cmd.Flags().Int("max-faces", -1, "Maximum detected face count (-1 disables)")
	cmd.Flags().Int("min-score", 0, "Minimum upstream score (booru sources)")
	cmd.Flags().String("rating", "", "Content rating qualifier (booru sources)")
	cmd.Flags().String("file-ext", "", "Restrict to one file extension (booru sources)")
	cmd.Flags().Int("min-bookmarks", 0, "Minimum bookmark count (pixiv)")
	cmd.Flags().String("sort", "", "Sort order: popular or date")

	// Download behavior
	cmd.Flags().String("download-dir", "",
		"Directory for downloaded image files (default: data dir)")
	cmd.Flags().Bool("no-download", false,
		"Record image metadata without downloading files")

	// Engine knobs
	cmd.Flags().DurationP("timeout", "t", config.DefaultTimeout,
		"Connection timeout for each request")
	cmd.Flags().StringP("credentials", "c", "",
		"Credentials file path (default: credentials.yaml in current or config directory)")

	// Report flags
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().Bool("images", false,
		"Include the per-image listing in the text report")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	manager := crawl.NewManager(db, cfg, crawl.WithLogger(logger))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One task per query, all started before waiting so they run
	// concurrently under the manager's rate limits.
	tasks := make([]*model.CrawlTask, 0, len(args))
	for _, query := range args {
		req, err := buildTaskRequest(cmd, query)
		if err != nil {
			return err
		}

		task, err := manager.CreateTask(ctx, req)
		if err != nil {
			return err
		}
		fmt.Printf("Created task %s (%s %q, limit %d)\n",
			task.ID, task.SourceType, task.SearchQuery, task.TargetCount)

		if err := manager.Start(ctx, task.ID); err != nil {
			return err
		}
		tasks = append(tasks, task)
	}

	// On interrupt, cancel the tasks rather than tearing the process down.
	// Each runner observes cancellation at the next page boundary and
	// records already-collected images before finishing.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nCancelling tasks...")
		for _, task := range tasks {
			if err := manager.Cancel(context.Background(), task.ID); err != nil {
				logger.Error("cancel failed", "task", task.ID, "error", err)
			}
		}
	}()

	// Per-poll progress lines only make sense for a single task; with
	// several tasks they interleave, so print completion lines instead.
	showProgress := len(tasks) == 1

	finals := make([]*model.CrawlTask, len(tasks))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		eg.Go(func() error {
			final, err := waitForTask(egCtx, manager, task.ID, showProgress)
			if err != nil {
				return err
			}
			finals[i] = final
			if !showProgress {
				fmt.Printf("Task %s finished with status %s (%d/%d images)\n",
					final.ID, final.Status, final.ImagesCollected, final.TargetCount)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, final := range finals {
		if err := outputTaskReport(cmd, manager, final); err != nil {
			return err
		}
	}
	return nil
}

// buildTaskRequest converts crawl command flags into a task request.
func buildTaskRequest(cmd *cobra.Command, query string) (crawl.CreateTaskRequest, error) {
	var req crawl.CreateTaskRequest
	var err error

	req.SearchQuery = query

	if req.SourceType, err = cmd.Flags().GetString("source"); err != nil {
		return req, err
	}
	if req.TargetCount, err = cmd.Flags().GetInt("limit"); err != nil {
		return req, err
	}
	if req.Category, err = cmd.Flags().GetString("category"); err != nil {
		return req, err
	}

	if req.Filters.MinWidth, err = cmd.Flags().GetInt("min-width"); err != nil {
		return req, err
	}
	if req.Filters.MinHeight, err = cmd.Flags().GetInt("min-height"); err != nil {
		return req, err
	}

	minFaces, err := cmd.Flags().GetInt("min-faces")
	if err != nil {
		return req, err
	}
	if minFaces >= 0 {
		req.Filters.MinFaces = model.IntPtr(minFaces)
	}
	maxFaces, err := cmd.Flags().GetInt("max-faces")
	if err != nil {
		return req, err
	}
	if maxFaces >= 0 {
		req.Filters.MaxFaces = model.IntPtr(maxFaces)
	}

	if req.Filters.MinScore, err = cmd.Flags().GetInt("min-score"); err != nil {
		return req, err
	}
	if req.Filters.Rating, err = cmd.Flags().GetString("rating"); err != nil {
		return req, err
	}
	if req.Filters.FileExt, err = cmd.Flags().GetString("file-ext"); err != nil {
		return req, err
	}
	if req.Filters.MinBookmarks, err = cmd.Flags().GetInt("min-bookmarks"); err != nil {
		return req, err
	}
	if req.Filters.Sort, err = cmd.Flags().GetString("sort"); err != nil {
		return req, err
	}

	return req, nil
}

// buildConfig creates a Config from command flags and the credentials file.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.New()

	var err error

	cfg.Verbose = getVerboseFlag(cmd)

	if dbDir := getDBDirFlag(cmd); dbDir != "" {
		cfg.DBDir = dbDir
	}

	if f := cmd.Flags().Lookup("timeout"); f != nil {
		cfg.Timeout, err = cmd.Flags().GetDuration("timeout")
		if err != nil {
			return nil, err
		}
	}

	if f := cmd.Flags().Lookup("download-dir"); f != nil {
		downloadDir, err := cmd.Flags().GetString("download-dir")
		if err != nil {
			return nil, err
		}
		if downloadDir != "" {
			cfg.DownloadDir = downloadDir
		}

		noDownload, err := cmd.Flags().GetBool("no-download")
		if err != nil {
			return nil, err
		}
		if noDownload {
			cfg.DownloadDir = ""
		}
	}

	if f := cmd.Flags().Lookup("credentials"); f != nil {
		cfg.CredentialsPath, err = cmd.Flags().GetString("credentials")
		if err != nil {
			return nil, err
		}
	}

	// Load per-source credentials. An explicitly specified file must
	// exist; otherwise a missing file just means anonymous access.
	explicitPath := cfg.CredentialsPath != ""
	credsPath := config.FindCredentialsFile(cfg.CredentialsPath)

	switch {
	case credsPath != "":
		cfg.Credentials, err = config.LoadCredentialsFile(credsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials file %s: %w", credsPath, err)
		}
	case explicitPath:
		return nil, fmt.Errorf("credentials file not found: %s", cfg.CredentialsPath)
	default:
		cfg.Credentials = &config.File{
			Sources: make(map[string]config.SourceConfig),
		}
	}

	return cfg, nil
}

// getVerboseFlag retrieves the verbose flag from the command or its parent.
func getVerboseFlag(cmd *cobra.Command) bool {
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		verbose, err = cmd.Root().PersistentFlags().GetBool("verbose")
		if err != nil {
			return false
		}
	}
	return verbose
}

// getDBDirFlag retrieves the db-dir flag from the command or its parent.
func getDBDirFlag(cmd *cobra.Command) string {
	dbDir, err := cmd.Flags().GetString("db-dir")
	if err != nil {
		dbDir, err = cmd.Root().PersistentFlags().GetString("db-dir")
		if err != nil {
			return ""
		}
	}
	return dbDir
}

// setupLogger creates a redacting structured logger based on verbosity.
func setupLogger(verbose bool) *slog.Logger {
	return log.NewLogger(os.Stderr, verbose)
}

// waitForTask polls the task until it reaches a terminal state. With
// showProgress set it prints a line each time the collected count changes.
func waitForTask(ctx context.Context, manager *crawl.Manager, taskID string, showProgress bool) (*model.CrawlTask, error) {
	ticker := time.NewTicker(progressPollInterval)
	defer ticker.Stop()

	lastCollected := -1
	for {
		task, err := manager.Task(ctx, taskID)
		if err != nil {
			return nil, err
		}

		if showProgress && task.ImagesCollected != lastCollected {
			lastCollected = task.ImagesCollected
			fmt.Printf("  collected %d/%d (%d%%)\n",
				task.ImagesCollected, task.TargetCount, task.Progress)
		}

		if task.Status.IsTerminal() {
			return task, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// loadTaskImages fetches all collected images for a task, page by page.
func loadTaskImages(ctx context.Context, manager *crawl.Manager, taskID string) ([]*model.CollectedImage, error) {
	const perPage = 100

	var images []*model.CollectedImage
	for page := 1; ; page++ {
		batch, total, err := manager.ListCollectedImages(ctx, taskID, page, perPage)
		if err != nil {
			return nil, err
		}
		images = append(images, batch...)
		if len(images) >= total || len(batch) == 0 {
			return images, nil
		}
	}
}

// outputTaskReport writes the task's report in the requested format.
func outputTaskReport(cmd *cobra.Command, manager *crawl.Manager, task *model.CrawlTask) error {
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}
	markdownOutput, err := cmd.Flags().GetBool("markdown")
	if err != nil {
		return err
	}
	if jsonOutput && markdownOutput {
		return errors.New("--json and --markdown are mutually exclusive")
	}

	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	showImages := false
	if cmd.Flags().Lookup("images") != nil {
		showImages, err = cmd.Flags().GetBool("images")
		if err != nil {
			return err
		}
	}

	images, err := loadTaskImages(cmd.Context(), manager, task.ID)
	if err != nil {
		return err
	}
	taskReport := report.NewTaskReport(task, images)

	output := cmd.OutOrStdout()
	if outputPath != "" {
		dir := filepath.Dir(outputPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0750); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		output = f
	}

	var writer report.Writer
	switch {
	case jsonOutput:
		writer = report.NewJSONWriter(output, report.WithPrettyPrint())
	case markdownOutput:
		writer = report.NewMarkdownWriter(output)
	default:
		writer = report.NewSimpleWriter(output, report.WithImageListing(showImages))
	}

	_, err = writer.Write(taskReport)
	return err
}
