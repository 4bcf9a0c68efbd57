package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nekozuka/imgcatcher/internal/crawl"
	"github.com/nekozuka/imgcatcher/internal/database"
	"github.com/nekozuka/imgcatcher/internal/model"
	"github.com/spf13/cobra"
)

// NewTasksCmd creates the tasks command group.
func NewTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage crawl tasks",
		Long: `Tasks lists and controls crawl tasks stored in the database.

Examples:
  # List all tasks
  imgcatcher tasks list

  # List only paused Danbooru tasks
  imgcatcher tasks list --status paused --source danbooru

  # Show one task with its collected images
  imgcatcher tasks show crawl_xxx

  # Pause, resume, or cancel a task
  imgcatcher tasks pause crawl_xxx
  imgcatcher tasks resume crawl_xxx
  imgcatcher tasks cancel crawl_xxx

  # Promote a collected image to a template
  imgcatcher tasks promote 42

  # Show aggregate statistics
  imgcatcher tasks stats`,
	}

	cmd.AddCommand(newTasksListCmd())
	cmd.AddCommand(newTasksShowCmd())
	cmd.AddCommand(newTasksPauseCmd())
	cmd.AddCommand(newTasksResumeCmd())
	cmd.AddCommand(newTasksCancelCmd())
	cmd.AddCommand(newTasksPromoteCmd())
	cmd.AddCommand(newTasksStatsCmd())

	return cmd
}

// openManager opens the database and wraps it in a task manager.
// The returned cleanup function shuts the manager down and closes the
// database.
func openManager(cmd *cobra.Command) (*crawl.Manager, func(), error) {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger := setupLogger(cfg.Verbose)
	slog.SetDefault(logger)

	db, err := database.Open(cfg.DBDir, database.DefaultOptions())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	manager := crawl.NewManager(db, cfg, crawl.WithLogger(logger))
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(ctx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
		if err := db.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}

	return manager, cleanup, nil
}

// newTasksListCmd creates the tasks list command.
func newTasksListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List crawl tasks",
		Long:  `List shows crawl tasks newest first, optionally filtered by status and source.`,
		Args:  cobra.NoArgs,
		RunE:  runTasksListCmd,
	}

	cmd.Flags().String("status", "",
		"Filter by status (pending, running, paused, completed, failed)")
	cmd.Flags().String("source", "",
		"Filter by source (danbooru, gelbooru, pixiv)")
	cmd.Flags().BoolP("json", "j", false, "Output task list in JSON format")

	return cmd
}

// runTasksListCmd executes the tasks list command.
func runTasksListCmd(cmd *cobra.Command, _ []string) error {
	manager, cleanup, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := cmd.Flags().GetString("status")
	if err != nil {
		return err
	}
	sourceType, err := cmd.Flags().GetString("source")
	if err != nil {
		return err
	}
	jsonOutput, err := cmd.Flags().GetBool("json")
	if err != nil {
		return err
	}

	tasks, err := manager.ListTasks(cmd.Context(), status, sourceType)
	if err != nil {
		return err
	}

	if jsonOutput {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(tasks)
	}

	if len(tasks) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No crawl tasks found.")
		fmt.Fprintln(cmd.OutOrStdout(), "\nUse 'imgcatcher crawl <query>' to start collecting.")
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Crawl tasks (%d):\n\n", len(tasks))
	fmt.Fprintf(out, "  %-42s  %-9s  %-10s  %-9s  %s\n",
		"ID", "Source", "Status", "Progress", "Query")
	fmt.Fprintln(out, "  "+strings.Repeat("-", 90))

	for _, task := range tasks {
		progress := fmt.Sprintf("%d/%d", task.ImagesCollected, task.TargetCount)
		fmt.Fprintf(out, "  %-42s  %-9s  %-10s  %-9s  %s\n",
			task.ID, task.SourceType, task.Status, progress, task.SearchQuery)
	}

	fmt.Fprintln(out, "\nUse 'imgcatcher tasks show <id>' to see a task's details.")
	return nil
}

// newTasksShowCmd creates the tasks show command.
func newTasksShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show [task-id]",
		Short: "Show one task and its collected images",
		Args:  cobra.ExactArgs(1),
		RunE:  runTasksShowCmd,
	}

	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
	cmd.Flags().Bool("images", true,
		"Include the per-image listing in the text report")

	return cmd
}

// runTasksShowCmd executes the tasks show command.
func runTasksShowCmd(cmd *cobra.Command, args []string) error {
	manager, cleanup, err := openManager(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	task, err := manager.Task(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	return outputTaskReport(cmd, manager, task)
}

// newTasksPauseCmd creates the tasks pause command.
func newTasksPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [task-id]",
		Short: "Pause a running task",
		Long: `Pause suspends a running task. The page currently being processed is
finished first; collected images are retained. Use 'tasks resume' to
continue the task later.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cleanup, err := openManager(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := manager.Pause(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paused task %s\n", args[0])
			return nil
		},
	}
}

// newTasksResumeCmd creates the tasks resume command.
func newTasksResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [task-id]",
		Short: "Resume a paused task and run it to completion",
		Long: `Resume restarts a paused task in the foreground and waits for it to
finish. The search restarts from the first page; deduplication prevents
images collected before the pause from being counted twice.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cleanup, err := openManager(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			if err := manager.Resume(ctx, args[0]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Resumed task %s\n", args[0])

			task, err := waitForTask(ctx, manager, args[0], true)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Task %s finished with status %s (%d/%d images)\n",
				task.ID, task.Status, task.ImagesCollected, task.TargetCount)
			return nil
		},
	}
}

// newTasksCancelCmd creates the tasks cancel command.
func newTasksCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel [task-id]",
		Short: "Cancel a running or paused task",
		Long: `Cancel stops a task permanently. Images collected before cancellation
are retained; the task cannot be restarted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cleanup, err := openManager(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := manager.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled task %s\n", args[0])
			return nil
		},
	}
}

// newTasksPromoteCmd creates the tasks promote command.
func newTasksPromoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "promote [image-id]",
		Short: "Promote a collected image to a template",
		Long: `Promote marks a collected image as saved to the template library and
increments the owning task's saved counter. Promoting the same image
twice is a no-op.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			imageID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid image ID %q: %w", args[0], err)
			}

			manager, cleanup, err := openManager(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := manager.PromoteToTemplate(cmd.Context(), imageID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Promoted image %d to template\n", imageID)
			return nil
		},
	}
}

// newTasksStatsCmd creates the tasks stats command.
func newTasksStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate task statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, cleanup, err := openManager(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := manager.Stats(cmd.Context())
			if err != nil {
				return err
			}

			jsonOutput, err := cmd.Flags().GetBool("json")
			if err != nil {
				return err
			}
			if jsonOutput {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(stats)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tasks:            %d\n", stats.TotalTasks)
			for _, status := range model.TaskStatuses() {
				if count := stats.TasksByStatus[status.String()]; count > 0 {
					fmt.Fprintf(out, "  %-15s %d\n", status.String()+":", count)
				}
			}
			fmt.Fprintf(out, "Images collected: %d\n", stats.TotalCollected)
			fmt.Fprintf(out, "Images saved:     %d\n", stats.TotalSaved)
			return nil
		},
	}

	cmd.Flags().BoolP("json", "j", false, "Output statistics in JSON format")

	return cmd
}
