package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/nekozuka/imgcatcher/internal/model"
)

// SimpleWriter outputs human-readable text reports.
// This format is designed for terminal display.
//
// Design decision: We use plain text with ASCII formatting rather than
// ANSI colors by default because:
// 1. It works in all terminals without compatibility issues
// 2. It's easier to pipe to files or other tools
// 3. Color can be added as an option later if needed
type SimpleWriter struct {
	baseWriter

	// showImages controls whether the per-image listing is included.
	showImages bool
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithImageListing includes the per-image listing in the output.
func WithImageListing(show bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.showImages = show
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{
		baseWriter: newBaseWriter(output),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Write outputs the report in human-readable format.
func (w *SimpleWriter) Write(report *TaskReport) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, report)
	w.writeSummary(&sb, report)
	if w.showImages {
		w.writeImages(&sb, report)
	}

	return w.output.Write([]byte(sb.String()))
}

// writeHeader writes the report header with task information.
func (w *SimpleWriter) writeHeader(sb *strings.Builder, report *TaskReport) {
	task := report.Task

	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                        CRAWL TASK REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("Task:         %s\n", task.ID))
	sb.WriteString(fmt.Sprintf("Source:       %s\n", task.SourceType))
	sb.WriteString(fmt.Sprintf("Query:        %s\n", task.SearchQuery))
	if task.Category != "" {
		sb.WriteString(fmt.Sprintf("Category:     %s\n", task.Category))
	}
	sb.WriteString(fmt.Sprintf("Created:      %s\n", task.CreatedAt.Format("2006-01-02 15:04:05 MST")))

	switch {
	case task.Status == model.StatusFailed && task.ErrorMessage == model.CancelledByUser:
		sb.WriteString("Status:       CANCELLED (partial results)\n")
	case task.Status == model.StatusFailed:
		sb.WriteString(fmt.Sprintf("Status:       FAILED - %s\n", task.ErrorMessage))
	default:
		sb.WriteString(fmt.Sprintf("Status:       %s\n", strings.ToUpper(task.Status.String())))
	}

	sb.WriteString("\n")
}

// writeSummary writes the collection summary section.
func (w *SimpleWriter) writeSummary(sb *strings.Builder, report *TaskReport) {
	task := report.Task

	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("COLLECTION SUMMARY\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	sb.WriteString(fmt.Sprintf("  Target:     %d images\n", task.TargetCount))
	sb.WriteString(fmt.Sprintf("  Collected:  %d\n", task.ImagesCollected))
	sb.WriteString(fmt.Sprintf("  Filtered:   %d\n", task.ImagesFiltered))
	sb.WriteString(fmt.Sprintf("  Saved:      %d\n", task.ImagesSaved))
	sb.WriteString(fmt.Sprintf("  Progress:   %d%%\n", task.Progress))

	if d := report.Duration(); d > 0 {
		sb.WriteString(fmt.Sprintf("  Duration:   %s\n", d.Round(time.Millisecond)))
	}

	counts := report.DownloadCounts()
	if counts[model.DownloadDownloaded] > 0 || counts[model.DownloadFailed] > 0 {
		sb.WriteString(fmt.Sprintf("  Downloaded: %d (%d failed)\n",
			counts[model.DownloadDownloaded], counts[model.DownloadFailed]))
	}

	sb.WriteString("\n")
}

// writeImages writes the per-image listing.
func (w *SimpleWriter) writeImages(sb *strings.Builder, report *TaskReport) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString("COLLECTED IMAGES\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")

	if len(report.Images) == 0 {
		sb.WriteString("  No images collected\n\n")
		return
	}

	for _, img := range report.Images {
		marker := " "
		if img.SavedAsTemplate {
			marker = "*"
		}
		sb.WriteString(fmt.Sprintf("  [%s] %s\n", marker, img.Record.SourceURL))
	}
	sb.WriteString("\n")
}
