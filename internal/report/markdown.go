package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nekozuka/imgcatcher/internal/model"
)

// MarkdownWriter outputs reports in Markdown format.
// This format is designed for documentation and sharing.
//
// Design decision: We use the nao1215/markdown library for fluent markdown
// generation which provides:
// 1. Type-safe markdown generation
// 2. Support for tables, lists, and code blocks
// 3. GitHub-flavored markdown alerts
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{
		baseWriter: newBaseWriter(output),
	}
}

// Write outputs the report in Markdown format.
func (w *MarkdownWriter) Write(report *TaskReport) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, report)
	w.writeAlert(md, report)
	w.writeSummary(md, report)
	w.writePieChart(md, report)
	w.writeImages(md, report)
	w.writeFooter(md, report)

	return len(md.String()), md.Build()
}

// writeHeader writes the task identity section.
func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, report *TaskReport) {
	task := report.Task

	md.H1("Crawl Task Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Field", "Value"},
		Rows: [][]string{
			{"Task", task.ID},
			{"Source", task.SourceType.String()},
			{"Query", task.SearchQuery},
			{"Status", task.Status.String()},
			{"Created", task.CreatedAt.Format("2006-01-02 15:04:05 MST")},
		},
	})
	md.PlainText("")
}

// writeAlert writes an alert matching the task's outcome.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, report *TaskReport) {
	task := report.Task

	switch {
	case task.Status == model.StatusFailed && task.ErrorMessage == model.CancelledByUser:
		md.Warningf("Task was cancelled; %d image(s) collected before cancellation are retained.",
			task.ImagesCollected)
	case task.Status == model.StatusFailed:
		md.Cautionf("Task failed: %s", task.ErrorMessage)
	case task.Status == model.StatusCompleted && task.ImagesCollected < task.TargetCount:
		md.Note(fmt.Sprintf("Source was exhausted at %d of %d requested images.",
			task.ImagesCollected, task.TargetCount))
	case task.Status == model.StatusCompleted:
		md.Tip(fmt.Sprintf("Target of %d images reached.", task.TargetCount))
	}
	md.PlainText("")
}

// writeSummary writes the collection counters.
func (w *MarkdownWriter) writeSummary(md *markdown.Markdown, report *TaskReport) {
	task := report.Task
	counts := report.DownloadCounts()

	md.H2("Collection Summary")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Metric", "Count"},
		Rows: [][]string{
			{"Target", strconv.Itoa(task.TargetCount)},
			{"Collected", strconv.Itoa(task.ImagesCollected)},
			{"Filtered", strconv.Itoa(task.ImagesFiltered)},
			{"Saved as template", strconv.Itoa(task.ImagesSaved)},
			{"Downloaded", strconv.Itoa(counts[model.DownloadDownloaded])},
			{"Download failures", strconv.Itoa(counts[model.DownloadFailed])},
			{"Progress", strconv.Itoa(task.Progress) + "%"},
		},
	})
	md.PlainText("")
}

// writePieChart writes a mermaid pie chart of the record disposition.
func (w *MarkdownWriter) writePieChart(md *markdown.Markdown, report *TaskReport) {
	task := report.Task
	if task.ImagesCollected == 0 && task.ImagesFiltered == 0 {
		return
	}

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Record Disposition"),
		piechart.WithShowData(true),
	)
	if task.ImagesCollected > 0 {
		chart.LabelAndIntValue("Collected", uint64(task.ImagesCollected))
	}
	if task.ImagesFiltered > 0 {
		chart.LabelAndIntValue("Filtered", uint64(task.ImagesFiltered))
	}

	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

// writeImages writes the collected image table.
func (w *MarkdownWriter) writeImages(md *markdown.Markdown, report *TaskReport) {
	md.H2("Collected Images")
	md.PlainText("")

	if len(report.Images) == 0 {
		md.PlainText("No images collected.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(report.Images))
	for i, img := range report.Images {
		resolution := "-"
		if img.Record.Width != nil && img.Record.Height != nil {
			resolution = fmt.Sprintf("%dx%d", *img.Record.Width, *img.Record.Height)
		}
		saved := "no"
		if img.SavedAsTemplate {
			saved = "yes"
		}

		rows[i] = []string{
			truncateString(img.Record.SourceURL, 60),
			resolution,
			strconv.Itoa(img.Record.Score),
			string(img.DownloadStatus),
			saved,
		}
	}

	md.Table(markdown.TableSet{
		Header: []string{"Source URL", "Resolution", "Score", "Download", "Template"},
		Rows:   rows,
	})
	md.PlainText("")
}

// writeFooter writes the report footer.
func (w *MarkdownWriter) writeFooter(md *markdown.Markdown, report *TaskReport) {
	md.HorizontalRule()
	md.PlainTextf("Generated by imgcatcher at %s",
		report.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
}

// truncateString shortens s to max characters, appending an ellipsis when
// truncation happened.
func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
