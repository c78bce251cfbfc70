// Package tui renders run output for the terminal: summary tables,
// histograms, run history and replication progress.
package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/callflow/callflow/pkg/kpi"
	"github.com/callflow/callflow/pkg/replication"
	"github.com/callflow/callflow/pkg/state"
	"github.com/callflow/callflow/pkg/stats"
	"github.com/callflow/callflow/pkg/writer"
)

// Colors
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	barStyle     = lipgloss.NewStyle().Foreground(success)
)

const rule = "  ─────────────────────────────────────"

// PrintHeader prints the banner.
func PrintHeader(w io.Writer, version string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  CALLFLOW")+mutedStyle.Render(" "+version))
	fmt.Fprintln(w, mutedStyle.Render("  Call-centre simulation dashboard"))
	fmt.Fprintln(w)
}

// RunReport is what PrintRunReport shows after a run.
type RunReport struct {
	RunID        string
	Experiment   replication.Experiment
	Replications int
	Events       int
	Elapsed      time.Duration
}

// PrintRunReport prints the completion banner of a run.
func PrintRunReport(w io.Writer, r RunReport) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ RUN COMPLETE"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Run:"), titleStyle.Render(r.RunID))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Staff:"),
		titleStyle.Render(fmt.Sprintf("%d operators, %d nurses", r.Experiment.Operators, r.Experiment.Nurses)))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Callback:"),
		titleStyle.Render(fmt.Sprintf("%.0f%%", r.Experiment.CallbackProbability*100)))
	fmt.Fprintf(w, "  %s %s %s\n",
		mutedStyle.Render("Replications:"),
		titleStyle.Render(fmt.Sprintf("%d", r.Replications)),
		mutedStyle.Render(fmt.Sprintf("(%s)", formatDuration(r.Elapsed))))
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render("Event log:"), titleStyle.Render(formatNumber(int64(r.Events))+" entries"))
	fmt.Fprintln(w)
}

// PrintSummaryTable prints the KPI statistics as an aligned table. A KPI
// without data is flagged instead of printing blanks.
func PrintSummaryTable(w io.Writer, agg stats.AggregateStatistics) {
	if agg.Empty() {
		fmt.Fprintln(w, mutedStyle.Render("  No data."))
		return
	}

	header, rows := writer.SummaryTable(agg)
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if cw := lipgloss.Width(cell); cw > widths[i] {
				widths[i] = cw
			}
		}
	}

	fmt.Fprintln(w, accentStyle.Render("▸ SUMMARY"))
	fmt.Fprintln(w, "  "+titleStyle.Render(formatRow(header, widths)))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	for i, row := range rows {
		line := "  " + formatRow(row, widths)
		if !agg.Metrics[i].HasData() {
			line += " " + mutedStyle.Render("(no data)")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
}

// formatRow left-aligns the first cell and right-aligns the rest.
func formatRow(cells []string, widths []int) string {
	parts := make([]string, len(cells))
	for i, c := range cells {
		pad := strings.Repeat(" ", widths[i]-lipgloss.Width(c))
		if i == 0 {
			parts[i] = c + pad
		} else {
			parts[i] = pad + c
		}
	}
	return strings.Join(parts, "  ")
}

// PrintHistogram prints one KPI's distribution across replications as
// horizontal bars scaled to width.
func PrintHistogram(w io.Writer, metric string, bins []stats.Bin, width int) {
	fmt.Fprintln(w, accentStyle.Render("▸ "+strings.ToUpper(kpi.Label(metric))))
	if len(bins) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  No data."))
		return
	}
	if width < 1 {
		width = 40
	}

	peak := 0
	for _, b := range bins {
		if b.Count > peak {
			peak = b.Count
		}
	}
	for _, b := range bins {
		n := 0
		if peak > 0 {
			n = b.Count * width / peak
		}
		if b.Count > 0 && n == 0 {
			n = 1
		}
		label := fmt.Sprintf("%10.2f – %-10.2f", b.Lower, b.Upper)
		fmt.Fprintf(w, "  %s %s %s\n",
			mutedStyle.Render(label),
			barStyle.Render(strings.Repeat("█", n)),
			mutedStyle.Render(fmt.Sprintf("%d", b.Count)))
	}
	fmt.Fprintln(w)
}

// PrintHistory prints recorded runs, newest first.
func PrintHistory(w io.Writer, runs []*state.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  No runs recorded."))
		return
	}
	fmt.Fprintln(w, accentStyle.Render("▸ HISTORY"))
	for _, r := range runs {
		status := successStyle.Render(r.Status)
		if r.Status != state.StatusCompleted {
			status = accentStyle.Render(r.Status)
		}
		fmt.Fprintf(w, "  %s  %s  %s  %s\n",
			mutedStyle.Render(r.CreatedAt.Format("2006-01-02 15:04")),
			titleStyle.Render(r.ID),
			status,
			mutedStyle.Render(fmt.Sprintf("ops=%d nurses=%d cb=%.2f reps=%d %s",
				r.Experiment.Operators, r.Experiment.Nurses, r.Experiment.CallbackProbability,
				r.Replications, formatDuration(time.Duration(r.DurationMS)*time.Millisecond))))
		if r.Error != "" {
			fmt.Fprintln(w, "    "+accentStyle.Render("✗ "+r.Error))
		}
	}
	fmt.Fprintln(w)
}

// PrintError prints err in the accent color.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, accentStyle.Render("  ✗ "+err.Error()))
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%.1fM", float64(n)/1000000)
}

// NewProgress creates a replication progress bar writing to w.
func NewProgress(w io.Writer, total int) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("  replications"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// ProgressFunc drives bar from orchestrator progress callbacks.
func ProgressFunc(bar *progressbar.ProgressBar) replication.ProgressFunc {
	return func(done, total int) {
		bar.Set(done)
		if done == total {
			bar.Finish()
		}
	}
}
