package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mmcdole/reelcache/internal/domain"
	"github.com/mmcdole/reelcache/internal/tui/styles"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// videoTable renders descriptors for a terminal.
func videoTable(videos []domain.VideoDescriptor) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.DimStyle).
		Headers("ID", "TITLE", "CATEGORY", "LENGTH", "VIEWS", "SOURCE").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.AccentStyle.Bold(true).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})
	for _, v := range videos {
		t.Row(
			v.ID,
			styles.Truncate(v.Title, 40),
			string(v.Category),
			v.FormattedDuration(),
			strconv.Itoa(v.Views),
			v.Source.String(),
		)
	}
	return t.String()
}

func mark(ok bool) string {
	if ok {
		return styles.SuccessStyle.Render("✓")
	}
	return styles.ErrorStyle.Render("✗")
}

func printStats(w io.Writer, stats domain.CacheStats) {
	fmt.Fprintf(w, "%s %d/%d videos, %s\n",
		styles.TitleStyle.Render("Store:"), stats.Count, stats.MaxItems, stats.FormattedSize())
	fmt.Fprintf(w, "%s %.1f%%\n", styles.RenderProgressBar(stats.Usage(), 30), stats.Usage()*100)
	if !stats.Oldest.IsZero() {
		fmt.Fprintf(w, "%s %s\n", styles.DimStyle.Render("least recently used:"), stats.Oldest.Local().Format("2006-01-02 15:04"))
		fmt.Fprintf(w, "%s %s\n", styles.DimStyle.Render("most recently used: "), stats.Newest.Local().Format("2006-01-02 15:04"))
	}
}

// progressPrinter reports sync progress on a single terminal line.
type progressPrinter struct {
	w io.Writer
}

func (p progressPrinter) OnProgress(progress domain.SyncProgress) {
	switch progress.Stage {
	case domain.SyncStageStarted:
		fmt.Fprintln(p.w, styles.DimStyle.Render("Fetching featured videos..."))
	case domain.SyncStageCaching:
		done := progress.Cached + progress.Skipped + progress.Failed
		fraction := 0.0
		if progress.Total > 0 {
			fraction = float64(done) / float64(progress.Total)
		}
		fmt.Fprintf(p.w, "\r%s %d/%d", styles.RenderProgressBar(fraction, 30), done, progress.Total)
	case domain.SyncStageCleanup:
		fmt.Fprintln(p.w)
	}
}
