package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/bullseye/internal/models"
	"github.com/joescharf/bullseye/internal/stats"
	"github.com/joescharf/bullseye/internal/store"
)

var (
	reportFormat string
	reportRange  string
	reportArrows bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export session history as JSON, CSV, or Markdown",
	Long: `Export session history in various formats.

JSON carries every end and arrow. CSV writes one row per session, or one
row per arrow with --arrows. Markdown writes a summary table.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun(time.Now())
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&reportRange, "range", "ALL", "History range: 1W, 1M, 3M, 1Y, ALL")
	exportCmd.Flags().BoolVar(&reportArrows, "arrows", false, "CSV: one row per arrow")
	rootCmd.AddCommand(exportCmd)
}

func exportRun(now time.Time) error {
	r, err := stats.ParseRange(reportRange)
	if err != nil {
		return err
	}
	m, err := getManager()
	if err != nil {
		return err
	}

	list, err := m.List(context.Background(), store.SessionListFilter{})
	if err != nil {
		return err
	}
	list = stats.Filter(list, r, now)

	switch reportFormat {
	case "json":
		return exportJSON(list)
	case "csv":
		if reportArrows {
			return exportArrowsCSV(list)
		}
		return exportCSV(list)
	case "markdown", "md":
		return exportMarkdown(list, r)
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv, markdown)", reportFormat)
	}
}

func exportJSON(list []*models.Session) error {
	enc := json.NewEncoder(ui.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(list)
}

func exportCSV(list []*models.Session) error {
	w := csv.NewWriter(ui.Out)
	_ = w.Write([]string{"ID", "Date", "Name", "Face", "Distance", "Ends", "TotalEnds", "ArrowsPerEnd", "Score", "Average", "X", "10", "M", "Complete", "Notes"})
	for _, s := range list {
		sum := stats.Summarize(s)
		_ = w.Write([]string{
			s.ID,
			s.Date.UTC().Format(time.RFC3339),
			s.Name,
			string(s.TargetType),
			strconv.Itoa(s.Distance),
			strconv.Itoa(len(s.Ends)),
			strconv.Itoa(s.TotalEnds),
			strconv.Itoa(s.ArrowsPerEnd),
			strconv.Itoa(sum.TotalScore),
			strconv.FormatFloat(stats.Round2(sum.AverageArrow), 'f', 2, 64),
			strconv.Itoa(sum.XCount),
			strconv.Itoa(sum.TenCount),
			strconv.Itoa(sum.MissCount),
			strconv.FormatBool(s.IsComplete),
			s.Notes,
		})
	}
	w.Flush()
	return w.Error()
}

func exportArrowsCSV(list []*models.Session) error {
	w := csv.NewWriter(ui.Out)
	_ = w.Write([]string{"SessionID", "Session", "End", "Arrow", "Score", "Value", "X", "Y", "Timestamp"})
	for _, s := range list {
		for _, e := range s.Ends {
			for i, a := range e.Arrows {
				var x, y string
				if a.Position != nil {
					x = strconv.FormatFloat(a.Position.X, 'f', -1, 64)
					y = strconv.FormatFloat(a.Position.Y, 'f', -1, 64)
				}
				_ = w.Write([]string{
					s.ID,
					s.Name,
					strconv.Itoa(e.Number),
					strconv.Itoa(i + 1),
					a.Display,
					strconv.Itoa(a.Value),
					x,
					y,
					a.Timestamp.UTC().Format(time.RFC3339),
				})
			}
		}
	}
	w.Flush()
	return w.Error()
}

func exportMarkdown(list []*models.Session, r stats.Range) error {
	fmt.Fprintln(ui.Out, "# Sessions")
	fmt.Fprintln(ui.Out)
	fmt.Fprintln(ui.Out, "| Date | Name | Face | Distance | Ends | Score | Avg | X | 10 | M |")
	fmt.Fprintln(ui.Out, "|------|------|------|----------|------|-------|-----|---|----|---|")
	for _, s := range list {
		sum := stats.Summarize(s)
		fmt.Fprintf(ui.Out, "| %s | %s | %s | %dm | %d/%d | %d | %.2f | %d | %d | %d |\n",
			s.Date.Local().Format("2006-01-02"), mdEscape(s.Name), s.TargetType, s.Distance,
			len(s.Ends), s.TotalEnds, sum.TotalScore, sum.AverageArrow, sum.XCount, sum.TenCount, sum.MissCount)
	}

	all := stats.Summarize(list...)
	fmt.Fprintln(ui.Out)
	fmt.Fprintf(ui.Out, "**Range %s:** %d sessions, %d arrows, average %.2f\n", r, all.Sessions, all.TotalArrows, all.AverageArrow)
	return nil
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
