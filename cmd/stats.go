package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/bullseye/internal/output"
	"github.com/joescharf/bullseye/internal/stats"
	"github.com/joescharf/bullseye/internal/store"
)

var statsRange string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show averages and the score trend",
	Long:  "Show totals, the average arrow and the per-session trend for a history range.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statsRun(time.Now())
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsRange, "range", "1M", "History range: 1W, 1M, 3M, 1Y, ALL")
	rootCmd.AddCommand(statsCmd)
}

func statsRun(now time.Time) error {
	r, err := stats.ParseRange(statsRange)
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
	d := stats.Build(list, r, now)

	if d.Summary.TotalArrows == 0 {
		ui.Info("No arrows scored in range %s.", d.Range)
		if d.Global.TotalArrows > 0 {
			fmt.Fprintf(ui.Out, "  All time:   %s over %d arrows\n", output.AverageColor(d.Global.AverageArrow), d.Global.TotalArrows)
		}
		return nil
	}

	sum := d.Summary
	fmt.Fprintf(ui.Out, "%s\n", output.Cyan("Range "+string(d.Range)))
	fmt.Fprintf(ui.Out, "  Sessions:   %d\n", sum.Sessions)
	fmt.Fprintf(ui.Out, "  Arrows:     %d\n", sum.TotalArrows)
	fmt.Fprintf(ui.Out, "  Score:      %d\n", sum.TotalScore)
	fmt.Fprintf(ui.Out, "  Average:    %s\n", output.AverageColor(sum.AverageArrow))
	fmt.Fprintf(ui.Out, "  Xs/10s/M:   %d / %d / %d\n", sum.XCount, sum.TenCount, sum.MissCount)
	fmt.Fprintf(ui.Out, "  All time:   %s over %d arrows\n", output.AverageColor(d.Global.AverageArrow), d.Global.TotalArrows)
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Date", "Session", "Score", "Avg"})
	for _, p := range d.Trend {
		_ = table.Append([]string{
			p.Date.Local().Format("2006-01-02"),
			p.Name,
			strconv.Itoa(p.TotalScore),
			output.AverageColor(p.AverageArrow),
		})
	}
	_ = table.Render()
	return nil
}
