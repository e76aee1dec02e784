package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/joescharf/bullseye/internal/models"
	"github.com/joescharf/bullseye/internal/scoring"
)

// UI provides colored output and respects verbose/dry-run modes.
type UI struct {
	Verbose bool
	DryRun  bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	bold          = color.New(color.Bold).SprintFunc()
)

// Ring colours follow the printed face. Black rings print as white text on
// black so they stay readable on dark terminals.
var bandColors = map[scoring.Band]*color.Color{
	scoring.BandGold:  color.New(color.FgBlack, color.BgHiYellow),
	scoring.BandRed:   color.New(color.FgHiWhite, color.BgRed),
	scoring.BandBlue:  color.New(color.FgHiWhite, color.BgBlue),
	scoring.BandBlack: color.New(color.FgHiWhite, color.BgBlack),
	scoring.BandWhite: color.New(color.FgBlack, color.BgHiWhite),
	scoring.BandMiss:  color.New(color.FgHiBlack),
}

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// Bold returns a bold string.
func Bold(s string) string { return bold(s) }

// ScoreColor renders an arrow label in the colour of its ring.
func ScoreColor(a models.ArrowShot) string {
	label := fmt.Sprintf("%2s", a.Display)
	if c, ok := bandColors[scoring.BandFor(a.Value)]; ok {
		return c.Sprint(label)
	}
	return label
}

// Arrows renders a row of arrows separated by spaces. Empty slots up to
// width are shown as dots.
func Arrows(arrows []models.ArrowShot, width int) string {
	parts := make([]string, 0, max(width, len(arrows)))
	for _, a := range arrows {
		parts = append(parts, ScoreColor(a))
	}
	for i := len(arrows); i < width; i++ {
		parts = append(parts, " ·")
	}
	return strings.Join(parts, " ")
}

// StateColor returns a session state colored for tables.
func StateColor(state string) string {
	switch strings.ToLower(state) {
	case "not_started":
		return cyan(state)
	case "in_progress":
		return yellow(state)
	case "complete":
		return green(state)
	default:
		return state
	}
}

// AverageColor colours an average arrow value by the ring it would land in.
func AverageColor(avg float64) string {
	s := fmt.Sprintf("%.2f", avg)
	switch {
	case avg >= 9:
		return green(s)
	case avg >= 7:
		return yellow(s)
	case avg > 0:
		return red(s)
	default:
		return s
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

func (u *UI) DryRunMsg(format string, a ...any) {
	if u.DryRun {
		u.Warning("[DRY-RUN] "+format, a...)
	}
}

// Keypad prints the score keypad with ring colours.
func (u *UI) Keypad() {
	for _, row := range scoring.Keypad() {
		cells := make([]string, len(row))
		for i, label := range row {
			sc := scoring.MapLabel(label)
			cells[i] = ScoreColor(models.ArrowShot{Value: sc.Value, Display: sc.Display})
		}
		fmt.Fprintf(u.Out, "  %s\n", strings.Join(cells, "  "))
	}
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
