package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/bullseye/internal/models"
	"github.com/joescharf/bullseye/internal/output"
	"github.com/joescharf/bullseye/internal/sessions"
	"github.com/joescharf/bullseye/internal/stats"
	"github.com/joescharf/bullseye/internal/store"
)

var (
	sessionName       string
	sessionNotes      string
	sessionEnds       int
	sessionArrows     int
	sessionDistance   int
	sessionFace       string
	sessionRange      string
	sessionIncomplete bool
)

var newCmd = &cobra.Command{
	Use:   "new",
	Short: "Start a new session",
	Long:  "Create a new scoring session. Unset flags take the configured session defaults.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionNewRun()
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List sessions",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionListRun()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <session>",
	Short: "Show a session with its ends and stats",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionShowRun(args[0])
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <session>",
	Short: "Update a session's name, notes or distance",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := editUpdate(cmd)
		if err != nil {
			return err
		}
		return sessionEditRun(args[0], u)
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete <session>",
	Aliases: []string{"rm"},
	Short:   "Delete a session",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sessionDeleteRun(args[0])
	},
}

func init() {
	newCmd.Flags().StringVar(&sessionName, "name", "", "Session name (default \"Session HH:MM\")")
	newCmd.Flags().StringVar(&sessionNotes, "notes", "", "Session notes")
	newCmd.Flags().IntVar(&sessionEnds, "ends", 0, "Number of ends (default from config)")
	newCmd.Flags().IntVar(&sessionArrows, "arrows", 0, "Arrows per end (default from config)")
	newCmd.Flags().IntVar(&sessionDistance, "distance", 0, "Distance in meters (default from config)")
	newCmd.Flags().StringVar(&sessionFace, "face", "", "Target face: WA_OUTDOOR, WA_INDOOR_SINGLE, WA_INDOOR_TRIPLE")

	listCmd.Flags().StringVar(&sessionRange, "range", "ALL", "History range: 1W, 1M, 3M, 1Y, ALL")
	listCmd.Flags().BoolVar(&sessionIncomplete, "incomplete", false, "Only sessions still in progress")

	editCmd.Flags().StringVar(&sessionName, "name", "", "New name")
	editCmd.Flags().StringVar(&sessionNotes, "notes", "", "New notes")
	editCmd.Flags().IntVar(&sessionDistance, "distance", 0, "New distance in meters")

	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
}

func sessionNewRun() error {
	req := sessions.NewSession{
		Name:         sessionName,
		TotalEnds:    sessionEnds,
		ArrowsPerEnd: sessionArrows,
		Distance:     sessionDistance,
		TargetType:   models.TargetFace(strings.ToUpper(sessionFace)),
		Notes:        sessionNotes,
	}

	if dryRun {
		ui.DryRunMsg("Would create session %q (%d ends x %d arrows)", req.Name, req.TotalEnds, req.ArrowsPerEnd)
		return nil
	}

	m, err := getManager()
	if err != nil {
		return err
	}
	s, err := m.Create(context.Background(), req)
	if err != nil {
		return err
	}

	ui.Success("Created session %s (%s)", output.Cyan(s.Name), shortID(s.ID))
	ui.VerboseLog("%d ends x %d arrows at %dm on %s", s.TotalEnds, s.ArrowsPerEnd, s.Distance, s.TargetType)
	ui.Info("Score it with: bullseye score %s", shortID(s.ID))
	return nil
}

func sessionListRun() error {
	r, err := stats.ParseRange(sessionRange)
	if err != nil {
		return err
	}
	m, err := getManager()
	if err != nil {
		return err
	}

	list, err := m.List(context.Background(), store.SessionListFilter{IncompleteOnly: sessionIncomplete})
	if err != nil {
		return err
	}
	list = stats.Filter(list, r, time.Now())

	if len(list) == 0 {
		ui.Info("No sessions yet. Use 'bullseye new' to start one.")
		return nil
	}

	table := ui.Table([]string{"ID", "Date", "Name", "Face", "Dist", "Ends", "Score", "Avg"})
	for _, s := range list {
		sum := stats.Summarize(s)
		_ = table.Append([]string{
			shortID(s.ID),
			s.Date.Local().Format("2006-01-02 15:04"),
			output.Cyan(s.Name),
			string(s.TargetType),
			fmt.Sprintf("%dm", s.Distance),
			progress(s),
			strconv.Itoa(sum.TotalScore),
			output.AverageColor(sum.AverageArrow),
		})
	}
	_ = table.Render()
	return nil
}

func sessionShowRun(ref string) error {
	m, err := getManager()
	if err != nil {
		return err
	}
	ctx := context.Background()

	id, err := resolveSession(ctx, m, ref)
	if err != nil {
		return err
	}
	v, err := m.View(ctx, id)
	if err != nil {
		return err
	}
	printView(v)
	return nil
}

// printView renders a session header, its committed ends and the live buffer.
func printView(v sessions.View) {
	s := v.Session

	fmt.Fprintf(ui.Out, "%s\n", output.Cyan(s.Name))
	fmt.Fprintf(ui.Out, "  ID:         %s\n", s.ID)
	fmt.Fprintf(ui.Out, "  Date:       %s\n", s.Date.Local().Format("Mon 2006-01-02 15:04"))
	fmt.Fprintf(ui.Out, "  Face:       %s at %dm\n", s.TargetType, s.Distance)
	fmt.Fprintf(ui.Out, "  State:      %s (%s ends)\n", output.StateColor(v.State.String()), progress(s))
	if s.Notes != "" {
		fmt.Fprintf(ui.Out, "  Notes:      %s\n", s.Notes)
	}
	fmt.Fprintln(ui.Out)

	if len(s.Ends) > 0 {
		table := ui.Table([]string{"End", "Arrows", "Score", "Avg", "Total"})
		running := 0
		for _, e := range s.Ends {
			running += e.Score()
			_ = table.Append([]string{
				strconv.Itoa(e.Number),
				output.Arrows(e.Arrows, s.ArrowsPerEnd),
				strconv.Itoa(e.Score()),
				fmt.Sprintf("%.2f", stats.EndAverage(e)),
				strconv.Itoa(running),
			})
		}
		_ = table.Render()
		fmt.Fprintln(ui.Out)
	}

	if !s.IsComplete {
		fmt.Fprintf(ui.Out, "  End %d:      %s\n", v.CurrentEndIndex+1, output.Arrows(v.CurrentArrows, s.ArrowsPerEnd))
	}
	fmt.Fprintf(ui.Out, "  Score:      %s  (avg %s)\n", output.Bold(strconv.Itoa(v.CurrentTotal)), output.AverageColor(v.AverageArrow))
	fmt.Fprintf(ui.Out, "  Xs/10s/M:   %d / %d / %d\n", v.Stats.XCount, v.Stats.TenCount, v.Stats.MissCount)
	if v.EditTarget != nil {
		fmt.Fprintf(ui.Out, "  Editing:    %s\n", output.Yellow(describeTarget(s, v.EditTarget.EndID, v.EditTarget.Index)))
	}
}

// editUpdate collects the flags the user actually passed.
func editUpdate(cmd *cobra.Command) (store.SessionUpdate, error) {
	var u store.SessionUpdate
	if cmd.Flags().Changed("name") {
		name := strings.TrimSpace(sessionName)
		if name == "" {
			return u, fmt.Errorf("name cannot be empty")
		}
		u.Name = &name
	}
	if cmd.Flags().Changed("notes") {
		u.Notes = &sessionNotes
	}
	if cmd.Flags().Changed("distance") {
		u.Distance = &sessionDistance
	}
	return u, nil
}

func sessionEditRun(ref string, u store.SessionUpdate) error {
	if u.Name == nil && u.Notes == nil && u.Distance == nil {
		return fmt.Errorf("nothing to update: pass --name, --notes or --distance")
	}

	m, err := getManager()
	if err != nil {
		return err
	}
	ctx := context.Background()
	id, err := resolveSession(ctx, m, ref)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would update session %s", shortID(id))
		return nil
	}

	s, err := m.UpdateDetails(ctx, id, u)
	if err != nil {
		return err
	}
	ui.Success("Updated session %s", output.Cyan(s.Name))
	return nil
}

func sessionDeleteRun(ref string) error {
	m, err := getManager()
	if err != nil {
		return err
	}
	ctx := context.Background()
	id, err := resolveSession(ctx, m, ref)
	if err != nil {
		return err
	}
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would delete session %s (%s)", s.Name, shortID(id))
		return nil
	}

	if err := m.Delete(ctx, id); err != nil {
		return err
	}
	ui.Success("Deleted session %s", output.Cyan(s.Name))
	return nil
}

// shortID is the id prefix shown in tables; Resolve accepts it back.
// Twelve characters cover the ULID timestamp plus some entropy.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func progress(s *models.Session) string {
	return fmt.Sprintf("%d/%d", len(s.Ends), s.TotalEnds)
}

// describeTarget names an edit target for the user.
func describeTarget(s *models.Session, endID string, index int) string {
	if i := s.EndByID(endID); i >= 0 {
		return fmt.Sprintf("end %d arrow %d", s.Ends[i].Number, index+1)
	}
	return fmt.Sprintf("current end arrow %d", index+1)
}
