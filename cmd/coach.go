package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/bullseye/internal/output"
	"github.com/joescharf/bullseye/internal/store"
)

var coachSave bool

var coachCmd = &cobra.Command{
	Use:   "coach <session>",
	Short: "Get coaching feedback on a session",
	Long: `Ask the configured Anthropic model to review a session against recent
history. Requires anthropic.api_key (or ANTHROPIC_API_KEY).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return coachRun(args[0])
	},
}

func init() {
	coachCmd.Flags().BoolVar(&coachSave, "save", false, "Save the feedback as the session notes")
	rootCmd.AddCommand(coachCmd)
}

func coachRun(ref string) error {
	coach := newCoach()
	if coach == nil {
		return fmt.Errorf("no Anthropic API key configured: set anthropic.api_key or ANTHROPIC_API_KEY")
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
	s, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	history, err := m.List(ctx, store.SessionListFilter{Limit: 10})
	if err != nil {
		return err
	}

	ui.VerboseLog("Reviewing %s against %d recent sessions", s.Name, len(history))
	summary, err := coach.CoachSession(ctx, s, history)
	if err != nil {
		return fmt.Errorf("coaching: %w", err)
	}

	fmt.Fprintf(ui.Out, "%s\n\n%s\n", output.Cyan(s.Name), summary)

	if !coachSave {
		return nil
	}
	if dryRun {
		ui.DryRunMsg("Would save feedback to the notes of %s", s.Name)
		return nil
	}
	if _, err := m.UpdateDetails(ctx, id, store.SessionUpdate{Notes: &summary}); err != nil {
		return err
	}
	fmt.Fprintln(ui.Out)
	ui.Success("Saved to session notes")
	return nil
}
