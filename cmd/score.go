package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/bullseye/internal/engine"
	"github.com/joescharf/bullseye/internal/models"
	"github.com/joescharf/bullseye/internal/output"
	"github.com/joescharf/bullseye/internal/sessions"
	"github.com/joescharf/bullseye/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score <session>",
	Short: "Score arrows interactively",
	Long: `Score a session line by line from stdin.

  X 10 9 .. 1 M     record an arrow by keypad label
  @x,y              record an arrow at face coordinates (0..1000, centre 500,500)
  undo | u          remove the last arrow of the current end, or cancel an edit
  edit <end> <n>    replace arrow n of end <end> ("c" for the current end)
  cancel            cancel an open edit
  notes <text>      set the session notes
  flush             commit a full end now
  show              print the session
  keypad | ?        print the keypad
  quit | q          leave; a full end is committed first`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return scoreRun(args[0], cmd.InOrStdin())
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}

type scoreKind int

const (
	scoreShot scoreKind = iota
	scoreUndo
	scoreEdit
	scoreCancel
	scoreNotes
	scoreFlush
	scoreShow
	scoreKeypad
	scoreQuit
)

// scoreAction is one parsed input line.
type scoreAction struct {
	kind  scoreKind
	input sessions.Input
	end   int // 1-based end number, 0 for the current end
	arrow int // 0-based
	text  string
}

// parseScoreLine turns an input line into an action. Labels are not
// validated here; the manager rejects unknown ones.
func parseScoreLine(line string) (scoreAction, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return scoreAction{}, fmt.Errorf("empty input")
	}

	switch strings.ToLower(fields[0]) {
	case "undo", "u":
		return scoreAction{kind: scoreUndo}, nil
	case "cancel":
		return scoreAction{kind: scoreCancel}, nil
	case "flush":
		return scoreAction{kind: scoreFlush}, nil
	case "show":
		return scoreAction{kind: scoreShow}, nil
	case "keypad", "?", "help":
		return scoreAction{kind: scoreKeypad}, nil
	case "quit", "q", "exit":
		return scoreAction{kind: scoreQuit}, nil
	case "notes":
		text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), fields[0]))
		return scoreAction{kind: scoreNotes, text: text}, nil
	case "edit", "e":
		return parseEdit(fields[1:])
	}

	if strings.HasPrefix(fields[0], "@") {
		p, err := parsePoint(strings.TrimPrefix(strings.Join(fields, ""), "@"))
		if err != nil {
			return scoreAction{}, err
		}
		return scoreAction{kind: scoreShot, input: sessions.Input{Point: &p}}, nil
	}
	if len(fields) > 1 {
		return scoreAction{}, fmt.Errorf("unknown command %q", fields[0])
	}
	return scoreAction{kind: scoreShot, input: sessions.Input{Label: fields[0]}}, nil
}

func parseEdit(args []string) (scoreAction, error) {
	if len(args) != 2 {
		return scoreAction{}, fmt.Errorf("usage: edit <end|c> <arrow>")
	}
	a := scoreAction{kind: scoreEdit}
	if e := strings.ToLower(args[0]); e != "c" && e != engine.CurrentEnd {
		n, err := strconv.Atoi(e)
		if err != nil || n < 1 {
			return scoreAction{}, fmt.Errorf("invalid end %q", args[0])
		}
		a.end = n
	}
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return scoreAction{}, fmt.Errorf("invalid arrow %q", args[1])
	}
	a.arrow = n - 1
	return a, nil
}

// parsePoint reads "x,y" in face coordinates.
func parsePoint(s string) (models.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return models.Point{}, fmt.Errorf("invalid point %q: want @x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
	if err != nil {
		return models.Point{}, fmt.Errorf("invalid x %q", xs)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
	if err != nil {
		return models.Point{}, fmt.Errorf("invalid y %q", ys)
	}
	return models.Point{X: x, Y: y}, nil
}

func scoreRun(ref string, in io.Reader) error {
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
	if v.State == engine.Complete {
		printView(v)
		ui.Info("Session is complete.")
		return nil
	}

	fmt.Fprintf(ui.Out, "Scoring %s: %d ends x %d arrows. Type ? for help.\n",
		output.Cyan(v.Session.Name), v.Session.TotalEnds, v.Session.ArrowsPerEnd)
	printStatus(v)

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		a, err := parseScoreLine(line)
		if err != nil {
			ui.Error("%v", err)
			continue
		}
		if a.kind == scoreQuit {
			break
		}

		done, err := applyScoreAction(ctx, m, id, a)
		if err != nil {
			ui.Error("%v", err)
			continue
		}
		if done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	return finishScoring(ctx, m, id)
}

// applyScoreAction runs one action and reports whether the session completed.
func applyScoreAction(ctx context.Context, m *sessions.Manager, id string, a scoreAction) (bool, error) {
	var (
		v   sessions.View
		err error
	)
	switch a.kind {
	case scoreShot:
		v, err = m.Record(ctx, id, a.input)
	case scoreUndo:
		v, err = m.Undo(ctx, id)
	case scoreCancel:
		v, err = m.CancelEdit(ctx, id)
	case scoreFlush:
		v, err = m.Flush(ctx, id)
	case scoreEdit:
		v, err = openEdit(ctx, m, id, a)
	case scoreNotes:
		if _, err := m.UpdateDetails(ctx, id, store.SessionUpdate{Notes: &a.text}); err != nil {
			return false, err
		}
		ui.Success("Notes saved")
		return false, nil
	case scoreShow:
		v, err = m.View(ctx, id)
		if err == nil {
			printView(v)
		}
		return false, err
	case scoreKeypad:
		ui.Keypad()
		return false, nil
	}
	if err != nil {
		return false, err
	}

	reportOutcome(v)
	return v.State == engine.Complete, nil
}

func openEdit(ctx context.Context, m *sessions.Manager, id string, a scoreAction) (sessions.View, error) {
	ref := engine.EditRef{EndID: engine.CurrentEnd, Index: a.arrow}
	if a.end > 0 {
		s, err := m.Get(ctx, id)
		if err != nil {
			return sessions.View{}, err
		}
		if a.end > len(s.Ends) {
			return sessions.View{}, fmt.Errorf("end %d has not been shot yet", a.end)
		}
		ref.EndID = s.Ends[a.end-1].ID
	}
	v, err := m.OpenEdit(ctx, id, ref)
	if err != nil {
		return v, err
	}
	if v.Outcome == "" {
		ui.Info("Editing %s: enter the new score", describeTarget(v.Session, ref.EndID, ref.Index))
	}
	return v, nil
}

// reportOutcome prints what the last action did.
func reportOutcome(v sessions.View) {
	s := v.Session
	switch v.Outcome {
	case engine.Ignored.String():
		switch {
		case v.State == engine.Complete:
			ui.Warning("Session is complete")
		case v.Pending:
			ui.Warning("End is being committed, try again")
		default:
			ui.Warning("Nothing to do")
		}
	case engine.EndCommitted.String():
		last := s.Ends[len(s.Ends)-1]
		ui.Success("End %d: %s = %d", last.Number, output.Arrows(last.Arrows, s.ArrowsPerEnd), last.Score())
	case engine.SessionCompleted.String():
		last := s.Ends[len(s.Ends)-1]
		ui.Success("End %d: %s = %d", last.Number, output.Arrows(last.Arrows, s.ArrowsPerEnd), last.Score())
		ui.Success("Session complete: %s (avg %s)", output.Bold(strconv.Itoa(v.TotalScore)), output.AverageColor(v.AverageArrow))
		return
	case engine.Edited.String():
		ui.Success("Arrow replaced")
	case engine.Pending.String():
		ui.Info("End full, committing")
	}
	printStatus(v)
}

// printStatus shows the in-progress end and the running total.
func printStatus(v sessions.View) {
	s := v.Session
	if s.IsComplete {
		return
	}
	fmt.Fprintf(ui.Out, "End %d/%d  %s  total %s\n",
		v.CurrentEndIndex+1, s.TotalEnds, output.Arrows(v.CurrentArrows, s.ArrowsPerEnd), output.Bold(strconv.Itoa(v.CurrentTotal)))
}

// finishScoring commits a full end left pending and reports where the session stands.
func finishScoring(ctx context.Context, m *sessions.Manager, id string) error {
	v, err := m.View(ctx, id)
	if err != nil {
		return err
	}
	if v.Pending {
		if v, err = m.Flush(ctx, id); err != nil {
			return err
		}
		reportOutcome(v)
	}
	if len(v.CurrentArrows) > 0 {
		ui.Warning("%d arrows of end %d are not saved until the end is full", len(v.CurrentArrows), v.CurrentEndIndex+1)
	}
	ui.Info("%s: %s ends, total %d", v.Session.Name, progress(v.Session), v.TotalScore)
	return nil
}
