// Package engine drives a single scoring session: the in-progress end,
// edits to past arrows, end completion and session completion.
//
// Invalid input (a shot into a full end, an edit pointing at a missing
// arrow, an undo with nothing to undo) never fails; the operation reports
// Ignored and leaves state untouched. Only repository failures are errors.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/joescharf/bullseye/internal/models"
)

// Repository persists session snapshots.
type Repository interface {
	SaveSession(ctx context.Context, s *models.Session) error
}

// Outcome reports what an operation did.
type Outcome int

const (
	Ignored Outcome = iota
	Recorded
	Pending // end is full and will be committed after the commit delay
	Edited
	EditCancelled
	Undone
	EndCommitted
	SessionCompleted
)

var outcomeNames = [...]string{"ignored", "recorded", "pending", "edited", "edit_cancelled", "undone", "end_committed", "session_completed"}

func (o Outcome) String() string {
	if int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// State is the lifecycle position of a session.
type State int

const (
	NotStarted State = iota
	InProgress
	Complete
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Option configures an Engine.
type Option func(*Engine)

// WithCommitDelay defers committing a full end by d, leaving time for a
// display to show the last arrow. Input touching the buffer is rejected
// while the commit is pending. Zero commits synchronously.
func WithCommitDelay(d time.Duration) Option {
	return func(e *Engine) { e.delay = d }
}

// WithLogger sets the structured logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithIDGenerator overrides how end ids are generated.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

// WithCommitHook registers fn to run after a deferred commit finishes.
// It is called without the engine lock held.
func WithCommitHook(fn func(Outcome, error)) Option {
	return func(e *Engine) { e.onCommit = fn }
}

// Engine is the state machine for one session. It is safe for concurrent
// use, but input is processed strictly one event at a time.
type Engine struct {
	mu sync.Mutex

	repo            Repository
	session         *models.Session // replaced on every change, never mutated
	currentEndIndex int
	current         []models.ArrowShot
	edit            EditTarget
	pending         bool
	timer           *time.Timer

	delay    time.Duration
	newID    func() string
	log      zerolog.Logger
	onCommit func(Outcome, error)
}

// New creates an engine for a loaded session. The session is normalised
// first, so malformed stored data is repaired rather than rejected.
func New(s *models.Session, repo Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:    repo,
		session: s.Normalize(),
		newID:   uuid.NewString,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.currentEndIndex = min(len(e.session.Ends), e.session.TotalEnds)
	return e
}

// RecordShot adds a shot to the current end, or replaces the targeted
// arrow when an edit is open.
func (e *Engine) RecordShot(ctx context.Context, shot models.ArrowShot) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	shot = shot.Normalized()
	if e.edit != nil {
		return e.applyEditLocked(ctx, shot)
	}
	if e.session.IsComplete || e.pending || len(e.current) >= e.session.ArrowsPerEnd {
		return Ignored, nil
	}

	e.current = append(e.current, shot)
	e.log.Debug().Str("session", e.session.ID).Int("end", e.currentEndIndex+1).
		Int("arrow", len(e.current)).Str("display", shot.Display).Msg("shot recorded")

	if len(e.current) < e.session.ArrowsPerEnd {
		return Recorded, nil
	}
	if e.delay > 0 {
		e.pending = true
		e.timer = time.AfterFunc(e.delay, e.deferredCommit)
		return Pending, nil
	}
	out, err := e.completeEndLocked(ctx)
	if err != nil {
		// The shot stays in the full buffer for Flush to retry.
		return Recorded, err
	}
	return out, nil
}

// ApplyEdit replaces the arrow referenced by the open edit target and
// clears the target.
func (e *Engine) ApplyEdit(ctx context.Context, shot models.ArrowShot) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.edit == nil {
		return Ignored, nil
	}
	return e.applyEditLocked(ctx, shot.Normalized())
}

func (e *Engine) applyEditLocked(ctx context.Context, shot models.ArrowShot) (Outcome, error) {
	target := e.edit
	e.edit = nil

	switch t := target.(type) {
	case BufferArrow:
		if e.pending || t.Index < 0 || t.Index >= len(e.current) {
			return Ignored, nil
		}
		e.current[t.Index] = shot
		return Edited, nil

	case EndArrow:
		i := e.session.EndByID(t.EndID)
		if i < 0 || t.Index < 0 || t.Index >= len(e.session.Ends[i].Arrows) {
			return Ignored, nil
		}
		next := *e.session
		next.Ends = append([]models.End(nil), e.session.Ends...)
		end := next.Ends[i].Clone()
		end.Arrows[t.Index] = shot
		next.Ends[i] = end

		if err := e.repo.SaveSession(ctx, &next); err != nil {
			e.edit = target
			return Ignored, fmt.Errorf("save edited end %d: %w", end.Number, err)
		}
		e.session = &next
		e.log.Debug().Str("session", next.ID).Int("end", end.Number).
			Int("arrow", t.Index+1).Str("display", shot.Display).Msg("arrow edited")
		return Edited, nil
	}
	return Ignored, nil
}

// Undo cancels an open edit, or else removes the last arrow of the
// in-progress end. Committed ends are never touched.
func (e *Engine) Undo() Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.edit != nil {
		e.edit = nil
		return EditCancelled
	}
	if e.pending || len(e.current) == 0 {
		return Ignored
	}
	e.current = e.current[:len(e.current)-1]
	return Undone
}

// OpenEdit points the next recorded shot at target, replacing any open
// edit. A nil target closes the edit. Completed sessions accept no edits.
func (e *Engine) OpenEdit(target EditTarget) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session.IsComplete {
		return false
	}
	e.edit = target
	return true
}

// CancelEdit closes any open edit without changing data.
func (e *Engine) CancelEdit() {
	e.mu.Lock()
	e.edit = nil
	e.mu.Unlock()
}

// Flush commits a full in-progress end immediately, cancelling a pending
// deferred commit. It is also how a failed commit is retried.
func (e *Engine) Flush(ctx context.Context) (Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopTimerLocked()
	return e.completeEndLocked(ctx)
}

// Close stops any pending timer without committing. The full buffer is
// kept so a later Flush can still commit it.
func (e *Engine) Close() {
	e.mu.Lock()
	e.stopTimerLocked()
	e.mu.Unlock()
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.pending = false
}

func (e *Engine) deferredCommit() {
	e.mu.Lock()
	if !e.pending {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	e.pending = false
	out, err := e.completeEndLocked(context.Background())
	hook := e.onCommit
	e.mu.Unlock()

	if err != nil {
		e.log.Error().Err(err).Msg("deferred end commit failed")
	}
	if hook != nil {
		hook(out, err)
	}
}

// completeEndLocked turns the full buffer into a committed End and
// persists the new snapshot. On a save failure nothing changes.
func (e *Engine) completeEndLocked(ctx context.Context) (Outcome, error) {
	if e.session.IsComplete || len(e.current) != e.session.ArrowsPerEnd {
		return Ignored, nil
	}

	end := models.End{
		ID:     e.newID(),
		Number: e.currentEndIndex + 1,
		Arrows: append([]models.ArrowShot(nil), e.current...),
	}
	next := *e.session
	next.Ends = append(append(make([]models.End, 0, len(e.session.Ends)+1), e.session.Ends...), end)
	next.IsComplete = len(next.Ends) >= next.TotalEnds

	if err := e.repo.SaveSession(ctx, &next); err != nil {
		return Ignored, fmt.Errorf("save end %d: %w", end.Number, err)
	}

	e.session = &next
	e.current = nil
	e.currentEndIndex++
	// Buffer references are stale once the buffer is committed.
	if _, ok := e.edit.(BufferArrow); ok {
		e.edit = nil
	}

	e.log.Info().Str("session", next.ID).Int("end", end.Number).
		Int("score", end.Score()).Int("total", next.TotalScore()).Msg("end committed")

	if next.IsComplete {
		e.edit = nil
		e.log.Info().Str("session", next.ID).Int("total", next.TotalScore()).Msg("session complete")
		return SessionCompleted, nil
	}
	return EndCommitted, nil
}

// SetDetails updates the session name and notes. Metadata stays editable
// after completion.
func (e *Engine) SetDetails(ctx context.Context, name, notes string) error {
	return e.Amend(ctx, func(s *models.Session) {
		s.Name = name
		s.Notes = notes
	})
}

// Amend applies fn to a copy of the session metadata and persists the
// result. Changes fn makes to the id, ends, shape or completion flag are
// discarded.
func (e *Engine) Amend(ctx context.Context, fn func(*models.Session)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := *e.session
	fn(&next)
	next.ID = e.session.ID
	next.Ends = e.session.Ends
	next.TotalEnds = e.session.TotalEnds
	next.ArrowsPerEnd = e.session.ArrowsPerEnd
	next.IsComplete = e.session.IsComplete

	if err := e.repo.SaveSession(ctx, &next); err != nil {
		return fmt.Errorf("save details: %w", err)
	}
	e.session = &next
	return nil
}

// --- Queries ---

// Snapshot is a consistent view of the engine taken under one lock.
type Snapshot struct {
	Session         *models.Session    `json:"session"`
	State           State              `json:"state"`
	CurrentEndIndex int                `json:"currentEndIndex"`
	CurrentArrows   []models.ArrowShot `json:"currentArrows"`
	CurrentTotal    int                `json:"currentTotal"`
	TotalScore      int                `json:"totalScore"`
	AverageArrow    float64            `json:"averageArrow"`
	RemainingEnds   int                `json:"remainingEnds"`
	EditTarget      *EditRef           `json:"editTarget"`
	Pending         bool               `json:"pending"`
}

// Snapshot captures every query at once.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	total := e.session.TotalScore()
	return Snapshot{
		Session:         e.session,
		State:           stateOf(e.session),
		CurrentEndIndex: e.currentEndIndex,
		CurrentArrows:   append([]models.ArrowShot{}, e.current...),
		CurrentTotal:    total + bufferScore(e.current),
		TotalScore:      total,
		AverageArrow:    average(e.session),
		RemainingEnds:   max(e.session.TotalEnds-e.currentEndIndex, 0),
		EditTarget:      RefFor(e.edit),
		Pending:         e.pending,
	}
}

// Session returns the current snapshot. Snapshots are never modified after
// they are published; callers must not modify them either.
func (e *Engine) Session() *models.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// TotalScore is the sum of committed arrows only.
func (e *Engine) TotalScore() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.TotalScore()
}

// CurrentTotal adds the in-progress buffer to the committed total.
func (e *Engine) CurrentTotal() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.TotalScore() + bufferScore(e.current)
}

// AverageArrow is the committed total over committed arrows, 0 when empty.
func (e *Engine) AverageArrow() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return average(e.session)
}

// RemainingEnds counts the ends not yet committed.
func (e *Engine) RemainingEnds() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return max(e.session.TotalEnds-e.currentEndIndex, 0)
}

// CurrentEndIndex is the 0-based index of the end being filled.
func (e *Engine) CurrentEndIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentEndIndex
}

// CurrentArrows returns a copy of the in-progress buffer.
func (e *Engine) CurrentArrows() []models.ArrowShot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.ArrowShot{}, e.current...)
}

// EditTarget returns the open edit target, or nil.
func (e *Engine) EditTarget() EditTarget {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edit
}

// Pending reports whether a deferred end commit is scheduled.
func (e *Engine) Pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// State reports where the session is in its lifecycle.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return stateOf(e.session)
}

func stateOf(s *models.Session) State {
	switch {
	case s.IsComplete:
		return Complete
	case len(s.Ends) == 0:
		return NotStarted
	default:
		return InProgress
	}
}

func bufferScore(arrows []models.ArrowShot) int {
	total := 0
	for _, a := range arrows {
		total += a.Value
	}
	return total
}

func average(s *models.Session) float64 {
	n := s.ArrowCount()
	if n == 0 {
		return 0
	}
	return float64(s.TotalScore()) / float64(n)
}
