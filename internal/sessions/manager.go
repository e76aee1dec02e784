// Package sessions coordinates scoring engines with the session store.
// Every caller (CLI, HTTP API, MCP) goes through a Manager so a session
// is driven by exactly one engine at a time.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/joescharf/bullseye/internal/engine"
	"github.com/joescharf/bullseye/internal/models"
	"github.com/joescharf/bullseye/internal/scoring"
	"github.com/joescharf/bullseye/internal/stats"
	"github.com/joescharf/bullseye/internal/store"
)

// ErrAmbiguous is returned when a session reference matches several sessions.
var ErrAmbiguous = errors.New("ambiguous session reference")

// Defaults are applied to new sessions when a field is left zero.
type Defaults struct {
	TotalEnds    int
	ArrowsPerEnd int
	Distance     int
	Face         models.TargetFace
}

// Options configures a Manager.
type Options struct {
	Defaults    Defaults
	CommitDelay time.Duration
	Logger      zerolog.Logger
	Now         func() time.Time
}

// Manager owns the live engines for a store.
type Manager struct {
	store store.Store
	opts  Options
	log   zerolog.Logger

	mu      sync.Mutex
	engines map[string]*engine.Engine
}

// NewManager creates a new sessions manager.
func NewManager(s store.Store, opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	d := &opts.Defaults
	if d.TotalEnds <= 0 {
		d.TotalEnds = models.DefaultTotalEnds
	}
	if d.ArrowsPerEnd <= 0 {
		d.ArrowsPerEnd = models.DefaultArrowsPerEnd
	}
	if d.Distance <= 0 {
		d.Distance = models.DefaultDistance
	}
	if !d.Face.Valid() {
		d.Face = models.DefaultTargetFace
	}
	return &Manager{
		store:   s,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "sessions").Logger(),
		engines: make(map[string]*engine.Engine),
	}
}

// NewSession describes a session to create. Zero fields take defaults.
type NewSession struct {
	Name         string
	TotalEnds    int
	ArrowsPerEnd int
	Distance     int
	TargetType   models.TargetFace
	Notes        string
}

// Create validates req, fills defaults and stores a new session.
func (m *Manager) Create(ctx context.Context, req NewSession) (*models.Session, error) {
	if req.TargetType != "" && !req.TargetType.Valid() {
		return nil, fmt.Errorf("unknown target face %q", req.TargetType)
	}
	if req.TotalEnds < 0 || req.ArrowsPerEnd < 0 || req.Distance < 0 {
		return nil, fmt.Errorf("ends, arrows and distance must be positive")
	}

	now := m.opts.Now()
	s := &models.Session{
		Date:         now.UTC(),
		Name:         strings.TrimSpace(req.Name),
		TargetType:   req.TargetType,
		TotalEnds:    req.TotalEnds,
		ArrowsPerEnd: req.ArrowsPerEnd,
		Distance:     req.Distance,
		Ends:         []models.End{},
		Notes:        req.Notes,
	}
	if s.Name == "" {
		s.Name = "Session " + now.Format("15:04")
	}
	if s.TargetType == "" {
		s.TargetType = m.opts.Defaults.Face
	}
	if s.TotalEnds == 0 {
		s.TotalEnds = m.opts.Defaults.TotalEnds
	}
	if s.ArrowsPerEnd == 0 {
		s.ArrowsPerEnd = m.opts.Defaults.ArrowsPerEnd
	}
	if s.Distance == 0 {
		s.Distance = m.opts.Defaults.Distance
	}

	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.log.Info().Str("session", s.ID).Str("name", s.Name).
		Int("ends", s.TotalEnds).Int("arrows", s.ArrowsPerEnd).Msg("session created")
	return s, nil
}

// Engine returns the live engine for id, loading it on first use.
func (m *Manager) Engine(ctx context.Context, id string) (*engine.Engine, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engineLocked(ctx, id)
}

func (m *Manager) engineLocked(ctx context.Context, id string) (*engine.Engine, error) {
	if e, ok := m.engines[id]; ok {
		return e, nil
	}
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	log := m.opts.Logger.With().Str("session", id).Logger()
	e := engine.New(s, m.store,
		engine.WithCommitDelay(m.opts.CommitDelay),
		engine.WithLogger(log),
		engine.WithCommitHook(func(o engine.Outcome, err error) {
			if err == nil {
				log.Debug().Stringer("outcome", o).Msg("deferred commit")
			}
		}),
	)
	m.engines[id] = e
	return e, nil
}

// Get returns the freshest view of a session: the live snapshot when an
// engine is loaded, otherwise the stored row.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	e, ok := m.engines[id]
	m.mu.Unlock()
	if ok {
		return e.Session(), nil
	}
	s, err := m.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.Normalize(), nil
}

// List returns stored sessions most recent first, repaired the same way
// Get repairs a single session.
func (m *Manager) List(ctx context.Context, filter store.SessionListFilter) ([]*models.Session, error) {
	list, err := m.store.ListSessions(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Session, 0, len(list))
	for _, s := range list {
		n := s.Normalize()
		if filter.IncompleteOnly && n.IsComplete {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}

// Resolve maps a user reference to a session id: exact id, unique id
// prefix, or exact name (case-insensitive).
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", store.ErrNotFound)
	}
	if s, err := m.store.GetSession(ctx, ref); err == nil {
		return s.ID, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	all, err := m.store.ListSessions(ctx, store.SessionListFilter{})
	if err != nil {
		return "", fmt.Errorf("list sessions: %w", err)
	}
	var matches []string
	upper := strings.ToUpper(ref)
	for _, s := range all {
		if strings.HasPrefix(s.ID, upper) || strings.EqualFold(s.Name, ref) {
			matches = append(matches, s.ID)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("%w: %s", store.ErrNotFound, ref)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("%w: %q matches %d sessions", ErrAmbiguous, ref, len(matches))
	}
}

// Input is a raw shot from a keypad or a face tap. Exactly one of Label
// or Point should be set; a Point wins when both are.
type Input struct {
	Label string        `json:"label,omitempty"`
	Point *models.Point `json:"point,omitempty"`
}

// Shot scores the input against the session's face.
func (m *Manager) Shot(face models.TargetFace, in Input) (models.ArrowShot, error) {
	at := m.opts.Now().UTC()
	if in.Point != nil {
		return scoring.Shot(scoring.FaceFor(face).Score(*in.Point), in.Point, at), nil
	}
	sc, ok := scoring.ParseLabel(in.Label)
	if !ok {
		return models.ArrowShot{}, fmt.Errorf("invalid score label %q", in.Label)
	}
	return scoring.Shot(sc, nil, at), nil
}

// View is what callers render after an operation.
type View struct {
	engine.Snapshot
	Outcome string        `json:"outcome,omitempty"`
	Stats   stats.Summary `json:"stats"`
}

func viewOf(e *engine.Engine, o *engine.Outcome) View {
	snap := e.Snapshot()
	v := View{Snapshot: snap, Stats: stats.Summarize(snap.Session)}
	if o != nil {
		v.Outcome = o.String()
	}
	return v
}

// View returns the live state of a session without changing it.
func (m *Manager) View(ctx context.Context, id string) (View, error) {
	e, err := m.Engine(ctx, id)
	if err != nil {
		return View{}, err
	}
	return viewOf(e, nil), nil
}

// Record scores in and feeds it to the session engine.
func (m *Manager) Record(ctx context.Context, id string, in Input) (View, error) {
	e, err := m.Engine(ctx, id)
	if err != nil {
		return View{}, err
	}
	shot, err := m.Shot(e.Session().TargetType, in)
	if err != nil {
		return View{}, err
	}
	out, err := e.RecordShot(ctx, shot)
	if err != nil {
		return viewOf(e, &out), err
	}
	return viewOf(e, &out), nil
}

// Undo cancels an open edit or drops the last buffered arrow.
func (m *Manager) Undo(ctx context.Context, id string) (View, error) {
	e, err := m.Engine(ctx, id)
	if err != nil {
		return View{}, err
	}
	out := e.Undo()
	return viewOf(e, &out), nil
}

// OpenEdit targets an arrow for replacement by the next shot.
func (m *Manager) OpenEdit(ctx context.Context, id string, ref engine.EditRef) (View, error) {
	e, err := m.Engine(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !e.OpenEdit(engine.TargetFor(ref.EndID, ref.Index)) {
		out := engine.Ignored
		return viewOf(e, &out), nil
	}
	return viewOf(e, nil), nil
}

// CancelEdit closes any open edit.
func (m *Manager) CancelEdit(ctx context.Context, id string) (View, error) {
	e, err := m.Engine(ctx, id)
	if err != nil {
		return View{}, err
	}
	e.CancelEdit()
	out := engine.EditCancelled
	return viewOf(e, &out), nil
}

// Flush commits a full end now, also retrying a failed commit.
func (m *Manager) Flush(ctx context.Context, id string) (View, error) {
	e, err := m.Engine(ctx, id)
	if err != nil {
		return View{}, err
	}
	out, err := e.Flush(ctx)
	return viewOf(e, &out), err
}

// UpdateDetails changes session metadata. A loaded engine applies the
// change itself so its next save cannot overwrite it.
func (m *Manager) UpdateDetails(ctx context.Context, id string, u store.SessionUpdate) (*models.Session, error) {
	if u.Distance != nil && *u.Distance <= 0 {
		return nil, fmt.Errorf("distance must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.engines[id]
	if !ok {
		s, err := m.store.UpdateSessionFields(ctx, id, u)
		if err != nil {
			return nil, err
		}
		return s.Normalize(), nil
	}
	err := e.Amend(ctx, func(s *models.Session) {
		if u.Name != nil {
			s.Name = *u.Name
		}
		if u.Notes != nil {
			s.Notes = *u.Notes
		}
		if u.Distance != nil {
			s.Distance = *u.Distance
		}
	})
	if err != nil {
		return nil, err
	}
	return e.Session(), nil
}

// Delete drops the engine and the stored session. Deleting a missing
// session is not an error.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.engines[id]; ok {
		e.Close()
		delete(m.engines, id)
	}
	if err := m.store.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.log.Info().Str("session", id).Msg("session deleted")
	return nil
}

// Close flushes pending commits and releases every engine.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, e := range m.engines {
		if e.Pending() {
			if _, err := e.Flush(ctx); err != nil {
				errs = append(errs, fmt.Errorf("flush %s: %w", id, err))
			}
		}
		e.Close()
		delete(m.engines, id)
	}
	return errors.Join(errs...)
}
