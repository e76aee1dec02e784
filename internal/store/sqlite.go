package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/pressly/goose/v3"

	"github.com/joescharf/bullseye/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. A single connection
	// serializes access and avoids "database is locked" under the API server.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Migrate applies the embedded goose migrations. It is safe to run repeatedly.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, sub)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Sessions ---

const sessionColumns = `id, date, name, target_type, total_ends, arrows_per_end, distance, is_complete, notes`

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *models.Session) error {
	if sess.ID == "" {
		sess.ID = newULID()
	}
	if sess.Date.IsZero() {
		sess.Date = time.Now().UTC()
	}
	if sess.Ends == nil {
		sess.Ends = []models.End{}
	}
	if err := s.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, sess *models.Session) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Upsert keeps the rowid, so a saved session keeps its place in the list.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date=excluded.date, name=excluded.name, target_type=excluded.target_type,
			total_ends=excluded.total_ends, arrows_per_end=excluded.arrows_per_end,
			distance=excluded.distance, is_complete=excluded.is_complete, notes=excluded.notes`,
		sess.ID, formatTime(sess.Date), sess.Name, string(sess.TargetType),
		sess.TotalEnds, sess.ArrowsPerEnd, sess.Distance, boolToInt(sess.IsComplete), sess.Notes,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM ends WHERE session_id = ?", sess.ID); err != nil {
		return fmt.Errorf("clear ends: %w", err)
	}

	for _, e := range sess.Ends {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO ends (id, session_id, number) VALUES (?, ?, ?)",
			e.ID, sess.ID, e.Number,
		); err != nil {
			return fmt.Errorf("save end %d: %w", e.Number, err)
		}
		for i, a := range e.Arrows {
			var x, y sql.NullFloat64
			if a.Position != nil {
				x = sql.NullFloat64{Float64: a.Position.X, Valid: true}
				y = sql.NullFloat64{Float64: a.Position.Y, Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO arrows (end_id, position, value, display, x, y, shot_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				e.ID, i, a.Value, a.Display, x, y, a.Timestamp.UnixMilli(),
			); err != nil {
				return fmt.Errorf("save arrow %d of end %d: %w", i+1, e.Number, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if err := s.loadEnds(ctx, []*models.Session{sess}); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *SQLiteStore) UpdateSessionFields(ctx context.Context, id string, u SessionUpdate) (*models.Session, error) {
	var sets []string
	var args []any
	if u.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *u.Name)
	}
	if u.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *u.Notes)
	}
	if u.Distance != nil {
		sets = append(sets, "distance = ?")
		args = append(args, *u.Distance)
	}

	if len(sets) > 0 {
		args = append(args, id)
		result, err := s.db.ExecContext(ctx,
			"UPDATE sessions SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
		if err != nil {
			return nil, fmt.Errorf("update session: %w", err)
		}
		n, _ := result.RowsAffected()
		if n == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}

	return s.GetSession(ctx, id)
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions`
	var args []any
	if filter.IncompleteOnly {
		query += " WHERE is_complete = 0"
	}
	query += " ORDER BY rowid DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var sessions []*models.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	// Release the only connection before loading ends.
	_ = rows.Close()

	if err := s.loadEnds(ctx, sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// loadEnds fills in the ends and arrows of the given sessions in one query.
func (s *SQLiteStore) loadEnds(ctx context.Context, sessions []*models.Session) error {
	if len(sessions) == 0 {
		return nil
	}

	byID := make(map[string]*models.Session, len(sessions))
	placeholders := make([]string, len(sessions))
	args := make([]any, len(sessions))
	for i, sess := range sessions {
		byID[sess.ID] = sess
		placeholders[i] = "?"
		args[i] = sess.ID
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT e.session_id, e.id, e.number, a.value, a.display, a.x, a.y, a.shot_at
		FROM ends e LEFT JOIN arrows a ON a.end_id = e.id
		WHERE e.session_id IN (`+strings.Join(placeholders, ", ")+`)
		ORDER BY e.session_id, e.number, a.position`, args...)
	if err != nil {
		return fmt.Errorf("load ends: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			sessionID, endID string
			number           int
			value            sql.NullInt64
			display          sql.NullString
			x, y             sql.NullFloat64
			shotAt           sql.NullInt64
		)
		if err := rows.Scan(&sessionID, &endID, &number, &value, &display, &x, &y, &shotAt); err != nil {
			return fmt.Errorf("scan end: %w", err)
		}

		sess := byID[sessionID]
		if n := len(sess.Ends); n == 0 || sess.Ends[n-1].ID != endID {
			sess.Ends = append(sess.Ends, models.End{ID: endID, Number: number, Arrows: []models.ArrowShot{}})
		}
		if !value.Valid {
			continue // end without arrows
		}

		shot := models.ArrowShot{
			Value:     int(value.Int64),
			Display:   display.String,
			Timestamp: time.UnixMilli(shotAt.Int64).UTC(),
		}
		if x.Valid && y.Valid {
			shot.Position = &models.Point{X: x.Float64, Y: y.Float64}
		}
		end := &sess.Ends[len(sess.Ends)-1]
		end.Arrows = append(end.Arrows, shot)
	}
	return rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*models.Session, error) {
	sess := &models.Session{Ends: []models.End{}}
	var date, targetType string
	var complete int
	if err := r.Scan(&sess.ID, &date, &sess.Name, &targetType, &sess.TotalEnds,
		&sess.ArrowsPerEnd, &sess.Distance, &complete, &sess.Notes); err != nil {
		return nil, err
	}
	sess.TargetType = models.TargetFace(targetType)
	sess.IsComplete = complete != 0
	if t, err := time.Parse(time.RFC3339Nano, date); err == nil {
		sess.Date = t
	}
	return sess, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
