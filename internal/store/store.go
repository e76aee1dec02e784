package store

import (
	"context"
	"errors"

	"github.com/joescharf/bullseye/internal/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// SessionListFilter narrows ListSessions.
type SessionListFilter struct {
	IncompleteOnly bool
	Limit          int
}

// SessionUpdate carries a partial update; nil fields are left unchanged.
type SessionUpdate struct {
	Name     *string
	Notes    *string
	Distance *int
}

// Store defines the persistence interface for bullseye.
type Store interface {
	// CreateSession assigns an id and date when missing and stores a new session.
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// SaveSession inserts or replaces a session including its ends.
	SaveSession(ctx context.Context, s *models.Session) error
	UpdateSessionFields(ctx context.Context, id string, u SessionUpdate) (*models.Session, error)
	// DeleteSession removes a session; deleting a missing id is not an error.
	DeleteSession(ctx context.Context, id string) error
	// ListSessions returns sessions most recently created first.
	ListSessions(ctx context.Context, filter SessionListFilter) ([]*models.Session, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
