package library

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Session is the acting identity passed to every operation that needs one.
type Session struct {
	ID        uuid.UUID
	Username  string
	Staff     *Staff
	StartedAt time.Time
}

// NewSession opens a session for p.
func NewSession(p Profile, now time.Time) Session {
	return Session{ID: uuid.New(), Username: p.Username, Staff: p.Staff, StartedAt: now}
}

func (s Session) IsLibrarian() bool { return s.Staff != nil }

// CanActFor reports whether the session may act on username's records.
func (s Session) CanActFor(username string) bool {
	return s.IsLibrarian() || (s.Username != "" && s.Username == username)
}

// CanChangePicture reports whether the session may change username's
// profile picture. Only the owner may, librarians included.
func (s Session) CanChangePicture(username string) bool {
	return s.Username != "" && s.Username == username
}

func (s Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", s.ID.String()),
		slog.String("user", s.Username),
		slog.Bool("librarian", s.IsLibrarian()),
	)
}
