// Package session keeps conversation state between turns and serializes
// turns that share a session ID.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"bookingagent/internal/booking"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("session not found")

// DefaultTTL is how long an idle session is kept.
const DefaultTTL = 2 * time.Hour

// Store persists sessions. Implementations hand out copies; a session read
// from a store can be modified freely and written back with Save.
type Store interface {
	Get(ctx context.Context, id string) (booking.Session, error)
	Save(ctx context.Context, s booking.Session) error
	Delete(ctx context.Context, id string) error
	// Sweep removes sessions idle longer than the TTL and returns how many
	// were removed.
	Sweep(ctx context.Context) (int, error)
	List(ctx context.Context) ([]Summary, error)
	Ping(ctx context.Context) error
}

// Summary describes a session without its collected data.
type Summary struct {
	ID        string           `json:"id"`
	State     booking.State    `json:"state"`
	Language  booking.Language `json:"language"`
	OffTrack  int              `json:"off_track_count"`
	Collected int              `json:"collected_fields"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

func summarize(s booking.Session) Summary {
	return Summary{
		ID:        s.ID,
		State:     s.State,
		Language:  s.Language,
		OffTrack:  s.OffTrack,
		Collected: len(s.Intent.Collected()),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// Create starts a session with a fresh ID in the greeting state and saves it.
func Create(ctx context.Context, store Store, lang booking.Language, now time.Time) (booking.Session, error) {
	s := booking.NewSession(uuid.NewString(), lang, now)
	if err := store.Save(ctx, s); err != nil {
		return booking.Session{}, err
	}
	return s, nil
}
