package models

import (
	"time"

	"github.com/google/uuid"
)

// Session represents one open attendance window for a subject.
// All session state lives server-side; the only values that leave the process
// are carried inside the Credential payload.
type Session struct {
	ID          uuid.UUID // UUIDv7 - minted at window open
	SubjectCode string    // registry key, one live session per subject

	CurrentToken  uuid.UUID // replaced on every rotation tick
	TokenIssuedAt time.Time

	OpenedAt  time.Time
	ExpiresAt time.Time // hard upper bound for the whole window
}

// IsExpired returns true if the session window has closed at the given
// instant. The window is half-open: the session is dead at ExpiresAt exactly.
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// TokenFresh reports whether the current token is still inside its acceptance
// interval [TokenIssuedAt, TokenIssuedAt+interval).
func (s *Session) TokenFresh(now time.Time, interval time.Duration) bool {
	age := now.Sub(s.TokenIssuedAt)
	return age >= 0 && age < interval
}
