package models

import (
	"time"

	"github.com/google/uuid"
)

// Credential is the externally visible projection of a session's current
// token. It is ephemeral: a new one replaces it on every rotation tick and
// none is ever stored.
type Credential struct {
	SessionID   uuid.UUID
	Token       uuid.UUID
	SubjectCode string

	// Payload is the deterministic JSON body the capture client decodes.
	Payload string
	// QRDataURL is Payload rendered as a data:image/png;base64 QR image
	// for the display client. Empty if rendering failed; the payload is
	// still usable.
	QRDataURL string

	IssuedAt time.Time
}
