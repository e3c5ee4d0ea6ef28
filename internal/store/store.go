package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rollcall-io/rollcall/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrSubjectNotFound      = errors.New("subject not found")
	ErrSubjectAlreadyExists = errors.New("subject already exists")
)

// AttendanceStore is the ledger of verified attendance. Implementations must
// make RecordIfAbsent atomic: two concurrent calls for the same
// (session, student) pair result in exactly one created record.
type AttendanceStore interface {
	// RecordIfAbsent inserts the attendance fact unless one already exists
	// for the pair. Returns created=false when the record was already
	// present; that is the duplicate outcome, not an error.
	RecordIfAbsent(ctx context.Context, sessionID uuid.UUID, studentID string, at time.Time) (created bool, err error)

	// ListBySession returns all records for a session in insertion order.
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error)

	// CountBySession returns the number of records for a session.
	CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error)
}

// SubjectStore is the class catalog consulted when opening a session.
type SubjectStore interface {
	Get(ctx context.Context, code string) (*models.Subject, error)
	List(ctx context.Context) ([]*models.Subject, error)
	Put(ctx context.Context, subject *models.Subject) error
}
