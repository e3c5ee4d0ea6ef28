package models

import (
	"time"

	"github.com/google/uuid"
)

// AttendanceRecord is the durable fact that a student was verified within a
// session. Records are append-only and unique per (SessionID, StudentID).
type AttendanceRecord struct {
	SessionID  uuid.UUID
	StudentID  string
	RecordedAt time.Time
}

// Subject is one entry in the class catalog.
type Subject struct {
	Code string // e.g. "SUBJ-1"
	Name string
}
