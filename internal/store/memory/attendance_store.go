package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rollcall-io/rollcall/internal/models"
)

// AttendanceStore implements store.AttendanceStore using in-memory storage.
// Records are lost on restart; durable deployments use the postgres store.
type AttendanceStore struct {
	mu sync.RWMutex

	present map[uuid.UUID]map[string]struct{}       // session ID -> student IDs
	records map[uuid.UUID][]models.AttendanceRecord // session ID -> records (insertion order)
}

// NewAttendanceStore creates a new in-memory attendance ledger.
func NewAttendanceStore() *AttendanceStore {
	return &AttendanceStore{
		present: make(map[uuid.UUID]map[string]struct{}),
		records: make(map[uuid.UUID][]models.AttendanceRecord),
	}
}

// RecordIfAbsent inserts the attendance fact unless the pair is already
// recorded. The check and insert happen under one lock, so concurrent scans
// for the same student resolve to exactly one created record.
func (s *AttendanceStore) RecordIfAbsent(ctx context.Context, sessionID uuid.UUID, studentID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	students, ok := s.present[sessionID]
	if !ok {
		students = make(map[string]struct{})
		s.present[sessionID] = students
	}

	if _, exists := students[studentID]; exists {
		return false, nil
	}

	students[studentID] = struct{}{}
	s.records[sessionID] = append(s.records[sessionID], models.AttendanceRecord{
		SessionID:  sessionID,
		StudentID:  studentID,
		RecordedAt: at,
	})
	return true, nil
}

// ListBySession returns a copy of the session's records in insertion order.
func (s *AttendanceStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.records[sessionID]
	out := make([]models.AttendanceRecord, len(records))
	copy(out, records)
	return out, nil
}

// CountBySession returns the number of records for a session.
func (s *AttendanceStore) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records[sessionID]), nil
}
