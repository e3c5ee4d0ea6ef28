package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/rollcall-io/rollcall/internal/models"
)

// AttendanceStore implements store.AttendanceStore using PostgreSQL.
// The (session_id, student_id) primary key plus ON CONFLICT DO NOTHING gives
// the atomic at-most-once insert the verification path relies on.
type AttendanceStore struct {
	pool *pgxpool.Pool
}

// NewAttendanceStore creates a new PostgreSQL-backed attendance ledger.
func NewAttendanceStore(pool *pgxpool.Pool) *AttendanceStore {
	return &AttendanceStore{
		pool: pool,
	}
}

// RecordIfAbsent inserts the attendance fact unless one already exists for
// the pair.
func (s *AttendanceStore) RecordIfAbsent(ctx context.Context, sessionID uuid.UUID, studentID string, at time.Time) (bool, error) {
	query := `
		INSERT INTO attendance_records (session_id, student_id, recorded_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`

	tag, err := s.pool.Exec(ctx, query, sessionID, studentID, at)
	if err != nil {
		return false, fmt.Errorf("failed to record attendance: %w", err)
	}

	created := tag.RowsAffected() > 0
	if created {
		log.Debug().
			Str("session_id", sessionID.String()).
			Str("student_id", studentID).
			Msg("Recorded attendance")
	}
	return created, nil
}

// ListBySession returns all records for a session ordered by recording time.
func (s *AttendanceStore) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.AttendanceRecord, error) {
	query := `
		SELECT session_id, student_id, recorded_at
		FROM attendance_records
		WHERE session_id = $1
		ORDER BY recorded_at, student_id
	`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendance: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var record models.AttendanceRecord
		if err := rows.Scan(&record.SessionID, &record.StudentID, &record.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendance record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read attendance rows: %w", err)
	}
	return records, nil
}

// CountBySession returns the number of records for a session.
func (s *AttendanceStore) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM attendance_records WHERE session_id = $1`,
		sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count attendance: %w", err)
	}
	return count, nil
}
