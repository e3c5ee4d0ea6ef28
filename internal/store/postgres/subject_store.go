package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rollcall-io/rollcall/internal/models"
	"github.com/rollcall-io/rollcall/internal/store"
)

// SubjectStore implements store.SubjectStore using PostgreSQL.
type SubjectStore struct {
	pool *pgxpool.Pool
}

// NewSubjectStore creates a new PostgreSQL-backed subject catalog.
func NewSubjectStore(pool *pgxpool.Pool) *SubjectStore {
	return &SubjectStore{
		pool: pool,
	}
}

// Get retrieves a subject by code.
func (s *SubjectStore) Get(ctx context.Context, code string) (*models.Subject, error) {
	var subject models.Subject
	err := s.pool.QueryRow(ctx,
		`SELECT code, name FROM subjects WHERE code = $1`, code,
	).Scan(&subject.Code, &subject.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrSubjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subject: %w", err)
	}
	return &subject, nil
}

// List returns all subjects sorted by code.
func (s *SubjectStore) List(ctx context.Context) ([]*models.Subject, error) {
	rows, err := s.pool.Query(ctx, `SELECT code, name FROM subjects ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []*models.Subject
	for rows.Next() {
		var subject models.Subject
		if err := rows.Scan(&subject.Code, &subject.Name); err != nil {
			return nil, fmt.Errorf("failed to scan subject: %w", err)
		}
		subjects = append(subjects, &subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subject rows: %w", err)
	}
	return subjects, nil
}

// Put inserts or replaces a subject.
func (s *SubjectStore) Put(ctx context.Context, subject *models.Subject) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subjects (code, name)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
	`, subject.Code, subject.Name)
	if err != nil {
		return fmt.Errorf("failed to put subject: %w", err)
	}
	return nil
}
