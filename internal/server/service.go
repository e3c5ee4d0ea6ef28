// Package server exposes the attendance operations consumed by the transport
// layer. It validates input, consults the subject catalog, and delegates
// session mechanics to the registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rollcall-io/rollcall/internal/models"
	"github.com/rollcall-io/rollcall/internal/notify"
	"github.com/rollcall-io/rollcall/internal/session"
	"github.com/rollcall-io/rollcall/internal/store"
	"github.com/rollcall-io/rollcall/internal/telemetry"
)

// Sentinel errors for common error conditions
var (
	ErrInvalidSubject  = errors.New("invalid subject")
	ErrInvalidArgument = errors.New("invalid argument")
)

// AttendanceService wires the session registry, subject catalog, attendance
// ledger and notification broker behind the external contract.
type AttendanceService struct {
	registry *session.Registry
	subjects store.SubjectStore
	ledger   store.AttendanceStore
	broker   *notify.Broker
	metrics  *telemetry.Metrics
	log      zerolog.Logger
}

// NewAttendanceService creates the service facade.
func NewAttendanceService(
	registry *session.Registry,
	subjects store.SubjectStore,
	ledger store.AttendanceStore,
	broker *notify.Broker,
	metrics *telemetry.Metrics,
	log zerolog.Logger,
) *AttendanceService {
	return &AttendanceService{
		registry: registry,
		subjects: subjects,
		ledger:   ledger,
		broker:   broker,
		metrics:  metrics,
		log:      log,
	}
}

// StartSession opens an attendance window for a subject, replacing any
// session already open for it. Returns the new session with its first
// credential.
func (s *AttendanceService) StartSession(ctx context.Context, subjectCode string) (models.Session, models.Credential, error) {
	subjectCode = strings.TrimSpace(subjectCode)
	if subjectCode == "" {
		return models.Session{}, models.Credential{}, fmt.Errorf("%w: empty subject code", ErrInvalidSubject)
	}
	if _, err := s.subjects.Get(ctx, subjectCode); err != nil {
		if errors.Is(err, store.ErrSubjectNotFound) {
			return models.Session{}, models.Credential{}, fmt.Errorf("%w: unknown subject %q", ErrInvalidSubject, subjectCode)
		}
		return models.Session{}, models.Credential{}, fmt.Errorf("subject lookup failed: %w", err)
	}

	sess, cred := s.registry.Start(subjectCode)
	return sess, cred, nil
}

// StopSession tears down a session. Always succeeds: stopping an unknown,
// already-stopped or malformed id is a no-op.
func (s *AttendanceService) StopSession(ctx context.Context, sessionID string) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return
	}
	s.registry.Stop(id)
}

// GetActiveSession returns the live session for a subject, or nils when none
// is open.
func (s *AttendanceService) GetActiveSession(ctx context.Context, subjectCode string) (*models.Session, *models.Credential) {
	return s.registry.Active(strings.TrimSpace(subjectCode))
}

// VerifyScan validates a submitted scan and records attendance at most once
// per (session, student). Malformed identifiers fail with ErrInvalidArgument
// before any session state is consulted.
func (s *AttendanceService) VerifyScan(ctx context.Context, sessionID, token, studentID string) (session.Outcome, error) {
	id, err := uuid.Parse(strings.TrimSpace(sessionID))
	if err != nil {
		return session.Outcome{}, fmt.Errorf("%w: malformed session id", ErrInvalidArgument)
	}
	tok, err := uuid.Parse(strings.TrimSpace(token))
	if err != nil {
		return session.Outcome{}, fmt.Errorf("%w: malformed token", ErrInvalidArgument)
	}
	studentID = strings.TrimSpace(studentID)
	if studentID == "" {
		return session.Outcome{}, fmt.Errorf("%w: missing student id", ErrInvalidArgument)
	}

	outcome, err := s.registry.Verify(ctx, id, tok, studentID)
	if err != nil {
		s.metrics.Verifications.WithLabelValues("error", "").Inc()
		return session.Outcome{}, err
	}

	s.metrics.Verifications.WithLabelValues(string(outcome.Result), string(outcome.Reason)).Inc()
	return outcome, nil
}

// SubscribeCredentialUpdates attaches a display client to a subject's
// credential stream. The subscriber immediately receives the current
// credential if a session is open. Callers must Unsubscribe when done.
func (s *AttendanceService) SubscribeCredentialUpdates(ctx context.Context, subjectCode string) (*notify.Subscriber, error) {
	subjectCode = strings.TrimSpace(subjectCode)
	if subjectCode == "" {
		return nil, fmt.Errorf("%w: empty subject code", ErrInvalidSubject)
	}
	if _, err := s.subjects.Get(ctx, subjectCode); err != nil {
		if errors.Is(err, store.ErrSubjectNotFound) {
			return nil, fmt.Errorf("%w: unknown subject %q", ErrInvalidSubject, subjectCode)
		}
		return nil, fmt.Errorf("subject lookup failed: %w", err)
	}
	return s.broker.Subscribe(subjectCode), nil
}

// Unsubscribe detaches a display client.
func (s *AttendanceService) Unsubscribe(sub *notify.Subscriber) {
	s.broker.Unsubscribe(sub)
}

// ListSubjects returns the subject catalog.
func (s *AttendanceService) ListSubjects(ctx context.Context) ([]*models.Subject, error) {
	return s.subjects.List(ctx)
}

// AttendanceReport is the per-session ledger view for the dashboard.
type AttendanceReport struct {
	SessionID uuid.UUID
	Present   int
	Records   []models.AttendanceRecord
}

// SessionAttendance returns all recorded attendance for a session. The
// session does not need to be live; the ledger outlives the window.
func (s *AttendanceService) SessionAttendance(ctx context.Context, sessionID string) (*AttendanceReport, error) {
	id, err := uuid.Parse(strings.TrimSpace(sessionID))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed session id", ErrInvalidArgument)
	}

	records, err := s.ledger.ListBySession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ledger read failed: %w", err)
	}
	return &AttendanceReport{
		SessionID: id,
		Present:   len(records),
		Records:   records,
	}, nil
}
