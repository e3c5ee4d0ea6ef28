package session

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Result classifies a verification attempt.
type Result string

const (
	ResultAccepted  Result = "accepted"
	ResultDuplicate Result = "duplicate"
	ResultRejected  Result = "rejected"
)

// Reason distinguishes why a scan was rejected, so the capture client can
// tell "scan again" (stale or expired token) from "nothing open".
type Reason string

const (
	ReasonNoActiveSession Reason = "no-active-session"
	ReasonStaleToken      Reason = "stale-or-invalid-token"
	ReasonTokenExpired    Reason = "token-expired"
)

// Outcome is the typed result of a verification. Rejections and duplicates
// are outcomes, not errors; only a collaborator failure (ledger write)
// surfaces as an error.
type Outcome struct {
	Result Result
	Reason Reason // set only when Result is ResultRejected
}

func rejected(reason Reason) Outcome {
	return Outcome{Result: ResultRejected, Reason: reason}
}

// Verify validates a submitted scan against live session state. Checks run in
// a fixed order: session liveness, token match, token freshness, then the
// ledger. A stale scan never reaches the ledger, so it cannot burn the
// student's duplicate slot.
func (r *Registry) Verify(ctx context.Context, sessionID, token uuid.UUID, studentID string) (Outcome, error) {
	r.mu.Lock()

	ls, exists := r.byID[sessionID]
	if !exists {
		r.mu.Unlock()
		return rejected(ReasonNoActiveSession), nil
	}

	now := r.now()
	if ls.sess.IsExpired(now) {
		// Lazy expiry: the timer has not fired yet but the window is
		// closed, so the session is dead for verification too.
		subjectCode := ls.sess.SubjectCode
		r.endLocked(ls, "expired")
		r.mu.Unlock()
		r.sink.CloseTopic(subjectCode, sessionID)
		return rejected(ReasonNoActiveSession), nil
	}

	if ls.sess.CurrentToken != token {
		r.mu.Unlock()
		return rejected(ReasonStaleToken), nil
	}

	if !ls.sess.TokenFresh(now, r.cfg.RotationInterval) {
		// Covers a delayed tick: the token is still current but older
		// than the freshness window.
		r.mu.Unlock()
		return rejected(ReasonTokenExpired), nil
	}

	r.mu.Unlock()

	// The ledger write happens outside the registry lock; the store's own
	// atomicity guarantees exactly one created record per pair.
	created, err := r.ledger.RecordIfAbsent(ctx, sessionID, studentID, now)
	if err != nil {
		return Outcome{}, fmt.Errorf("ledger write failed: %w", err)
	}
	if !created {
		return Outcome{Result: ResultDuplicate}, nil
	}

	r.log.Debug().
		Str("session_id", sessionID.String()).
		Str("student_id", studentID).
		Msg("Attendance recorded")
	return Outcome{Result: ResultAccepted}, nil
}
