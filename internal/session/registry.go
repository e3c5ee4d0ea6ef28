// Package session implements the rotating-credential core: one live session
// per subject, periodic token rotation, and freshness-bounded verification.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rollcall-io/rollcall/internal/credential"
	"github.com/rollcall-io/rollcall/internal/models"
	"github.com/rollcall-io/rollcall/internal/store"
	"github.com/rollcall-io/rollcall/internal/telemetry"
)

// CredentialSink receives every rotated credential and topic teardown.
// notify.Broker satisfies this; tests use a capture fake. The sink must drop
// frames for a session passed to CloseTopic or Retire, even frames published
// afterwards.
type CredentialSink interface {
	Publish(subjectCode string, cred models.Credential)
	CloseTopic(subjectCode string, sessionID uuid.UUID)
	Retire(sessionID uuid.UUID)
}

// Config holds the timing parameters of the session core.
type Config struct {
	// RotationInterval is the period between token replacements and also
	// the freshness window a token is accepted in.
	// Default: 5s
	RotationInterval time.Duration

	// SessionWindow is the total lifetime of a session. Rotation stops at
	// this bound regardless of explicit stop.
	// Default: 30s
	SessionWindow time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.RotationInterval == 0 {
		c.RotationInterval = 5 * time.Second
	}
	if c.SessionWindow == 0 {
		c.SessionWindow = 30 * time.Second
	}
}

// Registry owns all live sessions. It is the only component that mutates
// session state; the rotator goroutines and verification path go through its
// mutex, so a stopped session can never be resurrected by a late tick.
type Registry struct {
	cfg     Config
	ledger  store.AttendanceStore
	sink    CredentialSink
	metrics *telemetry.Metrics
	log     zerolog.Logger
	now     func() time.Time

	mu        sync.Mutex
	bySubject map[string]*liveSession
	byID      map[uuid.UUID]*liveSession
}

// liveSession pairs a session with its rotator's stop channel. All fields are
// guarded by the registry mutex except stop, which is only closed via
// endLocked.
type liveSession struct {
	sess  models.Session
	cred  models.Credential
	stop  chan struct{}
	ended bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithNow overrides the registry clock. Freshness and expiry checks use this
// clock; rotation tickers run on real time.
func WithNow(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a session registry.
func NewRegistry(cfg Config, ledger store.AttendanceStore, sink CredentialSink, metrics *telemetry.Metrics, log zerolog.Logger, opts ...Option) *Registry {
	cfg.ApplyDefaults()

	r := &Registry{
		cfg:       cfg,
		ledger:    ledger,
		sink:      sink,
		metrics:   metrics,
		log:       log,
		now:       time.Now,
		bySubject: make(map[string]*liveSession),
		byID:      make(map[uuid.UUID]*liveSession),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start opens a session for a subject. Any live session for the same subject
// is torn down first, rotator included, so exactly one session per subject
// exists at any instant. The first credential is minted here, not on the
// first tick, and published before Start returns.
func (r *Registry) Start(subjectCode string) (models.Session, models.Credential) {
	now := r.now()
	sess := models.Session{
		ID:            uuid.Must(uuid.NewV7()),
		SubjectCode:   subjectCode,
		CurrentToken:  newToken(),
		TokenIssuedAt: now,
		OpenedAt:      now,
		ExpiresAt:     now.Add(r.cfg.SessionWindow),
	}
	cred := r.buildCredential(&sess)

	ls := &liveSession{
		sess: sess,
		cred: cred,
		stop: make(chan struct{}),
	}

	r.mu.Lock()
	prev, replaced := r.bySubject[subjectCode]
	if replaced {
		r.endLocked(prev, "replaced")
	}
	r.bySubject[subjectCode] = ls
	r.byID[sess.ID] = ls
	r.mu.Unlock()

	if replaced {
		r.sink.Retire(prev.sess.ID)
	}

	r.metrics.SessionsStarted.Inc()
	r.metrics.ActiveSessions.Inc()
	r.log.Info().
		Str("subject", subjectCode).
		Str("session_id", sess.ID.String()).
		Time("expires_at", sess.ExpiresAt).
		Msg("Session started")

	// Tick 0: the display must see a usable credential immediately, and it
	// must reach the sink before any rotated successor.
	r.sink.Publish(subjectCode, cred)

	go r.run(ls)

	return sess, cred
}

// Stop tears down the session with the given id. Stopping a session that is
// not live (already stopped, expired, or superseded) is a no-op.
func (r *Registry) Stop(sessionID uuid.UUID) {
	r.mu.Lock()
	ls, exists := r.byID[sessionID]
	var subjectCode string
	if exists {
		subjectCode = ls.sess.SubjectCode
		r.endLocked(ls, "stopped")
	}
	r.mu.Unlock()

	if exists {
		r.sink.CloseTopic(subjectCode, sessionID)
		r.log.Info().
			Str("subject", subjectCode).
			Str("session_id", sessionID.String()).
			Msg("Session stopped")
	}
}

// Active returns the live session and credential for a subject, or nils when
// none is open. A session whose window has passed is torn down here even if
// its expiry timer has not fired yet, so a read never returns stale state.
func (r *Registry) Active(subjectCode string) (*models.Session, *models.Credential) {
	r.mu.Lock()
	ls, exists := r.bySubject[subjectCode]
	if !exists {
		r.mu.Unlock()
		return nil, nil
	}
	if ls.sess.IsExpired(r.now()) {
		r.endLocked(ls, "expired")
		r.mu.Unlock()
		r.sink.CloseTopic(subjectCode, ls.sess.ID)
		return nil, nil
	}
	sess := ls.sess
	cred := ls.cred
	r.mu.Unlock()

	return &sess, &cred
}

// Shutdown tears down every live session. Used on process exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	live := make([]*liveSession, 0, len(r.bySubject))
	for _, ls := range r.bySubject {
		live = append(live, ls)
	}
	for _, ls := range live {
		r.endLocked(ls, "stopped")
	}
	r.mu.Unlock()

	for _, ls := range live {
		r.sink.CloseTopic(ls.sess.SubjectCode, ls.sess.ID)
	}
}

// run is the per-session rotator. It exits when the session ends for any
// reason; every tick revalidates liveness under the registry mutex before
// touching state, so a tick racing Stop mutates nothing.
func (r *Registry) run(ls *liveSession) {
	ticker := time.NewTicker(r.cfg.RotationInterval)
	defer ticker.Stop()

	expiry := time.NewTimer(ls.sess.ExpiresAt.Sub(r.now()))
	defer expiry.Stop()

	for {
		select {
		case <-ls.stop:
			return
		case <-expiry.C:
			r.expire(ls)
			return
		case <-ticker.C:
			cred, ok, expired := r.advance(ls)
			if expired {
				r.sink.CloseTopic(ls.sess.SubjectCode, ls.sess.ID)
				return
			}
			if !ok {
				return
			}
			r.metrics.Rotations.Inc()
			// Publish outside the registry lock; a slow or failed
			// push never delays the committed rotation.
			r.sink.Publish(cred.SubjectCode, cred)
		}
	}
}

// advance rotates the session's token. Returns ok=false when the session is
// no longer live, expired=true when this tick discovered the window closed.
func (r *Registry) advance(ls *liveSession) (cred models.Credential, ok bool, expired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ls.ended {
		return models.Credential{}, false, false
	}

	now := r.now()
	if ls.sess.IsExpired(now) {
		r.endLocked(ls, "expired")
		return models.Credential{}, false, true
	}

	ls.sess.CurrentToken = newToken()
	ls.sess.TokenIssuedAt = now
	ls.cred = r.buildCredential(&ls.sess)

	return ls.cred, true, false
}

// expire handles the hard window bound from the expiry timer.
func (r *Registry) expire(ls *liveSession) {
	r.mu.Lock()
	alreadyEnded := ls.ended
	if !alreadyEnded {
		r.endLocked(ls, "expired")
	}
	r.mu.Unlock()

	if !alreadyEnded {
		r.sink.CloseTopic(ls.sess.SubjectCode, ls.sess.ID)
		r.log.Info().
			Str("subject", ls.sess.SubjectCode).
			Str("session_id", ls.sess.ID.String()).
			Msg("Session window expired")
	}
}

// endLocked marks a session dead, stops its rotator, and removes it from the
// registry. Callers must hold r.mu. Idempotent per liveSession.
func (r *Registry) endLocked(ls *liveSession, cause string) {
	if ls.ended {
		return
	}
	ls.ended = true
	close(ls.stop)

	delete(r.byID, ls.sess.ID)
	if current, exists := r.bySubject[ls.sess.SubjectCode]; exists && current == ls {
		delete(r.bySubject, ls.sess.SubjectCode)
	}

	r.metrics.ActiveSessions.Dec()
	r.metrics.SessionsEnded.WithLabelValues(cause).Inc()
}

// buildCredential projects the session's current token into a credential.
// A QR rendering failure is logged and drops only the image; rotation always
// commits.
func (r *Registry) buildCredential(sess *models.Session) models.Credential {
	cred, err := credential.New(sess.ID, sess.CurrentToken, sess.SubjectCode, sess.TokenIssuedAt)
	if err != nil {
		r.log.Error().Err(err).
			Str("session_id", sess.ID.String()).
			Msg("Failed to render credential image")
	}
	return cred
}

// newToken mints a rotation token. Random v4, not time-ordered v7: tokens
// must not be guessable from the clock.
func newToken() uuid.UUID {
	return uuid.New()
}
