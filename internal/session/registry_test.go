package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/rollcall-io/rollcall/internal/credential"
	"github.com/rollcall-io/rollcall/internal/models"
	"github.com/rollcall-io/rollcall/internal/notify"
	"github.com/rollcall-io/rollcall/internal/store/memory"
	"github.com/rollcall-io/rollcall/internal/telemetry"
)

// fakeClock drives freshness and expiry checks without waiting on wall time.
// Rotation tickers still run on real time, so tests that rely on the fake
// clock configure intervals long enough that no real tick fires.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// captureSink records published frames, closed topics and retired sessions.
type captureSink struct {
	mu      sync.Mutex
	frames  []models.Credential
	closed  []string
	retired []uuid.UUID
	frameCh chan models.Credential
}

func newCaptureSink() *captureSink {
	return &captureSink{frameCh: make(chan models.Credential, 64)}
}

func (s *captureSink) Publish(subjectCode string, cred models.Credential) {
	s.mu.Lock()
	s.frames = append(s.frames, cred)
	s.mu.Unlock()

	select {
	case s.frameCh <- cred:
	default:
	}
}

func (s *captureSink) CloseTopic(subjectCode string, sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, subjectCode)
	s.retired = append(s.retired, sessionID)
}

func (s *captureSink) Retire(sessionID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retired = append(s.retired, sessionID)
}

func (s *captureSink) retiredSessions() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, len(s.retired))
	copy(out, s.retired)
	return out
}

func (s *captureSink) closedTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.closed))
	copy(out, s.closed)
	return out
}

func (s *captureSink) waitFrame(t *testing.T) models.Credential {
	t.Helper()
	select {
	case cred := <-s.frameCh:
		return cred
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for published credential")
		return models.Credential{}
	}
}

func newTestRegistry(t *testing.T, cfg Config, opts ...Option) (*Registry, *captureSink) {
	t.Helper()
	sink := newCaptureSink()
	r := NewRegistry(cfg, memory.NewAttendanceStore(), sink,
		telemetry.New(prometheus.NewRegistry()), zerolog.Nop(), opts...)
	t.Cleanup(r.Shutdown)
	return r, sink
}

func TestRegistry_StartIssuesImmediateCredential(t *testing.T) {
	r, sink := newTestRegistry(t, Config{})

	sess, cred := r.Start("SUBJ-1")

	require.Equal(t, "SUBJ-1", sess.SubjectCode)
	require.Equal(t, sess.CurrentToken, cred.Token)
	require.NotEmpty(t, cred.Payload)
	require.NotEmpty(t, cred.QRDataURL)

	// Tick 0 reaches subscribers before the first rotation.
	frame := sink.waitFrame(t)
	require.Equal(t, sess.ID, frame.SessionID)
	require.Equal(t, sess.CurrentToken, frame.Token)

	gotSession, gotToken, gotSubject, err := credential.Decode(cred.Payload)
	require.NoError(t, err)
	require.Equal(t, sess.ID, gotSession)
	require.Equal(t, sess.CurrentToken, gotToken)
	require.Equal(t, "SUBJ-1", gotSubject)
}

func TestRegistry_AtMostOneSessionPerSubject(t *testing.T) {
	clock := newFakeClock()
	r, sink := newTestRegistry(t, Config{RotationInterval: time.Hour, SessionWindow: 24 * time.Hour}, WithNow(clock.Now))

	first, firstCred := r.Start("SUBJ-1")
	second, _ := r.Start("SUBJ-1")
	require.NotEqual(t, first.ID, second.ID)
	require.Contains(t, sink.retiredSessions(), first.ID)

	active, _ := r.Active("SUBJ-1")
	require.NotNil(t, active)
	require.Equal(t, second.ID, active.ID)

	// The superseded session's id is rejected even with its valid token.
	outcome, err := r.Verify(t.Context(), first.ID, firstCred.Token, "student-1")
	require.NoError(t, err)
	require.Equal(t, ResultRejected, outcome.Result)
	require.Equal(t, ReasonNoActiveSession, outcome.Reason)
}

func TestRegistry_SubjectsIndependent(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRegistry(t, Config{RotationInterval: time.Hour, SessionWindow: 24 * time.Hour}, WithNow(clock.Now))

	first, firstCred := r.Start("SUBJ-1")
	second, secondCred := r.Start("SUBJ-2")

	outcome, err := r.Verify(t.Context(), first.ID, firstCred.Token, "student-1")
	require.NoError(t, err)
	require.Equal(t, ResultAccepted, outcome.Result)

	outcome, err = r.Verify(t.Context(), second.ID, secondCred.Token, "student-1")
	require.NoError(t, err)
	require.Equal(t, ResultAccepted, outcome.Result)
}

func TestRegistry_StopIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	r, sink := newTestRegistry(t, Config{RotationInterval: time.Hour, SessionWindow: 24 * time.Hour}, WithNow(clock.Now))

	sess, _ := r.Start("SUBJ-1")

	r.Stop(sess.ID)
	r.Stop(sess.ID)
	r.Stop(uuid.Must(uuid.NewV7())) // unknown id is a no-op

	active, _ := r.Active("SUBJ-1")
	require.Nil(t, active)
	require.Equal(t, []string{"SUBJ-1"}, sink.closedTopics())

	outcome, err := r.Verify(t.Context(), sess.ID, uuid.New(), "student-1")
	require.NoError(t, err)
	require.Equal(t, ReasonNoActiveSession, outcome.Reason)
}

func TestRegistry_RotationInvalidatesOldToken(t *testing.T) {
	r, sink := newTestRegistry(t, Config{RotationInterval: 100 * time.Millisecond, SessionWindow: 10 * time.Second})

	sess, first := r.Start("SUBJ-1")
	_ = sink.waitFrame(t) // tick 0

	rotated := sink.waitFrame(t)
	require.Equal(t, sess.ID, rotated.SessionID)
	require.NotEqual(t, first.Token, rotated.Token)

	outcome, err := r.Verify(t.Context(), sess.ID, first.Token, "student-1")
	require.NoError(t, err)
	require.Equal(t, ResultRejected, outcome.Result)
	require.Equal(t, ReasonStaleToken, outcome.Reason)

	// The freshly rotated token is accepted.
	outcome, err = r.Verify(t.Context(), sess.ID, rotated.Token, "student-1")
	require.NoError(t, err)
	require.Equal(t, ResultAccepted, outcome.Result)
}

func TestRegistry_TokenFreshnessWindow(t *testing.T) {
	clock := newFakeClock()
	interval := 5 * time.Second
	r, _ := newTestRegistry(t, Config{RotationInterval: interval, SessionWindow: time.Hour}, WithNow(clock.Now))

	sess, cred := r.Start("SUBJ-1")

	t.Run("just inside the window", func(t *testing.T) {
		clock.Advance(interval - time.Millisecond)
		outcome, err := r.Verify(t.Context(), sess.ID, cred.Token, "student-1")
		require.NoError(t, err)
		require.Equal(t, ResultAccepted, outcome.Result)
	})

	t.Run("at the boundary the token is expired", func(t *testing.T) {
		// Half-open interval: age == interval is already out.
		clock.Advance(time.Millisecond)
		outcome, err := r.Verify(t.Context(), sess.ID, cred.Token, "student-2")
		require.NoError(t, err)
		require.Equal(t, ResultRejected, outcome.Result)
		require.Equal(t, ReasonTokenExpired, outcome.Reason)
	})
}

func TestRegistry_DuplicateVerification(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRegistry(t, Config{RotationInterval: time.Hour, SessionWindow: 24 * time.Hour}, WithNow(clock.Now))

	sess, cred := r.Start("SUBJ-1")

	outcome, err := r.Verify(t.Context(), sess.ID, cred.Token, "student-1")
	require.NoError(t, err)
	require.Equal(t, ResultAccepted, outcome.Result)

	outcome, err = r.Verify(t.Context(), sess.ID, cred.Token, "student-1")
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, outcome.Result)

	// A different student is unaffected.
	outcome, err = r.Verify(t.Context(), sess.ID, cred.Token, "student-2")
	require.NoError(t, err)
	require.Equal(t, ResultAccepted, outcome.Result)
}

func TestRegistry_ConcurrentVerifySameStudent(t *testing.T) {
	clock := newFakeClock()
	r, _ := newTestRegistry(t, Config{RotationInterval: time.Hour, SessionWindow: 24 * time.Hour}, WithNow(clock.Now))

	sess, cred := r.Start("SUBJ-1")

	const attempts = 32
	outcomes := make(chan Outcome, attempts)

	var wg sync.WaitGroup
	for range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := r.Verify(t.Context(), sess.ID, cred.Token, "student-1")
			require.NoError(t, err)
			outcomes <- outcome
		}()
	}
	wg.Wait()
	close(outcomes)

	accepted, duplicate := 0, 0
	for outcome := range outcomes {
		switch outcome.Result {
		case ResultAccepted:
			accepted++
		case ResultDuplicate:
			duplicate++
		default:
			t.Fatalf("unexpected outcome %+v", outcome)
		}
	}
	require.Equal(t, 1, accepted)
	require.Equal(t, attempts-1, duplicate)
}

func TestRegistry_LazyExpiryOnRead(t *testing.T) {
	clock := newFakeClock()
	window := 30 * time.Second
	r, sink := newTestRegistry(t, Config{RotationInterval: 5 * time.Second, SessionWindow: window}, WithNow(clock.Now))

	sess, cred := r.Start("SUBJ-1")

	// The real-time expiry timer has not fired, but the logical window is
	// over: reads must not return the stale session.
	clock.Advance(window)

	active, _ := r.Active("SUBJ-1")
	require.Nil(t, active)
	require.Equal(t, []string{"SUBJ-1"}, sink.closedTopics())

	outcome, err := r.Verify(t.Context(), sess.ID, cred.Token, "student-1")
	require.NoError(t, err)
	require.Equal(t, ReasonNoActiveSession, outcome.Reason)
}

func TestRegistry_AutoTerminatesAtWindowExpiry(t *testing.T) {
	r, sink := newTestRegistry(t, Config{RotationInterval: 20 * time.Millisecond, SessionWindow: 90 * time.Millisecond})

	sess, _ := r.Start("SUBJ-1")

	require.Eventually(t, func() bool {
		active, _ := r.Active("SUBJ-1")
		return active == nil
	}, 2*time.Second, 10*time.Millisecond)

	require.Contains(t, sink.closedTopics(), "SUBJ-1")

	outcome, err := r.Verify(t.Context(), sess.ID, uuid.New(), "student-1")
	require.NoError(t, err)
	require.Equal(t, ReasonNoActiveSession, outcome.Reason)
}

func TestRegistry_NoFramesAfterStop(t *testing.T) {
	r, sink := newTestRegistry(t, Config{RotationInterval: 15 * time.Millisecond, SessionWindow: 10 * time.Second})

	sess, _ := r.Start("SUBJ-1")
	r.Stop(sess.ID)

	sink.mu.Lock()
	seen := len(sink.frames)
	sink.mu.Unlock()

	// A tick in flight at Stop time revalidates liveness and publishes
	// nothing; give the rotator a few would-be periods to prove it.
	time.Sleep(80 * time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Equal(t, seen, len(sink.frames))
}

func newBrokerRegistry(t *testing.T, cfg Config) (*Registry, *notify.Broker) {
	t.Helper()
	broker := notify.NewBroker(zerolog.Nop())
	r := NewRegistry(cfg, memory.NewAttendanceStore(), broker,
		telemetry.New(prometheus.NewRegistry()), zerolog.Nop())
	t.Cleanup(r.Shutdown)
	return r, broker
}

func TestRegistry_StoppedSessionNotRetainedByLateFrame(t *testing.T) {
	r, broker := newBrokerRegistry(t, Config{RotationInterval: time.Millisecond, SessionWindow: 10 * time.Second})

	// A rotation committed just before Stop can reach the broker just after
	// it; the tight interval makes that interleaving likely. A subscriber
	// attaching after Stop returned must never see the stopped session.
	for range 50 {
		sess, _ := r.Start("SUBJ-1")
		r.Stop(sess.ID)
		time.Sleep(3 * time.Millisecond)

		sub := broker.Subscribe("SUBJ-1")
		select {
		case got := <-sub.Updates():
			t.Fatalf("received credential for stopped session %s", got.SessionID)
		default:
		}
		broker.Unsubscribe(sub)
	}
}

func TestRegistry_FirstFramePrecedesRotations(t *testing.T) {
	r, broker := newBrokerRegistry(t, Config{RotationInterval: time.Millisecond, SessionWindow: 10 * time.Second})

	// However fast rotation runs, an already attached subscriber sees the
	// opening credential before any rotated successor.
	for i := range 20 {
		subject := fmt.Sprintf("SUBJ-%d", i)
		sub := broker.Subscribe(subject)
		sess, cred := r.Start(subject)

		select {
		case got := <-sub.Updates():
			require.Equal(t, sess.ID, got.SessionID)
			require.Equal(t, cred.Token, got.Token)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for the opening credential frame")
		}
		broker.Unsubscribe(sub)
		r.Stop(sess.ID)
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()
	require.Equal(t, 5*time.Second, cfg.RotationInterval)
	require.Equal(t, 30*time.Second, cfg.SessionWindow)

	cfg = Config{RotationInterval: time.Second, SessionWindow: time.Minute}
	cfg.ApplyDefaults()
	require.Equal(t, time.Second, cfg.RotationInterval)
	require.Equal(t, time.Minute, cfg.SessionWindow)
}
