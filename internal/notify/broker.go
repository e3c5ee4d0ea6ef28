// Package notify fans rotated credentials out to connected display clients.
// Topics are keyed by subject code; delivery is best-effort and ordered per
// subscriber.
package notify

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rollcall-io/rollcall/internal/models"
)

// subscriberQueueSize bounds each subscriber's send queue. A subscriber this
// far behind loses frames instead of stalling the rotator.
const subscriberQueueSize = 16

// retiredCap bounds how many ended session IDs the broker remembers. Oldest
// entries are evicted first.
const retiredCap = 128

// Subscriber is one connected display client's view of a subject topic.
type Subscriber struct {
	subject string
	updates chan models.Credential

	done      chan struct{}
	closeOnce sync.Once
}

// Updates returns the ordered stream of credential frames.
func (s *Subscriber) Updates() <-chan models.Credential {
	return s.updates
}

// Done is closed when the topic ends (session stopped or expired) or the
// subscriber was closed.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

// close is idempotent. The updates channel is never closed so concurrent
// publishers cannot panic; consumers select on Done.
func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

type topic struct {
	retained *models.Credential
	subs     []*Subscriber
}

// Broker is the per-subject credential fan-out hub. It remembers which
// sessions have ended so a rotator's frame that was committed before the
// teardown but published after it cannot resurrect the topic.
type Broker struct {
	mu           sync.Mutex
	topics       map[string]*topic
	retired      map[uuid.UUID]struct{}
	retiredOrder []uuid.UUID
	log          zerolog.Logger
}

// NewBroker constructs an empty broker.
func NewBroker(log zerolog.Logger) *Broker {
	return &Broker{
		topics:  make(map[string]*topic),
		retired: make(map[uuid.UUID]struct{}),
		log:     log,
	}
}

// Subscribe attaches a new subscriber to a subject topic. If a credential was
// already published on the topic, the subscriber receives it immediately
// rather than waiting for the next rotation tick.
func (b *Broker) Subscribe(subjectCode string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[subjectCode]
	if !ok {
		t = &topic{}
		b.topics[subjectCode] = t
	}

	sub := &Subscriber{
		subject: subjectCode,
		updates: make(chan models.Credential, subscriberQueueSize),
		done:    make(chan struct{}),
	}
	t.subs = append(t.subs, sub)

	if t.retained != nil {
		// Queue is empty at this point, cannot block.
		sub.updates <- *t.retained
	}
	return sub
}

// Unsubscribe detaches and closes a subscriber. Safe to call more than once
// and after the topic was closed.
func (b *Broker) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if t, ok := b.topics[sub.subject]; ok {
		for i, existing := range t.subs {
			if existing == sub {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				break
			}
		}
	}
	b.mu.Unlock()

	sub.close()
}

// Publish retains the credential for late subscribers and fans it out to all
// current ones. A full subscriber queue drops the frame for that subscriber
// only; Publish never blocks. Frames for a retired session are dropped
// entirely.
func (b *Broker) Publish(subjectCode string, cred models.Credential) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, dead := b.retired[cred.SessionID]; dead {
		b.log.Debug().
			Str("subject", subjectCode).
			Str("session_id", cred.SessionID.String()).
			Msg("Dropping credential frame for ended session")
		return
	}

	t, ok := b.topics[subjectCode]
	if !ok {
		t = &topic{}
		b.topics[subjectCode] = t
	}

	retained := cred
	t.retained = &retained

	for _, sub := range t.subs {
		select {
		case sub.updates <- cred:
		default:
			b.log.Warn().
				Str("subject", subjectCode).
				Str("session_id", cred.SessionID.String()).
				Msg("Subscriber queue full, dropping credential frame")
		}
	}
}

// CloseTopic ends a subject's stream: all subscribers are signalled done, the
// retained credential is cleared, and the ending session's ID is retired so a
// later Publish of its credential cannot recreate the topic.
func (b *Broker) CloseTopic(subjectCode string, sessionID uuid.UUID) {
	b.mu.Lock()
	b.retireLocked(sessionID)
	t, ok := b.topics[subjectCode]
	if ok {
		delete(b.topics, subjectCode)
	}
	b.mu.Unlock()

	if !ok {
		return
	}
	for _, sub := range t.subs {
		sub.close()
	}
}

// Retire marks a session dead without tearing down its subject topic. Used
// when a session is superseded and the topic carries on with the successor's
// frames.
func (b *Broker) Retire(sessionID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.retireLocked(sessionID)
}

func (b *Broker) retireLocked(sessionID uuid.UUID) {
	if _, ok := b.retired[sessionID]; ok {
		return
	}
	b.retired[sessionID] = struct{}{}
	b.retiredOrder = append(b.retiredOrder, sessionID)
	if len(b.retiredOrder) > retiredCap {
		evicted := b.retiredOrder[0]
		b.retiredOrder = b.retiredOrder[1:]
		delete(b.retired, evicted)
	}
}

// SubscriberCount reports how many display clients are attached to a subject.
func (b *Broker) SubscriberCount(subjectCode string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[subjectCode]; ok {
		return len(t.subs)
	}
	return 0
}
