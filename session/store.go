package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/sessionsync/telemetry"
)

// DefaultTimeout is the inactivity timeout applied when none is configured.
const DefaultTimeout = 30 * time.Minute

// Store is the authoritative holder of session state within one execution
// context. Other components never mutate the session directly; every
// change flows through Apply as an Event.
//
// Accepted events are delivered to subscribers synchronously, in
// subscription order, before Apply returns. An Apply issued from within a
// listener is not delivered reentrantly: it is queued and applied after
// the current delivery completes, on the next turn.
type Store struct {
	mu       sync.Mutex
	session  Session
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
	reporter telemetry.Reporter

	subs   []subscriber
	nextID int

	queue    []Event
	draining bool
}

type subscriber struct {
	id int
	fn func(Event)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTimeout sets the inactivity timeout used to derive ExpiresAt.
// Default: 30 minutes.
func WithTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithNow injects the clock. Tests use this to advance time manually.
func WithNow(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the structured logger. If not set, slog.Default is used.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger.With("component", "session")
	}
}

// WithReporter sets the failure reporter. If not set, reports are dropped.
func WithReporter(r telemetry.Reporter) StoreOption {
	return func(s *Store) {
		s.reporter = r
	}
}

// NewStore creates a store in the Anonymous state.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		session:  Session{State: StateAnonymous},
		timeout:  DefaultTimeout,
		now:      time.Now,
		logger:   slog.Default().With("component", "session"),
		reporter: telemetry.Discard,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Timeout returns the configured inactivity timeout.
func (s *Store) Timeout() time.Duration {
	return s.timeout
}

// Current returns a snapshot of the session.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Subscribe registers a listener for accepted events. Listeners are
// notified in subscription order. The returned cancel func is idempotent.
func (s *Store) Subscribe(fn func(Event)) (cancel func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs = append(s.subs, subscriber{id: id, fn: fn})
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}
}

// Login applies a local login event for the given principal.
func (s *Store) Login(p *Principal) bool {
	return s.Apply(Event{Type: EventLogin, Source: SourceLocal, Principal: p})
}

// Logout applies a local logout event.
func (s *Store) Logout() bool {
	return s.Apply(Event{Type: EventLogout, Source: SourceLocal})
}

// Refresh applies a local extension event, e.g. from a "stay signed in"
// control in the expiry warning.
func (s *Store) Refresh() bool {
	return s.Apply(Event{Type: EventRefresh, Source: SourceLocal})
}

// Apply runs ev through the acceptance rules and, when accepted, mutates
// the session and notifies subscribers before returning.
//
// A local event is assigned sequence lastApplied+1, so locally-originated
// sequences are strictly increasing. A remote event is accepted iff its
// sequence is strictly greater than the last applied one, or equal while
// its type is logout and the session is not already Anonymous. Logout
// wins a same-sequence race as the most restrictive resolution.
//
// Returns false for rejected events and for events queued from within a
// listener; queued events are applied after the current delivery.
func (s *Store) Apply(ev Event) bool {
	s.mu.Lock()
	if s.draining {
		s.queue = append(s.queue, ev)
		s.mu.Unlock()
		return false
	}
	s.draining = true

	first := true
	var firstAccepted bool
	next := ev
	for {
		applied, accepted := s.applyLocked(next)
		if first {
			firstAccepted = accepted
			first = false
		}
		var subs []subscriber
		if accepted {
			subs = append([]subscriber(nil), s.subs...)
		}
		s.mu.Unlock()
		for _, sub := range subs {
			sub.fn(applied)
		}
		s.mu.Lock()
		if len(s.queue) == 0 {
			break
		}
		next = s.queue[0]
		s.queue = s.queue[1:]
	}
	s.draining = false
	s.mu.Unlock()
	return firstAccepted
}

// applyLocked decides acceptance, mutates the session, and returns the
// finalized event. Caller holds s.mu.
func (s *Store) applyLocked(ev Event) (Event, bool) {
	now := s.now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	cur := s.session

	// Deadline math always uses the local clock for remote events:
	// sibling clocks may be skewed or paused, and wall-clock timestamps
	// are informational only.
	at := ev.Timestamp
	switch ev.Source {
	case SourceLocal:
		ev.Sequence = cur.Sequence + 1
	case SourceRemote:
		at = now
		if ev.Sequence < cur.Sequence {
			return ev, false
		}
		if ev.Sequence == cur.Sequence && !(ev.Type == EventLogout && cur.State != StateAnonymous) {
			return ev, false
		}
	default:
		s.reporter.ReportError(telemetry.KindValidation,
			fmt.Errorf("event has unknown source %q", ev.Source), telemetry.Context{})
		return ev, false
	}

	if ev.Type == EventLogin && ev.Principal == nil {
		s.reporter.ReportError(telemetry.KindValidation,
			fmt.Errorf("login event without principal"), telemetry.Context{})
		return ev, false
	}

	next, ok := transition(cur, ev, at, s.timeout)
	if !ok {
		if ev.Source == SourceRemote {
			// The transition is a state no-op here (e.g. a logout record
			// adopted by an already-anonymous context), but the sibling's
			// sequence must still be adopted or this context's next local
			// event would lose a race it should win.
			s.session.Sequence = ev.Sequence
			return ev, true
		}
		s.logger.Debug("event rejected",
			"type", ev.Type, "source", ev.Source, "state", cur.State)
		return ev, false
	}
	next.Sequence = ev.Sequence
	s.session = next
	// Stamp the session's principal onto keep-alive events so the event
	// handed to subscribers, and the channel record mirrored from it, is
	// self-contained: a sibling must be able to adopt authenticated state
	// from an activity record alone.
	if (ev.Type == EventActivity || ev.Type == EventRefresh) && ev.Principal == nil {
		ev.Principal = next.Principal
	}
	s.logger.Debug("event applied",
		"type", ev.Type, "source", ev.Source,
		"sequence", ev.Sequence, "state", next.State)
	return ev, true
}

// transition computes the next session for an event whose sequence was
// already accepted. at is the effective activity time. Returns ok=false
// when the event does not apply in the current state.
func transition(cur Session, ev Event, at time.Time, timeout time.Duration) (Session, bool) {
	switch ev.Type {
	case EventLogin:
		return Session{
			State:          StateAuthenticated,
			Principal:      ev.Principal,
			LastActivityAt: at,
			ExpiresAt:      at.Add(timeout),
		}, true
	case EventLogout:
		if cur.State == StateAnonymous {
			return cur, false
		}
		return Session{State: StateAnonymous}, true
	case EventActivity, EventRefresh:
		if !cur.Authenticated() {
			// A sibling's keep-alive implies an authenticated session
			// even when the login record itself was already overwritten
			// in the channel slot before this context read it. Adopt the
			// principal the record carries instead of staying stale.
			if ev.Source == SourceRemote && ev.Principal != nil {
				return Session{
					State:          StateAuthenticated,
					Principal:      ev.Principal,
					LastActivityAt: at,
					ExpiresAt:      at.Add(timeout),
				}, true
			}
			return cur, false
		}
		cur.State = StateAuthenticated
		cur.LastActivityAt = at
		cur.ExpiresAt = at.Add(timeout)
		return cur, true
	case EventTimeout:
		// A first timeout moves an authenticated session into the
		// warning phase; a second, without intervening activity, is
		// terminal.
		switch cur.State {
		case StateAuthenticated:
			cur.State = StateWarning
			return cur, true
		case StateWarning:
			return Session{State: StateExpired}, true
		default:
			return cur, false
		}
	default:
		return cur, false
	}
}
