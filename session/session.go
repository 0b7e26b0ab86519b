// Package session keeps authentication state consistent within and across
// execution contexts. The Store owns the session state machine, the
// Tracker extends the session on user activity and raises expiry
// transitions, and the Broadcaster mirrors transitions onto a shared
// channel so sibling contexts converge.
package session

import "time"

// State is the lifecycle phase of the session.
type State string

const (
	// StateAnonymous: no authenticated principal.
	StateAnonymous State = "anonymous"
	// StateAuthenticated: a principal is signed in.
	StateAuthenticated State = "authenticated"
	// StateWarning: authenticated, but within the expiry warning window.
	StateWarning State = "warning"
	// StateExpired: the session timed out; a forced logout follows.
	StateExpired State = "expired"
)

// EventType identifies a session transition.
type EventType string

const (
	EventLogin    EventType = "login"
	EventLogout   EventType = "logout"
	EventTimeout  EventType = "session_timeout"
	EventRefresh  EventType = "session_refresh"
	EventActivity EventType = "activity"
)

// Source records whether a transition originated in this context or was
// adopted from a sibling via the shared channel.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// Principal is the authenticated identity attached to a session. The core
// never inspects it beyond presence and its identifier.
type Principal struct {
	ID string `json:"id"`
}

// Event is an immutable record of a transition. Events are created by the
// Store on every accepted mutation, delivered to subscribers, broadcast,
// and discarded.
type Event struct {
	Type      EventType
	Source    Source
	Principal *Principal
	Timestamp time.Time
	Sequence  uint64
}

// Session is the authoritative in-process session state. ExpiresAt is
// always recomputed from LastActivityAt plus the configured timeout, never
// stored independently, so the two cannot drift.
type Session struct {
	State          State
	Principal      *Principal
	LastActivityAt time.Time
	ExpiresAt      time.Time
	Sequence       uint64
}

// Authenticated reports whether a principal is currently signed in,
// including the warning phase.
func (s Session) Authenticated() bool {
	return s.State == StateAuthenticated || s.State == StateWarning
}
