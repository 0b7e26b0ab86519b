package session

import (
	"testing"
	"time"
)

func newTrackerForTest(t *testing.T, timeout, window time.Duration) (*Store, *Tracker, func(time.Duration), *[]Notice) {
	t.Helper()
	now, advance := testClock(time.Date(2026, 1, 2, 3, 0, 0, 0, time.UTC))
	store := NewStore(WithNow(now), WithTimeout(timeout))
	var notices []Notice
	tracker := NewTracker(store,
		WithWarningWindow(window),
		WithTrackerNow(now),
		WithNotice(func(n Notice) { notices = append(notices, n) }),
	)
	return store, tracker, advance, &notices
}

func TestTrackerWarningExactlyOncePerApproach(t *testing.T) {
	store, tracker, advance, notices := newTrackerForTest(t, 301*time.Second, 300*time.Second)
	store.Login(&Principal{ID: "alice"})

	// 2s in: still outside the warning window.
	advance(2 * time.Second)
	tracker.check()
	if len(*notices) != 0 {
		t.Fatalf("expected no warning outside the window, got %v", *notices)
	}

	// 1s before expiry: exactly one warning.
	advance(298 * time.Second)
	tracker.check()
	if len(*notices) != 1 || (*notices)[0].Kind != NoticeExpiring {
		t.Fatalf("expected one expiring notice, got %v", *notices)
	}
	if got := store.Current().State; got != StateWarning {
		t.Fatalf("got state %q, want %q", got, StateWarning)
	}

	// A second check without intervening activity must not warn again.
	tracker.check()
	if len(*notices) != 1 {
		t.Fatalf("expected no duplicate warning, got %v", *notices)
	}
}

func TestTrackerWarningRearmsAfterActivity(t *testing.T) {
	store, tracker, advance, notices := newTrackerForTest(t, 10*time.Minute, 5*time.Minute)
	store.Login(&Principal{ID: "alice"})

	advance(6 * time.Minute)
	tracker.check()
	if len(*notices) != 1 {
		t.Fatalf("expected first warning, got %v", *notices)
	}

	// Activity extends the deadline back out of the window.
	tracker.Signal(SignalPointer)
	tracker.check()
	if got := store.Current().State; got != StateAuthenticated {
		t.Fatalf("got state %q after activity, want %q", got, StateAuthenticated)
	}

	advance(6 * time.Minute)
	tracker.check()
	if len(*notices) != 2 {
		t.Fatalf("expected a second warning on the next approach, got %v", *notices)
	}
}

func TestTrackerTerminalExpiry(t *testing.T) {
	store, tracker, advance, notices := newTrackerForTest(t, 10*time.Minute, 5*time.Minute)
	store.Login(&Principal{ID: "alice"})

	advance(11 * time.Minute)
	tracker.check()
	if got := store.Current().State; got != StateExpired {
		t.Fatalf("got state %q, want %q", got, StateExpired)
	}
	last := (*notices)[len(*notices)-1]
	if last.Kind != NoticeExpired {
		t.Fatalf("got notice %q, want %q", last.Kind, NoticeExpired)
	}
	if last.PrincipalID != "alice" {
		t.Fatalf("got principal %q in expiry notice, want alice", last.PrincipalID)
	}
}

func TestTrackerVisibilityChecksBeforeExtending(t *testing.T) {
	// A context resumed after its deadline must expire, not extend.
	store, tracker, advance, _ := newTrackerForTest(t, 10*time.Minute, time.Minute)
	store.Login(&Principal{ID: "alice"})

	advance(20 * time.Minute)
	tracker.Signal(SignalVisibility)
	if got := store.Current().State; got != StateExpired {
		t.Fatalf("got state %q after resume past deadline, want %q", got, StateExpired)
	}
}

func TestTrackerIgnoresAnonymousSessions(t *testing.T) {
	store, tracker, _, notices := newTrackerForTest(t, 10*time.Minute, 5*time.Minute)
	tracker.Signal(SignalKey)
	tracker.check()
	if len(*notices) != 0 {
		t.Fatalf("expected no notices for anonymous session, got %v", *notices)
	}
	if got := store.Current().Sequence; got != 0 {
		t.Fatalf("expected no events for anonymous session, got sequence %d", got)
	}
}

func TestTrackerStartStopIdempotent(t *testing.T) {
	store := NewStore()
	tracker := NewTracker(store, WithResolution(10*time.Millisecond))

	tracker.Stop() // never started
	tracker.Start()
	tracker.Start() // already running
	time.Sleep(30 * time.Millisecond)
	tracker.Stop()
	tracker.Stop() // already stopped

	// Restart after stop.
	tracker.Start()
	tracker.Stop()
}
