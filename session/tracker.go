package session

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultWarningWindow is how long before expiry the warning fires.
const DefaultWarningWindow = 5 * time.Minute

// maxCheckInterval caps the expiry check interval at one second.
const maxCheckInterval = time.Second

// SignalKind classifies a user interaction signal.
type SignalKind string

const (
	SignalPointer SignalKind = "pointer"
	SignalKey     SignalKind = "key"
	SignalTouch   SignalKind = "touch"
	// SignalVisibility means the context returned to the foreground. It
	// forces an immediate expiry re-check before counting as activity,
	// since interval ticks may have been missed while backgrounded.
	SignalVisibility SignalKind = "visibility"
)

// Tracker observes user interaction signals, extends the session deadline
// while a principal is signed in, and raises warning and expiry
// transitions. It performs no I/O; it is purely timer- and signal-driven.
type Tracker struct {
	store         *Store
	resolution    time.Duration
	warningWindow time.Duration
	notice        NoticeFunc
	now           func() time.Time
	logger        *slog.Logger

	mu      sync.Mutex
	warned  bool
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithResolution sets the expiry check resolution. The effective interval
// is the smaller of this and one second. Default: one second.
func WithResolution(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.resolution = d
		}
	}
}

// WithWarningWindow sets how long before expiry the warning fires.
// Default: 5 minutes.
func WithWarningWindow(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d >= 0 {
			t.warningWindow = d
		}
	}
}

// WithNotice sets the callback for user-facing notices.
func WithNotice(fn NoticeFunc) TrackerOption {
	return func(t *Tracker) {
		t.notice = fn
	}
}

// WithTrackerNow injects the clock. Tests use this to advance time.
func WithTrackerNow(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithTrackerLogger sets the structured logger.
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger.With("component", "tracker")
	}
}

// NewTracker creates a tracker bound to store. Call Start to begin the
// scheduled expiry checks.
func NewTracker(store *Store, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:         store,
		resolution:    maxCheckInterval,
		warningWindow: DefaultWarningWindow,
		now:           time.Now,
		logger:        slog.Default().With("component", "tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the scheduled expiry check. Starting a running tracker is
// a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	t.running = true
	t.done = make(chan struct{})
	t.wg.Add(1)
	go t.loop(t.done)
}

// Stop halts the scheduled check and waits for it to exit. Stopping a
// stopped or never-started tracker is a no-op.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	done := t.done
	t.done = nil
	t.mu.Unlock()
	close(done)
	t.wg.Wait()
}

func (t *Tracker) loop(done chan struct{}) {
	defer t.wg.Done()
	interval := t.resolution
	if interval > maxCheckInterval {
		interval = maxCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.check()
		}
	}
}

// Signal records a user interaction. Activity extends the deadline only
// while a principal is signed in; anonymous and expired sessions ignore
// interaction entirely.
func (t *Tracker) Signal(kind SignalKind) {
	if kind == SignalVisibility {
		t.check()
	}
	if !t.store.Current().Authenticated() {
		return
	}
	t.store.Apply(Event{Type: EventActivity, Source: SourceLocal, Timestamp: t.now()})
}

// check compares the deadline against the clock, raising the warning once
// per approach and the terminal timeout at expiry.
func (t *Tracker) check() {
	cur := t.store.Current()
	if !cur.Authenticated() {
		t.setWarned(false)
		return
	}
	now := t.now()
	remaining := cur.ExpiresAt.Sub(now)

	if remaining <= 0 {
		pid := ""
		if cur.Principal != nil {
			pid = cur.Principal.ID
		}
		t.store.Apply(Event{Type: EventTimeout, Source: SourceLocal, Timestamp: now})
		if t.store.Current().State == StateWarning {
			// The warning never fired; drive straight to terminal.
			t.store.Apply(Event{Type: EventTimeout, Source: SourceLocal, Timestamp: now})
		}
		if t.store.Current().State == StateExpired {
			t.setWarned(false)
			t.logger.Info("session expired", "principal_id", pid)
			t.emit(Notice{Kind: NoticeExpired, PrincipalID: pid})
		}
		return
	}

	if remaining <= t.warningWindow {
		if t.isWarned() {
			return
		}
		t.setWarned(true)
		pid := ""
		if cur.Principal != nil {
			pid = cur.Principal.ID
		}
		t.store.Apply(Event{Type: EventTimeout, Source: SourceLocal, Timestamp: now})
		t.logger.Info("session expiring", "remaining", remaining)
		t.emit(Notice{Kind: NoticeExpiring, Remaining: remaining, PrincipalID: pid})
		return
	}

	// Activity moved the deadline back out of the window; re-arm the
	// warning for the next approach.
	t.setWarned(false)
}

func (t *Tracker) isWarned() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.warned
}

func (t *Tracker) setWarned(v bool) {
	t.mu.Lock()
	t.warned = v
	t.mu.Unlock()
}

func (t *Tracker) emit(n Notice) {
	if t.notice != nil {
		t.notice(n)
	}
}
