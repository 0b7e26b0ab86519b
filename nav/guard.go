// Package nav derives navigation actions from session transitions: a
// forced trip to the login path on logout or expiry, a return to the
// intended destination after login, and nothing at all for everything
// else. It never decides what a session may access; paths not listed as
// protected are treated as public.
package nav

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmcleod/sessionsync/session"
	"github.com/jmcleod/sessionsync/telemetry"
)

const (
	// DefaultLoginPath is where signed-out users are sent.
	DefaultLoginPath = "/login"
	// DefaultLandingPath is where a fresh login lands when no intended
	// destination was recorded.
	DefaultLandingPath = "/"
)

// Navigator performs one navigation on behalf of the guard. Errors are
// reported, never propagated.
type Navigator func(path string) error

// Guard converts session events into navigation actions. Navigation is
// idempotent: handling the same terminal event twice while already at the
// target is a no-op, so the guard cannot ping-pong between locations. The
// intended destination lives only in this context's memory; it is local
// UX state, not session truth, and is never written to the shared channel.
type Guard struct {
	store    *session.Store
	navigate Navigator
	location func() string
	breaker  *Breaker
	reporter telemetry.Reporter
	notice   session.NoticeFunc
	logger   *slog.Logger

	mu          sync.Mutex
	protected   map[string]struct{}
	public      map[string]struct{}
	loginPath   string
	landingPath string
	intended    string
	disabled    bool
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLoginPath overrides the login path. Default: "/login".
func WithLoginPath(path string) GuardOption {
	return func(g *Guard) {
		g.loginPath = path
	}
}

// WithLandingPath overrides the default post-login landing path.
// Default: "/".
func WithLandingPath(path string) GuardOption {
	return func(g *Guard) {
		g.landingPath = path
	}
}

// WithReporter sets the failure reporter.
func WithReporter(r telemetry.Reporter) GuardOption {
	return func(g *Guard) {
		g.reporter = r
	}
}

// WithNotice sets the callback for passive notices.
func WithNotice(fn session.NoticeFunc) GuardOption {
	return func(g *Guard) {
		g.notice = fn
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guard) {
		g.logger = logger.With("component", "nav")
	}
}

// WithLoopDetection overrides the redirect loop threshold and window.
func WithLoopDetection(threshold int, window time.Duration) GuardOption {
	return func(g *Guard) {
		if threshold > 0 {
			g.breaker.threshold = threshold
		}
		if window > 0 {
			g.breaker.window = window
		}
	}
}

// New creates a guard. navigate performs redirects; location reports the
// current path. A guard created without either is permanently disabled and
// the defect is reported as an initialization failure.
func New(store *session.Store, navigate Navigator, location func() string, opts ...GuardOption) *Guard {
	g := &Guard{
		store:       store,
		navigate:    navigate,
		location:    location,
		breaker:     NewBreaker(),
		reporter:    telemetry.Discard,
		logger:      slog.Default().With("component", "nav"),
		protected:   make(map[string]struct{}),
		public:      make(map[string]struct{}),
		loginPath:   DefaultLoginPath,
		landingPath: DefaultLandingPath,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.navigate == nil || g.location == nil {
		g.disabled = true
		g.reporter.ReportError(telemetry.KindInitialization,
			fmt.Errorf("navigation guard created without navigator or location source"),
			telemetry.Context{ComponentTrace: []string{"guard"}})
	}
	return g
}

// Configure replaces the routing policy. Malformed paths are reported as
// validation failures and skipped; any path in neither list is public.
func (g *Guard) Configure(protectedPaths, publicPaths []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.protected = make(map[string]struct{}, len(protectedPaths))
	g.public = make(map[string]struct{}, len(publicPaths))
	for _, p := range protectedPaths {
		if err := validatePath(p); err != nil {
			g.reporter.ReportError(telemetry.KindValidation, err,
				telemetry.Context{Path: p, ComponentTrace: []string{"guard"}})
			continue
		}
		g.protected[p] = struct{}{}
	}
	for _, p := range publicPaths {
		if err := validatePath(p); err != nil {
			g.reporter.ReportError(telemetry.KindValidation, err,
				telemetry.Context{Path: p, ComponentTrace: []string{"guard"}})
			continue
		}
		g.public[p] = struct{}{}
	}
}

// IntendedDestination returns the recorded post-login redirect target, if
// any.
func (g *Guard) IntendedDestination() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.intended
}

// Reset re-enables automatic navigation after a tripped loop breaker.
func (g *Guard) Reset() {
	g.breaker.Reset()
}

// Handle reacts to one session event. It never panics and never
// propagates failures; everything is reported to telemetry.
func (g *Guard) Handle(ev session.Event) {
	if g.disabled {
		return
	}
	switch ev.Type {
	case session.EventLogin:
		g.handleLogin()
	case session.EventLogout:
		g.handleSignedOut(ev)
	case session.EventTimeout:
		// Only the terminal timeout forces navigation; the warning
		// phase is surfaced by the tracker, not the guard.
		if g.store.Current().State == session.StateExpired {
			g.handleSignedOut(ev)
		}
	case session.EventRefresh:
		// No navigation. The refresh event itself is the host's cue to
		// dismiss any pending warning UI.
	}
}

func (g *Guard) handleLogin() {
	loc := g.location()
	if loc != g.currentLoginPath() {
		return
	}
	g.mu.Lock()
	target := g.intended
	g.intended = ""
	if target == "" {
		target = g.landingPath
	}
	g.mu.Unlock()
	g.navigateTo(target)
}

func (g *Guard) handleSignedOut(ev session.Event) {
	loc := g.location()
	if g.isProtected(loc) {
		g.mu.Lock()
		g.intended = loc
		g.mu.Unlock()
		g.navigateTo(g.currentLoginPath())
		return
	}
	// Already on a public path: no navigation, but surface what happened.
	if g.notice == nil {
		return
	}
	switch {
	case ev.Type == session.EventTimeout:
		g.notice(session.Notice{Kind: session.NoticeExpired})
	case ev.Source == session.SourceRemote:
		g.notice(session.Notice{Kind: session.NoticeLoggedOutElsewhere})
	}
}

func (g *Guard) isProtected(path string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.protected[path]
	return ok
}

func (g *Guard) currentLoginPath() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.loginPath
}

// navigateTo performs one guarded navigation: malformed targets fall back
// to the landing path, navigation to the current location is a no-op, a
// tripped breaker suppresses everything, and a single failed redirect is
// retried once before being reported.
func (g *Guard) navigateTo(path string) {
	if err := validatePath(path); err != nil {
		g.reporter.ReportError(telemetry.KindValidation, err,
			telemetry.Context{Path: path, ComponentTrace: []string{"guard"}})
		path = g.landingPath
	}
	from := g.location()
	if from == path {
		return
	}
	if g.breaker.Tripped() {
		return
	}
	if g.breaker.Record(from, path) {
		g.logger.Error("navigation loop detected, automatic navigation disabled",
			"from", from, "to", path)
		g.reporter.ReportError(telemetry.KindLoop,
			fmt.Errorf("navigation cycle detected: %s -> %s", from, path),
			telemetry.Context{Path: path, URL: from, ComponentTrace: []string{"guard"}})
		return
	}
	if err := g.navigate(path); err != nil {
		if retryErr := g.navigate(path); retryErr != nil {
			g.reporter.ReportError(telemetry.KindNavigation, retryErr,
				telemetry.Context{Path: path, ComponentTrace: []string{"guard"}, RecoveryAttempts: 1})
			return
		}
	}
	g.logger.Debug("navigated", "from", from, "to", path)
}
