package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// defaultCapacity bounds the rolling report history. Oldest reports
	// are evicted first, regardless of resolution status.
	defaultCapacity = 50
	// patternMessageLen truncates messages for pattern counting so that
	// variable suffixes (IDs, paths) collapse into one pattern.
	patternMessageLen = 50
)

type patternKey struct {
	kind    Kind
	message string
}

// Analyzer implements failure recording and triage. It is safe for
// concurrent use.
type Analyzer struct {
	mu       sync.Mutex
	reports  []Report
	patterns map[patternKey]int
	capacity int
	session  string
	now      func() time.Time
	logger   *slog.Logger
	sink     *Sink
}

var _ Reporter = (*Analyzer)(nil)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithCapacity overrides the report history capacity. Default: 50.
func WithCapacity(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.capacity = n
		}
	}
}

// WithLogger sets the structured logger. If not set, slog.Default is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger.With("component", "telemetry")
	}
}

// WithSink attaches a fire-and-forget external sink. Delivery failures
// never propagate to reporting callers.
func WithSink(sink *Sink) Option {
	return func(a *Analyzer) {
		a.sink = sink
	}
}

// WithNow injects the clock used for report timestamps and window math.
func WithNow(now func() time.Time) Option {
	return func(a *Analyzer) {
		a.now = now
	}
}

// New creates an Analyzer. The session ID identifies this execution
// context in reports; it is generated at startup and is distinct from any
// authenticated principal.
func New(opts ...Option) *Analyzer {
	a := &Analyzer{
		patterns: make(map[patternKey]int),
		capacity: defaultCapacity,
		session:  uuid.NewString(),
		now:      time.Now,
		logger:   slog.Default().With("component", "telemetry"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SessionID returns the per-context identifier stamped on every report.
func (a *Analyzer) SessionID() string {
	return a.session
}

// ReportError records a failure and returns the stored report. It never
// panics and never blocks on external delivery.
func (a *Analyzer) ReportError(kind Kind, err error, rctx Context) Report {
	msg := ""
	if err != nil {
		msg = err.Error()
	}

	a.mu.Lock()
	key := patternKey{kind: kind, message: truncate(msg, patternMessageLen)}
	prior := a.patterns[key]
	a.patterns[key] = prior + 1

	report := Report{
		ID:               uuid.NewString(),
		Timestamp:        a.now(),
		Kind:             kind,
		Message:          msg,
		Path:             rctx.Path,
		URL:              rctx.URL,
		SessionID:        a.session,
		PrincipalID:      rctx.PrincipalID,
		ComponentTrace:   rctx.ComponentTrace,
		PriorReportCount: prior,
		Severity:         severityFor(kind),
		RecoveryAttempts: rctx.RecoveryAttempts,
	}
	a.reports = append(a.reports, report)
	if len(a.reports) > a.capacity {
		a.reports = a.reports[len(a.reports)-a.capacity:]
	}
	sink := a.sink
	a.mu.Unlock()

	a.logger.LogAttrs(context.Background(), slog.LevelWarn, "error reported",
		slog.String("kind", string(kind)),
		slog.String("severity", string(report.Severity)),
		slog.String("message", msg),
		slog.String("path", rctx.Path),
		slog.Int("prior_count", prior),
	)
	if sink != nil {
		sink.Enqueue(report)
	}
	return report
}

// MarkResolved flags a report as resolved. Returns false when the report
// is unknown or already evicted.
func (a *Analyzer) MarkResolved(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.reports {
		if a.reports[i].ID == id {
			a.reports[i].Resolved = true
			return true
		}
	}
	return false
}

// Reports returns a copy of the retained history, oldest first.
func (a *Analyzer) Reports() []Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Report, len(a.reports))
	copy(out, a.reports)
	return out
}

// Statistics summarizes the retained history.
type Statistics struct {
	Total      int              `json:"total"`
	Resolved   int              `json:"resolved"`
	ByKind     map[Kind]int     `json:"by_kind"`
	BySeverity map[Severity]int `json:"by_severity"`
	Oldest     time.Time        `json:"oldest,omitzero"`
	Newest     time.Time        `json:"newest,omitzero"`
}

// GetStatistics returns counts over the retained history.
func (a *Analyzer) GetStatistics() Statistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := Statistics{
		ByKind:     make(map[Kind]int),
		BySeverity: make(map[Severity]int),
	}
	for _, r := range a.reports {
		stats.Total++
		if r.Resolved {
			stats.Resolved++
		}
		stats.ByKind[r.Kind]++
		stats.BySeverity[r.Severity]++
	}
	if len(a.reports) > 0 {
		stats.Oldest = a.reports[0].Timestamp
		stats.Newest = a.reports[len(a.reports)-1].Timestamp
	}
	return stats
}

// Close flushes and stops the external sink, if any.
func (a *Analyzer) Close() {
	a.mu.Lock()
	sink := a.sink
	a.sink = nil
	a.mu.Unlock()
	if sink != nil {
		sink.Close()
	}
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
