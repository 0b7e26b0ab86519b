// Package telemetry records, deduplicates, classifies, and summarizes
// failures from the session coordination core for operational triage.
package telemetry

import "time"

// Kind identifies the class of a reported failure.
type Kind string

const (
	// KindLoop is a detected navigation cycle. Critical: automatic
	// navigation must halt until the breaker is reset.
	KindLoop Kind = "loop"
	// KindInitialization means the core failed to reach a usable state.
	KindInitialization Kind = "initialization"
	// KindNavigation is a single failed redirect attempt. Retryable.
	KindNavigation Kind = "navigation"
	// KindValidation is a malformed path or parameter.
	KindValidation Kind = "validation"
	// KindPersistence means the shared channel could not be read or
	// written. The core degrades to single-context operation.
	KindPersistence Kind = "persistence"
)

// Severity ranks a report for triage.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// severityFor assigns severity deterministically from the failure kind.
func severityFor(kind Kind) Severity {
	switch kind {
	case KindLoop:
		return SeverityCritical
	case KindInitialization:
		return SeverityHigh
	case KindNavigation:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// rank orders severities for urgency aggregation.
func rank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Context carries the circumstances of a failure. All fields are optional.
type Context struct {
	URL            string   `json:"url,omitempty"`
	Path           string   `json:"path,omitempty"`
	PrincipalID    string   `json:"principal_id,omitempty"`
	ComponentTrace []string `json:"component_trace,omitempty"`
	// RecoveryAttempts counts how many times the caller retried the
	// failing operation before reporting it.
	RecoveryAttempts int `json:"recovery_attempts,omitempty"`
}

// Report is one recorded failure.
type Report struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Kind             Kind      `json:"kind"`
	Message          string    `json:"message"`
	Path             string    `json:"path,omitempty"`
	URL              string    `json:"url,omitempty"`
	SessionID        string    `json:"session_id"`
	PrincipalID      string    `json:"principal_id,omitempty"`
	ComponentTrace   []string  `json:"component_trace,omitempty"`
	PriorReportCount int       `json:"prior_report_count"`
	Severity         Severity  `json:"severity"`
	RecoveryAttempts int       `json:"recovery_attempts"`
	Resolved         bool      `json:"resolved"`
}

// Reporter is the narrow interface the rest of the core uses to report
// failures. A nil Reporter is never passed; callers hold the concrete
// Analyzer or a no-op.
type Reporter interface {
	ReportError(kind Kind, err error, rctx Context) Report
}

// Discard is a Reporter that drops every report.
var Discard Reporter = discard{}

type discard struct{}

func (discard) ReportError(Kind, error, Context) Report { return Report{} }
