package telemetry

import (
	"strings"
	"time"
	"unicode"
)

// Pattern classifies error density within a sliding time window.
type Pattern string

const (
	// PatternNone: no errors in the window.
	PatternNone Pattern = "none"
	// PatternIsolated: a single error, or too few to see a shape.
	PatternIsolated Pattern = "isolated"
	// PatternRecurring: repeated errors of one kind.
	PatternRecurring Pattern = "recurring"
	// PatternCascading: more than two errors across more than one kind.
	PatternCascading Pattern = "cascading"
	// PatternSystematic: more than two distinct kinds failing together.
	PatternSystematic Pattern = "systematic"
)

// RootCause is a best-effort heuristic hint: the most frequent kind, the
// most frequent offending path, and the most frequent non-stopword token
// across messages. Advisory only, never authoritative.
type RootCause struct {
	Kind  Kind   `json:"kind,omitempty"`
	Path  string `json:"path,omitempty"`
	Token string `json:"token,omitempty"`
}

// Analysis is the result of classifying a window of reports.
type Analysis struct {
	Window    time.Duration `json:"window"`
	Total     int           `json:"total"`
	ByKind    map[Kind]int  `json:"by_kind"`
	Pattern   Pattern       `json:"pattern"`
	Urgency   Severity      `json:"urgency"`
	RootCause RootCause     `json:"root_cause"`
}

// stopwords are excluded from message token frequency.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "at": {}, "by": {}, "error": {},
	"failed": {}, "for": {}, "from": {}, "in": {}, "is": {}, "not": {},
	"of": {}, "on": {}, "or": {}, "the": {}, "to": {}, "with": {},
}

// AnalyzeErrors classifies the reports recorded within the trailing
// window.
func (a *Analyzer) AnalyzeErrors(window time.Duration) Analysis {
	a.mu.Lock()
	cutoff := a.now().Add(-window)
	var recent []Report
	for _, r := range a.reports {
		if !r.Timestamp.Before(cutoff) {
			recent = append(recent, r)
		}
	}
	a.mu.Unlock()

	analysis := Analysis{
		Window: window,
		Total:  len(recent),
		ByKind: make(map[Kind]int),
	}
	urgency := SeverityLow
	for _, r := range recent {
		analysis.ByKind[r.Kind]++
		if rank(r.Severity) > rank(urgency) {
			urgency = r.Severity
		}
	}
	analysis.Pattern = classify(len(recent), len(analysis.ByKind))
	if len(recent) == 0 {
		urgency = ""
	}
	analysis.Urgency = urgency
	analysis.RootCause = rootCause(recent)
	return analysis
}

func classify(total, kinds int) Pattern {
	switch {
	case total == 0:
		return PatternNone
	case total == 1:
		return PatternIsolated
	case kinds == 1:
		return PatternRecurring
	case kinds > 2 && total > 2:
		return PatternSystematic
	case total > 2:
		return PatternCascading
	default:
		return PatternIsolated
	}
}

func rootCause(reports []Report) RootCause {
	if len(reports) == 0 {
		return RootCause{}
	}
	kinds := make(map[Kind]int)
	paths := make(map[string]int)
	tokens := make(map[string]int)
	for _, r := range reports {
		kinds[r.Kind]++
		if r.Path != "" {
			paths[r.Path]++
		}
		for _, tok := range tokenize(r.Message) {
			tokens[tok]++
		}
	}
	return RootCause{
		Kind:  mostFrequent(kinds),
		Path:  mostFrequent(paths),
		Token: mostFrequent(tokens),
	}
}

func tokenize(msg string) []string {
	fields := strings.FieldsFunc(strings.ToLower(msg), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) < 3 {
			continue
		}
		if _, skip := stopwords[f]; skip {
			continue
		}
		out = append(out, f)
	}
	return out
}

// mostFrequent returns the key with the highest count, breaking ties by
// lexical order so results are deterministic.
func mostFrequent[K ~string](counts map[K]int) K {
	var best K
	bestN := 0
	for k, n := range counts {
		if n > bestN || (n == bestN && bestN > 0 && k < best) {
			best = k
			bestN = n
		}
	}
	return best
}
