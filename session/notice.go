package session

import "time"

// NoticeKind identifies a user-facing notice. Rendering is entirely the
// host application's responsibility; the core only emits these as data.
type NoticeKind string

const (
	NoticeLoggedInElsewhere  NoticeKind = "logged_in_elsewhere"
	NoticeLoggedOutElsewhere NoticeKind = "logged_out_elsewhere"
	NoticeExpiring           NoticeKind = "session_expiring"
	NoticeExpired            NoticeKind = "session_expired"
)

// Notice is a discrete user-facing event.
type Notice struct {
	Kind        NoticeKind    `json:"kind"`
	Remaining   time.Duration `json:"remaining,omitempty"`
	PrincipalID string        `json:"principal_id,omitempty"`
}

// NoticeFunc is the callback invoked when a notice should be surfaced.
type NoticeFunc func(Notice)
