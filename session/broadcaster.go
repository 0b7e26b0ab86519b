package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jmcleod/sessionsync/channel"
	"github.com/jmcleod/sessionsync/telemetry"
)

// Broadcaster mirrors local session transitions onto the shared channel
// and applies sibling contexts' transitions back into the local store.
// Conflicts are resolved purely by sequence number at the store; the
// channel itself is an unlocked last-write-wins slot.
//
// When the channel is unavailable the broadcaster degrades to
// single-context operation: the store keeps working, the failure is
// reported as a persistence error, and nothing is mirrored.
type Broadcaster struct {
	store    *Store
	ch       channel.Channel
	logger   *slog.Logger
	reporter telemetry.Reporter
	notice   NoticeFunc

	unsubscribe func()
	cancelWatch func()
	closeOnce   sync.Once
	degraded    atomic.Bool
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithBroadcasterLogger sets the structured logger.
func WithBroadcasterLogger(logger *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		b.logger = logger.With("component", "broadcast")
	}
}

// WithBroadcasterReporter sets the failure reporter.
func WithBroadcasterReporter(r telemetry.Reporter) BroadcasterOption {
	return func(b *Broadcaster) {
		b.reporter = r
	}
}

// WithBroadcasterNotice sets the callback for "elsewhere" notices.
func WithBroadcasterNotice(fn NoticeFunc) BroadcasterOption {
	return func(b *Broadcaster) {
		b.notice = fn
	}
}

// NewBroadcaster binds store to ch and starts mirroring. The channel's
// current record is adopted immediately so a freshly opened context never
// starts from stale state. The broadcaster does not own ch; the caller
// closes it.
func NewBroadcaster(store *Store, ch channel.Channel, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		store:    store,
		ch:       ch,
		logger:   slog.Default().With("component", "broadcast"),
		reporter: telemetry.Discard,
	}
	for _, opt := range opts {
		opt(b)
	}

	rec, ok, err := ch.Load()
	if err != nil {
		b.degrade("reading channel at startup", err)
		return b
	}
	if ok && rec.Sequence > store.Current().Sequence {
		// Adopt silently: this is initial state, not a live transition.
		store.Apply(eventFromRecord(rec))
	}

	b.unsubscribe = store.Subscribe(b.onStoreEvent)
	cancelWatch, err := ch.Watch(b.onRemoteRecord)
	if err != nil {
		b.unsubscribe()
		b.unsubscribe = nil
		b.degrade("watching channel", err)
		return b
	}
	b.cancelWatch = cancelWatch
	return b
}

// Degraded reports whether the broadcaster gave up on the channel and the
// context is operating alone.
func (b *Broadcaster) Degraded() bool {
	return b.degraded.Load()
}

// Close detaches from the store and the channel. Idempotent.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		if b.unsubscribe != nil {
			b.unsubscribe()
		}
		if b.cancelWatch != nil {
			b.cancelWatch()
		}
	})
}

func (b *Broadcaster) degrade(during string, err error) {
	b.degraded.Store(true)
	b.logger.Warn("channel unavailable, operating single-context",
		"during", during, "error", err)
	b.reporter.ReportError(telemetry.KindPersistence, err, telemetry.Context{
		ComponentTrace: []string{"broadcaster"},
	})
}

// onStoreEvent mirrors locally-originated transitions onto the channel
// and surfaces notices for delivered remote ones. Notices hang off the
// store's delivery rather than Apply's return value: a remote event that
// arrives mid-delivery is queued and applied afterwards, and its notice
// must not be lost with it.
func (b *Broadcaster) onStoreEvent(ev Event) {
	if ev.Source == SourceLocal {
		if err := b.ch.Store(recordFromEvent(ev)); err != nil {
			b.logger.Warn("publishing transition failed", "type", ev.Type, "error", err)
			b.reporter.ReportError(telemetry.KindPersistence, err, telemetry.Context{
				ComponentTrace: []string{"broadcaster"},
			})
		}
		return
	}
	if b.notice == nil {
		return
	}
	switch ev.Type {
	case EventLogin:
		pid := ""
		if ev.Principal != nil {
			pid = ev.Principal.ID
		}
		b.notice(Notice{Kind: NoticeLoggedInElsewhere, PrincipalID: pid})
	case EventLogout:
		b.notice(Notice{Kind: NoticeLoggedOutElsewhere})
	case EventTimeout:
		if b.store.Current().State == StateExpired {
			b.notice(Notice{Kind: NoticeExpired})
		}
	}
}

// onRemoteRecord feeds a sibling's record through the store's sequence
// rule. Delivery, and any notice, follows via the store subscription.
func (b *Broadcaster) onRemoteRecord(rec channel.Record) {
	b.store.Apply(eventFromRecord(rec))
}

// recordFromEvent builds the wire record for a local event. The principal
// is cleared on logout so a context opened later never observes a stale
// authenticated identity.
func recordFromEvent(ev Event) channel.Record {
	rec := channel.Record{
		Sequence:  ev.Sequence,
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
	}
	if ev.Principal != nil && ev.Type != EventLogout {
		rec.PrincipalID = ev.Principal.ID
	}
	return rec
}

// eventFromRecord decodes a wire record into a remote-sourced event.
func eventFromRecord(rec channel.Record) Event {
	ev := Event{
		Type:      EventType(rec.Type),
		Source:    SourceRemote,
		Timestamp: rec.Timestamp,
		Sequence:  rec.Sequence,
	}
	if rec.PrincipalID != "" {
		ev.Principal = &Principal{ID: rec.PrincipalID}
	}
	return ev
}
