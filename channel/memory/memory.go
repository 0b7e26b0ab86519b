// Package memory provides an in-memory shared channel suitable for tests
// and single-process use. A Hub owns the slot; each simulated execution
// context opens its own Handle. Writes through one handle notify the
// watchers of every other handle, never the writer's own.
package memory

import (
	"sync"

	"github.com/jmcleod/sessionsync/channel"
)

// Hub holds the shared slot for a set of sibling handles.
type Hub struct {
	mu      sync.Mutex
	rec     channel.Record
	present bool
	handles map[*Handle]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{handles: make(map[*Handle]struct{})}
}

// Open creates a new handle representing one execution context.
func (h *Hub) Open() *Handle {
	hd := &Handle{
		hub:      h,
		watchers: make(map[int]func(channel.Record)),
	}
	h.mu.Lock()
	h.handles[hd] = struct{}{}
	h.mu.Unlock()
	return hd
}

// store overwrites the slot and notifies every handle except from.
func (h *Hub) store(rec channel.Record, from *Handle) {
	h.mu.Lock()
	h.rec = rec
	h.present = true
	siblings := make([]*Handle, 0, len(h.handles))
	for hd := range h.handles {
		if hd != from {
			siblings = append(siblings, hd)
		}
	}
	h.mu.Unlock()
	for _, hd := range siblings {
		hd.notify(rec)
	}
}

func (h *Hub) clear() {
	h.mu.Lock()
	h.rec = channel.Record{}
	h.present = false
	h.mu.Unlock()
}

func (h *Hub) load() (channel.Record, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rec, h.present
}

func (h *Hub) drop(hd *Handle) {
	h.mu.Lock()
	delete(h.handles, hd)
	h.mu.Unlock()
}

// Handle is one context's view of the hub's slot.
type Handle struct {
	hub      *Hub
	mu       sync.Mutex
	watchers map[int]func(channel.Record)
	nextID   int
	closed   bool
}

var _ channel.Channel = (*Handle)(nil)

func (hd *Handle) Load() (channel.Record, bool, error) {
	if hd.isClosed() {
		return channel.Record{}, false, channel.ErrUnavailable
	}
	rec, ok := hd.hub.load()
	return rec, ok, nil
}

func (hd *Handle) Store(rec channel.Record) error {
	if hd.isClosed() {
		return channel.ErrUnavailable
	}
	hd.hub.store(rec, hd)
	return nil
}

func (hd *Handle) Clear() error {
	if hd.isClosed() {
		return channel.ErrUnavailable
	}
	hd.hub.clear()
	return nil
}

func (hd *Handle) Watch(fn func(channel.Record)) (func(), error) {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	if hd.closed {
		return nil, channel.ErrUnavailable
	}
	id := hd.nextID
	hd.nextID++
	hd.watchers[id] = fn
	return func() {
		hd.mu.Lock()
		delete(hd.watchers, id)
		hd.mu.Unlock()
	}, nil
}

func (hd *Handle) Close() error {
	hd.mu.Lock()
	if hd.closed {
		hd.mu.Unlock()
		return nil
	}
	hd.closed = true
	hd.watchers = make(map[int]func(channel.Record))
	hd.mu.Unlock()
	hd.hub.drop(hd)
	return nil
}

func (hd *Handle) isClosed() bool {
	hd.mu.Lock()
	defer hd.mu.Unlock()
	return hd.closed
}

// notify invokes the handle's watchers outside the hub lock.
func (hd *Handle) notify(rec channel.Record) {
	hd.mu.Lock()
	fns := make([]func(channel.Record), 0, len(hd.watchers))
	for _, fn := range hd.watchers {
		fns = append(fns, fn)
	}
	hd.mu.Unlock()
	for _, fn := range fns {
		fn(rec)
	}
}
