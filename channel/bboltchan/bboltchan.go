// Package bboltchan provides a BBolt-backed shared channel. The slot
// survives process restarts, so a freshly started context can adopt the
// last known session state without waiting for an event. BBolt holds an
// exclusive file lock, so sibling contexts within one process share a Hub;
// cross-process coordination should use the filechan package instead.
package bboltchan

import (
	"fmt"
	"sync"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/sessionsync/channel"
)

var (
	bucketName = []byte("__channel")
	slotKey    = []byte("current")
)

// Hub owns the BBolt database and fans out writes to sibling handles.
type Hub struct {
	db      *bbolt.DB
	ownsDB  bool
	mu      sync.Mutex
	handles map[*Handle]struct{}
}

// NewHub wraps an existing BBolt database.
func NewHub(db *bbolt.DB) (*Hub, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating channel bucket: %w", err)
	}
	return &Hub{db: db, handles: make(map[*Handle]struct{})}, nil
}

// NewHubFromFile opens a BBolt database at the given path and returns a
// hub backed by it. The hub closes the database when Close is called.
func NewHubFromFile(path string, options *bbolt.Options) (*Hub, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	h, err := NewHub(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	h.ownsDB = true
	return h, nil
}

// Open creates a handle representing one execution context.
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

// Close closes the database if the hub owns it. Idempotent.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.handles = make(map[*Handle]struct{})
	owns := h.ownsDB
	h.ownsDB = false
	h.mu.Unlock()
	if owns {
		return h.db.Close()
	}
	return nil
}

func (h *Hub) load() (channel.Record, bool, error) {
	var data []byte
	err := h.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		if v := b.Get(slotKey); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil {
		return channel.Record{}, false, fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	if data == nil {
		return channel.Record{}, false, nil
	}
	rec, err := channel.Decode(data)
	if err != nil {
		return channel.Record{}, false, err
	}
	return rec, true, nil
}

func (h *Hub) store(rec channel.Record, from *Handle) error {
	data, err := channel.Encode(rec)
	if err != nil {
		return err
	}
	err = h.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		return b.Put(slotKey, data)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}

	h.mu.Lock()
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
	return nil
}

func (h *Hub) clear() error {
	err := h.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		if b == nil {
			return nil
		}
		return b.Delete(slotKey)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	return nil
}

func (h *Hub) drop(hd *Handle) {
	h.mu.Lock()
	delete(h.handles, hd)
	h.mu.Unlock()
}

// Handle is one context's view of the persisted slot.
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
	return hd.hub.load()
}

func (hd *Handle) Store(rec channel.Record) error {
	if hd.isClosed() {
		return channel.ErrUnavailable
	}
	return hd.hub.store(rec, hd)
}

func (hd *Handle) Clear() error {
	if hd.isClosed() {
		return channel.ErrUnavailable
	}
	return hd.hub.clear()
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
