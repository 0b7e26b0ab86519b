// Package filechan provides a file-backed shared channel for contexts
// running in separate processes. The slot is a small JSON file; writes are
// atomic (write to a temp file, then rename). Change detection uses
// fsnotify on the containing directory with a polling fallback for
// filesystems that do not deliver events.
package filechan

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jmcleod/sessionsync/channel"
)

const defaultPollInterval = 2 * time.Second

// Option configures a Channel.
type Option func(*Channel)

// WithPollInterval sets the polling fallback interval.
// Default: 2 seconds. A non-positive value disables polling.
func WithPollInterval(d time.Duration) Option {
	return func(c *Channel) {
		c.pollInterval = d
	}
}

// Channel is a file-backed shared slot.
type Channel struct {
	path         string
	pollInterval time.Duration

	mu       sync.Mutex
	watchers map[int]func(channel.Record)
	nextID   int
	lastSeen channel.Record
	hasSeen  bool
	closed   bool

	watchOnce sync.Once
	watchErr  error
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ channel.Channel = (*Channel)(nil)

// New creates a channel backed by the file at path. The containing
// directory is created if it does not exist.
func New(path string, opts ...Option) (*Channel, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	c := &Channel{
		path:         path,
		pollInterval: defaultPollInterval,
		watchers:     make(map[int]func(channel.Record)),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Channel) Load() (channel.Record, bool, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return channel.Record{}, false, channel.ErrUnavailable
	}
	return c.read()
}

func (c *Channel) read() (channel.Record, bool, error) {
	data, err := os.ReadFile(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return channel.Record{}, false, nil
	}
	if err != nil {
		return channel.Record{}, false, fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	if len(data) == 0 {
		return channel.Record{}, false, nil
	}
	rec, err := channel.Decode(data)
	if err != nil {
		return channel.Record{}, false, err
	}
	return rec, true, nil
}

func (c *Channel) Store(rec channel.Record) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return channel.ErrUnavailable
	}
	// Remember our own write so the watcher loop can suppress it.
	c.lastSeen = rec
	c.hasSeen = true
	c.mu.Unlock()

	data, err := channel.Encode(rec)
	if err != nil {
		return err
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	return nil
}

func (c *Channel) Clear() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return channel.ErrUnavailable
	}
	c.lastSeen = channel.Record{}
	c.hasSeen = false
	c.mu.Unlock()

	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}
	return nil
}

func (c *Channel) Watch(fn func(channel.Record)) (func(), error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, channel.ErrUnavailable
	}
	id := c.nextID
	c.nextID++
	c.watchers[id] = fn
	c.mu.Unlock()

	c.watchOnce.Do(c.startWatching)
	if c.watchErr != nil {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
		return nil, c.watchErr
	}
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}, nil
}

// startWatching starts fsnotify on the slot's directory, falling back to
// polling alone when the watcher cannot be created. Watching the directory
// rather than the file itself is required because Store replaces the file
// by rename.
func (c *Channel) startWatching() {
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if addErr := watcher.Add(filepath.Dir(c.path)); addErr != nil {
			watcher.Close()
			watcher = nil
		}
	} else {
		watcher = nil
	}
	if watcher == nil && c.pollInterval <= 0 {
		c.watchErr = fmt.Errorf("%w: no change notification mechanism available", channel.ErrUnavailable)
		return
	}

	if watcher != nil {
		c.wg.Add(1)
		go c.watchLoop(watcher)
	}
	if c.pollInterval > 0 {
		c.wg.Add(1)
		go c.pollLoop()
	}
}

func (c *Channel) watchLoop(watcher *fsnotify.Watcher) {
	defer c.wg.Done()
	defer watcher.Close()
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != c.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				c.checkForChange()
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (c *Channel) pollLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.checkForChange()
		}
	}
}

// checkForChange reads the slot and notifies watchers when it holds a
// record this context has not yet observed. Records written by this
// context are suppressed by sequence comparison.
func (c *Channel) checkForChange() {
	rec, ok, err := c.read()
	if err != nil || !ok {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.hasSeen && sameRecord(rec, c.lastSeen) {
		c.mu.Unlock()
		return
	}
	c.lastSeen = rec
	c.hasSeen = true
	fns := make([]func(channel.Record), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(rec)
	}
}

// sameRecord compares records field by field. Timestamps are compared with
// Equal because a decoded timestamp lacks the monotonic reading carried by
// one produced locally.
func sameRecord(a, b channel.Record) bool {
	return a.Sequence == b.Sequence &&
		a.Type == b.Type &&
		a.PrincipalID == b.PrincipalID &&
		a.Timestamp.Equal(b.Timestamp)
}

// Close stops the watcher goroutines and drops registered watchers.
// Idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.watchers = make(map[int]func(channel.Record))
	c.mu.Unlock()
	close(c.done)
	c.wg.Wait()
	return nil
}
