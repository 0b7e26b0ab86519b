package filechan

import (
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sessionsync/channel"
)

func testRecord(seq uint64, typ string) channel.Record {
	return channel.Record{
		Sequence:    seq,
		Type:        typ,
		Timestamp:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		PrincipalID: "alice",
	}
}

func TestFileChannelStoreLoadClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel.json")
	ch, err := New(path)
	require.NoError(t, err)
	defer ch.Close()

	_, ok, err := ch.Load()
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, ch.Store(testRecord(1, "login")))
	rec, ok, err := ch.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), rec.Sequence)
	require.Equal(t, "alice", rec.PrincipalID)

	require.NoError(t, ch.Clear())
	_, ok, err = ch.Load()
	require.NoError(t, err)
	require.False(t, ok)
	// Clearing an already-empty slot is fine.
	require.NoError(t, ch.Clear())
}

func TestFileChannelSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel.json")

	a, err := New(path)
	require.NoError(t, err)
	require.NoError(t, a.Store(testRecord(3, "login")))
	require.NoError(t, a.Close())

	b, err := New(path)
	require.NoError(t, err)
	defer b.Close()
	rec, ok, err := b.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(3), rec.Sequence)
}

func TestFileChannelWatchAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channel.json")

	// Two instances on the same path stand in for two processes.
	writer, err := New(path, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer writer.Close()
	reader, err := New(path, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	defer reader.Close()

	var readerSaw, writerSaw atomic.Int64
	_, err = reader.Watch(func(rec channel.Record) {
		if rec.Sequence == 5 {
			readerSaw.Add(1)
		}
	})
	require.NoError(t, err)
	_, err = writer.Watch(func(channel.Record) { writerSaw.Add(1) })
	require.NoError(t, err)

	require.NoError(t, writer.Store(testRecord(5, "login")))

	require.Eventually(t, func() bool {
		return readerSaw.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond, "sibling never observed the write")

	// The writing context must not observe its own write, through either
	// fsnotify or the polling fallback.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, int64(0), writerSaw.Load())
}

func TestFileChannelCloseIdempotent(t *testing.T) {
	ch, err := New(filepath.Join(t.TempDir(), "channel.json"))
	require.NoError(t, err)
	_, err = ch.Watch(func(channel.Record) {})
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	require.ErrorIs(t, ch.Store(testRecord(1, "login")), channel.ErrUnavailable)
}
