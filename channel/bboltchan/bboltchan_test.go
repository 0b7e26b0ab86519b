package bboltchan

import (
	"path/filepath"
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

func TestBoltChannel(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "channel.db")

	hub, err := NewHubFromFile(dbPath, nil)
	require.NoError(t, err)

	a := hub.Open()
	b := hub.Open()

	// Empty slot.
	_, ok, err := a.Load()
	require.NoError(t, err)
	require.False(t, ok)

	// Store through one handle, load through another.
	require.NoError(t, a.Store(testRecord(1, "login")))
	rec, ok, err := b.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(1), rec.Sequence)
	require.Equal(t, "alice", rec.PrincipalID)

	// Watch fires for siblings only.
	var aSaw, bSaw int
	_, err = a.Watch(func(channel.Record) { aSaw++ })
	require.NoError(t, err)
	_, err = b.Watch(func(channel.Record) { bSaw++ })
	require.NoError(t, err)
	require.NoError(t, a.Store(testRecord(2, "activity")))
	require.Equal(t, 0, aSaw)
	require.Equal(t, 1, bSaw)

	// Persistence across reopen.
	require.NoError(t, hub.Close())
	hub2, err := NewHubFromFile(dbPath, nil)
	require.NoError(t, err)
	defer hub2.Close()

	c := hub2.Open()
	rec, ok, err = c.Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), rec.Sequence)
	require.Equal(t, "activity", rec.Type)

	// Clear empties the persisted slot.
	require.NoError(t, c.Clear())
	_, ok, err = c.Load()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBoltChannelClosedHandle(t *testing.T) {
	hub, err := NewHubFromFile(filepath.Join(t.TempDir(), "channel.db"), nil)
	require.NoError(t, err)
	defer hub.Close()

	hd := hub.Open()
	require.NoError(t, hd.Close())
	require.NoError(t, hd.Close())
	require.ErrorIs(t, hd.Store(testRecord(1, "login")), channel.ErrUnavailable)
	_, _, err = hd.Load()
	require.ErrorIs(t, err, channel.ErrUnavailable)
}
