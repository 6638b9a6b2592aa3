package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAndLookup(t *testing.T) {
	l := New()
	now := time.Now()

	l.Record(Entry{DeviceID: "device-1", DisconnectedAt: now, WasActiveSender: true})

	entry, ok := l.Lookup("device-1")
	require.True(t, ok)
	assert.True(t, entry.WasActiveSender)
	assert.Equal(t, now, entry.DisconnectedAt)
}

func TestLookup_UnknownDeviceReturnsFalse(t *testing.T) {
	l := New()
	_, ok := l.Lookup("ghost")
	assert.False(t, ok)
}

// Only the most recent disconnect is kept per device.
func TestRecord_OverwritesPreviousEntryForSameDevice(t *testing.T) {
	l := New()
	t1 := time.Now()
	t2 := t1.Add(time.Minute)

	l.Record(Entry{DeviceID: "device-1", DisconnectedAt: t1, WasActiveSender: true})
	l.Record(Entry{DeviceID: "device-1", DisconnectedAt: t2, WasActiveSender: false})

	entry, ok := l.Lookup("device-1")
	require.True(t, ok)
	assert.Equal(t, t2, entry.DisconnectedAt)
	assert.False(t, entry.WasActiveSender)
}
