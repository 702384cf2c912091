package segment

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackline/aissegment/internal/aismsg"
)

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func baseMsg(at time.Time) aismsg.Message {
	return aismsg.Message{
		ID:        "m1",
		SSVID:     123456789,
		Timestamp: at,
		Lat:       f(10),
		Lon:       f(20),
		Speed:     f(5),
		Course:    f(90),
		Type:      1,
		ShipName:  s("ALPHA"),
	}
}

func TestNewID(t *testing.T) {
	born := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	id := NewID(123456789, born, 2)
	assert.Equal(t, "123456789-20240304T050607Z-2", id)
}

func TestNewAndAdd(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := baseMsg(t0)

	seg := New("seg-1", msg.SSVID, Positional, DefaultIdentityStoreConfig(), msg)

	require.NotNil(t, seg.LastPositionalMsg)
	assert.Equal(t, 1, seg.MsgCount)
	assert.Equal(t, 10.0, seg.LastPositionalMsg.Position.Lat)
	assert.Equal(t, 20.0, seg.LastPositionalMsg.Position.Lon)
	assert.Equal(t, t0, seg.Born)
	assert.False(t, seg.Kind.Terminal())

	msg2 := baseMsg(t0.Add(10 * time.Minute))
	msg2.Lat = f(10.1)
	seg.Add(msg2)

	assert.Equal(t, 2, seg.MsgCount)
	assert.Equal(t, 10.1, seg.LastPositionalMsg.Position.Lat)
	assert.Equal(t, msg2.Timestamp, seg.LastMsg.Timestamp)
}

func TestAddInfoOnlyLeavesKinematicsUnchanged(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := baseMsg(t0)
	seg := New("seg-1", msg.SSVID, Positional, DefaultIdentityStoreConfig(), msg)

	infoMsg := aismsg.Message{
		ID:        "m2",
		SSVID:     msg.SSVID,
		Timestamp: t0.Add(time.Minute),
		Type:      5,
		ShipName:  s("ALPHA"),
	}
	seg.Add(infoMsg)

	assert.Equal(t, 2, seg.MsgCount)
	assert.Equal(t, "m1", seg.LastPositionalMsg.MsgID)
	assert.Equal(t, "m2", seg.LastMsg.MsgID)
}

func TestTerminalSegmentHasNoIdentityStore(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := baseMsg(t0)
	seg := New("seg-1", msg.SSVID, Noise, DefaultIdentityStoreConfig(), msg)

	matches := seg.IdentityMatches(aismsg.IdentityTuple{ShipName: s("ALPHA")}, t0)
	assert.Equal(t, Unknown, matches[aismsg.AttrShipName])
	assert.True(t, seg.Kind.Terminal())
	assert.False(t, seg.IsStale(t0.Add(999*time.Hour), 12))
}

func TestIdentityMatchesConfirmsAfterRepeatedObservation(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultIdentityStoreConfig()
	msg := baseMsg(t0)
	seg := New("seg-1", msg.SSVID, Positional, cfg, msg)

	// Single observation: not yet confirmed (ConfirmCount defaults to 2).
	matches := seg.IdentityMatches(aismsg.IdentityTuple{ShipName: s("ALPHA")}, t0)
	assert.Equal(t, Unknown, matches[aismsg.AttrShipName])

	// Second observation within the window confirms the value.
	msg2 := baseMsg(t0.Add(time.Minute))
	seg.Add(msg2)

	matches = seg.IdentityMatches(aismsg.IdentityTuple{ShipName: s("ALPHA")}, t0.Add(time.Minute))
	assert.Equal(t, Match, matches[aismsg.AttrShipName])

	matches = seg.IdentityMatches(aismsg.IdentityTuple{ShipName: s("BRAVO")}, t0.Add(time.Minute))
	assert.Equal(t, Mismatch, matches[aismsg.AttrShipName])
}

func TestIdentityStoreWindowExpiry(t *testing.T) {
	cfg := IdentityStoreConfig{ConfirmCount: 2, Window: 5 * time.Minute, Cap: 32}
	store := NewIdentityStore(cfg)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tuple := aismsg.IdentityTuple{ShipName: s("ALPHA")}
	store.Observe(tuple, t0)
	store.Observe(tuple, t0.Add(time.Minute))

	assert.Equal(t, Match, store.Compare(aismsg.AttrShipName, "ALPHA", true, t0.Add(time.Minute)))

	// Ten minutes later both prior observations have aged out of the
	// 5-minute window, so confirmation lapses until it is re-observed.
	assert.Equal(t, Unknown, store.Compare(aismsg.AttrShipName, "ALPHA", true, t0.Add(10*time.Minute)))
}

func TestIdentityStoreCapEvictsLRU(t *testing.T) {
	cfg := IdentityStoreConfig{ConfirmCount: 1, Window: time.Hour, Cap: 2}
	store := NewIdentityStore(cfg)
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	store.Observe(aismsg.IdentityTuple{ShipName: s("ALPHA")}, t0)
	store.Observe(aismsg.IdentityTuple{ShipName: s("BRAVO")}, t0.Add(time.Minute))
	// ALPHA is now the least-recently-seen; a third distinct value evicts it.
	store.Observe(aismsg.IdentityTuple{ShipName: s("CHARLIE")}, t0.Add(2*time.Minute))

	// With ALPHA gone, it conflicts with every remaining confirmed value.
	assert.Equal(t, Mismatch, store.Compare(aismsg.AttrShipName, "ALPHA", true, t0.Add(2*time.Minute)))
	assert.Equal(t, Match, store.Compare(aismsg.AttrShipName, "BRAVO", true, t0.Add(2*time.Minute)))
	assert.Equal(t, Match, store.Compare(aismsg.AttrShipName, "CHARLIE", true, t0.Add(2*time.Minute)))
}

func TestIsStale(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := baseMsg(t0)
	seg := New("seg-1", msg.SSVID, Positional, DefaultIdentityStoreConfig(), msg)

	assert.False(t, seg.IsStale(t0.Add(11*time.Hour), 12))
	assert.True(t, seg.IsStale(t0.Add(13*time.Hour), 12))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultIdentityStoreConfig()
	msg := baseMsg(t0)
	seg := New("seg-1", msg.SSVID, Positional, cfg, msg)
	seg.Add(baseMsg(t0.Add(time.Minute)))

	snapshot := seg.IdentitySnapshot()
	restored := Restore(seg.ID, seg.SSVID, seg.Kind, seg.Born, seg.MsgCount, seg.LastPositionalMsg, seg.LastMsg, cfg, snapshot)

	at := t0.Add(time.Minute)
	original := seg.IdentityMatches(aismsg.IdentityTuple{ShipName: s("ALPHA")}, at)
	roundTripped := restored.IdentityMatches(aismsg.IdentityTuple{ShipName: s("ALPHA")}, at)
	assert.Equal(t, original, roundTripped)
	assert.Equal(t, Match, roundTripped[aismsg.AttrShipName])
	assert.Equal(t, seg.MsgCount, restored.MsgCount)
}

func TestAddWithAbsentCourseAndSpeedRecordsNaN(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msg := baseMsg(t0)
	msg.Course = nil
	msg.Speed = nil

	seg := New("seg-1", msg.SSVID, Positional, DefaultIdentityStoreConfig(), msg)

	assert.True(t, math.IsNaN(seg.LastPositionalMsg.Course))
	assert.True(t, math.IsNaN(seg.LastPositionalMsg.Speed))
}
