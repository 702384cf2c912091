package segmenter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackline/aissegment/internal/aismsg"
	"github.com/trackline/aissegment/internal/segment"
)

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

const ssvid = int64(123456789)

func posMsg(id string, at time.Time, lat, lon, speed, course float64) aismsg.Message {
	return aismsg.Message{
		ID:        id,
		SSVID:     ssvid,
		Timestamp: at,
		Lat:       f(lat),
		Lon:       f(lon),
		Speed:     f(speed),
		Course:    f(course),
		Type:      1,
	}
}

func TestStraightTrack(t *testing.T) {
	seg := New(ssvid, DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()

	out0, err := seg.Process(posMsg("m0", t0, 0, 0, 10, 90))
	require.NoError(t, err)
	out1, err := seg.Process(posMsg("m1", t0.Add(time.Hour), 0, 10.0/60, 10, 90))
	require.NoError(t, err)
	out2, err := seg.Process(posMsg("m2", t0.Add(2*time.Hour), 0, 20.0/60, 10, 90))
	require.NoError(t, err)

	expected := "123456789-19700101T000000Z-1"
	assert.Equal(t, expected, out0.SegmentID)
	assert.Equal(t, expected, out1.SegmentID)
	assert.Equal(t, expected, out2.SegmentID)
}

func TestTeleport(t *testing.T) {
	seg := New(ssvid, DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()

	out0, err := seg.Process(posMsg("m0", t0, 0, 0, 0, 0))
	require.NoError(t, err)
	out1, err := seg.Process(posMsg("m1", t0.Add(10*time.Minute), 20, 0, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, "123456789-19700101T000000Z-1", out0.SegmentID)
	assert.Equal(t, "123456789-19700101T001000Z-1", out1.SegmentID)
}

func TestNoiseDuplicate(t *testing.T) {
	seg := New(ssvid, DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()

	out0, err := seg.Process(posMsg("m0", t0, 0, 0, 0, 0))
	require.NoError(t, err)
	out1, err := seg.Process(posMsg("m1", t0.Add(30*time.Second), 0.0001, 0.0001, 0, 0))
	require.NoError(t, err)
	out2, err := seg.Process(posMsg("m2", t0.Add(time.Hour), 0, 10.0/60, 10, 90))
	require.NoError(t, err)

	assert.Equal(t, "123456789-19700101T000000Z-1", out0.SegmentID)
	assert.Equal(t, "123456789-19700101T000030Z-1", out1.SegmentID)
	assert.Equal(t, "123456789-19700101T000000Z-1", out2.SegmentID)
}

func TestIdentitySplit(t *testing.T) {
	seg := New(ssvid, DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()

	// ALPHA needs two observations within the window before it counts as
	// confirmed, so the split only shows up once the segment has absorbed
	// a second ALPHA message.
	m0a := posMsg("m0a", t0, 0, 0, 5, 90)
	m0a.ShipName = s("ALPHA")
	m0b := posMsg("m0b", t0.Add(time.Minute), 0, 0.0025, 5, 90)
	m0b.ShipName = s("ALPHA")
	m1 := posMsg("m1", t0.Add(2*time.Minute), 0, 0.005, 5, 90)
	m1.ShipName = s("BRAVO")
	m2 := posMsg("m2", t0.Add(3*time.Minute), 0, 0.0075, 5, 90)
	m2.ShipName = s("ALPHA")

	out0a, err := seg.Process(m0a)
	require.NoError(t, err)
	out0b, err := seg.Process(m0b)
	require.NoError(t, err)
	out1, err := seg.Process(m1)
	require.NoError(t, err)
	out2, err := seg.Process(m2)
	require.NoError(t, err)

	assert.Equal(t, out0a.SegmentID, out0b.SegmentID, "second ALPHA observation extends the same segment")
	assert.NotEqual(t, out0a.SegmentID, out1.SegmentID, "BRAVO conflicts with confirmed ALPHA, forcing a new segment")
	assert.Equal(t, out0a.SegmentID, out2.SegmentID, "ALPHA reappearing reassigns to its original segment")
}

func TestGapRetirement(t *testing.T) {
	seg := New(ssvid, DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()

	out0, err := seg.Process(posMsg("m0", t0, 0, 0, 0, 0))
	require.NoError(t, err)
	out1, err := seg.Process(posMsg("m1", t0.Add(25*time.Hour), 0, 1.0/60, 0, 0))
	require.NoError(t, err)

	assert.Equal(t, "123456789-19700101T000000Z-1", out0.SegmentID)
	assert.Equal(t, "123456789-19700102T010000Z-1", out1.SegmentID)
	require.Len(t, seg.Active(), 1, "stale segment should have been retired")
	assert.Equal(t, out1.SegmentID, seg.Active()[0].ID)
}

func TestBadValue(t *testing.T) {
	seg := New(ssvid, DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()

	bad := posMsg("m0", t0, 95.0, 0, 0, 0)
	out0, err := seg.Process(bad)
	require.NoError(t, err)
	assert.Empty(t, seg.Active())

	out1, err := seg.Process(posMsg("m1", t0.Add(time.Minute), 0, 0, 0, 0))
	require.NoError(t, err)

	assert.NotEqual(t, out0.SegmentID, out1.SegmentID)
	assert.Len(t, seg.Active(), 1)
	assert.Equal(t, out1.SegmentID, seg.Active()[0].ID)
}

func TestUnsortedInputIsFatal(t *testing.T) {
	seg := New(ssvid, DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()

	_, err := seg.Process(posMsg("m0", t0, 0, 0, 0, 0))
	require.NoError(t, err)

	_, err = seg.Process(posMsg("m1", t0.Add(-time.Minute), 0, 0, 0, 0))
	require.Error(t, err)
	var unsorted *UnsortedInputError
	require.ErrorAs(t, err, &unsorted)
	assert.Equal(t, ssvid, unsorted.SSVID)
}

func TestFlushClearsActiveSet(t *testing.T) {
	seg := New(ssvid, DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()
	_, err := seg.Process(posMsg("m0", t0, 0, 0, 0, 0))
	require.NoError(t, err)

	flushed := seg.Flush()
	require.Len(t, flushed, 1)
	assert.Empty(t, seg.Active())
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	seg := New(ssvid, cfg, nil)
	t0 := time.Unix(0, 0).UTC()

	m0 := posMsg("m0", t0, 0, 0, 10, 90)
	m0.ShipName = s("ALPHA")
	_, err := seg.Process(m0)
	require.NoError(t, err)
	m1 := posMsg("m1", t0.Add(time.Minute), 0, 10.0/600, 10, 90)
	m1.ShipName = s("ALPHA")
	_, err = seg.Process(m1)
	require.NoError(t, err)

	snap := seg.Snapshot()
	restored := Restore(cfg, nil, snap)

	// Feeding the next message to the restored Segmenter produces the same
	// assignment as continuing the original would have.
	next := posMsg("m2", t0.Add(2*time.Minute), 0, 20.0/600, 10, 90)
	next.ShipName = s("ALPHA")

	wantOut, err := seg.Process(next)
	require.NoError(t, err)
	gotOut, err := restored.Process(next)
	require.NoError(t, err)

	assert.Equal(t, wantOut.SegmentID, gotOut.SegmentID)
}

func TestCollectMatchStats(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CollectMatchStats = true
	seg := New(ssvid, cfg, nil)
	t0 := time.Unix(0, 0).UTC()

	_, err := seg.Process(posMsg("m0", t0, 0, 0, 10, 90))
	require.NoError(t, err)
	out1, err := seg.Process(posMsg("m1", t0.Add(time.Hour), 0, 10.0/60, 10, 90))
	require.NoError(t, err)

	require.Len(t, out1.Matches, 1)
}

func TestTotalityAndOrderPreservation(t *testing.T) {
	seg := New(ssvid, DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()

	var ids []string
	for i := 0; i < 5; i++ {
		out, err := seg.Process(posMsg("m", t0.Add(time.Duration(i)*time.Minute), 0, float64(i)/600, 5, 90))
		require.NoError(t, err)
		require.NotEmpty(t, out.SegmentID)
		ids = append(ids, out.SegmentID)
	}
	assert.Len(t, ids, 5)
}

func TestTerminalSegmentsNeverReappearInActiveSet(t *testing.T) {
	seg := New(ssvid, DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()
	_, err := seg.Process(posMsg("bad", t0, 999, 0, 0, 0))
	require.NoError(t, err)
	for _, active := range seg.Active() {
		assert.NotEqual(t, segment.Bad, active.Kind)
		assert.NotEqual(t, segment.Noise, active.Kind)
	}
}

func TestInfoOnlyMessageStartsInfoSegment(t *testing.T) {
	seg := New(ssvid, DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()
	info := aismsg.Message{
		ID:        "m0",
		SSVID:     ssvid,
		Timestamp: t0,
		Type:      5,
		ShipName:  s("ALPHA"),
	}
	_, err := seg.Process(info)
	require.NoError(t, err)
	require.Len(t, seg.Active(), 1)
	assert.Equal(t, segment.Info, seg.Active()[0].Kind)
}
