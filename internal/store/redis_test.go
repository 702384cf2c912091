package store

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/trackline/aissegment/internal/aismsg"
	"github.com/trackline/aissegment/internal/config"
	"github.com/trackline/aissegment/internal/discrepancy"
	"github.com/trackline/aissegment/internal/segment"
	"github.com/trackline/aissegment/internal/segmenter"
	"github.com/trackline/aissegment/pkg/utils"
)

// SnapshotStoreTestSuite runs against a real Redis on a dedicated test DB,
// matching the isolation the application's own TTL/eviction policy needs to
// be exercised honestly (a miniredis or mock would not apply the server's
// real TTL expiry).
type SnapshotStoreTestSuite struct {
	suite.Suite
	store  *SnapshotStore
	client *redis.Client
	ctx    context.Context
}

func (ts *SnapshotStoreTestSuite) SetupSuite() {
	ts.ctx = context.Background()

	cfg := config.RedisConfig{
		URL:         "redis://localhost:6379",
		DB:          15,
		SnapshotTTL: 48 * time.Hour,
	}
	logger := utils.NewLogger("info", "text")

	var err error
	ts.store, err = NewSnapshotStore(cfg, logger)
	require.NoError(ts.T(), err)
	ts.client = ts.store.client

	if err := ts.client.Ping(ts.ctx).Err(); err != nil {
		ts.T().Skip("Redis not available for testing: " + err.Error())
	}
}

func (ts *SnapshotStoreTestSuite) SetupTest() {
	require.NoError(ts.T(), ts.client.FlushDB(ts.ctx).Err())
}

func (ts *SnapshotStoreTestSuite) TearDownSuite() {
	if ts.client != nil {
		ts.client.FlushDB(ts.ctx)
		ts.store.Close()
	}
}

// sampleSnapshot builds a Snapshot carrying an IMO and a TypeClass identity
// observation, the two attribute kinds whose round-trip the numeric-type
// fix depends on.
func sampleSnapshot(ssvid int64, at time.Time) segmenter.Snapshot {
	imo := int64(9312345)
	return segmenter.Snapshot{
		SSVID:         ssvid,
		HaveLast:      true,
		LastTimestamp: at,
		SeqByTime:     map[string]int{at.UTC().Format(time.RFC3339): 1},
		Segments: []segmenter.SegmentSnapshot{
			{
				ID:       "seg-1",
				Kind:     segment.Positional,
				Born:     at,
				MsgCount: 2,
				LastPositionalMsg: &segment.PositionalState{
					MsgID:     "m1",
					Timestamp: at,
					Position:  discrepancy.Position{Lat: 10, Lon: 20},
					Speed:     5,
					Course:    90,
					Type:      1,
				},
				LastMsg: &segment.LastMsgState{MsgID: "m2", Timestamp: at},
				Identity: []segment.AttrEntrySnapshot{
					{
						Attr:       aismsg.AttrIMO,
						Value:      imo,
						FirstSeen:  at,
						LastSeen:   at,
						Timestamps: []time.Time{at},
					},
					{
						Attr:       aismsg.AttrTypeClass,
						Value:      aismsg.TypeClassA,
						FirstSeen:  at,
						LastSeen:   at,
						Timestamps: []time.Time{at},
					},
				},
			},
		},
	}
}

func (ts *SnapshotStoreTestSuite) TestSaveAndLoadRoundTrip() {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := sampleSnapshot(555, at)

	require.NoError(ts.T(), ts.store.Save(ts.ctx, 555, snap))

	loaded, ok, err := ts.store.Load(ts.ctx, 555)
	require.NoError(ts.T(), err)
	require.True(ts.T(), ok)
	require.Len(ts.T(), loaded.Segments, 1)

	identCfg := segment.DefaultIdentityStoreConfig()
	identity := segment.RestoreIdentityStore(identCfg, loaded.Segments[0].Identity)

	// This is the regression check the type-erasure bug would have failed:
	// a restored IMO decoded into float64 never matches the typed int64
	// comparison IdentityStore.Compare performs.
	require.Equal(ts.T(), segment.Match, identity.Compare(aismsg.AttrIMO, int64(9312345), true, at))
	require.Equal(ts.T(), segment.Match, identity.Compare(aismsg.AttrTypeClass, aismsg.TypeClassA, true, at))
}

func (ts *SnapshotStoreTestSuite) TestLoadMissingReportsNotOK() {
	_, ok, err := ts.store.Load(ts.ctx, 999999)
	require.NoError(ts.T(), err)
	require.False(ts.T(), ok)
}

func (ts *SnapshotStoreTestSuite) TestSaveAllAndLoadAll() {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := map[int64]segmenter.Snapshot{
		111: sampleSnapshot(111, at),
		222: sampleSnapshot(222, at),
	}
	require.NoError(ts.T(), ts.store.SaveAll(ts.ctx, snaps))

	loaded, err := ts.store.LoadAll(ts.ctx)
	require.NoError(ts.T(), err)
	require.Contains(ts.T(), loaded, int64(111))
	require.Contains(ts.T(), loaded, int64(222))
}

func (ts *SnapshotStoreTestSuite) TestDeleteRemovesSnapshot() {
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(ts.T(), ts.store.Save(ts.ctx, 333, sampleSnapshot(333, at)))

	require.NoError(ts.T(), ts.store.Delete(ts.ctx, 333))

	_, ok, err := ts.store.Load(ts.ctx, 333)
	require.NoError(ts.T(), err)
	require.False(ts.T(), ok)
}

func TestSnapshotStoreSuite(t *testing.T) {
	suite.Run(t, new(SnapshotStoreTestSuite))
}

// TestSnapshotKeyFormat does not require a live Redis; it pins down the key
// layout LoadAll's Sscanf parse depends on.
func TestSnapshotKeyFormat(t *testing.T) {
	require.Equal(t, "aissegment:snapshot:42", snapshotKey(42))
}
