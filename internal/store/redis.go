// Package store persists Segmenter state across restarts (Redis) and
// archives retired segments for later analysis (MySQL).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trackline/aissegment/internal/config"
	"github.com/trackline/aissegment/internal/metrics"
	"github.com/trackline/aissegment/internal/segmenter"
	"github.com/trackline/aissegment/pkg/utils"
)

const snapshotKeyPrefix = "aissegment:snapshot:"

// SnapshotStore persists per-ssvid Segmenter snapshots in Redis so the
// manager can resume without re-deriving state from scratch after a
// restart.
type SnapshotStore struct {
	client *redis.Client
	logger *utils.Logger
	ttl    time.Duration
}

// NewSnapshotStore connects to Redis using cfg. It does not verify
// connectivity; call Ping.
func NewSnapshotStore(cfg config.RedisConfig, logger *utils.Logger) (*SnapshotStore, error) {
	if logger == nil {
		logger = utils.NewLogger("info", "text")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	opt.Password = cfg.Password
	opt.DB = cfg.DB
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	return &SnapshotStore{
		client: redis.NewClient(opt),
		logger: logger,
		ttl:    cfg.SnapshotTTL,
	}, nil
}

// Ping verifies connectivity.
func (s *SnapshotStore) Ping(ctx context.Context) error {
	if _, err := s.client.Ping(ctx).Result(); err != nil {
		metrics.RedisConnectionStatus.Set(0)
		return fmt.Errorf("store: redis ping: %w", err)
	}
	metrics.RedisConnectionStatus.Set(1)
	return nil
}

// Close releases the underlying connection pool.
func (s *SnapshotStore) Close() error {
	return s.client.Close()
}

func snapshotKey(ssvid int64) string {
	return fmt.Sprintf("%s%d", snapshotKeyPrefix, ssvid)
}

// Save writes one ssvid's Segmenter snapshot, refreshing its TTL.
func (s *SnapshotStore) Save(ctx context.Context, ssvid int64, snap segmenter.Snapshot) error {
	start := time.Now()
	defer func() { metrics.RedisOperationDuration.WithLabelValues("save_snapshot").Observe(time.Since(start).Seconds()) }()

	payload, err := json.Marshal(snap)
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("save_snapshot").Inc()
		return fmt.Errorf("store: marshal snapshot for ssvid %d: %w", ssvid, err)
	}

	if err := s.client.Set(ctx, snapshotKey(ssvid), payload, s.ttl).Err(); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("save_snapshot").Inc()
		return fmt.Errorf("store: save snapshot for ssvid %d: %w", ssvid, err)
	}
	return nil
}

// SaveAll writes every snapshot in snaps, continuing past individual
// failures and returning the first error encountered, if any.
func (s *SnapshotStore) SaveAll(ctx context.Context, snaps map[int64]segmenter.Snapshot) error {
	var firstErr error
	for ssvid, snap := range snaps {
		if err := s.Save(ctx, ssvid, snap); err != nil {
			s.logger.WithField("ssvid", ssvid).Warn("failed to save snapshot: " + err.Error())
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Load reads one ssvid's snapshot. ok is false if no snapshot exists (or it
// expired).
func (s *SnapshotStore) Load(ctx context.Context, ssvid int64) (snap segmenter.Snapshot, ok bool, err error) {
	start := time.Now()
	defer func() { metrics.RedisOperationDuration.WithLabelValues("load_snapshot").Observe(time.Since(start).Seconds()) }()

	payload, err := s.client.Get(ctx, snapshotKey(ssvid)).Bytes()
	if err == redis.Nil {
		return segmenter.Snapshot{}, false, nil
	}
	if err != nil {
		metrics.RedisOperationErrors.WithLabelValues("load_snapshot").Inc()
		return segmenter.Snapshot{}, false, fmt.Errorf("store: load snapshot for ssvid %d: %w", ssvid, err)
	}

	if err := json.Unmarshal(payload, &snap); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("load_snapshot").Inc()
		return segmenter.Snapshot{}, false, fmt.Errorf("store: unmarshal snapshot for ssvid %d: %w", ssvid, err)
	}
	return snap, true, nil
}

// LoadAll scans every persisted snapshot key and loads it. Intended for
// startup, before the manager begins accepting live traffic.
func (s *SnapshotStore) LoadAll(ctx context.Context) (map[int64]segmenter.Snapshot, error) {
	out := make(map[int64]segmenter.Snapshot)
	iter := s.client.Scan(ctx, 0, snapshotKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		var ssvid int64
		if _, err := fmt.Sscanf(iter.Val(), snapshotKeyPrefix+"%d", &ssvid); err != nil {
			s.logger.WithField("key", iter.Val()).Warn("skipping malformed snapshot key")
			continue
		}
		snap, ok, err := s.Load(ctx, ssvid)
		if err != nil {
			return nil, err
		}
		if ok {
			out[ssvid] = snap
		}
	}
	if err := iter.Err(); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("load_all_snapshots").Inc()
		return nil, fmt.Errorf("store: scan snapshot keys: %w", err)
	}
	return out, nil
}

// Delete removes one ssvid's snapshot, used once its shard is evicted and
// its segments have been archived instead of resumed.
func (s *SnapshotStore) Delete(ctx context.Context, ssvid int64) error {
	if err := s.client.Del(ctx, snapshotKey(ssvid)).Err(); err != nil {
		metrics.RedisOperationErrors.WithLabelValues("delete_snapshot").Inc()
		return fmt.Errorf("store: delete snapshot for ssvid %d: %w", ssvid, err)
	}
	return nil
}
