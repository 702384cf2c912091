// Package manager shards segmentation across goroutines by ssvid. Each
// vessel identifier gets its own Segmenter and its own inbound queue, so
// messages for one ssvid are always processed in the order they arrive
// while different vessels are segmented concurrently.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trackline/aissegment/internal/aismsg"
	"github.com/trackline/aissegment/internal/metrics"
	"github.com/trackline/aissegment/internal/segment"
	"github.com/trackline/aissegment/internal/segmenter"
	"github.com/trackline/aissegment/pkg/utils"
)

// Config controls queue depth and idle-shard eviction.
type Config struct {
	QueueSize   int
	IdleTimeout time.Duration
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{QueueSize: 256, IdleTimeout: 30 * time.Minute}
}

// Sink receives every Tagged result produced by a shard, and every segment
// a shard flushes when it is retired. Implementations must be safe for
// concurrent use: shards call them from their own goroutines.
type Sink interface {
	Accept(out segmenter.Tagged)
	Retire(ssvid int64, flushed []RetiredSegment, reason EvictReason)
}

// EvictReason distinguishes why a shard was torn down, so a Sink can decide
// whether any persisted state for that ssvid is still worth keeping around.
type EvictReason int

const (
	// EvictIdle means the shard's queue received nothing within the
	// configured idle timeout. Its active segments were flushed (and so are
	// no longer resumable from the Segmenter's own state), but the vessel
	// may well transmit again later, so a Sink should leave any persisted
	// checkpoint for it in place rather than eagerly delete it.
	EvictIdle EvictReason = iota
	// EvictForced means an operator explicitly requested the shard be
	// flushed and torn down via the admin API.
	EvictForced
	// EvictShutdown means the whole Manager is shutting down.
	EvictShutdown
	// EvictFatal means the shard's Segmenter returned an UnsortedInputError
	// and was torn down without flushing; a Sink never sees this reason
	// since evict skips Retire entirely in this case.
	EvictFatal
)

// RetiredSegment pairs a flushed segment with the ssvid it belongs to, for
// callers that only hold the Sink interface.
type RetiredSegment = segmenter.SegmentSnapshot

type shard struct {
	ssvid   int64
	inbox   chan aismsg.Message
	seg     *segmenter.Segmenter
	done    chan struct{}
	wg      sync.WaitGroup
	lastHit guardedTime
}

// guardedTime wraps a time.Time behind a mutex; shards are read by the
// reaper from a different goroutine than the one that updates them.
type guardedTime struct {
	mu sync.Mutex
	t  time.Time
}

func (g *guardedTime) set(t time.Time) {
	g.mu.Lock()
	g.t = t
	g.mu.Unlock()
}

func (g *guardedTime) get() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.t
}

// Manager owns one Segmenter per ssvid and routes incoming messages to the
// right one, creating shards lazily and evicting them after a period of
// inactivity.
type Manager struct {
	cfg       Config
	segCfg    segmenter.Config
	log       *utils.Logger
	sink      Sink
	errSink   func(ssvid int64, err error)

	mu     sync.Mutex
	shards map[int64]*shard

	reaperDone chan struct{}
	wg         sync.WaitGroup
}

// New constructs a Manager. errSink, if non-nil, is called whenever a
// shard's Segmenter returns a fatal error (an UnsortedInputError); the
// shard is torn down afterward since the Segmenter is no longer usable.
func New(cfg Config, segCfg segmenter.Config, log *utils.Logger, sink Sink, errSink func(ssvid int64, err error)) *Manager {
	if log == nil {
		log = utils.NewLogger("info", "text")
	}
	m := &Manager{
		cfg:        cfg,
		segCfg:     segCfg,
		log:        log,
		sink:       sink,
		errSink:    errSink,
		shards:     make(map[int64]*shard),
		reaperDone: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.reap()
	return m
}

// Submit enqueues msg for its ssvid's shard, creating the shard if this is
// the first message seen for that vessel. It returns an error if the
// shard's queue is full rather than blocking the caller.
func (m *Manager) Submit(msg aismsg.Message) error {
	sh := m.shardFor(msg.SSVID)
	select {
	case sh.inbox <- msg:
		sh.lastHit.set(time.Now())
		return nil
	default:
		metrics.ManagerSubmitErrors.Inc()
		return fmt.Errorf("manager: queue full for ssvid %d", msg.SSVID)
	}
}

func (m *Manager) shardFor(ssvid int64) *shard {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sh, ok := m.shards[ssvid]; ok {
		return sh
	}

	sh := &shard{
		ssvid: ssvid,
		inbox: make(chan aismsg.Message, m.cfg.QueueSize),
		seg:   segmenter.New(ssvid, m.segCfg, m.log),
		done:  make(chan struct{}),
	}
	sh.lastHit.set(time.Now())
	m.shards[ssvid] = sh

	sh.wg.Add(1)
	go m.runShard(sh)

	metrics.ManagerActiveShards.Set(float64(len(m.shards)))
	m.log.WithField("ssvid", ssvid).Debug("spawned shard")
	return sh
}

func (m *Manager) runShard(sh *shard) {
	defer sh.wg.Done()
	for {
		select {
		case msg := <-sh.inbox:
			out, err := sh.seg.Process(msg)
			if err != nil {
				m.log.WithField("ssvid", sh.ssvid).Warn("shard fatal error, tearing down: " + err.Error())
				if m.errSink != nil {
					m.errSink(sh.ssvid, err)
				}
				// evict waits for this goroutine to exit, so it must run
				// on its own goroutine.
				go m.evict(sh.ssvid, false, EvictFatal)
				return
			}
			if m.sink != nil {
				m.sink.Accept(out)
			}
		case <-sh.done:
			return
		}
	}
}

// reap periodically evicts shards that have received nothing within the
// configured idle timeout, flushing their active segments first.
func (m *Manager) reap() {
	defer m.wg.Done()
	interval := m.cfg.IdleTimeout / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepIdle()
		case <-m.reaperDone:
			return
		}
	}
}

func (m *Manager) sweepIdle() {
	now := time.Now()
	var stale []int64
	m.mu.Lock()
	for ssvid, sh := range m.shards {
		if now.Sub(sh.lastHit.get()) > m.cfg.IdleTimeout {
			stale = append(stale, ssvid)
		}
	}
	m.mu.Unlock()

	for _, ssvid := range stale {
		m.evict(ssvid, true, EvictIdle)
	}
}

// evict tears down a shard, optionally flushing its remaining active
// segments to the sink first (skipped when the shard is already dead from
// a fatal Process error, since its state cannot be trusted further).
func (m *Manager) evict(ssvid int64, flush bool, reason EvictReason) {
	m.mu.Lock()
	sh, ok := m.shards[ssvid]
	if ok {
		delete(m.shards, ssvid)
	}
	metrics.ManagerActiveShards.Set(float64(len(m.shards)))
	m.mu.Unlock()
	if !ok {
		return
	}
	if flush {
		metrics.ManagerShardsEvicted.Inc()
	}

	close(sh.done)
	sh.wg.Wait()

	if flush && m.sink != nil {
		flushed := sh.seg.Flush()
		snaps := make([]RetiredSegment, 0, len(flushed))
		for _, seg := range flushed {
			snaps = append(snaps, RetiredSegment{
				ID:                seg.ID,
				Kind:              seg.Kind,
				Born:              seg.Born,
				MsgCount:          seg.MsgCount,
				LastPositionalMsg: seg.LastPositionalMsg,
				LastMsg:           seg.LastMsg,
			})
		}
		m.sink.Retire(ssvid, snaps, reason)
	}
	m.log.WithField("ssvid", ssvid).Debug("evicted shard")
}

// ActiveShards reports how many vessel identifiers currently have a live
// shard, for diagnostics and tests.
func (m *Manager) ActiveShards() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.shards)
}

// Active returns the active segment set for one ssvid, without creating a
// shard if none exists yet. ok is false if the ssvid has no live shard.
func (m *Manager) Active(ssvid int64) (segs []*segment.Segment, ok bool) {
	m.mu.Lock()
	sh, found := m.shards[ssvid]
	m.mu.Unlock()
	if !found {
		return nil, false
	}
	return sh.seg.Active(), true
}

// AllActive returns every live shard's active segment set, keyed by ssvid.
// Used by the debug/geospatial API surface; it is a point-in-time snapshot,
// not a live view.
func (m *Manager) AllActive() map[int64][]*segment.Segment {
	m.mu.Lock()
	shards := make([]*shard, 0, len(m.shards))
	ssvids := make([]int64, 0, len(m.shards))
	for ssvid, sh := range m.shards {
		ssvids = append(ssvids, ssvid)
		shards = append(shards, sh)
	}
	m.mu.Unlock()

	out := make(map[int64][]*segment.Segment, len(shards))
	for i, sh := range shards {
		out[ssvids[i]] = sh.seg.Active()
	}
	return out
}

// Snapshot captures every live shard's Segmenter state, keyed by ssvid, for
// persistence between restarts.
func (m *Manager) Snapshot() map[int64]segmenter.Snapshot {
	m.mu.Lock()
	ssvids := make([]int64, 0, len(m.shards))
	shards := make([]*shard, 0, len(m.shards))
	for ssvid, sh := range m.shards {
		ssvids = append(ssvids, ssvid)
		shards = append(shards, sh)
	}
	m.mu.Unlock()

	out := make(map[int64]segmenter.Snapshot, len(shards))
	for i, sh := range shards {
		out[ssvids[i]] = sh.seg.Snapshot()
	}
	return out
}

// Restore seeds the Manager with previously snapshotted shards. It must be
// called before the first Submit, while no shards yet exist.
func (m *Manager) Restore(snapshots map[int64]segmenter.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ssvid, snap := range snapshots {
		sh := &shard{
			ssvid: ssvid,
			inbox: make(chan aismsg.Message, m.cfg.QueueSize),
			seg:   segmenter.Restore(m.segCfg, m.log, snap),
			done:  make(chan struct{}),
		}
		sh.lastHit.set(time.Now())
		m.shards[ssvid] = sh
		sh.wg.Add(1)
		go m.runShard(sh)
	}
}

// ForceEvict tears down one ssvid's shard immediately, flushing its active
// segments to the sink. It reports whether a shard existed to evict.
func (m *Manager) ForceEvict(ssvid int64) bool {
	m.mu.Lock()
	_, ok := m.shards[ssvid]
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.evict(ssvid, true, EvictForced)
	return true
}

// Shutdown stops the reaper and every shard, flushing their active segments
// to the sink before returning.
func (m *Manager) Shutdown(ctx context.Context) error {
	close(m.reaperDone)

	m.mu.Lock()
	ssvids := make([]int64, 0, len(m.shards))
	for ssvid := range m.shards {
		ssvids = append(ssvids, ssvid)
	}
	m.mu.Unlock()

	for _, ssvid := range ssvids {
		m.evict(ssvid, true, EvictShutdown)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
