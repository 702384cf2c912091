// Package segmenter implements the per-vessel driver: it owns one ssvid's
// active segment set, retires stale segments, runs the matcher for each
// incoming message, and exposes snapshot/restore hooks for restart
// reproducibility.
package segmenter

import (
	"fmt"
	"time"

	"github.com/trackline/aissegment/internal/aismsg"
	"github.com/trackline/aissegment/internal/config"
	"github.com/trackline/aissegment/internal/discrepancy"
	"github.com/trackline/aissegment/internal/matcher"
	"github.com/trackline/aissegment/internal/metrics"
	"github.com/trackline/aissegment/internal/msgproc"
	"github.com/trackline/aissegment/internal/segment"
	"github.com/trackline/aissegment/pkg/utils"
)

// Config bundles every tunable a Segmenter needs across the pipeline it
// drives.
type Config struct {
	Matcher           matcher.Config
	Identity          segment.IdentityStoreConfig
	SegmentField      string
	CollectMatchStats bool
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		Matcher:           matcher.DefaultConfig(),
		Identity:          segment.DefaultIdentityStoreConfig(),
		SegmentField:      "segment",
		CollectMatchStats: false,
	}
}

// ConfigFromApp maps the application-level configuration (parsed from the
// environment) into the Config this package consumes.
func ConfigFromApp(c config.SegmenterConfig) Config {
	return Config{
		Matcher: matcher.Config{
			MaxHours:                c.MaxHours,
			MaxSpeed:                c.MaxSpeed,
			ReportedSpeedMultiplier: c.ReportedSpeedMultiplier,
			NoiseDist:               c.NoiseDist,
			NoiseTime:               c.NoiseTime,
			Discrepancy: discrepancy.Config{
				PenaltySpeed: c.PenaltySpeed,
				BufferNM:     c.BufferNM,
			},
		},
		Identity: segment.IdentityStoreConfig{
			ConfirmCount: c.IdentConfirm,
			Window:       c.IdentWindow,
			Cap:          c.IdentCap,
		},
		SegmentField:      c.SegmentField,
		CollectMatchStats: c.CollectMatchStats,
	}
}

func (c Config) limits() msgproc.Limits {
	return msgproc.Limits{
		MaxSpeed:                c.Matcher.MaxSpeed,
		ReportedSpeedMultiplier: c.Matcher.ReportedSpeedMultiplier,
	}
}

// UnsortedInputError is the fatal error raised when a message's timestamp
// precedes the previous message seen for the same ssvid.
type UnsortedInputError struct {
	SSVID    int64
	Previous time.Time
	Current  time.Time
}

func (e *UnsortedInputError) Error() string {
	return fmt.Sprintf("segmenter: unsorted input for ssvid %d: previous timestamp %s, got %s",
		e.SSVID, e.Previous.Format(time.RFC3339), e.Current.Format(time.RFC3339))
}

// Tagged is one input message augmented with the id of the segment it was
// assigned to, and optionally diagnostic match stats.
type Tagged struct {
	Message   aismsg.Message
	SegmentID string
	Matches   []matcher.Record
}

// Segmenter drives segmentation for a single vessel identifier. It is not
// safe for concurrent use; parallelism is achieved by sharding on ssvid at
// a higher layer (see internal/manager).
type Segmenter struct {
	ssvid  int64
	cfg    Config
	log    *utils.Logger
	active []*segment.Segment

	haveLast      bool
	lastTimestamp time.Time
	seqByTime     map[string]int
}

// New constructs a Segmenter for one ssvid.
func New(ssvid int64, cfg Config, log *utils.Logger) *Segmenter {
	if log == nil {
		log = utils.NewLogger("info", "text")
	}
	return &Segmenter{
		ssvid:     ssvid,
		cfg:       cfg,
		log:       log.WithField("ssvid", ssvid),
		seqByTime: make(map[string]int),
	}
}

// SSVID returns the vessel identifier this Segmenter owns.
func (s *Segmenter) SSVID() int64 { return s.ssvid }

// Active returns the current active segment set, in insertion order. The
// returned slice is owned by the caller; the Segmenter does not retain it.
func (s *Segmenter) Active() []*segment.Segment {
	out := make([]*segment.Segment, len(s.active))
	copy(out, s.active)
	return out
}

func (s *Segmenter) mintID(at time.Time) string {
	key := at.UTC().Format("20060102T150405Z")
	s.seqByTime[key]++
	return segment.NewID(s.ssvid, at, s.seqByTime[key])
}

// Process absorbs one message and returns the tagged output. It is the
// only way to feed messages into a Segmenter.
func (s *Segmenter) Process(msg aismsg.Message) (Tagged, error) {
	if s.haveLast && msg.Timestamp.Before(s.lastTimestamp) {
		metrics.UnsortedInputErrors.Inc()
		return Tagged{}, &UnsortedInputError{SSVID: s.ssvid, Previous: s.lastTimestamp, Current: msg.Timestamp}
	}
	s.lastTimestamp = msg.Timestamp
	s.haveLast = true

	classification := msgproc.Classify(msg, s.cfg.limits())
	normalized := msgproc.Normalize(msg)

	if classification == msgproc.Bad {
		id := s.mintID(normalized.Timestamp)
		badSeg := segment.New(id, s.ssvid, segment.Bad, s.cfg.Identity, normalized)
		metrics.SegmentsCreated.WithLabelValues(segment.Bad.String()).Inc()
		s.log.WithField("segment", id).Debug("bad message")
		return Tagged{Message: normalized, SegmentID: badSeg.ID}, nil
	}

	s.retireStale(normalized.Timestamp)

	positional := classification == msgproc.Positional
	identity := msgproc.IdentityTuple(normalized)
	decision := matcher.Decide(normalized, positional, identity, s.active, s.cfg.Matcher)

	var out Tagged
	out.Message = normalized
	if s.cfg.CollectMatchStats {
		out.Matches = decision.Stats
	}
	metrics.MatcherOutcomes.WithLabelValues(decision.Outcome.String()).Inc()

	switch decision.Outcome {
	case matcher.RejectNoise:
		id := s.mintID(normalized.Timestamp)
		noiseSeg := segment.New(id, s.ssvid, segment.Noise, s.cfg.Identity, normalized)
		metrics.SegmentsCreated.WithLabelValues(segment.Noise.String()).Inc()
		out.SegmentID = noiseSeg.ID
		s.log.WithField("segment", id).Debug("noise message")

	case matcher.AssignExisting:
		for _, seg := range s.active {
			if seg.ID == decision.SegmentID {
				seg.Add(normalized)
				out.SegmentID = seg.ID
				break
			}
		}

	case matcher.StartNew:
		kind := segment.Positional
		if !positional {
			kind = segment.Info
		}
		id := s.mintID(normalized.Timestamp)
		seg := segment.New(id, s.ssvid, kind, s.cfg.Identity, normalized)
		s.active = append(s.active, seg)
		metrics.SegmentsCreated.WithLabelValues(kind.String()).Inc()
		out.SegmentID = seg.ID
		s.log.WithField("segment", id).Debug("new segment")
	}

	return out, nil
}

// retireStale drops every active segment whose age relative to `now`
// exceeds the configured max gap, before matching proceeds.
func (s *Segmenter) retireStale(now time.Time) {
	kept := s.active[:0]
	for _, seg := range s.active {
		if seg.IsStale(now, s.cfg.Matcher.MaxHours) {
			s.log.WithField("segment", seg.ID).Debug("retiring stale segment")
			continue
		}
		kept = append(kept, seg)
	}
	s.active = kept
}

// Flush retires every remaining active segment and returns their final
// states.
func (s *Segmenter) Flush() []*segment.Segment {
	out := s.active
	s.active = nil
	return out
}

// SegmentSnapshot is the serializable state of one active, non-terminal
// segment.
type SegmentSnapshot struct {
	ID                string
	Kind              segment.Kind
	Born              time.Time
	MsgCount          int
	LastPositionalMsg *segment.PositionalState
	LastMsg           *segment.LastMsgState
	Identity          []segment.AttrEntrySnapshot
}

// Snapshot is the serializable state of a whole Segmenter: its active set,
// id counter and ordering cursor. Terminal (Bad, Noise) segments are never
// included, since they are single-message sinks that are never resumed.
type Snapshot struct {
	SSVID         int64
	HaveLast      bool
	LastTimestamp time.Time
	SeqByTime     map[string]int
	Segments      []SegmentSnapshot
}

// Snapshot captures the Segmenter's current state for later restoration.
func (s *Segmenter) Snapshot() Snapshot {
	seqCopy := make(map[string]int, len(s.seqByTime))
	for k, v := range s.seqByTime {
		seqCopy[k] = v
	}

	segs := make([]SegmentSnapshot, 0, len(s.active))
	for _, seg := range s.active {
		if seg.Kind.Terminal() {
			continue
		}
		segs = append(segs, SegmentSnapshot{
			ID:                seg.ID,
			Kind:              seg.Kind,
			Born:              seg.Born,
			MsgCount:          seg.MsgCount,
			LastPositionalMsg: seg.LastPositionalMsg,
			LastMsg:           seg.LastMsg,
			Identity:          seg.IdentitySnapshot(),
		})
	}

	return Snapshot{
		SSVID:         s.ssvid,
		HaveLast:      s.haveLast,
		LastTimestamp: s.lastTimestamp,
		SeqByTime:     seqCopy,
		Segments:      segs,
	}
}

// Restore rebuilds a Segmenter from a prior Snapshot. From the next
// Process call onward it behaves exactly as an uninterrupted Segmenter
// would have.
func Restore(cfg Config, log *utils.Logger, snap Snapshot) *Segmenter {
	s := New(snap.SSVID, cfg, log)
	s.haveLast = snap.HaveLast
	s.lastTimestamp = snap.LastTimestamp
	for k, v := range snap.SeqByTime {
		s.seqByTime[k] = v
	}
	for _, ss := range snap.Segments {
		if ss.Kind.Terminal() {
			continue
		}
		seg := segment.Restore(ss.ID, snap.SSVID, ss.Kind, ss.Born, ss.MsgCount, ss.LastPositionalMsg, ss.LastMsg, cfg.Identity, ss.Identity)
		s.active = append(s.active, seg)
	}
	return s
}
