// Package matcher scores a candidate message against a vessel's active
// segments and decides whether to assign it to one of them, start a new
// segment, or reject it as noise.
package matcher

import (
	"math"
	"sort"
	"time"

	"github.com/trackline/aissegment/internal/aismsg"
	"github.com/trackline/aissegment/internal/discrepancy"
	"github.com/trackline/aissegment/internal/segment"
)

// Config bundles every tunable the matcher's gates and scoring depend on.
type Config struct {
	MaxHours                float64
	MaxSpeed                float64 // knots
	ReportedSpeedMultiplier float64
	NoiseDist               float64 // NM
	NoiseTime               time.Duration
	Discrepancy             discrepancy.Config
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		MaxHours:                24,
		MaxSpeed:                30,
		ReportedSpeedMultiplier: 1.1,
		NoiseDist:               0.1,
		NoiseTime:               5 * time.Minute,
		Discrepancy:             discrepancy.DefaultConfig(),
	}
}

// identityWeight gives each identity attribute's contribution to the
// ranking score when it matches a segment's confirmed value.
var identityWeight = map[aismsg.IdentityAttr]int{
	aismsg.AttrShipName:    3,
	aismsg.AttrCallSign:    3,
	aismsg.AttrIMO:         3,
	aismsg.AttrDestination: 1,
}

// criticalIdentityAttrs are the attributes whose MISMATCH alone disqualifies
// a segment as a candidate.
var criticalIdentityAttrs = []aismsg.IdentityAttr{aismsg.AttrShipName, aismsg.AttrCallSign, aismsg.AttrIMO}

// Outcome is the result kind of a matching decision.
type Outcome int

const (
	AssignExisting Outcome = iota
	StartNew
	RejectNoise
)

func (o Outcome) String() string {
	switch o {
	case AssignExisting:
		return "assign_existing"
	case StartNew:
		return "start_new"
	case RejectNoise:
		return "reject_noise"
	default:
		return "unknown"
	}
}

// Record is the per-segment diagnostic match record, optionally attached to
// output when stats collection is enabled.
type Record struct {
	SegmentID          string
	DeltaTHours        float64
	Discrepancy        float64 // NaN if waived
	MaxDiscrepancy     float64 // NaN if waived
	PositionalOK       bool
	ReportedSpeedOK    bool
	ImpliedSpeedOK     bool
	NoiseCandidate     bool
	IdentityMatches    map[aismsg.IdentityAttr]segment.IdentityMatch
	WeightedIdentity   int
	TypeClassMatch     bool
	Dropped            bool
	DropReason         string
	LastPositionalTime time.Time
	Born               time.Time
}

// Decision is the outcome of matching one message against a vessel's active
// segments.
type Decision struct {
	Outcome   Outcome
	SegmentID string // valid when Outcome == AssignExisting
	Stats     []Record
}

const epsHours = 1.0 / 3600 // one second, the Δt floor for implied-speed division

// Decide scores msg (already classified as non-Bad) against every segment
// in active and returns the selection. identity is msg's extracted
// identity tuple; positional reports whether msg carries a position fix.
func Decide(msg aismsg.Message, positional bool, identity aismsg.IdentityTuple, active []*segment.Segment, cfg Config) Decision {
	records := make([]Record, 0, len(active))
	for _, s := range active {
		records = append(records, buildRecord(msg, positional, identity, s, cfg))
	}

	for _, r := range records {
		if !r.Dropped && r.NoiseCandidate {
			return Decision{Outcome: RejectNoise, Stats: records}
		}
	}

	var survivors []Record
	for _, r := range records {
		if !r.Dropped {
			survivors = append(survivors, r)
		}
	}
	if len(survivors) == 0 {
		return Decision{Outcome: StartNew, Stats: records}
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return rankLess(survivors[i], survivors[j])
	})
	return Decision{Outcome: AssignExisting, SegmentID: survivors[0].SegmentID, Stats: records}
}

// rankLess reports whether a ranks strictly better than b, per the
// selection rule's tie-break tuple.
func rankLess(a, b Record) bool {
	if a.WeightedIdentity != b.WeightedIdentity {
		return a.WeightedIdentity > b.WeightedIdentity
	}
	if a.TypeClassMatch != b.TypeClassMatch {
		return a.TypeClassMatch
	}
	if !a.LastPositionalTime.Equal(b.LastPositionalTime) {
		return a.LastPositionalTime.After(b.LastPositionalTime)
	}
	aNaN, bNaN := math.IsNaN(a.Discrepancy), math.IsNaN(b.Discrepancy)
	if aNaN != bNaN {
		return bNaN // a has a real discrepancy, b doesn't: a wins
	}
	if !aNaN && a.Discrepancy != b.Discrepancy {
		return a.Discrepancy < b.Discrepancy
	}
	return a.Born.Before(b.Born) || (a.Born.Equal(b.Born) && a.SegmentID < b.SegmentID)
}

func buildRecord(msg aismsg.Message, positional bool, identity aismsg.IdentityTuple, s *segment.Segment, cfg Config) Record {
	rec := Record{
		SegmentID:       s.ID,
		Born:            s.Born,
		Discrepancy:     math.NaN(),
		MaxDiscrepancy:  math.NaN(),
		PositionalOK:    true,
		ReportedSpeedOK: true,
		ImpliedSpeedOK:  true,
	}
	if s.LastPositionalMsg != nil {
		rec.LastPositionalTime = s.LastPositionalMsg.Timestamp
	}

	bothPositional := positional && s.LastPositionalMsg != nil
	var deltaT float64
	if bothPositional {
		deltaT = discrepancy.Hours(s.LastPositionalMsg.Timestamp, msg.Timestamp)
	} else if s.LastMsg != nil {
		deltaT = discrepancy.Hours(s.LastMsg.Timestamp, msg.Timestamp)
	}
	rec.DeltaTHours = deltaT

	if deltaT > cfg.MaxHours {
		rec.Dropped = true
		rec.DropReason = "stale"
		applyIdentity(&rec, identity, s, msg.Timestamp)
		return rec
	}

	if bothPositional {
		prevFix := discrepancy.Fix{
			Timestamp: s.LastPositionalMsg.Timestamp,
			Position:  s.LastPositionalMsg.Position,
			Speed:     s.LastPositionalMsg.Speed,
			Course:    s.LastPositionalMsg.Course,
		}
		obsFix := discrepancy.Fix{
			Timestamp: msg.Timestamp,
			Position:  discrepancy.Position{Lat: *msg.Lat, Lon: *msg.Lon},
		}
		disc := discrepancy.Discrepancy(prevFix, obsFix)
		maxDisc := discrepancy.MaxAllowedDiscrepancy(cfg.Discrepancy, deltaT)
		rec.Discrepancy = disc
		rec.MaxDiscrepancy = maxDisc
		rec.PositionalOK = disc <= maxDisc

		if msg.Speed != nil {
			rec.ReportedSpeedOK = *msg.Speed <= cfg.MaxSpeed*cfg.ReportedSpeedMultiplier
		}

		dist := discrepancy.Distance(s.LastPositionalMsg.Position, obsFix.Position)
		impliedSpeed := dist / math.Max(deltaT, epsHours)
		tolerance := 1.0
		if deltaT < 1.0/60 {
			tolerance = 2.0
		}
		rec.ImpliedSpeedOK = impliedSpeed <= cfg.MaxSpeed*tolerance

		if dist <= cfg.NoiseDist && deltaT*3600 <= cfg.NoiseTime.Seconds() {
			rec.NoiseCandidate = true
		}
	}
	// When bothPositional is false (positional info-only segment, or a
	// non-positional incoming message), positional/speed checks stay
	// waived at their true defaults and matching falls back to identity.

	applyIdentity(&rec, identity, s, msg.Timestamp)

	if !rec.PositionalOK || !rec.ReportedSpeedOK || !rec.ImpliedSpeedOK {
		rec.Dropped = true
		rec.DropReason = "kinematic"
	}
	for _, attr := range criticalIdentityAttrs {
		if rec.IdentityMatches[attr] == segment.Mismatch {
			rec.Dropped = true
			rec.DropReason = "identity_mismatch"
			break
		}
	}

	return rec
}

func applyIdentity(rec *Record, identity aismsg.IdentityTuple, s *segment.Segment, at time.Time) {
	rec.IdentityMatches = s.IdentityMatches(identity, at)
	weighted := 0
	for attr, w := range identityWeight {
		if rec.IdentityMatches[attr] == segment.Match {
			weighted += w
		}
	}
	rec.WeightedIdentity = weighted
	rec.TypeClassMatch = rec.IdentityMatches[aismsg.AttrTypeClass] == segment.Match
}
