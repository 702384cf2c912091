// Package segment implements the Segment model: the accumulating state of
// one continuous vessel track, together with the identity store that lets
// the matcher weigh a candidate message against what a segment has already
// seen.
package segment

import (
	"fmt"
	"math"
	"time"

	"github.com/trackline/aissegment/internal/aismsg"
	"github.com/trackline/aissegment/internal/discrepancy"
)

// Kind distinguishes the four segment outcomes a message can be assigned
// to.
type Kind int

const (
	Positional Kind = iota
	Info
	Bad
	Noise
)

func (k Kind) String() string {
	switch k {
	case Positional:
		return "positional"
	case Info:
		return "info"
	case Bad:
		return "bad"
	case Noise:
		return "noise"
	default:
		return "unknown"
	}
}

// Terminal reports whether segments of this kind absorb only one message
// and are never extended or matched against again.
func (k Kind) Terminal() bool {
	return k == Bad || k == Noise
}

// PositionalState is the kinematic snapshot taken from the most recent
// positional message a segment has absorbed.
type PositionalState struct {
	MsgID     string
	Timestamp time.Time
	Position  discrepancy.Position
	Speed     float64 // knots, NaN if absent
	Course    float64 // degrees, NaN if absent
	Type      int
}

// LastMsgState records the most recent message of any kind absorbed by a
// segment, used for the segment's age and for Δt when no positional fix
// applies.
type LastMsgState struct {
	MsgID     string
	Timestamp time.Time
}

// Segment is one continuous track for a single vessel identifier.
type Segment struct {
	ID    string
	SSVID int64
	Kind  Kind
	Born  time.Time

	MsgCount int

	LastPositionalMsg *PositionalState
	LastMsg           *LastMsgState

	identity *IdentityStore
}

// NewID mints a segment identifier of the form
// "{ssvid}-{YYYYMMDDTHHMMSSZ}-{seq}", where born is the timestamp of the
// message that started the segment and seq is supplied by the caller. The
// Segmenter keeps one counter per second of birth time, starting at 1, so
// ids stay unique even across segments born in the same second.
func NewID(ssvid int64, born time.Time, seq int) string {
	return fmt.Sprintf("%d-%s-%d", ssvid, born.UTC().Format("20060102T150405Z"), seq)
}

// New starts a fresh segment of the given kind from its first message.
// Terminal kinds (Bad, Noise) hold no identity store; like any segment they
// record their first message in LastMsg, and in LastPositionalMsg when that
// message carries a position fix.
func New(id string, ssvid int64, kind Kind, identCfg IdentityStoreConfig, first aismsg.Message) *Segment {
	seg := &Segment{
		ID:    id,
		SSVID: ssvid,
		Kind:  kind,
		Born:  first.Timestamp,
	}
	if !kind.Terminal() {
		seg.identity = NewIdentityStore(identCfg)
	}
	seg.Add(first)
	return seg
}

// Add absorbs msg into the segment: kinematic state is only updated when
// msg carries a position fix, identity is observed unconditionally. Add
// does not check ordering or segment kind eligibility; callers (the
// matcher and Segmenter) are responsible for only calling it on messages
// that have already been assigned to this segment.
func (s *Segment) Add(msg aismsg.Message) {
	s.MsgCount++
	s.LastMsg = &LastMsgState{MsgID: msg.ID, Timestamp: msg.Timestamp}

	if msg.HasPosition() {
		s.LastPositionalMsg = &PositionalState{
			MsgID:     msg.ID,
			Timestamp: msg.Timestamp,
			Position:  discrepancy.Position{Lat: *msg.Lat, Lon: *msg.Lon},
			Speed:     floatOrNaN(msg.Speed),
			Course:    floatOrNaN(msg.Course),
			Type:      msg.Type,
		}
	}

	if s.identity != nil {
		tuple := aismsg.IdentityTuple{
			ShipName:    msg.ShipName,
			CallSign:    msg.CallSign,
			IMO:         msg.IMO,
			Destination: msg.Destination,
			Length:      msg.Length,
			Width:       msg.Width,
			TypeClass:   msg.TypeClass(),
		}
		s.identity.Observe(tuple, msg.Timestamp)
	}
}

// IdentityMatches compares tuple's attributes against the segment's
// confirmed identity, as of `at`. Terminal segments have no identity store
// and report every attribute Unknown.
func (s *Segment) IdentityMatches(tuple aismsg.IdentityTuple, at time.Time) map[aismsg.IdentityAttr]IdentityMatch {
	if s.identity == nil {
		out := make(map[aismsg.IdentityAttr]IdentityMatch, len(aismsg.IdentityAttrs))
		for _, attr := range aismsg.IdentityAttrs {
			out[attr] = Unknown
		}
		return out
	}
	return s.identity.CompareAll(tuple, at)
}

// Age returns the elapsed time since the segment's last absorbed message,
// as of `now`.
func (s *Segment) Age(now time.Time) time.Duration {
	if s.LastMsg == nil {
		return 0
	}
	return now.Sub(s.LastMsg.Timestamp)
}

// IsStale reports whether the segment has gone longer than maxHours since
// its last message and should be retired before matching proceeds.
func (s *Segment) IsStale(now time.Time, maxHours float64) bool {
	if s.Kind.Terminal() {
		return false
	}
	return s.Age(now).Hours() > maxHours
}

// IdentitySnapshot returns the segment's identity store contents for
// serialization. Terminal segments have no identity store and return nil.
func (s *Segment) IdentitySnapshot() []AttrEntrySnapshot {
	if s.identity == nil {
		return nil
	}
	return s.identity.Snapshot()
}

// Restore rebuilds a segment from previously captured field values and an
// identity snapshot, without re-running Add/New's message-absorption path.
// Used by the segmenter's snapshot/restore surface.
func Restore(id string, ssvid int64, kind Kind, born time.Time, msgCount int, lastPositional *PositionalState, lastMsg *LastMsgState, identCfg IdentityStoreConfig, identitySnapshot []AttrEntrySnapshot) *Segment {
	seg := &Segment{
		ID:                id,
		SSVID:             ssvid,
		Kind:              kind,
		Born:              born,
		MsgCount:          msgCount,
		LastPositionalMsg: lastPositional,
		LastMsg:           lastMsg,
	}
	if !kind.Terminal() {
		seg.identity = RestoreIdentityStore(identCfg, identitySnapshot)
	}
	return seg
}

func floatOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}
