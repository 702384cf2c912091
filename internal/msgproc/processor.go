// Package msgproc implements per-message validation and normalization:
// classifying a raw Message as bad, informational or positional, and
// extracting its identity tuple.
package msgproc

import (
	"math"
	"strings"

	"github.com/trackline/aissegment/internal/aismsg"
)

// Classification is the outcome of Classify.
type Classification int

const (
	Bad Classification = iota
	Info
	Positional
)

func (c Classification) String() string {
	switch c {
	case Bad:
		return "bad"
	case Info:
		return "info"
	case Positional:
		return "positional"
	default:
		return "unknown"
	}
}

// Limits bundles the validity thresholds classification needs. These mirror
// the segmenter-wide tunables but are kept independent so this package has
// no dependency on the segmenter's configuration type.
type Limits struct {
	MaxSpeed                 float64 // knots
	ReportedSpeedMultiplier float64
}

// DefaultLimits returns the default tunables.
func DefaultLimits() Limits {
	return Limits{MaxSpeed: 30.0, ReportedSpeedMultiplier: 1.1}
}

// Classify determines whether msg is Bad, Info-only or Positional.
func Classify(msg aismsg.Message, limits Limits) Classification {
	if msg.Timestamp.IsZero() {
		return Bad
	}
	if msg.Lat != nil && (*msg.Lat < -90 || *msg.Lat > 90) {
		return Bad
	}
	if msg.Lon != nil && (*msg.Lon < -180 || *msg.Lon > 180) {
		return Bad
	}
	if msg.Speed != nil {
		maxAllowed := limits.MaxSpeed * limits.ReportedSpeedMultiplier
		if *msg.Speed < 0 || *msg.Speed > maxAllowed {
			return Bad
		}
	}

	if !msg.HasPosition() {
		if aismsg.IsIdentityType(msg.Type) {
			return Info
		}
		return Bad
	}

	return Positional
}

// Normalize returns a copy of msg with NaN/±Inf values in Course, Heading,
// Speed, Length and Width coerced to absent, course wrapped into [0, 360),
// and identity strings trimmed of surrounding whitespace. It never mutates
// the input.
func Normalize(msg aismsg.Message) aismsg.Message {
	out := msg

	out.Course = clean(out.Course)
	out.Heading = clean(out.Heading)
	out.Speed = clean(out.Speed)
	out.Length = clean(out.Length)
	out.Width = clean(out.Width)

	if out.Course != nil {
		wrapped := math.Mod(*out.Course, 360)
		if wrapped < 0 {
			wrapped += 360
		}
		out.Course = &wrapped
	}

	out.ShipName = trim(out.ShipName)
	out.CallSign = trim(out.CallSign)
	out.Destination = trim(out.Destination)

	return out
}

// clean nils out a float pointer whose value is NaN or infinite.
func clean(v *float64) *float64 {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	cp := *v
	return &cp
}

// trim strips surrounding whitespace from a string pointer, leaving nil
// untouched. An all-whitespace value becomes nil (effectively absent).
func trim(s *string) *string {
	if s == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// IdentityTuple extracts the identity-bearing attributes from a normalized
// message.
func IdentityTuple(msg aismsg.Message) aismsg.IdentityTuple {
	return aismsg.IdentityTuple{
		ShipName:    msg.ShipName,
		CallSign:    msg.CallSign,
		IMO:         msg.IMO,
		Destination: msg.Destination,
		Length:      msg.Length,
		Width:       msg.Width,
		TypeClass:   msg.TypeClass(),
	}
}
