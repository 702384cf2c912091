// Package discrepancy implements the pure numeric core of the segmenter:
// great-circle distance, bearing, dead-reckoned position projection and the
// discrepancy metric used by the matcher to decide whether an observed fix
// is plausibly a continuation of a segment's last known position.
//
// Every function here is side-effect free and deterministic. NaN in any
// input propagates to NaN in the output; callers treat a NaN result as
// "no constraint available" rather than an error.
package discrepancy

import (
	"math"
	"time"

	"github.com/golang/geo/s2"
)

// EarthRadiusNM is the mean Earth radius in nautical miles, matching the
// value used throughout the maritime tracking literature (3440.065 NM).
const EarthRadiusNM = 3440.065

// Position is a point on the Earth's surface in degrees.
type Position struct {
	Lat float64
	Lon float64
}

// Fix is an observed or predicted kinematic state at an instant.
type Fix struct {
	Timestamp time.Time
	Position  Position
	Speed     float64 // knots; NaN if absent
	Course    float64 // degrees 0-360; NaN if absent
}

// Config carries the tunables that shape the allowed-discrepancy envelope.
// It mirrors the segmenter-wide configuration but only needs the fields
// relevant to this package so it can be constructed independently in tests.
type Config struct {
	PenaltySpeed float64 // knots; baseline rate of allowed drift growth
	BufferNM     float64 // floor absorbing GPS jitter at very small Δt
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		PenaltySpeed: 12.0,
		BufferNM:     1.0,
	}
}

// latLng converts a Position to an s2.LatLng.
func latLng(p Position) s2.LatLng {
	return s2.LatLngFromDegrees(p.Lat, p.Lon)
}

// Distance returns the great-circle distance between a and b, in nautical
// miles.
func Distance(a, b Position) float64 {
	return latLng(a).Distance(latLng(b)).Radians() * EarthRadiusNM
}

// Bearing returns the initial bearing from a to b, in degrees [0, 360).
func Bearing(a, b Position) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)
	brng := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(brng+360, 360)
}

// Project returns the dead-reckoned position reached by holding courseDeg
// and speedKn constant for hours starting at p. If course or speed is NaN,
// Project returns p unchanged (no motion can be assumed).
func Project(p Position, courseDeg, speedKn, hours float64) Position {
	if math.IsNaN(courseDeg) || math.IsNaN(speedKn) {
		return p
	}
	distNM := speedKn * hours
	if distNM == 0 {
		return p
	}

	start := latLng(p)
	bearingRad := courseDeg * math.Pi / 180
	angularDist := distNM / EarthRadiusNM

	latRad := start.Lat.Radians()
	lonRad := start.Lng.Radians()

	lat2 := math.Asin(math.Sin(latRad)*math.Cos(angularDist) +
		math.Cos(latRad)*math.Sin(angularDist)*math.Cos(bearingRad))
	lon2 := lonRad + math.Atan2(
		math.Sin(bearingRad)*math.Sin(angularDist)*math.Cos(latRad),
		math.Cos(angularDist)-math.Sin(latRad)*math.Sin(lat2),
	)

	return Position{
		Lat: lat2 * 180 / math.Pi,
		Lon: lon2 * 180 / math.Pi,
	}
}

// Hours returns (b - a) expressed in hours. Callers are expected to only
// pass non-decreasing timestamps; a negative result signals a caller bug,
// not a condition this package guards against.
func Hours(a, b time.Time) float64 {
	return b.Sub(a).Hours()
}

// Discrepancy returns the distance, in nautical miles, between obs's
// position and the dead-reckoned prediction from prev's position, course
// and speed over the elapsed time between the two fixes. If prev's course
// or speed is missing or invalid, Discrepancy falls back to the plain
// great-circle distance between the two positions.
func Discrepancy(prev, obs Fix) float64 {
	if math.IsNaN(prev.Course) || math.IsNaN(prev.Speed) {
		return Distance(prev.Position, obs.Position)
	}
	hours := Hours(prev.Timestamp, obs.Timestamp)
	predicted := Project(prev.Position, prev.Course, prev.Speed, hours)
	return Distance(predicted, obs.Position)
}

// MaxAllowedDiscrepancy returns the maximum discrepancy, in nautical miles,
// tolerated for a gap of deltaHours. It is a piecewise bound: a baseline
// rate of travel (PenaltySpeed) times elapsed time, plus a floor (BufferNM)
// to absorb GPS noise at very small Δt, plus additive slack that grows
// with sqrt(Δt) to model the compounding uncertainty of longer forecasts.
// The result is monotone non-decreasing in deltaHours.
func MaxAllowedDiscrepancy(cfg Config, deltaHours float64) float64 {
	if deltaHours < 0 {
		deltaHours = 0
	}
	return cfg.PenaltySpeed*deltaHours + cfg.BufferNM + math.Sqrt(deltaHours)*cfg.PenaltySpeed*0.25
}
