package discrepancy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Position
		wantNM   float64
		tolerate float64
	}{
		{
			name:     "same point",
			a:        Position{Lat: 46.0, Lon: 8.0},
			b:        Position{Lat: 46.0, Lon: 8.0},
			wantNM:   0,
			tolerate: 0.001,
		},
		{
			name:     "one degree of longitude at equator is ~60nm",
			a:        Position{Lat: 0, Lon: 0},
			b:        Position{Lat: 0, Lon: 1},
			wantNM:   60.04,
			tolerate: 0.5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			assert.InDelta(t, tt.wantNM, got, tt.tolerate)
		})
	}
}

func TestBearing(t *testing.T) {
	// Due east along the equator.
	got := Bearing(Position{Lat: 0, Lon: 0}, Position{Lat: 0, Lon: 1})
	assert.InDelta(t, 90.0, got, 1.0)

	// Due north.
	got = Bearing(Position{Lat: 0, Lon: 0}, Position{Lat: 1, Lon: 0})
	assert.InDelta(t, 0.0, got, 1.0)
}

func TestProject(t *testing.T) {
	start := Position{Lat: 0, Lon: 0}
	// 60nm east at 10kn for 6 hours should land roughly on (0, 1).
	got := Project(start, 90, 10, 6)
	assert.InDelta(t, 0.0, got.Lat, 0.05)
	assert.InDelta(t, 1.0, got.Lon, 0.05)

	// NaN course/speed leaves the position unchanged.
	got = Project(start, math.NaN(), 10, 6)
	assert.Equal(t, start, got)
}

func TestDiscrepancy(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("straight track has near-zero discrepancy", func(t *testing.T) {
		prev := Fix{Timestamp: base, Position: Position{Lat: 0, Lon: 0}, Speed: 10, Course: 90}
		obs := Fix{Timestamp: base.Add(time.Hour), Position: Position{Lat: 0, Lon: 10.0 / 60.0}}
		d := Discrepancy(prev, obs)
		assert.Less(t, d, 0.2)
	})

	t.Run("missing course falls back to plain distance", func(t *testing.T) {
		prev := Fix{Timestamp: base, Position: Position{Lat: 0, Lon: 0}, Speed: 10, Course: math.NaN()}
		obs := Fix{Timestamp: base.Add(time.Hour), Position: Position{Lat: 1, Lon: 0}}
		d := Discrepancy(prev, obs)
		require.False(t, math.IsNaN(d))
		assert.InDelta(t, Distance(prev.Position, obs.Position), d, 0.001)
	})

	t.Run("teleport produces large discrepancy", func(t *testing.T) {
		prev := Fix{Timestamp: base, Position: Position{Lat: 0, Lon: 0}, Speed: 0, Course: 0}
		obs := Fix{Timestamp: base.Add(10 * time.Minute), Position: Position{Lat: 20, Lon: 0}}
		d := Discrepancy(prev, obs)
		assert.Greater(t, d, 1000.0)
	})
}

func TestMaxAllowedDiscrepancy(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("monotone non-decreasing", func(t *testing.T) {
		prevMax := -1.0
		for _, hours := range []float64{0, 0.01, 0.1, 1, 5, 24} {
			got := MaxAllowedDiscrepancy(cfg, hours)
			assert.GreaterOrEqual(t, got, prevMax)
			prevMax = got
		}
	})

	t.Run("floor applies at zero delta", func(t *testing.T) {
		got := MaxAllowedDiscrepancy(cfg, 0)
		assert.InDelta(t, cfg.BufferNM, got, 0.001)
	})

	t.Run("negative delta clamps to zero", func(t *testing.T) {
		assert.Equal(t, MaxAllowedDiscrepancy(cfg, 0), MaxAllowedDiscrepancy(cfg, -5))
	})
}

func TestHours(t *testing.T) {
	a := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := a.Add(90 * time.Minute)
	assert.InDelta(t, 1.5, Hours(a, b), 0.0001)
}
