package benchmarks

import (
	"testing"
	"time"

	"github.com/trackline/aissegment/internal/aismsg"
	"github.com/trackline/aissegment/internal/segmenter"
)

func f(v float64) *float64 { return &v }

func posMsg(ssvid int64, id string, at time.Time, lat, lon, speed, course float64) aismsg.Message {
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

// BenchmarkSegmenterStraightTrack measures steady-state throughput for a
// vessel whose positions never trip the discrepancy gate, the common case
// in a live feed.
func BenchmarkSegmenterStraightTrack(b *testing.B) {
	seg := segmenter.New(1, segmenter.DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()

	for i := 0; i < b.N; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		lat := float64(i%1000) / 600
		if _, err := seg.Process(posMsg(1, "m", at, lat, 0, 10, 0)); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}

// BenchmarkSegmenterManyVessels measures per-message cost when a single
// Segmenter's identity store and active set must track several concurrent
// segments across distinct noisy vessels, worst case for a shard that
// hasn't yet settled onto one dominant track.
func BenchmarkSegmenterManyVessels(b *testing.B) {
	seg := segmenter.New(1, segmenter.DefaultConfig(), nil)
	t0 := time.Unix(0, 0).UTC()

	for i := 0; i < b.N; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		lat := float64((i*37)%1000) / 600
		lon := float64((i*53)%1000) / 600
		if _, err := seg.Process(posMsg(1, "m", at, lat, lon, 10, float64(i%360))); err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
	}
}
