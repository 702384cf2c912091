package msgproc

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trackline/aissegment/internal/aismsg"
)

func f(v float64) *float64 { return &v }
func s(v string) *string   { return &v }

func baseMsg() aismsg.Message {
	return aismsg.Message{
		ID:        "m1",
		SSVID:     123456789,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Lat:       f(10),
		Lon:       f(20),
		Speed:     f(5),
		Course:    f(90),
		Type:      1,
	}
}

func TestClassify(t *testing.T) {
	limits := DefaultLimits()

	t.Run("valid positional", func(t *testing.T) {
		assert.Equal(t, Positional, Classify(baseMsg(), limits))
	})

	t.Run("missing timestamp is bad", func(t *testing.T) {
		m := baseMsg()
		m.Timestamp = time.Time{}
		assert.Equal(t, Bad, Classify(m, limits))
	})

	t.Run("lat out of range is bad", func(t *testing.T) {
		m := baseMsg()
		m.Lat = f(95)
		assert.Equal(t, Bad, Classify(m, limits))
	})

	t.Run("lon out of range is bad", func(t *testing.T) {
		m := baseMsg()
		m.Lon = f(-181)
		assert.Equal(t, Bad, Classify(m, limits))
	})

	t.Run("speed over cap with multiplier is bad", func(t *testing.T) {
		m := baseMsg()
		m.Speed = f(33.1)
		assert.Equal(t, Bad, Classify(m, limits))
	})

	t.Run("speed at cap with multiplier is ok", func(t *testing.T) {
		m := baseMsg()
		m.Speed = f(33.0)
		assert.Equal(t, Positional, Classify(m, limits))
	})

	t.Run("negative speed is bad", func(t *testing.T) {
		m := baseMsg()
		m.Speed = f(-1)
		assert.Equal(t, Bad, Classify(m, limits))
	})

	t.Run("no position, identity type is info", func(t *testing.T) {
		m := baseMsg()
		m.Lat, m.Lon = nil, nil
		m.Type = 5
		m.ShipName = s("ALPHA")
		assert.Equal(t, Info, Classify(m, limits))
	})

	t.Run("no position, non-identity type is bad", func(t *testing.T) {
		m := baseMsg()
		m.Lat, m.Lon = nil, nil
		m.Type = 1
		assert.Equal(t, Bad, Classify(m, limits))
	})

	t.Run("only lon missing is not positional", func(t *testing.T) {
		m := baseMsg()
		m.Lon = nil
		m.Type = 1
		assert.Equal(t, Bad, Classify(m, limits))
	})
}

func TestNormalize(t *testing.T) {
	t.Run("NaN course becomes absent", func(t *testing.T) {
		m := baseMsg()
		m.Course = f(math.NaN())
		got := Normalize(m)
		assert.Nil(t, got.Course)
	})

	t.Run("course wraps into [0, 360)", func(t *testing.T) {
		m := baseMsg()
		m.Course = f(-10)
		got := Normalize(m)
		assert.InDelta(t, 350, *got.Course, 0.0001)

		m.Course = f(370)
		got = Normalize(m)
		assert.InDelta(t, 10, *got.Course, 0.0001)
	})

	t.Run("infinite speed becomes absent", func(t *testing.T) {
		m := baseMsg()
		m.Speed = f(math.Inf(1))
		got := Normalize(m)
		assert.Nil(t, got.Speed)
	})

	t.Run("whitespace is trimmed, blank becomes absent", func(t *testing.T) {
		m := baseMsg()
		m.ShipName = s("  ALPHA  ")
		m.CallSign = s("   ")
		got := Normalize(m)
		assert.Equal(t, "ALPHA", *got.ShipName)
		assert.Nil(t, got.CallSign)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		m := baseMsg()
		m.Course = f(400)
		_ = Normalize(m)
		assert.Equal(t, 400.0, *m.Course)
	})
}

func TestIdentityTuple(t *testing.T) {
	m := baseMsg()
	m.ShipName = s("ALPHA")
	m.Type = 18
	tup := IdentityTuple(m)
	assert.Equal(t, "ALPHA", *tup.ShipName)
	assert.Equal(t, aismsg.TypeClassB, tup.TypeClass)
}
