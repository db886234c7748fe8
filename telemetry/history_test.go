package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeriesNeverExceedsCapacity(t *testing.T) {
	s := NewSeries(DefaultHistorySize)
	for i := 0; i < 100; i++ {
		s.Append(HistoryPoint{Time: int64(i), Value: float64(i)})
		assert.LessOrEqual(t, s.Len(), DefaultHistorySize)
	}
	snap := s.Snapshot()
	assert.Len(t, snap, DefaultHistorySize)
	for i, p := range snap {
		assert.Equal(t, int64(40+i), p.Time)
	}
}

func TestSeriesSnapshotBeforeFull(t *testing.T) {
	s := NewSeries(5)
	assert.Empty(t, s.Snapshot())
	assert.True(t, math.IsNaN(s.Mean()))
	s.Append(HistoryPoint{Time: 1, Value: 2})
	s.Append(HistoryPoint{Time: 2, Value: 4})
	assert.Equal(t, []HistoryPoint{{1, 2}, {2, 4}}, s.Snapshot())
	assert.Equal(t, 3.0, s.Mean())
}

func TestSeriesMeanTracksWindow(t *testing.T) {
	s := NewSeries(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		s.Append(HistoryPoint{Value: v})
	}
	assert.InDelta(t, 4.0, s.Mean(), 1e-12)
}

func TestSeriesSnapshotIsDetached(t *testing.T) {
	s := NewSeries(2)
	s.Append(HistoryPoint{Time: 1, Value: 1})
	snap := s.Snapshot()
	snap[0].Value = 99
	assert.Equal(t, 1.0, s.Snapshot()[0].Value)
}

func TestHistoryHumidityOptional(t *testing.T) {
	h := NewHistory(4, false)
	h.Append(Tick{Time: 1, Heartbeat: 80})
	assert.Nil(t, h.Snapshot().Humidity)

	hum := 44.5
	h = NewHistory(4, true)
	h.Append(Tick{Time: 1, Heartbeat: 80, Humidity: &hum})
	assert.Equal(t, []HistoryPoint{{1, 44.5}}, h.Snapshot().Humidity)
	assert.Equal(t, []HistoryPoint{{1, 80}}, h.Snapshot().Heartbeat)
}

func TestNewSeriesPanicsOnZero(t *testing.T) {
	assert.Panics(t, func() { NewSeries(0) })
}

func TestHistoryMeansSkipEmptySeries(t *testing.T) {
	h := NewHistory(2, true)
	assert.Empty(t, h.Means())

	h.Append(Tick{Time: 1, Heartbeat: 70, Temperature: 36.5, Acceleration: 9.8})
	h.Append(Tick{Time: 2, Heartbeat: 80, Temperature: 37.5, Acceleration: 9.8})
	h.Append(Tick{Time: 3, Heartbeat: 90, Temperature: 37.5, Acceleration: 10.8})

	means := h.Means()
	assert.Equal(t, 85.0, means["heartbeat"])
	assert.Equal(t, 37.5, means["temperature"])
	assert.InDelta(t, 10.3, means["acceleration"], 1e-9)
	_, ok := means["humidity"]
	assert.False(t, ok, "humidity never reported")
}
