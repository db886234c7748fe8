package telemetry

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/ferdagainagainagain/Smartcrowd/fusion"
)

// ErrNoSample tells the pipeline to skip this tick.
var ErrNoSample = errors.New("no new sample")

// Source produces one sample per tick. t is the 1-based tick counter, prev
// the last emitted tick (nil before the first).
type Source interface {
	Next(t uint64, prev *Tick, calib fusion.Calibration) (Sample, error)
}

// Frame is one parsed firmware frame:
// [fall; systemOn; acc; accX; accY; accZ; hr; temp; rssi1; rssi2; rssi3].
type Frame struct {
	Fall      int
	SystemOn  int
	Acc       float64
	AccX      float64
	AccY      float64
	AccZ      float64
	Heartbeat float64
	Temp      float64
	RSSI      [3]float64
}

// FrameSource holds the newest frame pushed by an ingest (MQTT or replay).
// Each tick consumes it at most once; ticks with no new frame are skipped.
type FrameSource struct {
	mu    sync.Mutex
	frame Frame
	fresh bool
}

func NewFrameSource() *FrameSource { return &FrameSource{} }

// Push replaces the pending frame. Frames arriving faster than the tick
// rate overwrite each other.
func (s *FrameSource) Push(f Frame) {
	s.mu.Lock()
	s.frame = f
	s.fresh = true
	s.mu.Unlock()
}

func (s *FrameSource) Next(_ uint64, _ *Tick, _ fusion.Calibration) (Sample, error) {
	s.mu.Lock()
	f, fresh := s.frame, s.fresh
	s.fresh = false
	s.mu.Unlock()
	if !fresh {
		return Sample{}, ErrNoSample
	}
	return Sample{
		Heartbeat:    f.Heartbeat,
		Temperature:  f.Temp,
		Acceleration: f.Acc,
		AccX:         f.AccX,
		AccY:         f.AccY,
		AccZ:         f.AccZ,
		RSSI:         fusion.Triple{A1: f.RSSI[0], A2: f.RSSI[1], A3: f.RSSI[2]},
		SystemOn:     f.SystemOn != 0,
		Fall:         f.Fall != 0,
	}, nil
}
