package telemetry

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/fusion"
)

type PipelineConfig struct {
	RoomSize      float64
	Room          string
	FallThreshold float64
	// Clock stamps ticks; nil means time.Now. Offline fusion of a capture
	// sets it to the record time.
	Clock func() time.Time
}

// Pipeline turns one Source sample per Step into a Tick and folds it into
// State.
type Pipeline struct {
	state     *State
	source    Source
	estimator fusion.Estimator
	alerts    AlertEvaluator
	cfg       PipelineConfig
	seq       uint64
	now       func() time.Time
	logger    *zap.Logger
}

func NewPipeline(state *State, source Source, estimator fusion.Estimator, cfg PipelineConfig, logger *zap.Logger) *Pipeline {
	if cfg.RoomSize <= 0 {
		cfg.RoomSize = fusion.DefaultRoomSize
	}
	if cfg.Room == "" {
		cfg.Room = fusion.DefaultRoomName
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Pipeline{
		state:     state,
		source:    source,
		estimator: estimator,
		alerts:    AlertEvaluator{FallThreshold: cfg.FallThreshold},
		cfg:       cfg,
		now:       now,
		logger:    logger,
	}
}

// Step produces one tick. raised reports whether this tick activated the
// alert. ErrNoSample from the source is returned unchanged.
func (p *Pipeline) Step() (snap Snapshot, raised bool, err error) {
	s := p.state
	s.mu.Lock()
	defer s.mu.Unlock()

	calib := s.calib.Get()
	sample, err := p.source.Next(p.seq+1, s.last, calib)
	if err != nil {
		return Snapshot{}, false, err
	}
	p.seq++
	tick := p.derive(sample, calib, s.last)

	s.history.Append(tick)
	wasActive := s.alert.Active
	s.alert = p.alerts.Evaluate(tick, s.alert)
	s.last = &tick

	return s.snapshotLocked(), !wasActive && s.alert.Active, nil
}

func (p *Pipeline) derive(in Sample, calib fusion.Calibration, last *Tick) Tick {
	ts := p.now().UnixMilli()
	if last != nil && ts <= last.Time {
		ts = last.Time + 1
	}

	var pos fusion.Point
	var dist fusion.Triple
	if in.Position != nil {
		pos = in.Position.ClampToRoom(p.cfg.RoomSize)
		dist = fusion.EuclideanDistances(pos, calib)
	} else {
		pos = fusion.Point{X: p.cfg.RoomSize / 2, Y: p.cfg.RoomSize / 2}
		if last != nil {
			pos = last.Position
		}
		var ok [3]bool
		dist, ok = fusion.RangeAll(in.RSSI, calib)
		if ok[0] && ok[1] && ok[2] {
			est, err := p.estimator.Estimate(dist, calib)
			if err != nil {
				p.logger.Debug("position held", zap.Error(err))
			} else {
				pos = est
			}
		}
	}

	t := Tick{
		Seq:          p.seq,
		Time:         ts,
		Heartbeat:    int(math.Round(in.Heartbeat)),
		Temperature:  fusion.Round(in.Temperature, 1),
		Acceleration: fusion.Round(in.Acceleration, 1),
		AccX:         fusion.Round(in.AccX, 2),
		AccY:         fusion.Round(in.AccY, 2),
		AccZ:         fusion.Round(in.AccZ, 2),
		Position:     fusion.Point{X: fusion.Round(pos.X, 2), Y: fusion.Round(pos.Y, 2)},
		Distances:    dist.Map(func(v float64) float64 { return fusion.Round(v, 2) }),
		RSSI:         in.RSSI.Map(roundReading),
		SystemOn:     in.SystemOn,
		Fall:         in.Fall,
		Room:         p.cfg.Room,
	}
	if in.Humidity != nil {
		h := fusion.Round(*in.Humidity, 1)
		t.Humidity = &h
	}
	return t
}

func roundReading(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return fusion.Round(v, 1)
}
