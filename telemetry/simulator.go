package telemetry

import (
	"math"
	"math/rand/v2"

	"github.com/pkg/errors"

	"github.com/ferdagainagainagain/Smartcrowd/fusion"
)

type Profile string

const (
	ProfileSteady Profile = "steady"
	ProfileSpiky  Profile = "spiky"
)

// AccelModel selects how acceleration readings are produced.
type AccelModel string

const (
	// AccelMagnitude reports |a| around gravity with rare impact excursions.
	AccelMagnitude AccelModel = "magnitude"
	// AccelDeviation reports |ax+ay+az-10| as the wearable firmware does.
	AccelDeviation AccelModel = "deviation"
)

// Default fall thresholds per acceleration model.
const (
	MagnitudeFallThreshold = 25.0
	DeviationFallThreshold = 7.5
)

// FallThreshold returns the default threshold for m.
func (m AccelModel) FallThreshold() float64 {
	if m == AccelDeviation {
		return DeviationFallThreshold
	}
	return MagnitudeFallThreshold
}

// Seeds gives every random component its own stream.
type Seeds struct {
	Position     uint64
	Heartbeat    uint64
	Temperature  uint64
	Acceleration uint64
	Humidity     uint64
	Events       uint64
	RSSI         uint64
}

// golden is the 64-bit golden-ratio increment. It is a variable so the
// multiples below wrap instead of overflowing at compile time.
var golden uint64 = 0x9e3779b97f4a7c15

// SeedsFrom derives a distinct seed per component from one base seed.
func SeedsFrom(base uint64) Seeds {
	return Seeds{
		Position:     base + 1*golden,
		Heartbeat:    base + 2*golden,
		Temperature:  base + 3*golden,
		Acceleration: base + 4*golden,
		Humidity:     base + 5*golden,
		Events:       base + 6*golden,
		RSSI:         base + 7*golden,
	}
}

type SimConfig struct {
	Profile       Profile
	AccelModel    AccelModel
	RoomSize      float64
	Step          float64
	Margin        float64
	SpikeProb     float64
	FallProb      float64
	EmergencyProb float64
	Humidity      bool
	// RSSINoise is the half-width (dB) of uniform noise added to the
	// simulated readings.
	RSSINoise float64
	// Trilaterate hides the walk position from the pipeline so ticks are
	// positioned from the simulated RSSI, as live ticks are.
	Trilaterate bool
	Seeds       Seeds
}

// DefaultSimConfig returns the 2 Hz steady walk used by the dashboard.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Profile:    ProfileSteady,
		AccelModel: AccelMagnitude,
		RoomSize:   fusion.DefaultRoomSize,
		Step:       0.25,
		Margin:     0.5,
		SpikeProb:  0.10,
		FallProb:   0.05,
		RSSINoise:  1.5,
		Seeds:      SeedsFrom(1),
	}
}

// DefaultEmergencyProb is the manual-button probability for a profile.
func DefaultEmergencyProb(p Profile) float64 {
	if p == ProfileSpiky {
		return 0.02
	}
	return 0
}

// Simulator is a Source producing synthetic vitals and a bounded random
// walk. It is driven from a single goroutine.
type Simulator struct {
	cfg SimConfig

	pos, hr, temp, acc, hum, events, rssi *rand.Rand

	// walk position when ticks do not carry it
	hidden *fusion.Point
}

func NewSimulator(cfg SimConfig) (*Simulator, error) {
	if cfg.RoomSize <= 2*cfg.Margin {
		return nil, errors.Errorf("room size %.2f must exceed twice the margin %.2f", cfg.RoomSize, cfg.Margin)
	}
	if cfg.Step <= 0 {
		return nil, errors.Errorf("step %.3f must be positive", cfg.Step)
	}
	for name, p := range map[string]float64{"spike": cfg.SpikeProb, "fall": cfg.FallProb, "emergency": cfg.EmergencyProb} {
		if p < 0 || p > 1 {
			return nil, errors.Errorf("%s probability %v outside [0,1]", name, p)
		}
	}
	if cfg.Profile != ProfileSteady && cfg.Profile != ProfileSpiky {
		return nil, errors.Errorf("unknown profile %q", cfg.Profile)
	}
	if cfg.AccelModel != AccelMagnitude && cfg.AccelModel != AccelDeviation {
		return nil, errors.Errorf("unknown acceleration model %q", cfg.AccelModel)
	}
	s := cfg.Seeds
	return &Simulator{
		cfg:    cfg,
		pos:    newRand(s.Position),
		hr:     newRand(s.Heartbeat),
		temp:   newRand(s.Temperature),
		acc:    newRand(s.Acceleration),
		hum:    newRand(s.Humidity),
		events: newRand(s.Events),
		rssi:   newRand(s.RSSI),
	}, nil
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0xda3e39cb94b95bdb))
}

func uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*r.Float64()
}

func (s *Simulator) Next(t uint64, prev *Tick, calib fusion.Calibration) (Sample, error) {
	ft := float64(t)
	center := s.cfg.RoomSize / 2
	p := fusion.Point{X: center, Y: center}
	temp := 37.0
	hum := 45.0
	if prev != nil {
		p = prev.Position
		if s.hidden != nil {
			p = *s.hidden
		}
		temp = prev.Temperature
		if prev.Humidity != nil {
			hum = *prev.Humidity
		}
	}

	p = fusion.Point{X: s.walk(p.X), Y: s.walk(p.Y)}

	out := Sample{
		Heartbeat:   s.heartbeat(ft),
		Temperature: s.temperature(ft, temp),
		Position:    &p,
		SystemOn:    true,
	}
	if s.cfg.Trilaterate {
		hidden := p
		s.hidden = &hidden
		out.Position = nil
	}
	out.Acceleration, out.AccX, out.AccY, out.AccZ = s.acceleration()
	out.Fall = s.events.Float64() < s.cfg.EmergencyProb

	if s.cfg.Humidity {
		h := fusion.Clamp(hum+uniform(s.hum, -0.3, 0.3)+(45-hum)*0.05, 40, 50)
		out.Humidity = &h
	}

	for _, e := range calib.Entries() {
		d := p.Dist(e.Position())
		out.RSSI.Set(e.AnchorID, e.PathLoss().RSSIAt(d)+uniform(s.rssi, -s.cfg.RSSINoise, s.cfg.RSSINoise))
	}
	return out, nil
}

// walk takes one step on a coordinate. Leaving [margin, room-margin]
// reflects the value back inside by a random jitter below one step.
func (s *Simulator) walk(v float64) float64 {
	step, margin, room := s.cfg.Step, s.cfg.Margin, s.cfg.RoomSize
	v += uniform(s.pos, -step, step)
	lo, hi := margin, room-margin
	switch {
	case v < lo:
		v = lo + uniform(s.pos, 0, step)
	case v > hi:
		v = hi - uniform(s.pos, 0, step)
	}
	return fusion.Clamp(v, 0, room)
}

func (s *Simulator) heartbeat(t float64) float64 {
	hr := 80 + 15*math.Sin(t*0.1) + uniform(s.hr, -5, 5)
	if s.cfg.Profile != ProfileSpiky {
		return fusion.Clamp(hr, 60, 100)
	}
	switch p := s.hr.Float64(); {
	case p < s.cfg.SpikeProb/2:
		hr = uniform(s.hr, 120, 140)
	case p < s.cfg.SpikeProb:
		hr = uniform(s.hr, 40, 50)
	}
	return fusion.Clamp(hr, 40, 150)
}

func (s *Simulator) temperature(t, prev float64) float64 {
	target := 37 + 0.3*math.Sin(t*0.05)
	next := prev + (target-prev)*0.04 + uniform(s.temp, -0.05, 0.05)
	if s.cfg.Profile != ProfileSpiky {
		return fusion.Clamp(next, 36.2, 37.8)
	}
	switch p := s.temp.Float64(); {
	case p < s.cfg.SpikeProb/2:
		next = uniform(s.temp, 38.8, 39.3)
	case p < s.cfg.SpikeProb:
		next = uniform(s.temp, 35.0, 35.4)
	}
	return fusion.Clamp(next, 34, 41)
}

func (s *Simulator) acceleration() (acc, ax, ay, az float64) {
	impact := s.events.Float64() < s.cfg.FallProb
	if s.cfg.AccelModel == AccelDeviation {
		if impact {
			ax, ay, az = uniform(s.acc, 3, 6), uniform(s.acc, 3, 6), uniform(s.acc, 5, 8)
		} else {
			ax, ay, az = uniform(s.acc, 0, 0.5), uniform(s.acc, 0, 0.5), 9.8+uniform(s.acc, -0.2, 0.2)
		}
		return math.Abs(ax + ay + az - 10), ax, ay, az
	}

	acc = 9.8 + uniform(s.acc, -1, 1)
	if impact {
		acc = uniform(s.acc, 26, 31)
	}
	ax, ay = uniform(s.acc, -0.3, 0.3), uniform(s.acc, -0.3, 0.3)
	az = math.Sqrt(math.Max(acc*acc-ax*ax-ay*ay, 0))
	return acc, ax, ay, az
}
