package telemetry

import (
	"sync"

	"github.com/ferdagainagainagain/Smartcrowd/fusion"
)

// Snapshot is a detached copy of everything a newly connected client needs.
type Snapshot struct {
	Tick        *Tick
	History     HistorySnapshot
	Calibration fusion.Calibration
	Alert       AlertState
}

// State owns calibration, history, alert and the latest tick behind one
// mutex. The tick driver and the hub share a single State.
type State struct {
	mu      sync.Mutex
	calib   *fusion.CalibrationStore
	history *History
	alert   AlertState
	last    *Tick
}

func NewState(calib *fusion.CalibrationStore, history *History) *State {
	return &State{calib: calib, history: history}
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *State) snapshotLocked() Snapshot {
	snap := Snapshot{
		History:     s.history.Snapshot(),
		Calibration: s.calib.Get(),
		Alert:       s.alert,
	}
	if s.last != nil {
		t := *s.last
		snap.Tick = &t
	}
	return snap
}

func (s *State) Calibration() fusion.Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calib.Get()
}

// UpdateCalibration applies a partial update; nil fields keep their value.
// The returned calibration is the store's content after the call, whether
// or not the update was accepted.
func (s *State) UpdateCalibration(id fusion.AnchorID, rssi1m, n *float64) (fusion.Calibration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.calib.Patch(id, rssi1m, n)
	return s.calib.Get(), err
}

func (s *State) ResetCalibration() fusion.Calibration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calib.Reset()
}

func (s *State) Alert() AlertState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alert
}

// ResolveAlert clears the alert and returns the state that was cleared.
func (s *State) ResolveAlert() AlertState {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.alert
	s.alert = Resolve(s.alert)
	return prev
}

func (s *State) History() HistorySnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Snapshot()
}

// Averages returns the running mean of each history series.
func (s *State) Averages() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Means()
}
