package fusion

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// ErrUnknownAnchor is wrapped by a ValidationError naming an anchor outside
// the fixed set.
var ErrUnknownAnchor = errors.New("unknown anchor")

// ValidationError reports a rejected calibration value.
type ValidationError struct {
	AnchorID AnchorID
	Field    string
	Value    float64
	Reason   string
	Err      error
}

func (e *ValidationError) Error() string {
	if e.Field == "anchor_id" {
		return fmt.Sprintf("calibration: anchor %q: %s", e.AnchorID, e.Reason)
	}
	return fmt.Sprintf("calibration: %s %s=%v: %s", e.AnchorID, e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// CalibrationEntry is the per-anchor configuration. Coordinates are fixed
// at construction; only RSSI1m and N change at runtime.
type CalibrationEntry struct {
	AnchorID AnchorID `json:"anchor_id"`
	Name     string   `json:"name"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	RSSI1m   float64  `json:"rssi_1m"`
	N        float64  `json:"n"`
}

func (c CalibrationEntry) PathLoss() PathLoss { return PathLoss{RSSI1m: c.RSSI1m, N: c.N} }

func (c CalibrationEntry) Position() Point { return Point{X: c.X, Y: c.Y} }

// Calibration is the complete anchor set, keyed {A1, A2, A3} on the wire.
type Calibration struct {
	A1 CalibrationEntry `json:"A1"`
	A2 CalibrationEntry `json:"A2"`
	A3 CalibrationEntry `json:"A3"`
}

func (c Calibration) Entry(id AnchorID) (CalibrationEntry, bool) {
	switch id {
	case A1:
		return c.A1, true
	case A2:
		return c.A2, true
	case A3:
		return c.A3, true
	}
	return CalibrationEntry{}, false
}

func (c *Calibration) set(e CalibrationEntry) {
	switch e.AnchorID {
	case A1:
		c.A1 = e
	case A2:
		c.A2 = e
	case A3:
		c.A3 = e
	}
}

// Entries returns the anchors in wire order.
func (c Calibration) Entries() [3]CalibrationEntry {
	return [3]CalibrationEntry{c.A1, c.A2, c.A3}
}

// Validate checks every entry against the rules the store enforces.
func (c Calibration) Validate() error {
	for _, id := range AnchorIDs {
		e, _ := c.Entry(id)
		if e.AnchorID != id {
			return &ValidationError{AnchorID: id, Field: "anchor_id", Reason: fmt.Sprintf("entry labelled %q", e.AnchorID), Err: ErrUnknownAnchor}
		}
		if err := validateParams(id, e.RSSI1m, e.N); err != nil {
			return err
		}
		if !finite(e.X) || !finite(e.Y) {
			return &ValidationError{AnchorID: id, Field: "position", Value: e.X, Reason: "must be finite"}
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func validateParams(id AnchorID, rssi1m, n float64) error {
	if !finite(rssi1m) {
		return &ValidationError{AnchorID: id, Field: "rssi_1m", Value: rssi1m, Reason: "must be finite"}
	}
	if !finite(n) {
		return &ValidationError{AnchorID: id, Field: "n", Value: n, Reason: "must be finite"}
	}
	if n <= 0 {
		return &ValidationError{AnchorID: id, Field: "n", Value: n, Reason: "must be positive"}
	}
	return nil
}

// CalibrationStore holds the active calibration and the defaults it can be
// reset to. It is not safe for concurrent use; telemetry.State serializes
// access.
type CalibrationStore struct {
	defaults Calibration
	current  Calibration
}

// NewCalibrationStore validates initial and uses it as both the current
// value and the reset target.
func NewCalibrationStore(initial Calibration) (*CalibrationStore, error) {
	if err := initial.Validate(); err != nil {
		return nil, errors.Wrap(err, "initial calibration")
	}
	return &CalibrationStore{defaults: initial, current: initial}, nil
}

func (s *CalibrationStore) Get() Calibration { return s.current }

// Update replaces rssi_1m and n for one anchor. On error the store is left
// unchanged.
func (s *CalibrationStore) Update(id AnchorID, rssi1m, n float64) error {
	return s.Patch(id, &rssi1m, &n)
}

// Patch is Update with optional fields: a nil pointer keeps the current
// value.
func (s *CalibrationStore) Patch(id AnchorID, rssi1m, n *float64) error {
	entry, ok := s.current.Entry(id)
	if !ok {
		return &ValidationError{AnchorID: id, Field: "anchor_id", Reason: "must be one of A1, A2, A3", Err: ErrUnknownAnchor}
	}
	if rssi1m != nil {
		entry.RSSI1m = *rssi1m
	}
	if n != nil {
		entry.N = *n
	}
	if err := validateParams(id, entry.RSSI1m, entry.N); err != nil {
		return err
	}
	s.current.set(entry)
	return nil
}

// Reset restores the construction-time calibration.
func (s *CalibrationStore) Reset() Calibration {
	s.current = s.defaults
	return s.current
}
