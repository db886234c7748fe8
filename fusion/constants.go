package fusion

// Room and anchor defaults used by the dashboard deployment.
const (
	DefaultRoomSize = 10.0
	DefaultRSSI1m   = -40.0
	DefaultN        = 2.0
	DefaultRoomName = "DANCE_ROOM"
)

const (
	// MinDistance keeps gradients finite when a point sits on an anchor.
	MinDistance = 0.1
	// RefineIters bounds the Gauss-Newton pass after the linear solve.
	RefineIters = 8
	refineTol   = 1e-6
	// pinv tolerance factor (eps * max(rows, cols) * max singular value).
	svdEps = 1e-15
)

// AnchorID names one of the three fixed anchors.
type AnchorID string

const (
	A1 AnchorID = "A1"
	A2 AnchorID = "A2"
	A3 AnchorID = "A3"
)

// AnchorIDs is the fixed anchor set in wire order.
var AnchorIDs = [3]AnchorID{A1, A2, A3}

// DefaultCalibration mirrors the room map: entrance at the origin, two
// backstage anchors on the far wall and the opposite corner.
func DefaultCalibration() Calibration {
	return Calibration{
		A1: CalibrationEntry{AnchorID: A1, Name: "ENTRANCE", X: 0, Y: 0, RSSI1m: DefaultRSSI1m, N: DefaultN},
		A2: CalibrationEntry{AnchorID: A2, Name: "BACKSTAGE_1", X: 10, Y: 0, RSSI1m: DefaultRSSI1m, N: DefaultN},
		A3: CalibrationEntry{AnchorID: A3, Name: "BACKSTAGE_2", X: 5, Y: 10, RSSI1m: DefaultRSSI1m, N: DefaultN},
	}
}

// Clamp returns x within [min, max].
func Clamp(x, min, max float64) float64 {
	if x < min {
		return min
	}
	if x > max {
		return max
	}
	return x
}

// Pow2 returns squared value.
func Pow2(x float64) float64 { return x * x }

// DB10 convenience.
func DB10(x float64) float64 { return 10.0 * x }
