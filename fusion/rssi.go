package fusion

import "math"

// PathLoss is the log-distance model for one anchor: the RSSI observed at
// one meter and the environment exponent n.
type PathLoss struct {
	RSSI1m float64
	N      float64
}

// Distance converts an RSSI reading (dBm) into meters:
//
//	d = 10 ^ ((rssi_1m - rssi) / (10 n))
//
// No clamping is applied. n must already have been validated as positive.
func (p PathLoss) Distance(rssi float64) float64 {
	return math.Pow(10.0, (p.RSSI1m-rssi)/DB10(p.N))
}

// RSSIAt is the inverse of Distance. Distances below MinDistance are
// evaluated at MinDistance.
func (p PathLoss) RSSIAt(dist float64) float64 {
	if dist < MinDistance {
		dist = MinDistance
	}
	return p.RSSI1m - DB10(p.N)*math.Log10(dist)
}

// Distance converts rssi using the anchor's calibration.
func Distance(rssi float64, calib CalibrationEntry) float64 {
	return calib.PathLoss().Distance(rssi)
}

// ValidRSSI reports whether a reading can be ranged. Firmware reports 0 (or
// a positive value) when an anchor was not heard.
func ValidRSSI(rssi float64) bool {
	return rssi < 0 && !math.IsInf(rssi, 0) && !math.IsNaN(rssi)
}

// RangeAll converts a reading per anchor. ok[i] is false for anchors whose
// reading was not usable; their distance is left at zero.
func RangeAll(rssi Triple, calib Calibration) (dist Triple, ok [3]bool) {
	for i, id := range AnchorIDs {
		r := rssi.Get(id)
		if !ValidRSSI(r) {
			continue
		}
		entry, _ := calib.Entry(id)
		dist.Set(id, Distance(r, entry))
		ok[i] = true
	}
	return dist, ok
}
