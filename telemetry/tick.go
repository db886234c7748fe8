package telemetry

import "github.com/ferdagainagainagain/Smartcrowd/fusion"

// Tick is one complete telemetry sample. A Tick is never modified after the
// pipeline produces it; consumers receive value copies.
type Tick struct {
	Seq          uint64        `json:"seq"`
	Time         int64         `json:"time"`
	Heartbeat    int           `json:"heartbeat"`
	Temperature  float64       `json:"temperature"`
	Acceleration float64       `json:"acceleration"`
	AccX         float64       `json:"accX"`
	AccY         float64       `json:"accY"`
	AccZ         float64       `json:"accZ"`
	Humidity     *float64      `json:"humidity,omitempty"`
	Position     fusion.Point  `json:"position"`
	Distances    fusion.Triple `json:"distances"`
	RSSI         fusion.Triple `json:"rssi"`
	SystemOn     bool          `json:"systemOn"`
	Fall         bool          `json:"fall"`
	Room         string        `json:"room"`
}

// Sample is what a Source yields before derivation and rounding.
type Sample struct {
	Heartbeat    float64
	Temperature  float64
	Acceleration float64
	AccX         float64
	AccY         float64
	AccZ         float64
	Humidity     *float64
	RSSI         fusion.Triple
	// Position is set by sources that know the true position (simulation).
	// Live sources leave it nil and the pipeline trilaterates from RSSI.
	Position *fusion.Point
	SystemOn bool
	Fall     bool
}
