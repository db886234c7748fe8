package relay

import (
	"encoding/json"
	"time"

	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

type tickPayload struct {
	Type         string   `json:"type"`
	Room         string   `json:"room"`
	Seq          uint64   `json:"seq"`
	Time         int64    `json:"time"`
	Heartbeat    int      `json:"heartbeat"`
	Temperature  float64  `json:"temperature"`
	Acceleration float64  `json:"acceleration"`
	Humidity     *float64 `json:"humidity,omitempty"`
	X            float64  `json:"x"`
	Y            float64  `json:"y"`
	SystemOn     bool     `json:"systemOn"`
	Fall         bool     `json:"fall"`
}

// FormatTick renders the compact tick published to external consumers.
// Histories and per-anchor readings stay on the websocket.
func FormatTick(t telemetry.Tick) ([]byte, error) {
	return json.Marshal(tickPayload{
		Type:         "tick",
		Room:         t.Room,
		Seq:          t.Seq,
		Time:         t.Time,
		Heartbeat:    t.Heartbeat,
		Temperature:  t.Temperature,
		Acceleration: t.Acceleration,
		Humidity:     t.Humidity,
		X:            t.Position.X,
		Y:            t.Position.Y,
		SystemOn:     t.SystemOn,
		Fall:         t.Fall,
	})
}

type alertPayload struct {
	Type string `json:"type"`
	Room string `json:"room"`
	telemetry.AlertState
	TriggeredAtISO string `json:"triggeredAtIso"`
}

func FormatAlert(room string, a telemetry.AlertState) ([]byte, error) {
	return json.Marshal(alertPayload{
		Type:           "alert",
		Room:           room,
		AlertState:     a,
		TriggeredAtISO: time.UnixMilli(a.TriggeredAt).UTC().Format(time.RFC3339Nano),
	})
}

// stateFields is the latest-state hash for a room.
func stateFields(t telemetry.Tick) map[string]interface{} {
	fields := map[string]interface{}{
		"seq":          t.Seq,
		"time":         t.Time,
		"heartbeat":    t.Heartbeat,
		"temperature":  t.Temperature,
		"acceleration": t.Acceleration,
		"x":            t.Position.X,
		"y":            t.Position.Y,
		"system_on":    t.SystemOn,
		"fall":         t.Fall,
	}
	if t.Humidity != nil {
		fields["humidity"] = *t.Humidity
	}
	return fields
}
