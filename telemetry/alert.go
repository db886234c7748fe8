package telemetry

import "github.com/google/uuid"

const (
	MessageEmergency = "EMERGENCY BUTTON PRESSED"
	MessageFall      = "FALL DETECTED"
)

// AlertState is sticky: once active it stays active until resolved.
type AlertState struct {
	Active      bool   `json:"active"`
	Message     string `json:"message"`
	TriggeredAt int64  `json:"triggeredAt"`
	ID          string `json:"id,omitempty"`
}

// AlertEvaluator raises at most one alert at a time. Vitals never raise
// alerts; only the manual button and acceleration do.
type AlertEvaluator struct {
	FallThreshold float64
}

// Evaluate returns the next state. An active state is returned unchanged.
func (e AlertEvaluator) Evaluate(t Tick, cur AlertState) AlertState {
	if cur.Active {
		return cur
	}
	var msg string
	switch {
	case t.Fall:
		msg = MessageEmergency
	case t.Acceleration > e.FallThreshold:
		msg = MessageFall
	default:
		return cur
	}
	return AlertState{Active: true, Message: msg, TriggeredAt: t.Time, ID: uuid.NewString()}
}

// Resolve clears any alert.
func Resolve(AlertState) AlertState { return AlertState{} }
