// Package protocol defines the JSON messages exchanged over /ws. Messages
// form a closed set keyed by the "type" field.
package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/ferdagainagainagain/Smartcrowd/fusion"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

const (
	TypeSensorData        = "sensor_data"
	TypeCalibrationUpdate = "calibration_update"
	TypeUpdateCalibration = "update_calibration"
	TypeResolveAlert      = "resolve_alert"
)

// ErrUnknownType is wrapped when a message carries an unrecognized type.
var ErrUnknownType = errors.New("unknown message type")

// ServerMessage is implemented by server to client messages.
type ServerMessage interface {
	MessageType() string
}

// ClientMessage is implemented by client to server messages.
type ClientMessage interface {
	MessageType() string
}

// SensorData is one tick plus the rolling histories. Catch-up snapshots
// also carry the calibration.
type SensorData struct {
	telemetry.Tick
	HeartbeatHistory    []telemetry.HistoryPoint `json:"heartbeatHistory"`
	TemperatureHistory  []telemetry.HistoryPoint `json:"temperatureHistory"`
	AccelerationHistory []telemetry.HistoryPoint `json:"accelerationHistory"`
	HumidityHistory     []telemetry.HistoryPoint `json:"humidityHistory,omitempty"`
	Calibration         *fusion.Calibration      `json:"calibration,omitempty"`
	Alert               telemetry.AlertState     `json:"alert"`
}

func (SensorData) MessageType() string { return TypeSensorData }

// NewSensorData builds the message for snap, which must carry a tick.
func NewSensorData(snap telemetry.Snapshot, withCalibration bool) SensorData {
	m := SensorData{
		HeartbeatHistory:    snap.History.Heartbeat,
		TemperatureHistory:  snap.History.Temperature,
		AccelerationHistory: snap.History.Acceleration,
		HumidityHistory:     snap.History.Humidity,
		Alert:               snap.Alert,
	}
	if snap.Tick != nil {
		m.Tick = *snap.Tick
	}
	if withCalibration {
		c := snap.Calibration
		m.Calibration = &c
	}
	return m
}

type CalibrationResult struct {
	OK       bool   `json:"ok"`
	AnchorID string `json:"anchor_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CalibrationUpdate announces the current calibration, and the outcome of
// the request that caused it when there was one.
type CalibrationUpdate struct {
	Calibration fusion.Calibration
	Result      *CalibrationResult
}

func (CalibrationUpdate) MessageType() string { return TypeCalibrationUpdate }

// UpdateCalibration requests new path-loss parameters for one anchor. A nil
// field keeps the current value.
type UpdateCalibration struct {
	AnchorID string   `json:"anchor_id"`
	RSSI1m   *float64 `json:"rssi_1m,omitempty"`
	N        *float64 `json:"n,omitempty"`
}

func (UpdateCalibration) MessageType() string { return TypeUpdateCalibration }

// ResolveAlert acknowledges the active alert.
type ResolveAlert struct{}

func (ResolveAlert) MessageType() string { return TypeResolveAlert }

type envelope struct {
	Type   string             `json:"type"`
	Data   json.RawMessage    `json:"data,omitempty"`
	Result *CalibrationResult `json:"result,omitempty"`
}

// EncodeServer serializes a server message.
func EncodeServer(m ServerMessage) ([]byte, error) {
	env := envelope{Type: m.MessageType()}
	var data interface{}
	switch v := m.(type) {
	case SensorData:
		data = v
	case CalibrationUpdate:
		data = v.Calibration
		env.Result = v.Result
	default:
		return nil, errors.Wrapf(ErrUnknownType, "encode %T", m)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", env.Type)
	}
	env.Data = raw
	return json.Marshal(env)
}

// DecodeServer parses a server message.
func DecodeServer(b []byte) (ServerMessage, error) {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Wrap(err, "decode envelope")
	}
	switch env.Type {
	case TypeSensorData:
		var m SensorData
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, errors.Wrap(err, "decode sensor_data")
		}
		return m, nil
	case TypeCalibrationUpdate:
		m := CalibrationUpdate{Result: env.Result}
		if err := json.Unmarshal(env.Data, &m.Calibration); err != nil {
			return nil, errors.Wrap(err, "decode calibration_update")
		}
		return m, nil
	}
	return nil, errors.Wrapf(ErrUnknownType, "%q", env.Type)
}

type clientEnvelope struct {
	Type string `json:"type"`
	UpdateCalibration
}

// EncodeClient serializes a client message. Fields sit beside "type".
func EncodeClient(m ClientMessage) ([]byte, error) {
	switch v := m.(type) {
	case UpdateCalibration:
		return json.Marshal(clientEnvelope{Type: TypeUpdateCalibration, UpdateCalibration: v})
	case ResolveAlert:
		return json.Marshal(struct {
			Type string `json:"type"`
		}{TypeResolveAlert})
	}
	return nil, errors.Wrapf(ErrUnknownType, "encode %T", m)
}

// DecodeClient parses a client message.
func DecodeClient(b []byte) (ClientMessage, error) {
	var env clientEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, errors.Wrap(err, "decode client message")
	}
	switch env.Type {
	case TypeUpdateCalibration:
		// anchor_id is checked by the calibration store so that a bad id
		// still gets a failure result
		return env.UpdateCalibration, nil
	case TypeResolveAlert:
		return ResolveAlert{}, nil
	}
	return nil, errors.Wrapf(ErrUnknownType, "%q", env.Type)
}
