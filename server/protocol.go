package server

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

// FrameFields is the firmware field order inside one bracketed frame.
var FrameFields = [...]string{"fall", "systemOn", "acc", "accX", "accY", "accZ", "hr", "temp", "rssi1", "rssi2", "rssi3"}

var ErrMalformedFrame = errors.New("malformed sensor frame")

// ParseFrame decodes the first bracketed frame in data:
//
//	[fall; systemOn; acc; accX; accY; accZ; hr; temp; rssi1; rssi2; rssi3]
//
// "nan", unparsable and missing fields read as 0.
func ParseFrame(data []byte) (telemetry.Frame, error) {
	start := bytes.IndexByte(data, '[')
	if start < 0 {
		return telemetry.Frame{}, errors.Wrap(ErrMalformedFrame, "no opening bracket")
	}
	end := bytes.IndexByte(data[start:], ']')
	if end < 0 {
		return telemetry.Frame{}, errors.Wrap(ErrMalformedFrame, "no closing bracket")
	}
	return parseBody(string(data[start+1 : start+end])), nil
}

// ParseFrames decodes every complete frame in data, skipping noise between
// frames. Notifications can carry several frames or a partial one.
func ParseFrames(data []byte) []telemetry.Frame {
	var frames []telemetry.Frame
	offset := 0
	for offset < len(data) {
		start := bytes.IndexByte(data[offset:], '[')
		if start < 0 {
			break
		}
		start += offset
		end := bytes.IndexByte(data[start:], ']')
		if end < 0 {
			break
		}
		frames = append(frames, parseBody(string(data[start+1:start+end])))
		offset = start + end + 1
	}
	return frames
}

func parseBody(body string) telemetry.Frame {
	var v [len(FrameFields)]float64
	for i, field := range strings.Split(body, ";") {
		if i >= len(v) {
			break
		}
		v[i] = parseField(field)
	}
	return telemetry.Frame{
		Fall:      int(v[0]),
		SystemOn:  int(v[1]),
		Acc:       v[2],
		AccX:      v[3],
		AccY:      v[4],
		AccZ:      v[5],
		Heartbeat: v[6],
		Temp:      v[7],
		RSSI:      [3]float64{v[8], v[9], v[10]},
	}
}

func parseField(s string) float64 {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "nan") {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// FormatFrame renders f the way the firmware prints it.
func FormatFrame(f telemetry.Frame) []byte {
	return []byte(fmt.Sprintf("[%d; %d; %.2f; %.2f; %.2f; %.2f; %.0f; %.2f; %.0f; %.0f; %.0f]",
		f.Fall, f.SystemOn, f.Acc, f.AccX, f.AccY, f.AccZ, f.Heartbeat, f.Temp, f.RSSI[0], f.RSSI[1], f.RSSI[2]))
}
