package server

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte("[0; 1; 0.35; 0.12; 0.08; 9.95; 74; 36.70; -58; -63; -55]\r\n"))
	require.NoError(t, err)
	assert.Equal(t, telemetry.Frame{
		Fall: 0, SystemOn: 1, Acc: 0.35, AccX: 0.12, AccY: 0.08, AccZ: 9.95,
		Heartbeat: 74, Temp: 36.7, RSSI: [3]float64{-58, -63, -55},
	}, f)
}

func TestParseFrameLenientFields(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want telemetry.Frame
	}{
		{"nan fields", "[1; 1; nan; 0; 0; NaN; nan; 36.5; -60; nan; -61]",
			telemetry.Frame{Fall: 1, SystemOn: 1, Temp: 36.5, RSSI: [3]float64{-60, 0, -61}}},
		{"missing trailing fields", "[0; 1; 9.8]",
			telemetry.Frame{SystemOn: 1, Acc: 9.8}},
		{"garbage field", "[0; on; 1.5; x; 0; 0; 70; 37; -50; -50; -50]",
			telemetry.Frame{Acc: 1.5, Heartbeat: 70, Temp: 37, RSSI: [3]float64{-50, -50, -50}}},
		{"no spaces", "[0;1;0.2;0;0;0;80;36.9;-45;-46;-47]",
			telemetry.Frame{SystemOn: 1, Acc: 0.2, Heartbeat: 80, Temp: 36.9, RSSI: [3]float64{-45, -46, -47}}},
		{"float flags", "[1.0; 0.0; 8]", telemetry.Frame{Fall: 1, Acc: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFrame([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFrameMalformed(t *testing.T) {
	for _, in := range []string{"", "0; 1; 2", "[0; 1; 2"} {
		_, err := ParseFrame([]byte(in))
		assert.True(t, errors.Is(err, ErrMalformedFrame), "input %q", in)
	}
}

func TestParseFramesSplitsStream(t *testing.T) {
	frames := ParseFrames([]byte("noise[0; 1; 1][1; 1; 2]\n[0; 0; 3"))
	require.Len(t, frames, 2)
	assert.Equal(t, 1.0, frames[0].Acc)
	assert.Equal(t, 1, frames[1].Fall)
	assert.Empty(t, ParseFrames([]byte("no frames here")))
}

func TestFormatFrameParses(t *testing.T) {
	f := telemetry.Frame{Fall: 1, SystemOn: 1, Acc: 12.5, AccX: 3.1, AccY: 4.2, AccZ: 6.3, Heartbeat: 96, Temp: 37.25, RSSI: [3]float64{-61, -70, -52}}
	got, err := ParseFrame(FormatFrame(f))
	require.NoError(t, err)
	assert.Equal(t, f, got)
}
