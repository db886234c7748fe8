package main

import (
	"bytes"
	"encoding/csv"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/binlog"
	"github.com/ferdagainagainagain/Smartcrowd/config"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
	"github.com/ferdagainagainagain/Smartcrowd/web"
)

func testApp() *app {
	return &app{
		cfg: &config.Config{
			RoomSize:      10,
			Room:          "TEST_ROOM",
			HistorySize:   60,
			SimAccelModel: "magnitude",
		},
		logger: zap.NewNop(),
	}
}

func writeCapture(t *testing.T, payloads ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "frames.pcap")
	w, err := binlog.Create(path)
	require.NoError(t, err)
	base := time.UnixMilli(1700000000000)
	require.NoError(t, w.WriteAt(base, binlog.FlagStatus, 0, []byte("note")))
	for i, p := range payloads {
		require.NoError(t, w.WriteAt(base.Add(time.Duration(i)*time.Second), binlog.FlagFrame, 0, []byte(p)))
	}
	require.NoError(t, w.Close())
	return path
}

func TestFuseWritesOneRowPerFrame(t *testing.T) {
	path := writeCapture(t,
		"[0; 1; 9.80; 0.10; 0.20; 9.79; 72; 36.50; -40; -60; -60]",
		"[0; 1; 30.00; 0.10; 0.20; 29.99; 74; 36.60; -60; -40; -60]",
	)
	var out bytes.Buffer
	n, err := testApp().fuse(path, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, fuseHeader, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "1700000000000", rows[1][1])
	assert.Equal(t, "1700000001000", rows[2][1])
	assert.Equal(t, "", rows[1][14])
	assert.Equal(t, telemetry.MessageFall, rows[2][14])
}

func TestReadFramePayloadsSkipsStatus(t *testing.T) {
	path := writeCapture(t, "[a]", "[b]")
	payloads, err := readFramePayloads(path)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("[a]"), []byte("[b]")}, payloads)
}

func TestParseCalibrate(t *testing.T) {
	anchor, rssi, n, err := parseCalibrate("A2, -47.5, 2.1")
	require.NoError(t, err)
	assert.Equal(t, "A2", anchor)
	assert.Equal(t, -47.5, rssi)
	assert.Equal(t, 2.1, n)

	for _, bad := range []string{"", "A1,-40", "A1,x,2", "A1,-40,y"} {
		_, _, _, err := parseCalibrate(bad)
		assert.Error(t, err, bad)
	}
}

func TestPrinterRendersTicksOnce(t *testing.T) {
	var out bytes.Buffer
	p := &printer{out: &out}
	tick := &telemetry.Tick{Seq: 3, Heartbeat: 80}

	p.render(web.View{State: web.Connected, Connected: true, Tick: tick})
	p.render(web.View{State: web.Connected, Connected: true, Tick: tick})
	p.render(web.View{State: web.Connected, Connected: true, Tick: tick,
		Alert: telemetry.AlertState{Active: true, Message: telemetry.MessageFall, ID: "x"}})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "[connected]", lines[0])
	assert.Contains(t, lines[1], "#3")
	assert.Contains(t, lines[2], "ALERT "+telemetry.MessageFall)
}
