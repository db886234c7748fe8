package server

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/binlog"
	"github.com/ferdagainagainagain/Smartcrowd/metrics"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

type frameSink struct {
	mu     sync.Mutex
	frames []telemetry.Frame
}

func (s *frameSink) Push(f telemetry.Frame) {
	s.mu.Lock()
	s.frames = append(s.frames, f)
	s.mu.Unlock()
}

func (s *frameSink) all() []telemetry.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]telemetry.Frame(nil), s.frames...)
}

func TestIngestRecordsAndPushes(t *testing.T) {
	var buf bytes.Buffer
	rec, err := binlog.NewWriter(&buf)
	require.NoError(t, err)
	sink := &frameSink{}
	in := NewIngest(sink, rec, zap.NewNop())

	before := metrics.FramesIngested.Load()
	assert.Equal(t, 2, in.Handle([]byte("[0; 1; 1.1][0; 1; 1.2]"), 3))
	assert.Equal(t, 0, in.Handle([]byte("garbage"), 3))
	assert.Equal(t, before+2, metrics.FramesIngested.Load())
	assert.Len(t, sink.all(), 2)

	r, err := binlog.NewReader(&buf)
	require.NoError(t, err)
	recs, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 2, "every payload is captured, parsable or not")
	assert.Equal(t, uint16(3), recs[0].Source)
	assert.Equal(t, "garbage", string(recs[1].Payload))
}

func writeCapture(t *testing.T, frames []telemetry.Frame, spacing time.Duration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.pcap")
	w, err := binlog.Create(path)
	require.NoError(t, err)
	at := time.Unix(1700000000, 0)
	for _, f := range frames {
		require.NoError(t, w.WriteAt(at, binlog.FlagFrame, 0, FormatFrame(f)))
		require.NoError(t, w.WriteAt(at, binlog.FlagStatus, 0, []byte("annotation")))
		at = at.Add(spacing)
	}
	require.NoError(t, w.Close())
	return path
}

func TestReplayFeedsFrames(t *testing.T) {
	frames := []telemetry.Frame{{Heartbeat: 70}, {Heartbeat: 71}, {Heartbeat: 72}}
	path := writeCapture(t, frames, 500*time.Millisecond)
	sink := &frameSink{}

	n, err := Replay(context.Background(), path, ReplayOptions{}, NewIngest(sink, nil, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	got := sink.all()
	require.Len(t, got, 3)
	assert.Equal(t, 72.0, got[2].Heartbeat)
}

func TestReplayHonoursSpeed(t *testing.T) {
	path := writeCapture(t, []telemetry.Frame{{}, {}, {}}, 200*time.Millisecond)
	start := time.Now()
	n, err := Replay(context.Background(), path, ReplayOptions{Speed: 2}, NewIngest(&frameSink{}, nil, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestReplayStopsOnCancel(t *testing.T) {
	path := writeCapture(t, []telemetry.Frame{{}, {}, {}}, time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	n, err := Replay(ctx, path, ReplayOptions{Speed: 1, Loop: true}, NewIngest(&frameSink{}, nil, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReplayMissingFile(t *testing.T) {
	_, err := Replay(context.Background(), filepath.Join(t.TempDir(), "nope"), ReplayOptions{}, NewIngest(&frameSink{}, nil, zap.NewNop()), zap.NewNop())
	assert.Error(t, err)
}
