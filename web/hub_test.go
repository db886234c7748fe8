package web

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/fusion"
	"github.com/ferdagainagainagain/Smartcrowd/metrics"
	"github.com/ferdagainagainagain/Smartcrowd/protocol"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

func newState(t *testing.T) *telemetry.State {
	t.Helper()
	store, err := fusion.NewCalibrationStore(fusion.DefaultCalibration())
	require.NoError(t, err)
	return telemetry.NewState(store, telemetry.NewHistory(telemetry.DefaultHistorySize, false))
}

func runHub(t *testing.T, ctrl Controller) *Hub {
	t.Helper()
	h := NewHub(ctrl, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func TestHubDropsWhenSubscriberQueueFull(t *testing.T) {
	h := runHub(t, newState(t))
	c := &client{id: "slow", hub: h, send: make(chan []byte, 2)}
	h.register <- c
	assert.Eventually(t, func() bool { return h.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	before := metrics.BroadcastDrops.Load()
	h.Broadcast([]byte("first"))
	h.Broadcast([]byte("second"))
	require.Eventually(t, func() bool { return metrics.BroadcastDrops.Load() == before+1 }, time.Second, 5*time.Millisecond)
	<-c.send // catch-up
	assert.Equal(t, []byte("first"), <-c.send)
}

func TestHubUnregisterClosesQueue(t *testing.T) {
	h := runHub(t, newState(t))
	c := &client{id: "gone", hub: h, send: make(chan []byte, 1)}
	h.register <- c
	h.unregister <- c
	<-c.send // catch-up
	_, ok := <-c.send
	assert.False(t, ok)
	assert.Eventually(t, func() bool { return h.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	// a second unregister is ignored
	h.unregister <- c
}

func TestHubHandleMalformedMessage(t *testing.T) {
	h := runHub(t, newState(t))
	before := metrics.MalformedMessages.Load()
	h.handle(&client{id: "x"}, []byte(`{"type":"shutdown"}`))
	h.handle(&client{id: "x"}, []byte(`not json`))
	assert.Equal(t, before+2, metrics.MalformedMessages.Load())
}

func TestHubApplyCalibration(t *testing.T) {
	state := newState(t)
	h := runHub(t, state)

	n := 0.0
	update := h.applyCalibration(protocol.UpdateCalibration{AnchorID: "A1", N: &n})
	assert.False(t, update.Result.OK)
	assert.NotEmpty(t, update.Result.Error)
	assert.Equal(t, fusion.DefaultCalibration(), state.Calibration())

	rssi := -47.0
	update = h.applyCalibration(protocol.UpdateCalibration{AnchorID: "A1", RSSI1m: &rssi})
	assert.True(t, update.Result.OK)
	assert.Equal(t, -47.0, state.Calibration().A1.RSSI1m)
	assert.Equal(t, state.Calibration(), update.Calibration)
}

func TestHubCatchUp(t *testing.T) {
	state := newState(t)
	h := runHub(t, state)

	b, seq, err := h.catchUp()
	require.NoError(t, err)
	assert.Zero(t, seq)
	msg, err := protocol.DecodeServer(b)
	require.NoError(t, err)
	assert.IsType(t, protocol.CalibrationUpdate{}, msg)

	sim, err := telemetry.NewSimulator(telemetry.DefaultSimConfig())
	require.NoError(t, err)
	p := telemetry.NewPipeline(state, sim, fusion.NewLeastSquares(10), telemetry.PipelineConfig{FallThreshold: 25}, zap.NewNop())
	_, _, err = p.Step()
	require.NoError(t, err)

	b, seq, err = h.catchUp()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
	msg, err = protocol.DecodeServer(b)
	require.NoError(t, err)
	data, ok := msg.(protocol.SensorData)
	require.True(t, ok)
	assert.NotNil(t, data.Calibration)
	assert.Len(t, data.HeartbeatHistory, 1)
}

func newPipeline(t *testing.T, state *telemetry.State, cfg telemetry.SimConfig) *telemetry.Pipeline {
	t.Helper()
	sim, err := telemetry.NewSimulator(cfg)
	require.NoError(t, err)
	return telemetry.NewPipeline(state, sim, fusion.NewLeastSquares(10), telemetry.PipelineConfig{FallThreshold: 25}, zap.NewNop())
}

func nextMessage(t *testing.T, c *client) protocol.ServerMessage {
	t.Helper()
	select {
	case b := <-c.send:
		msg, err := protocol.DecodeServer(b)
		require.NoError(t, err)
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message queued")
		return nil
	}
}

func TestHubSkipsTicksHeldBySnapshot(t *testing.T) {
	state := newState(t)
	p := newPipeline(t, state, telemetry.DefaultSimConfig())
	h := runHub(t, state)

	first, _, err := p.Step()
	require.NoError(t, err)
	c := &client{id: "late", hub: h, send: make(chan []byte, 4)}
	h.register <- c

	// a tick produced before registration, still queued in the hub
	h.BroadcastTick(protocol.NewSensorData(first, false))
	second, _, err := p.Step()
	require.NoError(t, err)
	h.BroadcastTick(protocol.NewSensorData(second, false))

	snap, ok := nextMessage(t, c).(protocol.SensorData)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.NotNil(t, snap.Calibration)

	next, ok := nextMessage(t, c).(protocol.SensorData)
	require.True(t, ok)
	assert.Equal(t, uint64(2), next.Seq)
}

func TestHubRejectsEmptyAnchorWithResult(t *testing.T) {
	state := newState(t)
	h := runHub(t, state)
	c := &client{id: "panel", hub: h, send: make(chan []byte, 4)}
	h.register <- c
	nextMessage(t, c)

	before := metrics.MalformedMessages.Load()
	for _, raw := range []string{
		`{"type":"update_calibration","anchor_id":"","rssi_1m":-40,"n":2}`,
		`{"type":"update_calibration","rssi_1m":-40,"n":2}`,
	} {
		h.handle(c, []byte(raw))
		upd, ok := nextMessage(t, c).(protocol.CalibrationUpdate)
		require.True(t, ok, raw)
		require.NotNil(t, upd.Result)
		assert.False(t, upd.Result.OK)
		assert.Contains(t, upd.Result.Error, "must be one of")
	}
	assert.Equal(t, before, metrics.MalformedMessages.Load())
	assert.Equal(t, fusion.DefaultCalibration(), state.Calibration())
}

func TestHubResolveAlertBroadcasts(t *testing.T) {
	state := newState(t)
	cfg := telemetry.DefaultSimConfig()
	cfg.FallProb = 1
	_, raised, err := newPipeline(t, state, cfg).Step()
	require.NoError(t, err)
	require.True(t, raised)

	h := runHub(t, state)
	c := &client{id: "other", hub: h, send: make(chan []byte, 4)}
	h.register <- c
	first := nextMessage(t, c).(protocol.SensorData)
	assert.True(t, first.Alert.Active)

	h.handle(&client{id: "operator"}, []byte(`{"type":"resolve_alert"}`))
	cleared, ok := nextMessage(t, c).(protocol.SensorData)
	require.True(t, ok)
	assert.False(t, cleared.Alert.Active)
	assert.Equal(t, first.Seq, cleared.Seq)

	// nothing to resolve, nothing sent
	h.handle(&client{id: "operator"}, []byte(`{"type":"resolve_alert"}`))
	select {
	case <-c.send:
		t.Fatal("unexpected broadcast")
	case <-time.After(100 * time.Millisecond):
	}
}
