package server

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/metrics"
	"github.com/ferdagainagainagain/Smartcrowd/protocol"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

// DefaultTickInterval is the 2 Hz dashboard rate.
const DefaultTickInterval = 500 * time.Millisecond

type Broadcaster interface {
	BroadcastTick(protocol.SensorData)
}

// Relay forwards ticks and alert activations to an external consumer.
type Relay interface {
	PublishTick(telemetry.Tick)
	PublishAlert(telemetry.AlertState)
}

// Driver runs the pipeline on a fixed period and fans each tick out.
type Driver struct {
	pipeline *telemetry.Pipeline
	hub      Broadcaster
	relay    Relay
	interval time.Duration
	logger   *zap.Logger
}

// NewDriver builds a driver; relay may be nil.
func NewDriver(pipeline *telemetry.Pipeline, hub Broadcaster, relay Relay, interval time.Duration, logger *zap.Logger) *Driver {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Driver{pipeline: pipeline, hub: hub, relay: relay, interval: interval, logger: logger}
}

// Run ticks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	d.logger.Info("tick driver started", zap.Duration("interval", d.interval))
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("tick driver stopped")
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Tick runs one pipeline step and publishes the result. It never blocks on
// subscribers.
func (d *Driver) Tick() {
	snap, raised, err := d.pipeline.Step()
	if errors.Is(err, telemetry.ErrNoSample) {
		metrics.TicksSkipped.Add(1)
		return
	}
	if err != nil {
		d.logger.Error("pipeline step failed", zap.Error(err))
		return
	}
	metrics.TicksProduced.Add(1)

	d.hub.BroadcastTick(protocol.NewSensorData(snap, false))

	if raised {
		d.logger.Warn("alert raised",
			zap.String("message", snap.Alert.Message),
			zap.Int64("triggered_at", snap.Alert.TriggeredAt),
			zap.Float64("acceleration", snap.Tick.Acceleration))
	}
	if d.relay != nil {
		d.relay.PublishTick(*snap.Tick)
		if raised {
			d.relay.PublishAlert(snap.Alert)
		}
	}
}
