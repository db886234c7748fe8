package relay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/metrics"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

const (
	DefaultQueueSize = 256
	writeTimeout     = 2 * time.Second
)

// Sink is the external system ticks are forwarded to.
type Sink interface {
	WriteTick(ctx context.Context, t telemetry.Tick) error
	WriteAlert(ctx context.Context, room string, a telemetry.AlertState) error
}

type kind int

const (
	kindTick kind = iota
	kindAlert
)

type message struct {
	kind  kind
	tick  telemetry.Tick
	alert telemetry.AlertState
}

// Relay decouples the tick driver from the sink: publishing only enqueues,
// and a full queue drops the message.
type Relay struct {
	sink   Sink
	room   string
	queue  chan message
	logger *zap.Logger
}

func New(sink Sink, room string, queueSize int, logger *zap.Logger) *Relay {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Relay{sink: sink, room: room, queue: make(chan message, queueSize), logger: logger}
}

func (r *Relay) PublishTick(t telemetry.Tick) {
	r.enqueue(message{kind: kindTick, tick: t})
}

func (r *Relay) PublishAlert(a telemetry.AlertState) {
	r.enqueue(message{kind: kindAlert, alert: a})
}

func (r *Relay) enqueue(m message) {
	select {
	case r.queue <- m:
	default:
		metrics.RelayDrops.Add(1)
	}
}

// Run drains the queue until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-r.queue:
			r.write(ctx, m)
		}
	}
}

func (r *Relay) write(ctx context.Context, m message) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	var err error
	switch m.kind {
	case kindTick:
		err = r.sink.WriteTick(ctx, m.tick)
	case kindAlert:
		err = r.sink.WriteAlert(ctx, r.room, m.alert)
	}
	if err != nil {
		metrics.RelayFailures.Add(1)
		r.logger.Warn("relay write failed", zap.Error(err))
		return
	}
	metrics.RelayPublished.Add(1)
}
