package web

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/fusion"
	"github.com/ferdagainagainagain/Smartcrowd/metrics"
	"github.com/ferdagainagainagain/Smartcrowd/protocol"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

const broadcastQueueSize = 64

// Controller is the state the hub and the REST routes act on.
// *telemetry.State implements it.
type Controller interface {
	Snapshot() telemetry.Snapshot
	Calibration() fusion.Calibration
	UpdateCalibration(id fusion.AnchorID, rssi1m, n *float64) (fusion.Calibration, error)
	ResetCalibration() fusion.Calibration
	Alert() telemetry.AlertState
	ResolveAlert() telemetry.AlertState
	History() telemetry.HistorySnapshot
	Averages() map[string]float64
}

// Hub fans messages out to every connected subscriber. Broadcast never
// blocks the caller: a full hub queue or a full subscriber queue drops the
// message for that path.
type Hub struct {
	ctrl   Controller
	logger *zap.Logger

	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan outbound
	kick       chan struct{}
	done       chan struct{}
	count      atomic.Int64
}

func NewHub(ctrl Controller, logger *zap.Logger) *Hub {
	return &Hub{
		ctrl:       ctrl,
		logger:     logger,
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan outbound, broadcastQueueSize),
		kick:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Run owns the subscriber set until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.dropAll()
			return
		case c := <-h.register:
			// The snapshot is taken here so that no broadcast handled
			// before it can reach c after it.
			first, seq, err := h.catchUp()
			if err != nil {
				h.logger.Error("build catch-up snapshot", zap.String("id", c.id), zap.Error(err))
				close(c.send)
				continue
			}
			c.send <- first
			c.seen = seq
			h.clients[c] = struct{}{}
			h.setCount()
			h.logger.Info("subscriber connected", zap.String("id", c.id), zap.Int("subscribers", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.setCount()
				h.logger.Info("subscriber disconnected", zap.String("id", c.id), zap.Int("subscribers", len(h.clients)))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				if msg.seq != 0 && msg.seq <= c.seen {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					metrics.BroadcastDrops.Add(1)
					h.logger.Debug("subscriber queue full, message dropped", zap.String("id", c.id))
				}
			}
		case <-h.kick:
			h.dropAll()
		}
	}
}

func (h *Hub) dropAll() {
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.setCount()
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))
	metrics.Subscribers.Store(int64(len(h.clients)))
}

// Subscribers returns the number of registered subscribers.
func (h *Hub) Subscribers() int { return int(h.count.Load()) }

// DisconnectAll closes every subscriber connection. Clients are expected
// to reconnect.
func (h *Hub) DisconnectAll() {
	select {
	case h.kick <- struct{}{}:
	default:
	}
}

// outbound is a queued broadcast. seq is the tick it carries, 0 for
// anything that is not a produced tick.
type outbound struct {
	data []byte
	seq  uint64
}

// Broadcast queues a raw message for every subscriber.
func (h *Hub) Broadcast(b []byte) {
	h.enqueue(outbound{data: b})
}

func (h *Hub) enqueue(o outbound) {
	select {
	case h.broadcast <- o:
	default:
		metrics.BroadcastDrops.Add(1)
		h.logger.Warn("hub queue full, broadcast dropped")
	}
}

// BroadcastMessage encodes and queues m.
func (h *Hub) BroadcastMessage(m protocol.ServerMessage) {
	b, err := protocol.EncodeServer(m)
	if err != nil {
		h.logger.Error("encode broadcast", zap.Error(err))
		return
	}
	h.Broadcast(b)
}

// BroadcastTick queues a produced tick. Subscribers whose catch-up
// snapshot already holds this tick or a later one skip it.
func (h *Hub) BroadcastTick(m protocol.SensorData) {
	b, err := protocol.EncodeServer(m)
	if err != nil {
		h.logger.Error("encode tick", zap.Error(err))
		return
	}
	h.enqueue(outbound{data: b, seq: m.Seq})
}

// catchUp builds the first message for a new subscriber: the full snapshot
// when a tick exists, otherwise the calibration alone. seq is the tick the
// snapshot holds, 0 when none.
func (h *Hub) catchUp() (msg []byte, seq uint64, err error) {
	snap := h.ctrl.Snapshot()
	if snap.Tick == nil {
		msg, err = protocol.EncodeServer(protocol.CalibrationUpdate{Calibration: snap.Calibration})
		return msg, 0, err
	}
	msg, err = protocol.EncodeServer(protocol.NewSensorData(snap, true))
	return msg, snap.Tick.Seq, err
}

func (h *Hub) handle(c *client, raw []byte) {
	msg, err := protocol.DecodeClient(raw)
	if err != nil {
		metrics.MalformedMessages.Add(1)
		h.logger.Warn("dropping malformed message", zap.String("id", c.id), zap.Error(err))
		return
	}
	switch m := msg.(type) {
	case protocol.UpdateCalibration:
		h.applyCalibration(m)
	case protocol.ResolveAlert:
		h.resolveAlert()
	}
}

// resolveAlert clears the alert and pushes the cleared state to every
// subscriber. It returns the alert that was active before.
func (h *Hub) resolveAlert() telemetry.AlertState {
	prev := h.ctrl.ResolveAlert()
	if !prev.Active {
		return prev
	}
	h.logger.Info("alert resolved", zap.String("message", prev.Message))
	if snap := h.ctrl.Snapshot(); snap.Tick != nil {
		h.BroadcastMessage(protocol.NewSensorData(snap, false))
	}
	return prev
}

// applyCalibration updates the store and tells every subscriber the
// outcome together with the calibration now in effect.
func (h *Hub) applyCalibration(m protocol.UpdateCalibration) protocol.CalibrationUpdate {
	calib, err := h.ctrl.UpdateCalibration(fusion.AnchorID(m.AnchorID), m.RSSI1m, m.N)
	result := &protocol.CalibrationResult{OK: err == nil, AnchorID: m.AnchorID}
	if err != nil {
		result.Error = err.Error()
		h.logger.Warn("calibration rejected", zap.String("anchor_id", m.AnchorID), zap.Error(err))
	} else {
		h.logger.Info("calibration updated", zap.String("anchor_id", m.AnchorID))
	}
	update := protocol.CalibrationUpdate{Calibration: calib, Result: result}
	h.BroadcastMessage(update)
	return update
}
