package web

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/fusion"
	"github.com/ferdagainagainagain/Smartcrowd/metrics"
	"github.com/ferdagainagainagain/Smartcrowd/protocol"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

// DefaultReconnectDelay is the fixed backoff between connection attempts.
const DefaultReconnectDelay = 2 * time.Second

var (
	ErrNotConnected  = errors.New("channel not connected")
	ErrChannelClosed = errors.New("channel closed")
)

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Conn is the message-level connection the channel drives.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage([]byte) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer dials with gorilla/websocket.
type WSDialer struct {
	Dialer *websocket.Dialer
}

func (d WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return wsConn{conn}, nil
}

type wsConn struct{ c *websocket.Conn }

func (w wsConn) ReadMessage() ([]byte, error) {
	_, b, err := w.c.ReadMessage()
	return b, err
}

func (w wsConn) WriteMessage(b []byte) error {
	w.c.SetWriteDeadline(time.Now().Add(writeWait))
	return w.c.WriteMessage(websocket.TextMessage, b)
}

func (w wsConn) Close() error { return w.c.Close() }

// View is what a display consumer renders.
type View struct {
	State               ConnState
	Connected           bool
	LastError           string
	Tick                *telemetry.Tick
	HeartbeatHistory    []telemetry.HistoryPoint
	TemperatureHistory  []telemetry.HistoryPoint
	AccelerationHistory []telemetry.HistoryPoint
	HumidityHistory     []telemetry.HistoryPoint
	Calibration         *fusion.Calibration
	Alert               telemetry.AlertState
	LastResult          *protocol.CalibrationResult
}

type ChannelOptions struct {
	URL            string
	ReconnectDelay time.Duration
	Dialer         Dialer
	Logger         *zap.Logger
	// OnChange receives a copy of the view after every transition or
	// applied message. It runs on the channel goroutine.
	OnChange func(View)
	// OnMessage receives each decoded server message before it is applied.
	OnMessage func(protocol.ServerMessage)
}

// Channel keeps a subscription to the hub alive. All transitions happen on
// one goroutine that consumes a single event queue; dial results, inbound
// messages, connection loss, retry timers and sends are all events.
type Channel struct {
	opts   ChannelOptions
	events chan event

	mu   sync.RWMutex
	view View

	// owned by the run goroutine
	conn  Conn
	gen   int
	timer *time.Timer

	cancel context.CancelFunc
	done   chan struct{}
}

type event interface{}

type (
	dialResult struct {
		gen  int
		conn Conn
		err  error
	}
	inbound struct {
		gen  int
		data []byte
	}
	connLost struct {
		gen int
		err error
	}
	retry   struct{ gen int }
	sendReq struct {
		payload []byte
		reply   chan error
	}
)

func NewChannel(opts ChannelOptions) *Channel {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = WSDialer{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Channel{
		opts:   opts,
		events: make(chan event, 16),
		done:   make(chan struct{}),
	}
}

// Start begins connecting. The channel runs until Close or ctx ends.
func (c *Channel) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Close stops the channel and waits for it to reach Closed.
func (c *Channel) Close() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// View returns a copy of the consumer view.
func (c *Channel) View() View {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// UpdateCalibration sends an update_calibration request. It fails with
// ErrNotConnected while the channel is not connected.
func (c *Channel) UpdateCalibration(ctx context.Context, anchorID string, rssi1m, n float64) error {
	return c.send(ctx, protocol.UpdateCalibration{AnchorID: anchorID, RSSI1m: &rssi1m, N: &n})
}

// ResolveAlert asks the server to clear the active alert.
func (c *Channel) ResolveAlert(ctx context.Context) error {
	return c.send(ctx, protocol.ResolveAlert{})
}

func (c *Channel) send(ctx context.Context, m protocol.ClientMessage) error {
	payload, err := protocol.EncodeClient(m)
	if err != nil {
		return err
	}
	req := sendReq{payload: payload, reply: make(chan error, 1)}
	select {
	case c.events <- req:
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		return ErrChannelClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Channel) post(ctx context.Context, ev event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.done)
	c.connect(ctx)
	for {
		select {
		case <-ctx.Done():
			c.teardown()
			return
		case ev := <-c.events:
			c.handle(ctx, ev)
		}
	}
}

func (c *Channel) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case dialResult:
		if ev.gen != c.gen {
			if ev.conn != nil {
				ev.conn.Close()
			}
			return
		}
		if ev.err != nil {
			c.lost(ctx, ev.err)
			return
		}
		c.conn = ev.conn
		c.opts.Logger.Info("channel connected", zap.String("url", c.opts.URL))
		c.update(func(v *View) {
			v.State = Connected
			v.Connected = true
			v.LastError = ""
		})
		go c.readLoop(ctx, c.gen, ev.conn)
	case inbound:
		if ev.gen == c.gen {
			c.apply(ev.data)
		}
	case connLost:
		if ev.gen == c.gen && c.conn != nil {
			c.lost(ctx, ev.err)
		}
	case retry:
		if ev.gen == c.gen {
			c.connect(ctx)
		}
	case sendReq:
		if c.conn == nil {
			ev.reply <- ErrNotConnected
			return
		}
		err := c.conn.WriteMessage(ev.payload)
		ev.reply <- err
		if err != nil {
			c.lost(ctx, err)
		}
	}
}

func (c *Channel) connect(ctx context.Context) {
	c.gen++
	gen := c.gen
	c.update(func(v *View) { v.State = Connecting })
	go func() {
		conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL)
		c.post(ctx, dialResult{gen: gen, conn: conn, err: err})
	}()
}

// lost drops the current connection and schedules the next attempt.
func (c *Channel) lost(ctx context.Context, err error) {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	c.opts.Logger.Warn("channel disconnected", zap.String("url", c.opts.URL), zap.String("error", msg),
		zap.Duration("retry_in", c.opts.ReconnectDelay))
	c.update(func(v *View) {
		v.State = Disconnected
		v.Connected = false
		v.LastError = msg
	})
	gen := c.gen
	c.timer = time.AfterFunc(c.opts.ReconnectDelay, func() { c.post(ctx, retry{gen: gen}) })
}

func (c *Channel) teardown() {
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.update(func(v *View) {
		v.State = Closed
		v.Connected = false
	})
}

func (c *Channel) readLoop(ctx context.Context, gen int, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.post(ctx, connLost{gen: gen, err: err})
			return
		}
		c.post(ctx, inbound{gen: gen, data: data})
	}
}

func (c *Channel) apply(data []byte) {
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		metrics.MalformedMessages.Add(1)
		c.opts.Logger.Warn("dropping malformed server message", zap.Error(err))
		return
	}
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}
	switch m := msg.(type) {
	case protocol.SensorData:
		c.update(func(v *View) {
			tick := m.Tick
			v.Tick = &tick
			v.HeartbeatHistory = m.HeartbeatHistory
			v.TemperatureHistory = m.TemperatureHistory
			v.AccelerationHistory = m.AccelerationHistory
			v.HumidityHistory = m.HumidityHistory
			v.Alert = m.Alert
			if m.Calibration != nil {
				v.Calibration = m.Calibration
			}
		})
	case protocol.CalibrationUpdate:
		c.update(func(v *View) {
			calib := m.Calibration
			v.Calibration = &calib
			v.LastResult = m.Result
		})
	}
}

func (c *Channel) update(f func(*View)) {
	c.mu.Lock()
	f(&c.view)
	v := c.view
	c.mu.Unlock()
	if c.opts.OnChange != nil {
		c.opts.OnChange(v)
	}
}
