package server

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/binlog"
	"github.com/ferdagainagainagain/Smartcrowd/metrics"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

// FrameSink receives parsed frames. *telemetry.FrameSource implements it.
type FrameSink interface {
	Push(telemetry.Frame)
}

// Ingest parses raw payloads into frames, optionally recording each payload
// to a capture first.
type Ingest struct {
	sink     FrameSink
	recorder *binlog.Writer
	logger   *zap.Logger
}

func NewIngest(sink FrameSink, recorder *binlog.Writer, logger *zap.Logger) *Ingest {
	return &Ingest{sink: sink, recorder: recorder, logger: logger}
}

// Handle records and parses one payload. It returns the number of frames
// pushed to the sink.
func (in *Ingest) Handle(payload []byte, source uint16) int {
	if in.recorder != nil {
		if err := in.recorder.WriteFrame(binlog.FlagFrame, source, payload); err != nil {
			in.logger.Warn("capture write failed", zap.Error(err))
		}
	}
	frames := ParseFrames(payload)
	if len(frames) == 0 {
		metrics.MalformedFrames.Add(1)
		in.logger.Debug("payload without frames", zap.ByteString("payload", payload))
		return 0
	}
	for _, f := range frames {
		in.sink.Push(f)
	}
	metrics.FramesIngested.Add(int64(len(frames)))
	return len(frames)
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
}

const mqttTimeout = 10 * time.Second

// MQTTIngest subscribes to the bridge topic that republishes the wearable's
// notifications.
type MQTTIngest struct {
	cfg    MQTTConfig
	ingest *Ingest
	client mqtt.Client
	logger *zap.Logger
}

func NewMQTTIngest(cfg MQTTConfig, ingest *Ingest, logger *zap.Logger) *MQTTIngest {
	return &MQTTIngest{cfg: cfg, ingest: ingest, logger: logger}
}

// Start connects and subscribes. The client reconnects on its own and
// resubscribes on every connect; it disconnects when ctx ends.
func (m *MQTTIngest) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.Broker)
	opts.SetClientID(m.cfg.ClientID)
	if m.cfg.Username != "" {
		opts.SetUsername(m.cfg.Username)
	}
	if m.cfg.Password != "" {
		opts.SetPassword(m.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.logger.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(m.cfg.Topic, m.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
			m.ingest.Handle(msg.Payload(), 0)
		})
		if token.WaitTimeout(mqttTimeout) && token.Error() != nil {
			m.logger.Error("mqtt subscribe failed", zap.String("topic", m.cfg.Topic), zap.Error(token.Error()))
			return
		}
		m.logger.Info("mqtt subscribed", zap.String("broker", m.cfg.Broker), zap.String("topic", m.cfg.Topic))
	})

	m.client = mqtt.NewClient(opts)
	token := m.client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return errors.Errorf("mqtt connect to %s timed out", m.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "mqtt connect to %s", m.cfg.Broker)
	}

	go func() {
		<-ctx.Done()
		m.client.Disconnect(250)
	}()
	return nil
}
