package main

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ferdagainagainagain/Smartcrowd/binlog"
	"github.com/ferdagainagainagain/Smartcrowd/config"
	"github.com/ferdagainagainagain/Smartcrowd/fusion"
	"github.com/ferdagainagainagain/Smartcrowd/relay"
	"github.com/ferdagainagainagain/Smartcrowd/server"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
	"github.com/ferdagainagainagain/Smartcrowd/web"
)

type serveFlags struct {
	port       string
	source     string
	profile    string
	accelModel string
	seed       uint64
	tickMS     int
	redis      string
	record     string
	dist       string
	humidity   bool
	trilat     bool
}

func (f *serveFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.port, "port", "", "HTTP port")
	fs.StringVar(&f.source, "source", "", "tick source: sim, mqtt or replay")
	fs.StringVar(&f.profile, "profile", "", "simulation profile: steady or spiky")
	fs.StringVar(&f.accelModel, "accel-model", "", "simulated acceleration: magnitude or deviation")
	fs.Uint64Var(&f.seed, "seed", 0, "simulation seed")
	fs.IntVar(&f.tickMS, "tick-ms", 0, "tick period in milliseconds")
	fs.StringVar(&f.redis, "redis", "", "redis address for the relay")
	fs.StringVar(&f.record, "record", "", "record live frames to this capture file")
	fs.StringVar(&f.dist, "dist", "", "directory with the static dashboard")
	fs.BoolVar(&f.humidity, "humidity", false, "include humidity")
	fs.BoolVar(&f.trilat, "trilaterate", false, "position simulated ticks from their RSSI")
}

// apply overrides cfg with the flags the user actually set.
func (f *serveFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	set := cmd.Flags().Changed
	if set("port") {
		cfg.HTTPPort = f.port
	}
	if set("source") {
		cfg.Source = f.source
	}
	if set("profile") {
		cfg.SimProfile = f.profile
	}
	if set("accel-model") {
		cfg.SimAccelModel = f.accelModel
	}
	if set("seed") {
		cfg.SimSeed = f.seed
	}
	if set("tick-ms") {
		cfg.TickInterval = time.Duration(f.tickMS) * time.Millisecond
	}
	if set("redis") {
		cfg.RedisAddr = f.redis
	}
	if set("record") {
		cfg.RecordPath = f.record
	}
	if set("dist") {
		cfg.DistDir = f.dist
	}
	if set("humidity") {
		cfg.HumidityEnabled = f.humidity
	}
	if set("trilaterate") {
		cfg.SimTrilaterate = f.trilat
	}
}

func (a *app) serveCmd() *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Produce ticks and serve the dashboard websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(cmd, a.cfg)
			return a.serve(cmd.Context())
		},
	}
	flags.register(cmd)
	return cmd
}

func (a *app) replayCmd() *cobra.Command {
	flags := &serveFlags{}
	var speed float64
	var loop bool
	cmd := &cobra.Command{
		Use:   "replay <capture>",
		Short: "Serve ticks from a recorded frame capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.apply(cmd, a.cfg)
			a.cfg.Source = config.SourceReplay
			a.cfg.ReplayPath = args[0]
			if cmd.Flags().Changed("speed") {
				a.cfg.ReplaySpeed = speed
			}
			if cmd.Flags().Changed("loop") {
				a.cfg.ReplayLoop = loop
			}
			return a.serve(cmd.Context())
		},
	}
	flags.register(cmd)
	cmd.Flags().Float64Var(&speed, "speed", 1, "pace multiplier; 0 replays as fast as possible")
	cmd.Flags().BoolVar(&loop, "loop", false, "restart the capture at its end")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := fusion.NewCalibrationStore(fusion.DefaultCalibration())
	if err != nil {
		return err
	}
	state := telemetry.NewState(store, telemetry.NewHistory(cfg.HistorySize, cfg.HumidityEnabled))

	g, ctx := errgroup.WithContext(ctx)

	source, closeSource, err := a.buildSource(ctx, g)
	if err != nil {
		return err
	}
	defer closeSource()

	pipeline := telemetry.NewPipeline(state, source, fusion.NewLeastSquares(cfg.RoomSize), telemetry.PipelineConfig{
		RoomSize:      cfg.RoomSize,
		Room:          cfg.Room,
		FallThreshold: cfg.EffectiveFallThreshold(),
	}, logger)

	hub := web.NewHub(state, logger)
	srv := web.NewServer(hub, state, cfg.DistDir, logger)

	var rel server.Relay
	if cfg.RedisAddr != "" {
		sink, err := relay.NewRedisSink(ctx, relay.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisChannel,
		})
		if err != nil {
			return err
		}
		defer sink.Close()
		r := relay.New(sink, cfg.Room, relay.DefaultQueueSize, logger)
		g.Go(func() error {
			r.Run(ctx)
			return nil
		})
		rel = r
		logger.Info("redis relay enabled", zap.String("addr", cfg.RedisAddr), zap.String("prefix", cfg.RedisChannel))
	}

	driver := server.NewDriver(pipeline, hub, rel, cfg.TickInterval, logger)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		driver.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.Start(ctx, ":"+cfg.HTTPPort); !web.IsClosed(err) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	logger.Info("smartcrowd started",
		zap.String("source", cfg.Source),
		zap.String("room", cfg.Room),
		zap.Float64("room_size", cfg.RoomSize),
		zap.Duration("tick", cfg.TickInterval),
		zap.Float64("fall_threshold", cfg.EffectiveFallThreshold()))

	err = g.Wait()
	logger.Info("smartcrowd stopped")
	return err
}

// buildSource returns the configured tick source. Goroutines feeding it
// are started on g.
func (a *app) buildSource(ctx context.Context, g *errgroup.Group) (telemetry.Source, func(), error) {
	cfg, logger := a.cfg, a.logger
	noop := func() {}

	switch cfg.Source {
	case config.SourceSim:
		sim, err := telemetry.NewSimulator(cfg.SimConfig())
		if err != nil {
			return nil, noop, err
		}
		return sim, noop, nil

	case config.SourceMQTT:
		frames := telemetry.NewFrameSource()
		var recorder *binlog.Writer
		closeFn := noop
		if cfg.RecordPath != "" {
			w, err := binlog.Create(cfg.RecordPath)
			if err != nil {
				return nil, noop, err
			}
			recorder = w
			if err := w.WriteFrame(binlog.FlagStatus, 0, []byte("recording room="+cfg.Room)); err != nil {
				w.Close()
				return nil, noop, err
			}
			closeFn = func() {
				if err := w.Close(); err != nil {
					logger.Warn("closing capture failed", zap.Error(err))
				}
			}
			logger.Info("recording frames", zap.String("path", cfg.RecordPath))
		}
		ingest := server.NewIngest(frames, recorder, logger)
		mq := server.NewMQTTIngest(server.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
			QoS:      1,
		}, ingest, logger)
		if err := mq.Start(ctx); err != nil {
			closeFn()
			return nil, noop, err
		}
		return frames, closeFn, nil

	case config.SourceReplay:
		frames := telemetry.NewFrameSource()
		ingest := server.NewIngest(frames, nil, logger)
		opts := server.ReplayOptions{Speed: cfg.ReplaySpeed, Loop: cfg.ReplayLoop}
		g.Go(func() error {
			n, err := server.Replay(ctx, cfg.ReplayPath, opts, ingest, logger)
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return err
			}
			logger.Info("replay finished", zap.Int("records", n))
			return nil
		})
		return frames, noop, nil
	}
	return nil, noop, errors.Errorf("unknown source %q", cfg.Source)
}
