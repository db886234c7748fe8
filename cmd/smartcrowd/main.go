// smartcrowd serves live wearable telemetry for one dance room: vitals,
// an RSSI-trilaterated position and a sticky alert, pushed to dashboards
// over a websocket.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/config"
)

var version = "dev"

type app struct {
	cfg    *config.Config
	logger *zap.Logger

	logLevel  string
	logFormat string
}

func main() {
	a := &app{}
	root := &cobra.Command{
		Use:          "smartcrowd",
		Short:        "Wearable telemetry server and client",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "json or console (overrides LOG_FORMAT)")

	root.AddCommand(a.serveCmd(), a.replayCmd(), a.watchCmd(), a.captureCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat, "smartcrowd")
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger.With(zap.String("command", cmd.Name()))
	return nil
}
