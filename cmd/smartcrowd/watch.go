package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ferdagainagainagain/Smartcrowd/web"
)

func (a *app) watchCmd() *cobra.Command {
	var (
		url       string
		reconnect time.Duration
		resolve   bool
		calibrate string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow a running server from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if !cmd.Flags().Changed("reconnect") {
				reconnect = a.cfg.ReconnectDelay
			}
			p := &printer{out: cmd.OutOrStdout()}
			ch := web.NewChannel(web.ChannelOptions{
				URL:            url,
				ReconnectDelay: reconnect,
				Logger:         a.logger,
				OnChange:       p.render,
			})
			ch.Start(ctx)
			defer ch.Close()

			if resolve || calibrate != "" {
				return a.request(ctx, ch, resolve, calibrate)
			}
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://localhost:8000/ws", "server websocket URL")
	cmd.Flags().DurationVar(&reconnect, "reconnect", 0, "delay between connection attempts")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "resolve the active alert and exit")
	cmd.Flags().StringVar(&calibrate, "calibrate", "", "send ANCHOR,RSSI_1M,N and exit, e.g. A1,-45,2.2")
	return cmd
}

// request waits for a connection, sends one request and returns.
func (a *app) request(ctx context.Context, ch *web.Channel, resolve bool, calibrate string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for !ch.View().Connected {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	if resolve {
		return ch.ResolveAlert(ctx)
	}
	anchor, rssi1m, n, err := parseCalibrate(calibrate)
	if err != nil {
		return err
	}
	if err := ch.UpdateCalibration(ctx, anchor, rssi1m, n); err != nil {
		return err
	}
	for {
		if res := ch.View().LastResult; res != nil && res.AnchorID == anchor {
			if !res.OK {
				return errors.Errorf("calibration rejected: %s", res.Error)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseCalibrate(s string) (string, float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return "", 0, 0, errors.Errorf("calibrate wants ANCHOR,RSSI_1M,N, got %q", s)
	}
	rssi1m, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "rssi_1m")
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		return "", 0, 0, errors.Wrap(err, "n")
	}
	return strings.TrimSpace(parts[0]), rssi1m, n, nil
}

// printer writes one line per new tick or connection change. It is only
// called from the channel goroutine.
type printer struct {
	out     io.Writer
	state   web.ConnState
	seq     uint64
	alertID string
}

func (p *printer) render(v web.View) {
	if v.State != p.state {
		p.state = v.State
		if v.LastError != "" {
			fmt.Fprintf(p.out, "[%s] %s\n", v.State, v.LastError)
		} else {
			fmt.Fprintf(p.out, "[%s]\n", v.State)
		}
	}
	if v.Alert.Active && v.Alert.ID != p.alertID {
		p.alertID = v.Alert.ID
		fmt.Fprintf(p.out, "ALERT %s at %s\n", v.Alert.Message, time.UnixMilli(v.Alert.TriggeredAt).Format(time.TimeOnly))
	}
	if !v.Alert.Active {
		p.alertID = ""
	}
	if v.Tick == nil || v.Tick.Seq == p.seq {
		return
	}
	t := v.Tick
	p.seq = t.Seq
	fmt.Fprintf(p.out, "#%-6d hr=%3d temp=%.1f acc=%5.2f pos=(%.2f, %.2f) rssi=[%.0f %.0f %.0f]\n",
		t.Seq, t.Heartbeat, t.Temperature, t.Acceleration, t.Position.X, t.Position.Y, t.RSSI.A1, t.RSSI.A2, t.RSSI.A3)
}
