package main

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/ferdagainagainagain/Smartcrowd/binlog"
	"github.com/ferdagainagainagain/Smartcrowd/fusion"
	"github.com/ferdagainagainagain/Smartcrowd/server"
	"github.com/ferdagainagainagain/Smartcrowd/telemetry"
)

func (a *app) captureCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Inspect and process recorded frame captures",
	}
	cmd.AddCommand(a.captureVerifyCmd(), a.captureFuseCmd())
	return cmd
}

func (a *app) captureVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <original> <copy>",
		Short: "Check that two captures carry the same frame payloads",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			first, err := readFramePayloads(args[0])
			if err != nil {
				return err
			}
			second, err := readFramePayloads(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d frames\n%s: %d frames\n", args[0], len(first), args[1], len(second))

			mismatches := 0
			for i := 0; i < len(first) && i < len(second); i++ {
				if bytes.Equal(first[i], second[i]) {
					continue
				}
				fmt.Fprintf(out, "mismatch at frame %d: %q vs %q\n", i, first[i], second[i])
				mismatches++
				if mismatches > 10 {
					fmt.Fprintln(out, "too many mismatches, stopping")
					break
				}
			}
			if len(first) != len(second) {
				mismatches++
			}
			if mismatches > 0 {
				return errors.Errorf("captures differ")
			}
			fmt.Fprintln(out, "all payloads match")
			return nil
		},
	}
}

func readFramePayloads(path string) ([][]byte, error) {
	r, err := binlog.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	recs, err := r.ReadAll()
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	var out [][]byte
	for _, rec := range recs {
		if rec.Flag == binlog.FlagFrame {
			out = append(out, rec.Payload)
		}
	}
	return out, nil
}

func (a *app) captureFuseCmd() *cobra.Command {
	var outPath string
	cmd := &cobra.Command{
		Use:   "fuse <capture>",
		Short: "Run a capture through the pipeline offline and write the ticks as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Create(outPath)
			if err != nil {
				return err
			}
			defer f.Close()
			n, err := a.fuse(args[0], f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d ticks to %s\n", n, outPath)
			return nil
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "fused.csv", "output CSV path")
	return cmd
}

var fuseHeader = []string{
	"seq", "time", "x", "y", "d1", "d2", "d3", "rssi1", "rssi2", "rssi3",
	"heartbeat", "temperature", "acceleration", "fall", "alert",
}

// fuse stamps each tick with its record time so the output lines up with
// the capture.
func (a *app) fuse(path string, out io.Writer) (int, error) {
	r, err := binlog.Open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	store, err := fusion.NewCalibrationStore(fusion.DefaultCalibration())
	if err != nil {
		return 0, err
	}
	state := telemetry.NewState(store, telemetry.NewHistory(a.cfg.HistorySize, false))
	frames := telemetry.NewFrameSource()
	var recTime time.Time
	pipeline := telemetry.NewPipeline(state, frames, fusion.NewLeastSquares(a.cfg.RoomSize), telemetry.PipelineConfig{
		RoomSize:      a.cfg.RoomSize,
		Room:          a.cfg.Room,
		FallThreshold: a.cfg.EffectiveFallThreshold(),
		Clock:         func() time.Time { return recTime },
	}, a.logger)

	w := csv.NewWriter(out)
	if err := w.Write(fuseHeader); err != nil {
		return 0, err
	}
	ftoa := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

	n := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		if rec.Flag != binlog.FlagFrame {
			continue
		}
		recTime = rec.Time
		for _, frame := range server.ParseFrames(rec.Payload) {
			frames.Push(frame)
			snap, _, err := pipeline.Step()
			if err != nil {
				return n, err
			}
			t := snap.Tick
			row := []string{
				strconv.FormatUint(t.Seq, 10), strconv.FormatInt(t.Time, 10),
				ftoa(t.Position.X), ftoa(t.Position.Y),
				ftoa(t.Distances.A1), ftoa(t.Distances.A2), ftoa(t.Distances.A3),
				ftoa(t.RSSI.A1), ftoa(t.RSSI.A2), ftoa(t.RSSI.A3),
				strconv.Itoa(t.Heartbeat), ftoa(t.Temperature), ftoa(t.Acceleration),
				strconv.FormatBool(t.Fall), snap.Alert.Message,
			}
			if err := w.Write(row); err != nil {
				return n, err
			}
			n++
		}
	}
	w.Flush()
	return n, w.Error()
}
