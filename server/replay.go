package server

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ferdagainagainagain/Smartcrowd/binlog"
)

type ReplayOptions struct {
	// Speed multiplies the recorded pace; 0 replays as fast as possible.
	Speed float64
	// Loop restarts the capture at its end.
	Loop bool
}

// Replay feeds the frames of a capture to ingest, keeping the recorded
// spacing scaled by Speed. It returns the number of records replayed.
func Replay(ctx context.Context, path string, opts ReplayOptions, ingest *Ingest, logger *zap.Logger) (int, error) {
	total := 0
	for {
		n, err := replayOnce(ctx, path, opts.Speed, ingest, logger)
		total += n
		if err != nil || !opts.Loop || ctx.Err() != nil {
			return total, err
		}
		if n == 0 {
			return total, errors.Errorf("capture %s has no frames", path)
		}
	}
}

func replayOnce(ctx context.Context, path string, speed float64, ingest *Ingest, logger *zap.Logger) (int, error) {
	r, err := binlog.Open(path)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	logger.Info("replaying capture", zap.String("path", path), zap.Float64("speed", speed))

	var first time.Time
	startReal := time.Now()
	count := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, errors.Wrap(err, "read capture")
		}
		if rec.Flag != binlog.FlagFrame {
			continue
		}

		if first.IsZero() {
			first = rec.Time
			startReal = time.Now()
		} else if speed > 0 {
			target := time.Duration(float64(rec.Time.Sub(first)) / speed)
			if wait := target - time.Since(startReal); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return count, nil
				}
			}
		}
		if ctx.Err() != nil {
			return count, nil
		}

		ingest.Handle(rec.Payload, rec.Source)
		count++
	}
	logger.Info("replay finished", zap.Int("frames", count))
	return count, nil
}
