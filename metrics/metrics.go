package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	TicksProduced     atomic.Int64
	TicksSkipped      atomic.Int64
	BroadcastDrops    atomic.Int64
	MalformedMessages atomic.Int64
	FramesIngested    atomic.Int64
	MalformedFrames   atomic.Int64
	RelayPublished    atomic.Int64
	RelayDrops        atomic.Int64
	RelayFailures     atomic.Int64
	Subscribers       atomic.Int64
)

// Snapshot returns the current counter values keyed by metric name.
func Snapshot() map[string]int64 {
	return map[string]int64{
		"ticks_produced_total":     TicksProduced.Load(),
		"ticks_skipped_total":      TicksSkipped.Load(),
		"broadcast_drops_total":    BroadcastDrops.Load(),
		"malformed_messages_total": MalformedMessages.Load(),
		"frames_ingested_total":    FramesIngested.Load(),
		"malformed_frames_total":   MalformedFrames.Load(),
		"relay_published_total":    RelayPublished.Load(),
		"relay_drops_total":        RelayDrops.Load(),
		"relay_failures_total":     RelayFailures.Load(),
		"subscribers":              Subscribers.Load(),
	}
}

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "smartcrowd_ticks_produced_total %d\n", TicksProduced.Load())
	fmt.Fprintf(w, "smartcrowd_ticks_skipped_total %d\n", TicksSkipped.Load())
	fmt.Fprintf(w, "smartcrowd_broadcast_drops_total %d\n", BroadcastDrops.Load())
	fmt.Fprintf(w, "smartcrowd_malformed_messages_total %d\n", MalformedMessages.Load())
	fmt.Fprintf(w, "smartcrowd_frames_ingested_total %d\n", FramesIngested.Load())
	fmt.Fprintf(w, "smartcrowd_malformed_frames_total %d\n", MalformedFrames.Load())
	fmt.Fprintf(w, "smartcrowd_relay_published_total %d\n", RelayPublished.Load())
	fmt.Fprintf(w, "smartcrowd_relay_drops_total %d\n", RelayDrops.Load())
	fmt.Fprintf(w, "smartcrowd_relay_failures_total %d\n", RelayFailures.Load())
	fmt.Fprintf(w, "smartcrowd_subscribers %d\n", Subscribers.Load())
}
