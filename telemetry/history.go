package telemetry

// DefaultHistorySize is the number of points kept per series (30 s at 2 Hz).
const DefaultHistorySize = 60

// HistoryPoint is one stored value.
type HistoryPoint struct {
	Time  int64   `json:"time"`
	Value float64 `json:"value"`
}

// Series is a fixed-capacity ring of points. Once full, every append
// overwrites the oldest point, so no allocation happens after warm-up.
// A Series is not safe for concurrent use; State guards it.
type Series struct {
	points []HistoryPoint
	total  float64
	index  int
}

// NewSeries panics on a non-positive capacity.
func NewSeries(capacity int) *Series {
	if capacity <= 0 {
		panic("illegal series capacity")
	}
	return &Series{points: make([]HistoryPoint, 0, capacity)}
}

func (s *Series) Len() int { return len(s.points) }

// Append adds p, evicting the oldest point when full.
func (s *Series) Append(p HistoryPoint) {
	if len(s.points) < cap(s.points) {
		s.points = append(s.points, p)
		s.total += p.Value
		return
	}
	s.total = s.total - s.points[s.index].Value + p.Value
	s.points[s.index] = p
	s.index++
	if s.index >= cap(s.points) {
		s.index = 0
	}
}

// Mean over the stored points. NaN when empty.
func (s *Series) Mean() float64 {
	return s.total / float64(len(s.points))
}

// Snapshot returns a chronological copy, oldest first.
func (s *Series) Snapshot() []HistoryPoint {
	out := make([]HistoryPoint, 0, len(s.points))
	out = append(out, s.points[s.index:]...)
	out = append(out, s.points[:s.index]...)
	return out
}

// History groups the per-metric series. Humidity is nil when disabled.
type History struct {
	Heartbeat    *Series
	Temperature  *Series
	Acceleration *Series
	Humidity     *Series
}

func NewHistory(capacity int, humidity bool) *History {
	h := &History{
		Heartbeat:    NewSeries(capacity),
		Temperature:  NewSeries(capacity),
		Acceleration: NewSeries(capacity),
	}
	if humidity {
		h.Humidity = NewSeries(capacity)
	}
	return h
}

// Append records the tick's values in every series.
func (h *History) Append(t Tick) {
	h.Heartbeat.Append(HistoryPoint{Time: t.Time, Value: float64(t.Heartbeat)})
	h.Temperature.Append(HistoryPoint{Time: t.Time, Value: t.Temperature})
	h.Acceleration.Append(HistoryPoint{Time: t.Time, Value: t.Acceleration})
	if h.Humidity != nil && t.Humidity != nil {
		h.Humidity.Append(HistoryPoint{Time: t.Time, Value: *t.Humidity})
	}
}

// HistorySnapshot is a detached copy of every series.
type HistorySnapshot struct {
	Heartbeat    []HistoryPoint `json:"heartbeat"`
	Temperature  []HistoryPoint `json:"temperature"`
	Acceleration []HistoryPoint `json:"acceleration"`
	Humidity     []HistoryPoint `json:"humidity,omitempty"`
}

func (h *History) Snapshot() HistorySnapshot {
	snap := HistorySnapshot{
		Heartbeat:    h.Heartbeat.Snapshot(),
		Temperature:  h.Temperature.Snapshot(),
		Acceleration: h.Acceleration.Snapshot(),
	}
	if h.Humidity != nil {
		snap.Humidity = h.Humidity.Snapshot()
	}
	return snap
}

// Means returns the mean of every non-empty series keyed by metric name.
func (h *History) Means() map[string]float64 {
	out := make(map[string]float64, 4)
	add := func(name string, s *Series) {
		if s != nil && s.Len() > 0 {
			out[name] = s.Mean()
		}
	}
	add("heartbeat", h.Heartbeat)
	add("temperature", h.Temperature)
	add("acceleration", h.Acceleration)
	add("humidity", h.Humidity)
	return out
}
