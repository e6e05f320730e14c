package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	minTrackable = 1
	maxTrackable = int64(10 * time.Minute / time.Microsecond)
	sigFigs      = 3
)

// SafeHistogram is a thread-safe wrapper around hdrhistogram.
// Values are latencies in microseconds.
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1us to 10min, 3 significant figures
	return &SafeHistogram{hist: hdrhistogram.New(minTrackable, maxTrackable, sigFigs)}
}

// RecordDuration records d, clamped to the trackable range.
func (h *SafeHistogram) RecordDuration(d time.Duration) {
	v := d.Microseconds()
	if v < minTrackable {
		v = minTrackable
	}
	if v > maxTrackable {
		v = maxTrackable
	}
	h.mu.Lock()
	// out of range is impossible after clamping
	_ = h.hist.RecordValue(v)
	h.mu.Unlock()
}

// Trend copies the histogram. The lock is held only for the export.
func (h *SafeHistogram) Trend() Trend {
	h.mu.Lock()
	snap := h.hist.Export()
	h.mu.Unlock()
	return Trend{hist: hdrhistogram.Import(snap)}
}

// Trend is an immutable copy of a latency histogram.
type Trend struct {
	hist *hdrhistogram.Histogram
}

func (t Trend) Count() int64 {
	if t.hist == nil {
		return 0
	}
	return t.hist.TotalCount()
}

// Percentile returns the value at quantile q (0-100).
func (t Trend) Percentile(q float64) time.Duration {
	if t.Count() == 0 {
		return 0
	}
	return usToDuration(t.hist.ValueAtQuantile(q))
}

func (t Trend) Mean() time.Duration {
	if t.Count() == 0 {
		return 0
	}
	return time.Duration(t.hist.Mean() * float64(time.Microsecond))
}

func (t Trend) Min() time.Duration {
	if t.Count() == 0 {
		return 0
	}
	return usToDuration(t.hist.Min())
}

func (t Trend) Max() time.Duration {
	if t.Count() == 0 {
		return 0
	}
	return usToDuration(t.hist.Max())
}

func (t Trend) Median() time.Duration { return t.Percentile(50) }

func usToDuration(us int64) time.Duration {
	return time.Duration(us) * time.Microsecond
}
