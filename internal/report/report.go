// Package report turns a finished run into the JSON document, the
// per-behavior CSV and the console summary, and maps the verdict to a
// process exit status.
package report

import (
	"maps"
	"slices"
	"time"

	"stagehand/internal/runner"
	"stagehand/internal/stats"
	"stagehand/internal/threshold"
)

// Process exit statuses.
const (
	ExitPass             = 0
	ExitError            = 1
	ExitThresholdsFailed = 99
	ExitInvalidConfig    = 104
)

type Report struct {
	RunID         string            `json:"run_id"`
	BaseURL       string            `json:"base_url,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	EndedAt       time.Time         `json:"ended_at"`
	DurationMs    float64           `json:"duration_ms"`
	StopReason    string            `json:"stop_reason"`
	DrainTimedOut bool              `json:"drain_timed_out,omitempty"`
	Overall       BehaviorStats     `json:"overall"`
	Behaviors     []BehaviorStats   `json:"behaviors"`
	Rates         []RateStats       `json:"rates"`
	Gauges        []GaugeStats      `json:"gauges"`
	Verdict       threshold.Verdict `json:"verdict"`
}

// Latency summarizes a trend in milliseconds.
type Latency struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Med float64 `json:"med"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type BehaviorStats struct {
	Name               string  `json:"name"`
	Requests           uint64  `json:"requests"`
	Success            uint64  `json:"success"`
	Failed             uint64  `json:"failed"`
	Conflicts          uint64  `json:"conflicts"`
	Timeouts           uint64  `json:"timeouts"`
	Bytes              uint64  `json:"bytes"`
	RPS                float64 `json:"rps"`
	FailedRate         float64 `json:"failed_rate"`
	ConflictRate       float64 `json:"conflict_rate"`
	Iterations         uint64  `json:"iterations"`
	IterationsFailed   uint64  `json:"iterations_failed"`
	IterationsConflict uint64  `json:"iterations_conflict"`
	Latency            Latency `json:"latency_ms"`
	IterationDuration  Latency `json:"iteration_duration_ms"`
}

type RateStats struct {
	Name   string  `json:"name"`
	Passes uint64  `json:"passes"`
	Total  uint64  `json:"total"`
	Rate   float64 `json:"rate"`
}

type GaugeStats struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
	Max   int64  `json:"max"`
}

// New assembles the report of a finished run.
func New(sum runner.Summary, v threshold.Verdict) *Report {
	snap := sum.Snapshot
	elapsed := sum.EndedAt.Sub(sum.StartedAt)
	if elapsed <= 0 {
		elapsed = snap.Duration
	}

	r := &Report{
		RunID:         sum.RunID,
		StartedAt:     sum.StartedAt,
		EndedAt:       sum.EndedAt,
		DurationMs:    ms(elapsed),
		StopReason:    string(sum.StopReason),
		DrainTimedOut: sum.DrainTimedOut,
		Overall:       behaviorStats("all", snap.Overall, elapsed),
		Behaviors:     make([]BehaviorStats, 0, len(snap.Behaviors)),
		Rates:         make([]RateStats, 0, len(snap.Rates)),
		Gauges:        make([]GaugeStats, 0, len(snap.Gauges)),
		Verdict:       v,
	}
	for _, name := range snap.BehaviorNames() {
		r.Behaviors = append(r.Behaviors, behaviorStats(name, snap.Behaviors[name], elapsed))
	}
	for _, name := range snap.RateNames() {
		rs := snap.Rates[name]
		r.Rates = append(r.Rates, RateStats{Name: name, Passes: rs.Passes, Total: rs.Total, Rate: rs.Rate()})
	}
	for _, name := range slices.Sorted(maps.Keys(snap.Gauges)) {
		g := snap.Gauges[name]
		r.Gauges = append(r.Gauges, GaugeStats{Name: name, Value: g.Value, Max: g.Max})
	}
	return r
}

func behaviorStats(name string, b stats.BehaviorSnapshot, elapsed time.Duration) BehaviorStats {
	bs := BehaviorStats{
		Name:               name,
		Requests:           b.Requests,
		Success:            b.Success,
		Failed:             b.Fail + b.Timeout,
		Conflicts:          b.Conflict,
		Timeouts:           b.Timeout,
		Bytes:              b.Bytes,
		FailedRate:         b.FailedRate(),
		ConflictRate:       b.ConflictRate(),
		Iterations:         b.Iterations,
		IterationsFailed:   b.IterationsFailed,
		IterationsConflict: b.IterationsConflict,
		Latency:            latency(b.Latency),
		IterationDuration:  latency(b.IterationDuration),
	}
	if elapsed > 0 {
		bs.RPS = float64(b.Requests) / elapsed.Seconds()
	}
	return bs
}

func latency(t stats.Trend) Latency {
	return Latency{
		Avg: ms(t.Mean()),
		Min: ms(t.Min()),
		Med: ms(t.Median()),
		P90: ms(t.Percentile(90)),
		P95: ms(t.Percentile(95)),
		P99: ms(t.Percentile(99)),
		Max: ms(t.Max()),
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Pass reports the overall verdict.
func (r *Report) Pass() bool {
	return r.Verdict.Pass
}

// ExitCode maps the verdict to the process exit status.
func (r *Report) ExitCode() int {
	if r.Verdict.Pass {
		return ExitPass
	}
	return ExitThresholdsFailed
}
