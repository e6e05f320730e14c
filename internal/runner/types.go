package runner

import (
	"time"

	"stagehand/internal/stats"
	"stagehand/internal/threshold"
)

// Names of the rates and gauges the runner records besides the per-request
// metrics.
const (
	RateErrors    = "errors"
	RateConflicts = "conflicts"
	GaugeVUs      = "vus"
)

const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultTick           = time.Second
)

type Config struct {
	BaseURL string
	Headers map[string]string

	RequestTimeout time.Duration
	// Pacing is the sleep between iterations of one virtual user.
	Pacing time.Duration
	// Tick is how often the pool is scaled to the schedule's target.
	Tick time.Duration
	// Seed makes behavior selection reproducible. Nil draws a random seed.
	Seed *uint64

	// GracefulStop bounds how long in-flight iterations may drain after the
	// stop signal before they are aborted. Defaults to RequestTimeout.
	GracefulStop time.Duration
	// MaxDuration cuts the run short when it is positive.
	MaxDuration time.Duration

	InsecureSkipVerify bool
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.GracefulStop <= 0 {
		c.GracefulStop = c.RequestTimeout
	}
	return c
}

// StopReason records why the run ended.
type StopReason string

const (
	StopCompleted   StopReason = "completed"
	StopMaxDuration StopReason = "max_duration"
	StopInterrupted StopReason = "interrupted"
	StopThreshold   StopReason = "threshold_abort"
	StopAborted     StopReason = "aborted"
)

// Progress is published on every tick.
type Progress struct {
	Elapsed  time.Duration
	Total    time.Duration
	Stage    int
	Target   int
	Live     int
	Draining bool
	Snapshot stats.Snapshot
}

// ProgressChan carries Progress updates. Sends never block; updates are
// dropped when the reader falls behind.
type ProgressChan chan Progress

// Summary is what a finished run hands to threshold evaluation and reporting.
type Summary struct {
	RunID      string
	StartedAt  time.Time
	EndedAt    time.Time
	StopReason StopReason
	// Breaches holds the abort_on_fail thresholds that stopped the run.
	Breaches []threshold.Result
	// DrainTimedOut is set when in-flight calls had to be aborted.
	DrainTimedOut bool
	Snapshot      stats.Snapshot
}
