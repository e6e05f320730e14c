// Package cli is the headless progress display used when no terminal UI is
// requested.
package cli

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"time"

	"stagehand/internal/runner"
	"stagehand/internal/schedule"
)

// Header describes the run before it starts.
type Header struct {
	RunID   string
	BaseURL string
	Stages  []schedule.Stage
	Mode    schedule.Mode
	Weights map[string]float64
	Timeout time.Duration
	Pacing  time.Duration
}

func PrintHeader(w io.Writer, h Header) {
	fmt.Fprintf(w, "\n🚀 STARTING STAGEHAND RUN %s\n", h.RunID)
	fmt.Fprintf(w, "======================================================================\n")
	fmt.Fprintf(w, "Target URL : %s\n", h.BaseURL)
	stages := make([]string, 0, len(h.Stages))
	for _, s := range h.Stages {
		stages = append(stages, fmt.Sprintf("%s→%d", s.Duration, s.Target))
	}
	fmt.Fprintf(w, "Stages     : %s (%s)\n", strings.Join(stages, ", "), h.Mode)
	if len(h.Weights) > 0 {
		fmt.Fprintf(w, "Behaviors  : %s\n", weights(h.Weights))
	}
	fmt.Fprintf(w, "Timeout    : %s   Pacing: %s\n", h.Timeout, h.Pacing)
	fmt.Fprintf(w, "======================================================================\n\n")
}

func weights(m map[string]float64) string {
	parts := make([]string, 0, len(m))
	for _, n := range slices.Sorted(maps.Keys(m)) {
		parts = append(parts, fmt.Sprintf("%s %.0f%%", n, m[n]*100))
	}
	return strings.Join(parts, ", ")
}

// Monitor prints one carriage-return progress line per update until updates
// is closed.
func Monitor(w io.Writer, updates <-chan runner.Progress) {
	var last runner.Progress
	seen := false
	for p := range updates {
		last, seen = p, true
		fmt.Fprint(w, "\r"+Line(p))
	}
	if seen {
		fmt.Fprint(w, "\r"+Line(last)+"\n\n")
	}
}

// Line renders a single progress line.
func Line(p runner.Progress) string {
	snap := p.Snapshot
	rps := 0.0
	if snap.Duration > 0 {
		rps = float64(snap.Overall.Requests) / snap.Duration.Seconds()
	}
	pct := 1.0
	total := "∞"
	if p.Total > 0 {
		pct = p.Elapsed.Seconds() / p.Total.Seconds()
		if pct > 1 {
			pct = 1
		}
		total = p.Total.String()
	}
	if p.Draining {
		return fmt.Sprintf("%s %3.0f%% | %s/%s | Draining: %d in flight, %d VUs...      ",
			progressBar(1, 20), 100.0,
			p.Elapsed.Round(time.Second), total,
			snap.Inflight, p.Live)
	}
	return fmt.Sprintf("%s %3.0f%% | %s/%s | Stage %d | VUs: %3d/%-3d | Inf: %3d | RPS: %.1f | OK: %d | Err: %d | 409: %d",
		progressBar(pct, 20), pct*100,
		p.Elapsed.Round(time.Second), total,
		p.Stage+1,
		p.Live, p.Target,
		snap.Inflight,
		rps,
		snap.Overall.Success,
		snap.Overall.Fail+snap.Overall.Timeout,
		snap.Overall.Conflict,
	)
}

func progressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}
