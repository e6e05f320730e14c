// Package schedule turns a list of stages into a concurrency target as a
// function of elapsed run time.
package schedule

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Mode controls how the target moves between stage targets.
type Mode string

const (
	Linear Mode = "linear"
	Step   Mode = "step"
)

// ParseMode accepts "" (linear), "linear" and "step".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", Linear:
		return Linear, nil
	case Step:
		return Step, nil
	}
	return "", fmt.Errorf("unknown ramp mode %q (expected linear or step)", s)
}

// Stage is one time-boxed phase of a run.
type Stage struct {
	Duration time.Duration `json:"duration"`
	Target   int           `json:"target"`
}

var ErrNoStages = errors.New("at least one stage is required")

// Schedule is immutable after New and safe for concurrent use.
type Schedule struct {
	stages      []Stage
	starts      []time.Duration
	total       time.Duration
	mode        Mode
	startTarget int
	holdLast    bool
}

type Option func(*Schedule)

func WithMode(m Mode) Option { return func(s *Schedule) { s.mode = m } }

// WithStartTarget sets the level the first stage ramps from. Default 0.
func WithStartTarget(n int) Option { return func(s *Schedule) { s.startTarget = n } }

// WithHoldLast keeps the last stage's target after the schedule ends instead
// of draining to 0.
func WithHoldLast(hold bool) Option { return func(s *Schedule) { s.holdLast = hold } }

func New(stages []Stage, opts ...Option) (*Schedule, error) {
	if len(stages) == 0 {
		return nil, ErrNoStages
	}
	s := &Schedule{
		stages: make([]Stage, len(stages)),
		starts: make([]time.Duration, len(stages)),
		mode:   Linear,
	}
	for _, o := range opts {
		o(s)
	}
	if s.mode != Linear && s.mode != Step {
		return nil, fmt.Errorf("unknown ramp mode %q", s.mode)
	}
	if s.startTarget < 0 {
		return nil, fmt.Errorf("start target must be >= 0, got %d", s.startTarget)
	}
	copy(s.stages, stages)
	var at time.Duration
	for i, st := range s.stages {
		if st.Duration < 0 {
			return nil, fmt.Errorf("stage %d: duration must be >= 0, got %s", i, st.Duration)
		}
		if st.Target < 0 {
			return nil, fmt.Errorf("stage %d: target must be >= 0, got %d", i, st.Target)
		}
		s.starts[i] = at
		at += st.Duration
	}
	s.total = at
	return s, nil
}

// Total is the sum of all stage durations.
func (s *Schedule) Total() time.Duration { return s.total }

func (s *Schedule) HoldLast() bool { return s.holdLast }

func (s *Schedule) Mode() Mode { return s.mode }

func (s *Schedule) Stages() []Stage {
	out := make([]Stage, len(s.stages))
	copy(out, s.stages)
	return out
}

// Max is the highest target the schedule can ask for.
func (s *Schedule) Max() int {
	m := s.startTarget
	for _, st := range s.stages {
		if st.Target > m {
			m = st.Target
		}
	}
	return m
}

// StageAt returns the index of the stage active at elapsed. ok is false once
// the schedule has ended.
func (s *Schedule) StageAt(elapsed time.Duration) (int, bool) {
	if elapsed < 0 {
		return 0, true
	}
	for i := range s.stages {
		if elapsed < s.starts[i]+s.stages[i].Duration {
			return i, true
		}
	}
	return len(s.stages) - 1, false
}

// Target returns the concurrency target at elapsed time since run start.
func (s *Schedule) Target(elapsed time.Duration) int {
	if elapsed < 0 {
		return s.startTarget
	}
	i, ok := s.StageAt(elapsed)
	if !ok {
		if s.holdLast {
			return s.stages[len(s.stages)-1].Target
		}
		return 0
	}
	st := s.stages[i]
	if s.mode == Step {
		return st.Target
	}
	from := s.startTarget
	if i > 0 {
		from = s.stages[i-1].Target
	}
	if from == st.Target {
		return st.Target
	}
	frac := float64(elapsed-s.starts[i]) / float64(st.Duration)
	return int(math.Round(float64(from) + float64(st.Target-from)*frac))
}
