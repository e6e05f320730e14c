package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"stagehand/internal/behavior"
	"stagehand/internal/report"
	"stagehand/internal/runner"
	"stagehand/internal/schedule"
	"stagehand/internal/threshold"
)

// Error lists every problem found in a configuration. A run never starts
// with an invalid configuration.
type Error struct {
	Problems []string
}

func (e *Error) Error() string {
	if len(e.Problems) == 1 {
		return "invalid configuration: " + e.Problems[0]
	}
	return "invalid configuration:\n  - " + strings.Join(e.Problems, "\n  - ")
}

func (e *Error) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// addErr splits joined errors so that each lands on its own line.
func (e *Error) addErr(prefix string, err error) {
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			e.Problems = append(e.Problems, prefix+line)
		}
	}
}

// Plan is a validated configuration, ready to run.
type Plan struct {
	Runner     runner.Config
	Schedule   *schedule.Schedule
	Registry   *behavior.Registry
	Selector   *behavior.Selector
	Thresholds []threshold.Threshold
}

// Validate reports every problem in c, or nil.
func (c *Config) Validate() error {
	_, err := c.Compile()
	return err
}

// Compile validates c and builds the schedule, the behaviors and the
// thresholds. Problems are collected rather than returned one at a time.
func (c *Config) Compile() (*Plan, error) {
	problems := &Error{}
	plan := &Plan{
		Runner: runner.Config{
			BaseURL:            strings.TrimRight(c.BaseURL, "/"),
			Headers:            c.Headers,
			RequestTimeout:     c.RequestTimeout,
			Pacing:             c.Pacing,
			Tick:               c.Tick,
			Seed:               c.Seed,
			GracefulStop:       c.GracefulStop,
			MaxDuration:        c.MaxDuration,
			InsecureSkipVerify: c.InsecureSkipVerify,
		},
	}

	if u, err := url.Parse(c.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		problems.add("base_url %q must be an absolute http(s) URL", c.BaseURL)
	}
	positive(problems, "request_timeout", c.RequestTimeout)
	positive(problems, "tick", c.Tick)
	nonNegative(problems, "pacing", c.Pacing)
	nonNegative(problems, "graceful_stop", c.GracefulStop)
	nonNegative(problems, "max_duration", c.MaxDuration)
	if c.HoldLast && c.MaxDuration <= 0 {
		problems.add("hold_last needs max_duration, otherwise the run never ends")
	}

	mode, err := schedule.ParseMode(c.Ramp)
	if err != nil {
		problems.add("ramp: %v", err)
	}
	if c.StartTarget < 0 {
		problems.add("start_target must be >= 0, got %d", c.StartTarget)
	}
	stages := make([]schedule.Stage, 0, len(c.Stages))
	for i, st := range c.Stages {
		if st.Duration < 0 {
			problems.add("stage %d: duration must be >= 0, got %s", i, st.Duration)
		}
		if st.Target < 0 {
			problems.add("stage %d: target must be >= 0, got %d", i, st.Target)
		}
		stages = append(stages, schedule.Stage{Duration: st.Duration, Target: st.Target})
	}
	if len(stages) == 0 {
		problems.add("%v", schedule.ErrNoStages)
	}
	if len(problems.Problems) == 0 {
		s, err := schedule.New(stages,
			schedule.WithMode(mode),
			schedule.WithStartTarget(c.StartTarget),
			schedule.WithHoldLast(c.HoldLast),
		)
		if err != nil {
			problems.add("%v", err)
		}
		plan.Schedule = s
	}

	c.compileBehaviors(plan, problems)

	for _, t := range c.Thresholds {
		plan.Thresholds = append(plan.Thresholds, threshold.Threshold{
			Metric:      strings.TrimSpace(t.Metric),
			Expression:  strings.TrimSpace(t.Expr),
			AbortOnFail: t.AbortOnFail,
		})
	}
	if err := threshold.Validate(plan.Thresholds); err != nil {
		problems.addErr("", err)
	}

	for _, f := range c.Report.Formats {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case report.FormatJSON, report.FormatCSV:
		default:
			problems.add("report.formats: unknown format %q (expected json or csv)", f)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		problems.add("logging.level: unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console":
	default:
		problems.add("logging.format: unknown format %q (expected json or console)", c.Logging.Format)
	}
	if c.Metrics.Addr != "" {
		if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
			problems.add("metrics.addr: %v", err)
		}
	}

	if len(problems.Problems) > 0 {
		return nil, problems
	}
	return plan, nil
}

func (c *Config) compileBehaviors(plan *Plan, problems *Error) {
	if len(c.Behaviors) == 0 {
		problems.add("at least one behavior is required")
		return
	}
	engine := behavior.NewTemplateEngine()
	reg := behavior.NewRegistry()
	for i, bc := range c.Behaviors {
		b, err := behavior.Build(bc.spec(), engine)
		if err != nil {
			problems.add("behavior %d: %v", i, err)
			continue
		}
		if err := reg.Register(b); err != nil {
			problems.add("behavior %d: %v", i, err)
		}
	}
	sel, err := reg.Selector()
	if err != nil {
		problems.add("behaviors: %v", err)
	}
	plan.Registry = reg
	plan.Selector = sel
}

func (bc BehaviorConfig) spec() behavior.Spec {
	steps := make([]behavior.Step, 0, len(bc.Steps))
	for _, s := range bc.Steps {
		steps = append(steps, behavior.Step{
			Name:    s.Name,
			Method:  s.Method,
			Path:    s.Path,
			Headers: s.Headers,
			Body:    s.Body,
		})
	}
	return behavior.Spec{
		Name:   bc.Name,
		Kind:   behavior.Kind(strings.ToLower(bc.Kind)),
		Weight: bc.Weight,
		Catalog: behavior.Catalog{
			Terms:       bc.Terms,
			Items:       bc.Items,
			MaxQuantity: bc.MaxQuantity,
		},
		PrimeCart: bc.PrimeCart,
		UserID:    bc.UserID,
		Steps:     steps,
	}
}

func positive(e *Error, key string, d time.Duration) {
	if d <= 0 {
		e.add("%s must be > 0, got %s", key, d)
	}
}

func nonNegative(e *Error, key string, d time.Duration) {
	if d < 0 {
		e.add("%s must be >= 0, got %s", key, d)
	}
}
