// Package threshold evaluates pass/fail conditions over run aggregates.
package threshold

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stagehand/internal/stats"
)

// Built-in metric names.
const (
	MetricReqDuration       = "http_req_duration"
	MetricReqFailed         = "http_req_failed"
	MetricReqConflicts      = "http_req_conflicts"
	MetricReqTimeouts       = "http_req_timeouts"
	MetricReqs              = "http_reqs"
	MetricIterations        = "iterations"
	MetricIterationDuration = "iteration_duration"
	MetricVUs               = "vus"
)

type kind int

const (
	kindTrend kind = iota
	kindRate
	kindCounter
	kindGauge
)

var builtins = map[string]kind{
	MetricReqDuration:       kindTrend,
	MetricIterationDuration: kindTrend,
	MetricReqFailed:         kindRate,
	MetricReqConflicts:      kindRate,
	MetricReqTimeouts:       kindRate,
	MetricReqs:              kindCounter,
	MetricIterations:        kindCounter,
	MetricVUs:               kindGauge,
}

var allowed = map[kind]map[string]bool{
	kindTrend:   {"avg": true, "min": true, "max": true, "med": true, "p": true, "count": true},
	kindRate:    {"rate": true, "count": true},
	kindCounter: {"count": true, "rate": true},
	kindGauge:   {"value": true, "max": true},
}

// Threshold is one configured condition over a metric.
type Threshold struct {
	Metric      string `json:"metric"`
	Expression  string `json:"expression"`
	AbortOnFail bool   `json:"abort_on_fail,omitempty"`
}

func (t Threshold) String() string {
	return t.Metric + ": " + t.Expression
}

// Result is the evaluation of a single threshold.
type Result struct {
	Threshold    Threshold `json:"threshold"`
	Observed     float64   `json:"observed"`
	ObservedText string    `json:"observed_text"`
	Pass         bool      `json:"pass"`
	Resolved     bool      `json:"resolved"`
	Reason       string    `json:"reason"`
}

// Verdict is the overall outcome of a run.
type Verdict struct {
	Pass    bool     `json:"pass"`
	Results []Result `json:"thresholds"`
}

// Failed returns the results that did not pass.
func (v Verdict) Failed() []Result {
	var out []Result
	for _, r := range v.Results {
		if !r.Pass {
			out = append(out, r)
		}
	}
	return out
}

// Breaches evaluates the abort_on_fail thresholds of ths mid-run and returns
// the ones that resolved and failed. Unresolvable thresholds only fail at the
// end of the run.
func Breaches(snap stats.Snapshot, ths []Threshold) []Result {
	var out []Result
	for _, t := range ths {
		if !t.AbortOnFail {
			continue
		}
		if r := evaluate(snap, t); r.Resolved && !r.Pass {
			out = append(out, r)
		}
	}
	return out
}

type metricRef struct {
	name     string
	behavior string
}

// parseMetric splits "http_req_duration{behavior:search}".
func parseMetric(s string) (metricRef, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '{')
	if open < 0 {
		if s == "" {
			return metricRef{}, errors.New("metric name is required")
		}
		return metricRef{name: s}, nil
	}
	if !strings.HasSuffix(s, "}") || open == 0 {
		return metricRef{}, fmt.Errorf("malformed metric %q", s)
	}
	ref := metricRef{name: s[:open]}
	for _, tag := range strings.Split(s[open+1:len(s)-1], ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(tag), ":")
		if !ok || strings.TrimSpace(v) == "" {
			return metricRef{}, fmt.Errorf("malformed tag %q in metric %q", tag, s)
		}
		if strings.TrimSpace(k) != "behavior" {
			return metricRef{}, fmt.Errorf("unsupported tag %q in metric %q (only behavior)", k, s)
		}
		ref.behavior = strings.TrimSpace(v)
	}
	if ref.behavior != "" {
		if k, ok := builtins[ref.name]; !ok || k == kindGauge {
			return metricRef{}, fmt.Errorf("metric %q does not support a behavior tag", ref.name)
		}
	}
	return ref, nil
}

// Validate checks every threshold's syntax, and the aggregation against the
// metric kind for built-in metrics. Custom rate metrics are resolved at
// evaluation time.
func Validate(ths []Threshold) error {
	var errs []error
	for i, t := range ths {
		ref, err := parseMetric(t.Metric)
		if err != nil {
			errs = append(errs, fmt.Errorf("threshold %d: %w", i, err))
			continue
		}
		c, err := Parse(t.Expression)
		if err != nil {
			errs = append(errs, fmt.Errorf("threshold %d (%s): %w", i, t.Metric, err))
			continue
		}
		k, ok := builtins[ref.name]
		if !ok {
			k = kindRate
		}
		if !allowed[k][c.Agg.Func] {
			errs = append(errs, fmt.Errorf("threshold %d (%s): aggregation %s is not defined for this metric", i, t.Metric, c.Agg))
			continue
		}
		if err := checkUnit(k, c); err != nil {
			errs = append(errs, fmt.Errorf("threshold %d (%s): %w", i, t.Metric, err))
		}
	}
	return errors.Join(errs...)
}

// Evaluate checks every threshold against snap. Thresholds are independent;
// an unresolvable one fails with a reason.
func Evaluate(snap stats.Snapshot, ths []Threshold) Verdict {
	v := Verdict{Pass: true, Results: make([]Result, 0, len(ths))}
	for _, t := range ths {
		r := evaluate(snap, t)
		if !r.Pass {
			v.Pass = false
		}
		v.Results = append(v.Results, r)
	}
	return v
}

func evaluate(snap stats.Snapshot, t Threshold) Result {
	r := Result{Threshold: t}
	ref, err := parseMetric(t.Metric)
	if err != nil {
		r.Reason = "unresolvable: " + err.Error()
		return r
	}
	c, err := Parse(t.Expression)
	if err != nil {
		r.Reason = "unresolvable: " + err.Error()
		return r
	}
	k, ok := builtins[ref.name]
	if !ok {
		k = kindRate
	}
	if err := checkUnit(k, c); err != nil {
		r.Reason = "unresolvable: " + err.Error()
		return r
	}
	observed, text, err := resolve(snap, ref, c.Agg)
	if err != nil {
		r.Reason = "unresolvable: " + err.Error()
		return r
	}
	r.Resolved = true
	r.Observed = observed
	r.ObservedText = text
	r.Pass = c.Op.holds(observed, c.limit())
	if r.Pass {
		r.Reason = fmt.Sprintf("%s = %s satisfies %s", c.Agg, text, c)
	} else {
		r.Reason = fmt.Sprintf("%s = %s breaches %s", c.Agg, text, c)
	}
	return r
}

// checkUnit rejects a time unit anywhere but on a trend's duration
// aggregations; "rate < 10ms" would otherwise compare against 10.
func checkUnit(k kind, c Condition) error {
	if !c.HasUnit {
		return nil
	}
	if k != kindTrend || c.Agg.Func == "count" {
		return fmt.Errorf("%s does not take a time unit", c.Agg)
	}
	return nil
}

func resolve(snap stats.Snapshot, ref metricRef, agg Aggregation) (float64, string, error) {
	k, builtin := builtins[ref.name]
	if !builtin {
		rs, ok := snap.Rates[ref.name]
		if !ok {
			return 0, "", fmt.Errorf("metric %q was never recorded", ref.name)
		}
		return resolveRate(rs.Passes, rs.Total, agg)
	}
	if !allowed[k][agg.Func] {
		return 0, "", fmt.Errorf("aggregation %s is not defined for %s", agg, ref.name)
	}

	if k == kindGauge {
		g, ok := snap.Gauges[ref.name]
		if !ok {
			return 0, "", fmt.Errorf("metric %q was never recorded", ref.name)
		}
		v := g.Value
		if agg.Func == "max" {
			v = g.Max
		}
		return float64(v), strconv.FormatInt(v, 10), nil
	}

	b := snap.Overall
	if ref.behavior != "" {
		var ok bool
		if b, ok = snap.Behaviors[ref.behavior]; !ok {
			return 0, "", fmt.Errorf("no data for behavior %q", ref.behavior)
		}
	}

	switch ref.name {
	case MetricReqDuration:
		return resolveTrend(b.Latency, agg)
	case MetricIterationDuration:
		return resolveTrend(b.IterationDuration, agg)
	case MetricReqFailed:
		return resolveRate(b.Fail+b.Timeout, b.Requests, agg)
	case MetricReqConflicts:
		return resolveRate(b.Conflict, b.Requests, agg)
	case MetricReqTimeouts:
		return resolveRate(b.Timeout, b.Requests, agg)
	case MetricReqs:
		return resolveCounter(b.Requests, snap.Duration, agg)
	case MetricIterations:
		return resolveCounter(b.Iterations, snap.Duration, agg)
	}
	return 0, "", fmt.Errorf("metric %q cannot be resolved", ref.name)
}

func resolveTrend(tr stats.Trend, agg Aggregation) (float64, string, error) {
	if agg.Func == "count" {
		n := tr.Count()
		return float64(n), strconv.FormatInt(n, 10), nil
	}
	if tr.Count() == 0 {
		return 0, "", errors.New("no samples recorded")
	}
	var d time.Duration
	switch agg.Func {
	case "avg":
		d = tr.Mean()
	case "min":
		d = tr.Min()
	case "max":
		d = tr.Max()
	case "med":
		d = tr.Median()
	case "p":
		d = tr.Percentile(agg.Percentile)
	default:
		return 0, "", fmt.Errorf("aggregation %s is not defined for trends", agg)
	}
	ms := float64(d) / float64(time.Millisecond)
	return ms, strconv.FormatFloat(ms, 'f', 2, 64) + "ms", nil
}

func resolveRate(passes, total uint64, agg Aggregation) (float64, string, error) {
	switch agg.Func {
	case "count":
		return float64(passes), strconv.FormatUint(passes, 10), nil
	case "rate":
		if total == 0 {
			return 0, "", errors.New("no samples recorded")
		}
		r := float64(passes) / float64(total)
		return r, strconv.FormatFloat(r, 'f', 4, 64), nil
	}
	return 0, "", fmt.Errorf("aggregation %s is not defined for rates", agg)
}

func resolveCounter(n uint64, elapsed time.Duration, agg Aggregation) (float64, string, error) {
	switch agg.Func {
	case "count":
		return float64(n), strconv.FormatUint(n, 10), nil
	case "rate":
		if elapsed <= 0 {
			return 0, "", errors.New("run has no duration")
		}
		r := float64(n) / elapsed.Seconds()
		return r, strconv.FormatFloat(r, 'f', 2, 64) + "/s", nil
	}
	return 0, "", fmt.Errorf("aggregation %s is not defined for counters", agg)
}
