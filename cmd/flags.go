package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stagehand/internal/config"
)

func addRunFlags(c *cobra.Command) {
	f := c.Flags()
	f.StringP("url", "u", "", "base URL of the system under test")
	f.StringP("stages", "s", "", `load profile as duration:target pairs, e.g. "30s:50,1m:500,30s:0"`)
	f.String("ramp", "", "ramp between stage targets (linear or step)")
	f.Bool("hold-last", false, "keep the last stage's target until --max-duration")
	f.Duration("pacing", 0, "pause between iterations of one virtual user")
	f.Duration("timeout", 0, "per-request timeout")
	f.Duration("graceful-stop", 0, "how long in-flight iterations may finish after the stop signal")
	f.Duration("max-duration", 0, "hard cap on the run length")
	f.Uint64("seed", 0, "seed for reproducible behavior selection")
	f.StringArrayP("header", "H", nil, `extra request header, e.g. "Authorization: Bearer x"`)
	f.StringArrayP("threshold", "t", nil, `threshold as metric=expression, e.g. "http_req_duration=p(95)<300ms" (replaces configured thresholds)`)
	f.StringArray("abort-on", nil, "like --threshold, and stops the run as soon as it fails")
	f.StringP("out", "o", "", "report file prefix")
	f.StringSlice("format", nil, "report formats (json, csv)")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address")
	f.Bool("trace", false, "export an OpenTelemetry span per request")
	f.String("trace-endpoint", "", "OTLP/HTTP collector (default: spans to stderr)")
	f.Bool("insecure", false, "skip TLS verification")
	f.Bool("live", false, "show the full-screen live view")
}

// flagKeys maps plain flags onto config keys.
var flagKeys = map[string]string{
	"url":            "base_url",
	"ramp":           "ramp",
	"hold-last":      "hold_last",
	"pacing":         "pacing",
	"timeout":        "request_timeout",
	"graceful-stop":  "graceful_stop",
	"max-duration":   "max_duration",
	"out":            "report.out",
	"metrics-addr":   "metrics.addr",
	"trace":          "tracing.enabled",
	"trace-endpoint": "tracing.endpoint",
	"insecure":       "insecure_skip_verify",
}

// applyFlags copies the flags the user set onto v. Unset flags are left
// alone so that file and environment values survive.
func applyFlags(c *cobra.Command, v *viper.Viper) error {
	f := c.Flags()
	problems := &config.Error{}

	for flag, key := range flagKeys {
		if f.Changed(flag) {
			v.Set(key, f.Lookup(flag).Value.String())
		}
	}
	if f.Changed("format") {
		formats, _ := f.GetStringSlice("format")
		v.Set("report.formats", formats)
	}
	if f.Changed("seed") {
		seed, _ := f.GetUint64("seed")
		v.Set("seed", seed)
	}
	if logLevel != "" {
		v.Set("logging.level", logLevel)
	}
	if logFormat != "" {
		v.Set("logging.format", logFormat)
	}

	if f.Changed("stages") {
		s, _ := f.GetString("stages")
		stages, err := parseStages(s)
		if err != nil {
			problems.Problems = append(problems.Problems, "--stages: "+err.Error())
		} else {
			v.Set("stages", stages)
		}
	}
	if f.Changed("header") {
		raw, _ := f.GetStringArray("header")
		headers, err := parseHeaders(raw)
		if err != nil {
			problems.Problems = append(problems.Problems, "--header: "+err.Error())
		} else {
			v.Set("headers", headers)
		}
	}
	if f.Changed("threshold") || f.Changed("abort-on") {
		plain, _ := f.GetStringArray("threshold")
		abort, _ := f.GetStringArray("abort-on")
		var ths []config.ThresholdConfig
		for _, group := range []struct {
			raw   []string
			abort bool
		}{{plain, false}, {abort, true}} {
			for _, r := range group.raw {
				th, err := parseThreshold(r)
				if err != nil {
					problems.Problems = append(problems.Problems, "--threshold: "+err.Error())
					continue
				}
				th.AbortOnFail = group.abort
				ths = append(ths, th)
			}
		}
		v.Set("thresholds", ths)
	}

	if len(problems.Problems) > 0 {
		return problems
	}
	return nil
}

// parseStages reads "30s:50,1m:500,30s:0".
func parseStages(s string) ([]config.StageConfig, error) {
	var out []config.StageConfig
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		dur, target, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("stage %d %q: expected duration:target", i, part)
		}
		d, err := time.ParseDuration(strings.TrimSpace(dur))
		if err != nil {
			return nil, fmt.Errorf("stage %d %q: %w", i, part, err)
		}
		n, err := strconv.Atoi(strings.TrimSpace(target))
		if err != nil {
			return nil, fmt.Errorf("stage %d %q: target: %w", i, part, err)
		}
		out = append(out, config.StageConfig{Duration: d, Target: n})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no stages in %q", s)
	}
	return out, nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	out := make(map[string]string, len(raw))
	for _, h := range raw {
		k, val, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("%q: expected \"Key: Value\"", h)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out, nil
}

// parseThreshold reads "metric=expression".
func parseThreshold(s string) (config.ThresholdConfig, error) {
	metric, expr, ok := strings.Cut(s, "=")
	metric, expr = strings.TrimSpace(metric), strings.TrimSpace(expr)
	if !ok || metric == "" || expr == "" {
		return config.ThresholdConfig{}, fmt.Errorf("%q: expected metric=expression", s)
	}
	return config.ThresholdConfig{Metric: metric, Expr: expr}, nil
}
