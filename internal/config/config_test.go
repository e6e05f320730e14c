package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaneDefaults(t *testing.T) {
	d := SaneDefaults()
	assert.Equal(t, "http://localhost:8080", d.BaseURL)
	assert.Equal(t, 30*time.Second, d.RequestTimeout)
	assert.Equal(t, []StageConfig{
		{Duration: 30 * time.Second, Target: 50},
		{Duration: 60 * time.Second, Target: 500},
		{Duration: 30 * time.Second, Target: 0},
	}, d.Stages)
	require.Len(t, d.Behaviors, 3)
	assert.Equal(t, []string{"json", "csv"}, d.Report.Formats)
	assert.Nil(t, d.Seed)
	require.NoError(t, d.Validate())
}

func TestCompile_Defaults(t *testing.T) {
	plan, err := SaneDefaults().Compile()
	require.NoError(t, err)

	assert.Equal(t, 120*time.Second, plan.Schedule.Total())
	assert.Equal(t, 500, plan.Schedule.Max())
	assert.Equal(t, 3, plan.Registry.Len())

	probs := plan.Selector.Probabilities()
	assert.InDelta(t, 0.80, probs["search"], 1e-9)
	assert.InDelta(t, 0.15, probs["cart"], 1e-9)
	assert.InDelta(t, 0.05, probs["checkout"], 1e-9)

	require.Len(t, plan.Thresholds, 2)
	assert.Equal(t, "http_req_duration", plan.Thresholds[0].Metric)
	assert.Equal(t, "p(99) < 200ms", plan.Thresholds[0].Expression)
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	d := SaneDefaults()
	assert.Equal(t, d.BaseURL, cfg.BaseURL)
	assert.Equal(t, d.Pacing, cfg.Pacing)
	assert.Equal(t, d.Stages, cfg.Stages)
	assert.Equal(t, d.Thresholds, cfg.Thresholds)
	assert.Equal(t, d.Logging, cfg.Logging)
	assert.Nil(t, cfg.Seed)
	require.Len(t, cfg.Behaviors, 3)
	assert.Equal(t, "checkout", cfg.Behaviors[2].Name)
	assert.InDelta(t, 0.05, cfg.Behaviors[2].Weight, 1e-9)
	require.NoError(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
base_url: https://shop.example.com/
pacing: 250ms
seed: 42
ramp: step
stages:
  - duration: 10s
    target: 5
  - duration: 20s
    target: 0
behaviors:
  - name: search
    weight: 3
    terms: [bread, eggs]
  - name: browse
    kind: http
    weight: 1
    steps:
      - path: /api/search?q={{ randomChoice "a" "b" }}
      - method: post
        path: /api/cart
        body: '{"itemId":"x","quantity":1}'
        headers:
          Content-Type: application/json
thresholds:
  - metric: http_req_failed
    expr: rate < 0.05
    abort_on_fail: true
report:
  out: out/run
  formats: [json]
`), 0o600))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example.com/", cfg.BaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Pacing)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout, "unset keys keep their default")
	require.NotNil(t, cfg.Seed)
	assert.Equal(t, uint64(42), *cfg.Seed)
	assert.Equal(t, []StageConfig{{10 * time.Second, 5}, {20 * time.Second, 0}}, cfg.Stages)
	require.Len(t, cfg.Behaviors, 2)
	assert.Equal(t, []string{"bread", "eggs"}, cfg.Behaviors[0].Terms)
	require.Len(t, cfg.Behaviors[1].Steps, 2)
	assert.Equal(t, "post", cfg.Behaviors[1].Steps[1].Method)
	require.Len(t, cfg.Thresholds, 1)
	assert.True(t, cfg.Thresholds[0].AbortOnFail)
	assert.Equal(t, []string{"json"}, cfg.Report.Formats)

	plan, err := cfg.Compile()
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com", plan.Runner.BaseURL)
	assert.Equal(t, "step", string(plan.Schedule.Mode()))
	assert.InDelta(t, 0.75, plan.Selector.Probabilities()["search"], 1e-9)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("STAGEHAND_BASE_URL", "http://gateway:9000")
	t.Setenv("STAGEHAND_LOGGING_LEVEL", "debug")
	t.Setenv("STAGEHAND_REQUEST_TIMEOUT", "5s")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "http://gateway:9000", cfg.BaseURL)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
}

func TestLoad_FlagsWin(t *testing.T) {
	t.Setenv("STAGEHAND_BASE_URL", "http://from-env:1")
	v := viper.New()
	v.Set("base_url", "http://from-flag:2")

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "http://from-flag:2", cfg.BaseURL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	var cfgErr *Error
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoad_SampleConfig(t *testing.T) {
	cfg, err := Load(viper.New(), filepath.Join("..", "..", "configs", "grocery.yaml"))
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Stages[1].Duration)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)

	plan, err := cfg.Compile()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, plan.Schedule.Total())
	assert.InDelta(t, 0.8, plan.Selector.Probabilities()["search"], 1e-9)
	assert.Len(t, plan.Thresholds, 3)
}

func TestCompile_CollectsEveryProblem(t *testing.T) {
	tests := map[string]struct {
		mutate func(*Config)
		want   []string
	}{
		"bad url": {
			mutate: func(c *Config) { c.BaseURL = "ftp://x" },
			want:   []string{"base_url"},
		},
		"no stages": {
			mutate: func(c *Config) { c.Stages = nil },
			want:   []string{"at least one stage"},
		},
		"negative stage": {
			mutate: func(c *Config) { c.Stages[1].Target = -1 },
			want:   []string{"stage 1: target"},
		},
		"unknown ramp": {
			mutate: func(c *Config) { c.Ramp = "exponential" },
			want:   []string{"ramp"},
		},
		"hold last without cap": {
			mutate: func(c *Config) { c.HoldLast = true },
			want:   []string{"hold_last"},
		},
		"zero weights": {
			mutate: func(c *Config) {
				for i := range c.Behaviors {
					c.Behaviors[i].Weight = 0
				}
			},
			want: []string{"positive weight"},
		},
		"duplicate behavior": {
			mutate: func(c *Config) { c.Behaviors[1].Name = "search"; c.Behaviors[1].Kind = "search" },
			want:   []string{"registered twice"},
		},
		"unknown kind": {
			mutate: func(c *Config) { c.Behaviors[0].Kind = "browse" },
			want:   []string{"unknown kind"},
		},
		"bad threshold": {
			mutate: func(c *Config) { c.Thresholds[0].Expr = "p(99) <> 1" },
			want:   []string{"threshold 0"},
		},
		"everything at once": {
			mutate: func(c *Config) {
				c.BaseURL = ""
				c.RequestTimeout = 0
				c.Report.Formats = []string{"xml"}
				c.Logging.Format = "yaml"
				c.Metrics.Addr = "9464"
			},
			want: []string{"base_url", "request_timeout", "report.formats", "logging.format", "metrics.addr"},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := SaneDefaults()
			tt.mutate(cfg)

			plan, err := cfg.Compile()
			assert.Nil(t, plan)
			var cfgErr *Error
			require.True(t, errors.As(err, &cfgErr))
			assert.GreaterOrEqual(t, len(cfgErr.Problems), len(tt.want))
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}
