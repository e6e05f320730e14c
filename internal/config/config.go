// Package config loads and validates the run configuration and compiles it
// into the objects a run is built from.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. STAGEHAND_BASE_URL or
// STAGEHAND_LOGGING_LEVEL.
const EnvPrefix = "STAGEHAND"

// Config is the run configuration as read from file, environment and flags.
type Config struct {
	BaseURL            string            `mapstructure:"base_url" json:"base_url" yaml:"base_url"`
	RequestTimeout     time.Duration     `mapstructure:"request_timeout" json:"request_timeout" yaml:"request_timeout"`
	Pacing             time.Duration     `mapstructure:"pacing" json:"pacing" yaml:"pacing"`
	Tick               time.Duration     `mapstructure:"tick" json:"tick" yaml:"tick"`
	Seed               *uint64           `mapstructure:"seed" json:"seed,omitempty" yaml:"seed,omitempty"`
	Ramp               string            `mapstructure:"ramp" json:"ramp" yaml:"ramp"`
	StartTarget        int               `mapstructure:"start_target" json:"start_target" yaml:"start_target"`
	HoldLast           bool              `mapstructure:"hold_last" json:"hold_last" yaml:"hold_last"`
	MaxDuration        time.Duration     `mapstructure:"max_duration" json:"max_duration" yaml:"max_duration"`
	GracefulStop       time.Duration     `mapstructure:"graceful_stop" json:"graceful_stop" yaml:"graceful_stop"`
	InsecureSkipVerify bool              `mapstructure:"insecure_skip_verify" json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
	Headers            map[string]string `mapstructure:"headers" json:"headers,omitempty" yaml:"headers,omitempty"`

	Stages     []StageConfig     `mapstructure:"stages" json:"stages" yaml:"stages"`
	Behaviors  []BehaviorConfig  `mapstructure:"behaviors" json:"behaviors" yaml:"behaviors"`
	Thresholds []ThresholdConfig `mapstructure:"thresholds" json:"thresholds" yaml:"thresholds"`

	Report  ReportConfig  `mapstructure:"report" json:"report" yaml:"report"`
	Logging LoggingConfig `mapstructure:"logging" json:"logging" yaml:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" json:"tracing" yaml:"tracing"`
}

type StageConfig struct {
	Duration time.Duration `mapstructure:"duration" json:"duration" yaml:"duration"`
	Target   int           `mapstructure:"target" json:"target" yaml:"target"`
}

type BehaviorConfig struct {
	Name        string       `mapstructure:"name" json:"name" yaml:"name"`
	Kind        string       `mapstructure:"kind" json:"kind,omitempty" yaml:"kind,omitempty"`
	Weight      float64      `mapstructure:"weight" json:"weight" yaml:"weight"`
	Terms       []string     `mapstructure:"terms" json:"terms,omitempty" yaml:"terms,omitempty"`
	Items       []string     `mapstructure:"items" json:"items,omitempty" yaml:"items,omitempty"`
	MaxQuantity int          `mapstructure:"max_quantity" json:"max_quantity,omitempty" yaml:"max_quantity,omitempty"`
	PrimeCart   *bool        `mapstructure:"prime_cart" json:"prime_cart,omitempty" yaml:"prime_cart,omitempty"`
	UserID      string       `mapstructure:"user_id" json:"user_id,omitempty" yaml:"user_id,omitempty"`
	Steps       []StepConfig `mapstructure:"steps" json:"steps,omitempty" yaml:"steps,omitempty"`
}

type StepConfig struct {
	Name    string            `mapstructure:"name" json:"name,omitempty" yaml:"name,omitempty"`
	Method  string            `mapstructure:"method" json:"method,omitempty" yaml:"method,omitempty"`
	Path    string            `mapstructure:"path" json:"path" yaml:"path"`
	Headers map[string]string `mapstructure:"headers" json:"headers,omitempty" yaml:"headers,omitempty"`
	Body    string            `mapstructure:"body" json:"body,omitempty" yaml:"body,omitempty"`
}

type ThresholdConfig struct {
	Metric      string `mapstructure:"metric" json:"metric" yaml:"metric"`
	Expr        string `mapstructure:"expr" json:"expr" yaml:"expr"`
	AbortOnFail bool   `mapstructure:"abort_on_fail" json:"abort_on_fail,omitempty" yaml:"abort_on_fail,omitempty"`
}

type ReportConfig struct {
	// Out is the path prefix of the report files; empty disables them.
	Out     string   `mapstructure:"out" json:"out" yaml:"out"`
	Formats []string `mapstructure:"formats" json:"formats" yaml:"formats"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" json:"level" yaml:"level"`
	Format string `mapstructure:"format" json:"format" yaml:"format"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9464".
	Addr string `mapstructure:"addr" json:"addr" yaml:"addr"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	// Endpoint is an OTLP/HTTP collector; empty exports to stdout.
	Endpoint string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
}

// SaneDefaults is the grocery gateway workload.
func SaneDefaults() *Config {
	return &Config{
		BaseURL:        "http://localhost:8080",
		RequestTimeout: 30 * time.Second,
		Pacing:         time.Second,
		Tick:           time.Second,
		Ramp:           "linear",
		Stages: []StageConfig{
			{Duration: 30 * time.Second, Target: 50},
			{Duration: 60 * time.Second, Target: 500},
			{Duration: 30 * time.Second, Target: 0},
		},
		Behaviors: []BehaviorConfig{
			{Name: "search", Kind: "search", Weight: 0.8},
			{Name: "cart", Kind: "cart", Weight: 0.15},
			{Name: "checkout", Kind: "checkout", Weight: 0.05},
		},
		Thresholds: []ThresholdConfig{
			{Metric: "http_req_duration", Expr: "p(99) < 200ms"},
			{Metric: "errors", Expr: "rate < 0.01"},
		},
		Report: ReportConfig{
			Formats: []string{"json", "csv"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// SetDefaults registers SaneDefaults with v so that every key is known to
// environment lookups.
func SetDefaults(v *viper.Viper) {
	d := SaneDefaults()
	v.SetDefault("base_url", d.BaseURL)
	v.SetDefault("request_timeout", d.RequestTimeout)
	v.SetDefault("pacing", d.Pacing)
	v.SetDefault("tick", d.Tick)
	v.SetDefault("seed", nil)
	v.SetDefault("ramp", d.Ramp)
	v.SetDefault("start_target", d.StartTarget)
	v.SetDefault("hold_last", d.HoldLast)
	v.SetDefault("max_duration", d.MaxDuration)
	v.SetDefault("graceful_stop", d.GracefulStop)
	v.SetDefault("insecure_skip_verify", d.InsecureSkipVerify)
	v.SetDefault("headers", map[string]string{})
	v.SetDefault("stages", d.Stages)
	v.SetDefault("behaviors", d.Behaviors)
	v.SetDefault("thresholds", d.Thresholds)
	v.SetDefault("report.out", d.Report.Out)
	v.SetDefault("report.formats", d.Report.Formats)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.endpoint", d.Tracing.Endpoint)
}

// Load layers defaults, the file at path (optional), STAGEHAND_* environment
// variables and anything already set on v (flags), and decodes the result.
// The returned config is not validated.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, &Error{Problems: []string{"read " + path + ": " + err.Error()}}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &Error{Problems: []string{"decode: " + err.Error()}}
	}
	return &cfg, nil
}
