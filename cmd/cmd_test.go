package cmd

import (
	"bytes"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/config"
	"stagehand/internal/mock"
	"stagehand/internal/report"
)

// resetFlags clears flag state left behind by a previous Execute.
func resetFlags(t *testing.T) {
	t.Helper()
	cfgFile, logLevel, logFormat = "", "", ""
	for _, c := range []*cobra.Command{rootCmd, validateCmd, mockCmd} {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			if sv, ok := f.Value.(pflag.SliceValue); ok {
				require.NoError(t, sv.Replace(nil))
			} else {
				require.NoError(t, f.Value.Set(f.DefValue))
			}
			f.Changed = false
		})
	}
}

func execute(t *testing.T, args ...string) (int, string) {
	t.Helper()
	resetFlags(t)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	code := Execute()
	return code, out.String()
}

func TestParseStages(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    []config.StageConfig
		wantErr bool
	}{
		"three stages": {
			in: "30s:50, 1m:500,30s:0",
			want: []config.StageConfig{
				{Duration: 30 * time.Second, Target: 50},
				{Duration: time.Minute, Target: 500},
				{Duration: 30 * time.Second, Target: 0},
			},
		},
		"missing target": {in: "30s", wantErr: true},
		"bad duration":   {in: "soon:5", wantErr: true},
		"bad target":     {in: "10s:many", wantErr: true},
		"empty":          {in: " , ", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := parseStages(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseHeadersAndThresholds(t *testing.T) {
	h, err := parseHeaders([]string{"Authorization: Bearer a:b", "X-Env:ci"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Authorization": "Bearer a:b", "X-Env": "ci"}, h)

	_, err = parseHeaders([]string{"no-colon"})
	assert.Error(t, err)

	th, err := parseThreshold("http_req_failed = rate<=0.01")
	require.NoError(t, err)
	assert.Equal(t, config.ThresholdConfig{Metric: "http_req_failed", Expr: "rate<=0.01"}, th)

	_, err = parseThreshold("p(95)<300ms")
	assert.Error(t, err)
}

func TestStopper(t *testing.T) {
	cancels, aborts := 0, 0
	s := &stopper{cancel: func() { cancels++ }, abort: func() { aborts++ }, log: zerolog.Nop()}
	s.Interrupt()
	assert.Equal(t, []int{1, 0}, []int{cancels, aborts})
	s.Interrupt()
	s.Interrupt()
	assert.Equal(t, []int{1, 1}, []int{cancels, aborts})
}

func TestValidateCommand(t *testing.T) {
	code, out := execute(t, "validate", "--url", "http://shop.local:8080")
	assert.Equal(t, report.ExitPass, code)
	assert.Contains(t, out, "configuration is valid")
	assert.Contains(t, out, "search")
	assert.Contains(t, out, "http_req_duration: p(99) < 200ms")

	code, _ = execute(t, "validate", "--url", "ftp://nope", "--stages", "1s:-1", "--threshold", "errors=rate<>1")
	assert.Equal(t, report.ExitInvalidConfig, code)

	code, _ = execute(t, "validate", "--stages", "garbage")
	assert.Equal(t, report.ExitInvalidConfig, code)
}

func TestValidateCommand_PrintRoundTrips(t *testing.T) {
	code, out := execute(t, "validate", "--print", "--pacing", "250ms", "--seed", "7")
	require.Equal(t, report.ExitPass, code)
	assert.Contains(t, out, "pacing: 250ms")

	path := filepath.Join(t.TempDir(), "resolved.yaml")
	require.NoError(t, os.WriteFile(path, []byte(out), 0o600))
	code, _ = execute(t, "validate", "--config", path)
	assert.Equal(t, report.ExitPass, code)
}

func runAgainst(t *testing.T, opts mock.Options, extra ...string) (int, string) {
	t.Helper()
	srv := httptest.NewServer(mock.New(opts, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)

	prefix := filepath.Join(t.TempDir(), "run")
	args := append([]string{
		"--url", srv.URL,
		"--stages", "200ms:3,100ms:0",
		"--ramp", "step",
		"--pacing", "10ms",
		"--seed", "3",
		"--out", prefix,
		"--log-level", "error",
	}, extra...)
	code, _ := execute(t, args...)
	return code, prefix
}

func TestRun_Pass(t *testing.T) {
	code, prefix := runAgainst(t, mock.Options{}, "--threshold", "http_req_failed=rate<0.01", "--threshold", "http_reqs=count>0")
	assert.Equal(t, report.ExitPass, code)
	for _, ext := range []string{".json", ".csv"} {
		_, err := os.Stat(prefix + ext)
		assert.NoError(t, err)
	}
}

func TestRun_ThresholdsFail(t *testing.T) {
	code, _ := runAgainst(t, mock.Options{FailRate: 1}, "--threshold", "errors=rate<0.01")
	assert.Equal(t, report.ExitThresholdsFailed, code)
}

func TestRun_InvalidConfig(t *testing.T) {
	code, _ := execute(t, "--url", "not a url", "--format", "xml")
	assert.Equal(t, report.ExitInvalidConfig, code)
}
