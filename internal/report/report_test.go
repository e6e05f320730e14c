package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/runner"
	"stagehand/internal/stats"
	"stagehand/internal/threshold"
)

func sampleSummary() runner.Summary {
	agg := stats.NewAggregator()
	for i := 0; i < 100; i++ {
		agg.Record(stats.Outcome{Behavior: "search", Latency: 20 * time.Millisecond, Status: stats.Success, Bytes: 10})
	}
	agg.Record(stats.Outcome{Behavior: "checkout", Latency: 50 * time.Millisecond, Status: stats.Conflict})
	agg.Record(stats.Outcome{Behavior: "checkout", Latency: 300 * time.Millisecond, Status: stats.Failure})
	agg.RecordIteration("search", 20*time.Millisecond, stats.Success)
	agg.AddToRate(runner.RateErrors, false)
	agg.AddToRate(runner.RateErrors, true)
	agg.SetGauge(runner.GaugeVUs, 4)

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return runner.Summary{
		RunID:      "run-1",
		StartedAt:  start,
		EndedAt:    start.Add(10 * time.Second),
		StopReason: runner.StopCompleted,
		Snapshot:   agg.Snapshot(),
	}
}

func sampleReport(t *testing.T) *Report {
	t.Helper()
	sum := sampleSummary()
	v := threshold.Evaluate(sum.Snapshot, []threshold.Threshold{
		{Metric: threshold.MetricReqDuration, Expression: "p(99) < 200ms"},
		{Metric: runner.RateErrors, Expression: "rate < 0.01"},
	})
	return New(sum, v)
}

func TestNew(t *testing.T) {
	r := sampleReport(t)
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, 10000.0, r.DurationMs)
	assert.Equal(t, "completed", r.StopReason)

	require.Len(t, r.Behaviors, 2)
	assert.Equal(t, "checkout", r.Behaviors[0].Name)
	assert.Equal(t, "search", r.Behaviors[1].Name)

	co := r.Behaviors[0]
	assert.Equal(t, uint64(2), co.Requests)
	assert.Equal(t, uint64(1), co.Failed)
	assert.Equal(t, uint64(1), co.Conflicts)
	assert.InDelta(t, 0.5, co.FailedRate, 1e-9)

	assert.Equal(t, uint64(102), r.Overall.Requests)
	assert.InDelta(t, 10.2, r.Overall.RPS, 1e-9)
	assert.InDelta(t, 20, r.Behaviors[1].Latency.P99, 0.1)
	assert.InDelta(t, 20, r.Behaviors[1].Latency.Min, 0.1)

	require.Len(t, r.Rates, 1)
	assert.Equal(t, RateStats{Name: "errors", Passes: 1, Total: 2, Rate: 0.5}, r.Rates[0])
	require.Len(t, r.Gauges, 1)
	assert.Equal(t, GaugeStats{Name: "vus", Value: 4, Max: 4}, r.Gauges[0])

	assert.False(t, r.Pass())
	assert.Equal(t, ExitThresholdsFailed, r.ExitCode())
}

func TestExitCode_Pass(t *testing.T) {
	r := New(sampleSummary(), threshold.Verdict{Pass: true})
	assert.Equal(t, ExitPass, r.ExitCode())
}

func TestWriteJSON(t *testing.T) {
	r := sampleReport(t)
	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "run-1", doc["run_id"])
	assert.Equal(t, "completed", doc["stop_reason"])

	verdict := doc["verdict"].(map[string]any)
	assert.Equal(t, false, verdict["pass"])
	results := verdict["thresholds"].([]any)
	require.Len(t, results, 2)
	first := results[0].(map[string]any)
	assert.Equal(t, true, first["pass"])
	assert.Equal(t, "http_req_duration", first["threshold"].(map[string]any)["metric"])

	overall := doc["overall"].(map[string]any)
	assert.Contains(t, overall, "latency_ms")
}

func TestWriteCSV(t *testing.T) {
	r := sampleReport(t)
	var buf bytes.Buffer
	require.NoError(t, r.WriteCSV(&buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "checkout", records[1][0])
	assert.Equal(t, "search", records[2][0])
	assert.Equal(t, "all", records[3][0])
	assert.Equal(t, "102", records[3][1])
}

func TestSave(t *testing.T) {
	r := sampleReport(t)
	prefix := filepath.Join(t.TempDir(), "out", "run")

	paths, err := r.Save(prefix, []string{"json", " CSV "})
	require.NoError(t, err)
	assert.Equal(t, []string{prefix + ".json", prefix + ".csv"}, paths)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}

	_, err = r.Save(prefix, []string{"xml"})
	assert.Error(t, err)

	paths, err = r.Save("", []string{"json"})
	assert.NoError(t, err)
	assert.Empty(t, paths)
}

func TestRender(t *testing.T) {
	r := sampleReport(t)
	r.BaseURL = "http://shop.local"
	out := r.Render()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "http://shop.local")
	assert.Contains(t, out, "checkout")
	assert.Contains(t, out, "http_req_duration: p(99) < 200ms")
	assert.Contains(t, out, "errors: rate < 0.01")
	assert.Contains(t, out, "FAIL")

	pass := New(sampleSummary(), threshold.Verdict{Pass: true}).Render()
	assert.Contains(t, pass, "PASS")
	assert.NotContains(t, pass, "THRESHOLDS")
}
