// Package promexport exposes the live run aggregates in the Prometheus text
// format.
package promexport

import (
	"github.com/prometheus/client_golang/prometheus"

	"stagehand/internal/stats"
)

const namespace = "stagehand"

var quantiles = []float64{0.5, 0.9, 0.95, 0.99}

// Collector reads an Aggregator snapshot on every scrape, so the exported
// values are always those the thresholds see.
type Collector struct {
	agg *stats.Aggregator

	requests     *prometheus.Desc
	bytes        *prometheus.Desc
	duration     *prometheus.Desc
	iterations   *prometheus.Desc
	iterDuration *prometheus.Desc
	ratePasses   *prometheus.Desc
	rateTotal    *prometheus.Desc
	gauge        *prometheus.Desc
	gaugeMax     *prometheus.Desc
	inflight     *prometheus.Desc
	elapsed      *prometheus.Desc
}

func NewCollector(agg *stats.Aggregator, runID string) *Collector {
	constLabels := prometheus.Labels{"run_id": runID}
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		agg:          agg,
		requests:     desc("requests_total", "HTTP calls by behavior and outcome.", "behavior", "outcome"),
		bytes:        desc("response_bytes_total", "Response body bytes read.", "behavior"),
		duration:     desc("request_duration_seconds", "HTTP call latency.", "behavior"),
		iterations:   desc("iterations_total", "Completed behavior iterations by outcome.", "behavior", "outcome"),
		iterDuration: desc("iteration_duration_seconds", "Behavior iteration duration.", "behavior"),
		ratePasses:   desc("rate_passes_total", "Samples counted as hits of a custom rate.", "rate"),
		rateTotal:    desc("rate_samples_total", "Samples added to a custom rate.", "rate"),
		gauge:        desc("gauge", "Current value of a gauge.", "gauge"),
		gaugeMax:     desc("gauge_max", "Highest value a gauge reached.", "gauge"),
		inflight:     desc("inflight_requests", "HTTP calls currently on the wire."),
		elapsed:      desc("elapsed_seconds", "Time since the run started."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.requests, c.bytes, c.duration, c.iterations, c.iterDuration,
		c.ratePasses, c.rateTotal, c.gauge, c.gaugeMax, c.inflight, c.elapsed,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.agg.Snapshot()

	for name, b := range snap.Behaviors {
		for outcome, n := range map[string]uint64{
			stats.Success.String():  b.Success,
			stats.Failure.String():  b.Fail,
			stats.Conflict.String(): b.Conflict,
			stats.Timeout.String():  b.Timeout,
		} {
			ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(n), name, outcome)
		}
		ch <- prometheus.MustNewConstMetric(c.bytes, prometheus.CounterValue, float64(b.Bytes), name)
		ch <- summary(c.duration, b.Latency, name)

		failed := b.IterationsFailed
		conflict := b.IterationsConflict
		ok := b.Iterations - min(b.Iterations, failed+conflict)
		ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(ok), name, "success")
		ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(failed), name, "failure")
		ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(conflict), name, "conflict")
		ch <- summary(c.iterDuration, b.IterationDuration, name)
	}

	for name, r := range snap.Rates {
		ch <- prometheus.MustNewConstMetric(c.ratePasses, prometheus.CounterValue, float64(r.Passes), name)
		ch <- prometheus.MustNewConstMetric(c.rateTotal, prometheus.CounterValue, float64(r.Total), name)
	}
	for name, g := range snap.Gauges {
		ch <- prometheus.MustNewConstMetric(c.gauge, prometheus.GaugeValue, float64(g.Value), name)
		ch <- prometheus.MustNewConstMetric(c.gaugeMax, prometheus.GaugeValue, float64(g.Max), name)
	}
	ch <- prometheus.MustNewConstMetric(c.inflight, prometheus.GaugeValue, float64(snap.Inflight))
	ch <- prometheus.MustNewConstMetric(c.elapsed, prometheus.GaugeValue, snap.Duration.Seconds())
}

func summary(d *prometheus.Desc, t stats.Trend, label string) prometheus.Metric {
	count := t.Count()
	q := make(map[float64]float64, len(quantiles))
	if count > 0 {
		for _, p := range quantiles {
			q[p] = t.Percentile(p * 100).Seconds()
		}
	}
	sum := t.Mean().Seconds() * float64(count)
	return prometheus.MustNewConstSummary(d, uint64(count), sum, q, label)
}
