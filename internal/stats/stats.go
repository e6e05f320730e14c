package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// counters holds the aggregates for one behavior (or for all requests).
type counters struct {
	requests atomic.Uint64
	success  atomic.Uint64
	fail     atomic.Uint64
	conflict atomic.Uint64
	timeout  atomic.Uint64
	bytes    atomic.Uint64

	iterations     atomic.Uint64
	iterFailed     atomic.Uint64
	iterConflicted atomic.Uint64

	latency      *SafeHistogram
	iterDuration *SafeHistogram
}

func newCounters() *counters {
	return &counters{
		latency:      NewSafeHistogram(),
		iterDuration: NewSafeHistogram(),
	}
}

func (c *counters) record(o Outcome) {
	c.requests.Add(1)
	switch o.Status {
	case Success:
		c.success.Add(1)
	case Conflict:
		c.conflict.Add(1)
	case Timeout:
		c.timeout.Add(1)
	default:
		c.fail.Add(1)
	}
	if o.Bytes > 0 {
		c.bytes.Add(uint64(o.Bytes))
	}
	c.latency.RecordDuration(o.Latency)
}

func (c *counters) recordIteration(d time.Duration, status Status) {
	c.iterations.Add(1)
	switch {
	case status.Failed():
		c.iterFailed.Add(1)
	case status == Conflict:
		c.iterConflicted.Add(1)
	}
	c.iterDuration.RecordDuration(d)
}

func (c *counters) snapshot() BehaviorSnapshot {
	return BehaviorSnapshot{
		Requests:           c.requests.Load(),
		Success:            c.success.Load(),
		Fail:               c.fail.Load(),
		Conflict:           c.conflict.Load(),
		Timeout:            c.timeout.Load(),
		Bytes:              c.bytes.Load(),
		Iterations:         c.iterations.Load(),
		IterationsFailed:   c.iterFailed.Load(),
		IterationsConflict: c.iterConflicted.Load(),
		Latency:            c.latency.Trend(),
		IterationDuration:  c.iterDuration.Trend(),
	}
}

type rateCounter struct {
	passes atomic.Uint64
	total  atomic.Uint64
}

type gauge struct {
	value atomic.Int64
	max   atomic.Int64
}

func (g *gauge) set(v int64) {
	g.value.Store(v)
	for {
		cur := g.max.Load()
		if v <= cur || g.max.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Aggregator accumulates outcomes for one run. All methods are safe for
// concurrent use. Entries are created lazily on first observation.
type Aggregator struct {
	start time.Time

	overall *counters

	mu        sync.RWMutex
	behaviors map[string]*counters
	rates     map[string]*rateCounter
	gauges    map[string]*gauge

	inflight atomic.Int64
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		start:     time.Now(),
		overall:   newCounters(),
		behaviors: map[string]*counters{},
		rates:     map[string]*rateCounter{},
		gauges:    map[string]*gauge{},
	}
}

// Reset marks the start of the measured run.
func (a *Aggregator) Reset(start time.Time) {
	a.mu.Lock()
	a.start = start
	a.mu.Unlock()
}

func (a *Aggregator) Elapsed() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return time.Since(a.start)
}

func (a *Aggregator) behavior(name string) *counters {
	a.mu.RLock()
	c := a.behaviors[name]
	a.mu.RUnlock()
	if c != nil {
		return c
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if c = a.behaviors[name]; c == nil {
		c = newCounters()
		a.behaviors[name] = c
	}
	return c
}

func (a *Aggregator) rate(name string) *rateCounter {
	a.mu.RLock()
	r := a.rates[name]
	a.mu.RUnlock()
	if r != nil {
		return r
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if r = a.rates[name]; r == nil {
		r = &rateCounter{}
		a.rates[name] = r
	}
	return r
}

func (a *Aggregator) gauge(name string) *gauge {
	a.mu.RLock()
	g := a.gauges[name]
	a.mu.RUnlock()
	if g != nil {
		return g
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if g = a.gauges[name]; g == nil {
		g = &gauge{}
		a.gauges[name] = g
	}
	return g
}

// Record folds one request outcome into the per-behavior and overall aggregates.
func (a *Aggregator) Record(o Outcome) {
	a.overall.record(o)
	a.behavior(o.Behavior).record(o)
}

// RecordIteration records the end of one behavior execution.
func (a *Aggregator) RecordIteration(behavior string, d time.Duration, status Status) {
	a.overall.recordIteration(d, status)
	a.behavior(behavior).recordIteration(d, status)
}

// AddToRate increments the denominator of the named rate, and the numerator
// when isError is true.
func (a *Aggregator) AddToRate(name string, isError bool) {
	r := a.rate(name)
	r.total.Add(1)
	if isError {
		r.passes.Add(1)
	}
}

func (a *Aggregator) SetGauge(name string, v int64) {
	a.gauge(name).set(v)
}

// Inflight tracks requests currently on the wire.
func (a *Aggregator) Inflight(delta int64) int64 {
	return a.inflight.Add(delta)
}

// Snapshot returns a copy of every aggregate. Writers are only blocked while
// an individual histogram is exported.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	start := a.start
	behaviors := make(map[string]*counters, len(a.behaviors))
	for k, v := range a.behaviors {
		behaviors[k] = v
	}
	rates := make(map[string]*rateCounter, len(a.rates))
	for k, v := range a.rates {
		rates[k] = v
	}
	gauges := make(map[string]*gauge, len(a.gauges))
	for k, v := range a.gauges {
		gauges[k] = v
	}
	a.mu.RUnlock()

	s := Snapshot{
		Duration:  time.Since(start),
		Overall:   a.overall.snapshot(),
		Behaviors: make(map[string]BehaviorSnapshot, len(behaviors)),
		Rates:     make(map[string]RateSnapshot, len(rates)),
		Gauges:    make(map[string]GaugeSnapshot, len(gauges)),
		Inflight:  a.inflight.Load(),
	}
	for k, c := range behaviors {
		s.Behaviors[k] = c.snapshot()
	}
	for k, r := range rates {
		// total first so passes never exceeds it in the copy
		total := r.total.Load()
		passes := r.passes.Load()
		if passes > total {
			passes = total
		}
		s.Rates[k] = RateSnapshot{Passes: passes, Total: total}
	}
	for k, g := range gauges {
		s.Gauges[k] = GaugeSnapshot{Value: g.value.Load(), Max: g.max.Load()}
	}
	return s
}

// Snapshot is a read-consistent view of the aggregates at one point in time.
type Snapshot struct {
	Duration  time.Duration
	Overall   BehaviorSnapshot
	Behaviors map[string]BehaviorSnapshot
	Rates     map[string]RateSnapshot
	Gauges    map[string]GaugeSnapshot
	Inflight  int64
}

// BehaviorNames returns the observed behavior names in sorted order.
func (s Snapshot) BehaviorNames() []string {
	names := make([]string, 0, len(s.Behaviors))
	for k := range s.Behaviors {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// RateNames returns the custom rate names in sorted order.
func (s Snapshot) RateNames() []string {
	names := make([]string, 0, len(s.Rates))
	for k := range s.Rates {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type BehaviorSnapshot struct {
	Requests uint64
	Success  uint64
	Fail     uint64
	Conflict uint64
	Timeout  uint64
	Bytes    uint64

	Iterations         uint64
	IterationsFailed   uint64
	IterationsConflict uint64

	Latency           Trend
	IterationDuration Trend
}

// FailedRate is (failures + timeouts) / requests. Conflicts are excluded.
func (b BehaviorSnapshot) FailedRate() float64 {
	return ratio(b.Fail+b.Timeout, b.Requests)
}

func (b BehaviorSnapshot) ConflictRate() float64 {
	return ratio(b.Conflict, b.Requests)
}

func (b BehaviorSnapshot) TimeoutRate() float64 {
	return ratio(b.Timeout, b.Requests)
}

type RateSnapshot struct {
	Passes uint64
	Total  uint64
}

func (r RateSnapshot) Rate() float64 {
	return ratio(r.Passes, r.Total)
}

type GaugeSnapshot struct {
	Value int64
	Max   int64
}

func ratio(n, d uint64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
