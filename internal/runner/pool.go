package runner

import (
	"context"
	"sync"
	"sync/atomic"

	"stagehand/internal/stats"
)

// Worker is the body of one virtual user. It returns when ctx is done or
// retire is closed, checking both only between iterations.
type Worker func(ctx context.Context, id int, retire <-chan struct{})

// Pool keeps the number of live virtual users at the scheduled target.
type Pool struct {
	ctx  context.Context
	agg  *stats.Aggregator
	work Worker

	mu     sync.Mutex
	live   []chan struct{} // retire signals, in spawn order
	nextID int

	running atomic.Int64
	wg      sync.WaitGroup
}

func NewPool(ctx context.Context, agg *stats.Aggregator, work Worker) *Pool {
	return &Pool{ctx: ctx, agg: agg, work: work}
}

// Scale spawns or retires units until target are live, and returns the live
// count. Units are retired newest first; a retired unit finishes the
// iteration it is in. Nothing is spawned once the pool's context is done.
func (p *Pool) Scale(target int) int {
	if target < 0 {
		target = 0
	}
	p.mu.Lock()
	for len(p.live) < target && p.ctx.Err() == nil {
		retire := make(chan struct{})
		id := p.nextID
		p.nextID++
		p.live = append(p.live, retire)
		p.running.Add(1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.running.Add(-1)
			p.work(p.ctx, id, retire)
		}()
	}
	for len(p.live) > target {
		last := len(p.live) - 1
		close(p.live[last])
		p.live = p.live[:last]
	}
	n := len(p.live)
	p.mu.Unlock()

	p.agg.SetGauge(GaugeVUs, int64(n))
	return n
}

// Live is the number of units not yet retired.
func (p *Pool) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Running also counts retired units still finishing an iteration.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
