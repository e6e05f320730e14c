// Package runner drives virtual users against the target following a stage
// schedule, and records what happens.
package runner

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stagehand/internal/behavior"
	"stagehand/internal/schedule"
	"stagehand/internal/stats"
	"stagehand/internal/threshold"
)

type Runner struct {
	cfg   Config
	sched *schedule.Schedule
	sel   *behavior.Selector
	agg   *stats.Aggregator
	exec  *Executor
	log   zerolog.Logger

	runID   string
	abortOn []threshold.Threshold
	updates ProgressChan

	abortCtx context.Context
	abort    context.CancelFunc
}

type Option func(*Runner)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithProgress publishes a Progress on every tick. The channel is closed when
// Run returns.
func WithProgress(ch ProgressChan) Option {
	return func(r *Runner) { r.updates = ch }
}

// WithAbortThresholds checks the thresholds flagged abort_on_fail on every
// tick and stops the run gracefully on the first breach.
func WithAbortThresholds(ths []threshold.Threshold) Option {
	return func(r *Runner) {
		r.abortOn = r.abortOn[:0]
		for _, t := range ths {
			if t.AbortOnFail {
				r.abortOn = append(r.abortOn, t)
			}
		}
	}
}

func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// New prepares a single-use run. agg may be nil.
func New(cfg Config, sched *schedule.Schedule, sel *behavior.Selector, agg *stats.Aggregator, opts ...Option) (*Runner, error) {
	if sched == nil {
		return nil, errors.New("runner needs a schedule")
	}
	if sel == nil {
		return nil, errors.New("runner needs a behavior selector")
	}
	if agg == nil {
		agg = stats.NewAggregator()
	}
	cfg = cfg.withDefaults()
	exec, err := NewExecutor(cfg, sched.Max(), agg)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		cfg:   cfg,
		sched: sched,
		sel:   sel,
		agg:   agg,
		exec:  exec,
		log:   zerolog.Nop(),
		runID: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.abortCtx, r.abort = context.WithCancel(context.Background())
	return r, nil
}

func (r *Runner) RunID() string {
	return r.runID
}

func (r *Runner) Aggregator() *stats.Aggregator {
	return r.agg
}

// Abort cancels in-flight calls and ends the run without waiting for
// iterations to finish.
func (r *Runner) Abort() {
	r.abort()
}

// Run follows the schedule until it ends, ctx is cancelled (graceful stop),
// an abort_on_fail threshold breaches, or Abort is called. After the stop
// signal in-flight iterations get GracefulStop to finish before their calls
// are aborted.
func (r *Runner) Run(ctx context.Context) Summary {
	defer r.exec.Close()
	defer r.abort()
	if r.updates != nil {
		defer close(r.updates)
	}

	stopCtx, stop := context.WithCancel(r.abortCtx)
	defer stop()

	start := time.Now()
	r.agg.Reset(start)
	pool := NewPool(stopCtx, r.agg, r.runVU)

	// a schedule that is not hold-last always ends, even when total is 0
	total := r.sched.Total()
	limit, limitReason, bounded := total, StopCompleted, !r.sched.HoldLast()
	if r.cfg.MaxDuration > 0 && (!bounded || r.cfg.MaxDuration < limit) {
		limit, limitReason, bounded = r.cfg.MaxDuration, StopMaxDuration, true
	}

	sum := Summary{RunID: r.runID, StartedAt: start}
	r.log.Info().
		Str("run_id", r.runID).
		Dur("duration", total).
		Int("max_vus", r.sched.Max()).
		Int("stages", len(r.sched.Stages())).
		Msg("run started")

	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	stage := -1
loop:
	for {
		elapsed := time.Since(start)
		if bounded && elapsed >= limit {
			sum.StopReason = limitReason
			break
		}

		target := r.sched.Target(elapsed)
		live := pool.Scale(target)
		if i, ok := r.sched.StageAt(elapsed); ok && i != stage {
			stage = i
			st := r.sched.Stages()[i]
			r.log.Info().Int("stage", i).Dur("duration", st.Duration).Int("target", st.Target).Msg("stage started")
		}

		if r.updates != nil || len(r.abortOn) > 0 {
			snap := r.agg.Snapshot()
			r.publish(Progress{Elapsed: elapsed, Total: total, Stage: stage, Target: target, Live: live, Snapshot: snap})
			if breaches := threshold.Breaches(snap, r.abortOn); len(breaches) > 0 {
				sum.StopReason = StopThreshold
				sum.Breaches = breaches
				for _, b := range breaches {
					r.log.Warn().Str("metric", b.Threshold.Metric).Str("reason", b.Reason).Msg("abort threshold breached")
				}
				break
			}
		}

		select {
		case <-ctx.Done():
			sum.StopReason = StopInterrupted
			break loop
		case <-r.abortCtx.Done():
			sum.StopReason = StopAborted
			break loop
		case <-ticker.C:
		}
	}

	r.log.Info().Str("reason", string(sum.StopReason)).Int("running", pool.Running()).Msg("stopping, draining iterations")
	stop()
	pool.Scale(0)

	done := make(chan struct{})
	go func() {
		pool.Wait()
		close(done)
	}()
	grace := time.NewTimer(r.cfg.GracefulStop)
	defer grace.Stop()

drain:
	for {
		select {
		case <-done:
			break drain
		case <-grace.C:
			sum.DrainTimedOut = true
			r.log.Warn().Dur("graceful_stop", r.cfg.GracefulStop).Int("running", pool.Running()).Msg("drain timed out, aborting in-flight calls")
			r.abort()
		case <-ticker.C:
			if r.updates != nil {
				elapsed := time.Since(start)
				r.publish(Progress{Elapsed: elapsed, Total: total, Stage: stage, Live: pool.Running(), Draining: true, Snapshot: r.agg.Snapshot()})
			}
		}
	}

	sum.EndedAt = time.Now()
	sum.Snapshot = r.agg.Snapshot()
	r.log.Info().
		Str("reason", string(sum.StopReason)).
		Dur("elapsed", sum.EndedAt.Sub(start)).
		Uint64("requests", sum.Snapshot.Overall.Requests).
		Uint64("iterations", sum.Snapshot.Overall.Iterations).
		Msg("run finished")
	return sum
}

func (r *Runner) publish(p Progress) {
	if r.updates == nil {
		return
	}
	select {
	case r.updates <- p:
	default:
	}
}
