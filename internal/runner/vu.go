package runner

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"stagehand/internal/behavior"
	"stagehand/internal/stats"
)

// rng returns the random source of virtual user id. With a configured seed
// the stream depends only on the seed and the id.
func (r *Runner) rng(id int) *rand.Rand {
	if r.cfg.Seed != nil {
		return rand.New(rand.NewPCG(*r.cfg.Seed, uint64(id)))
	}
	return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
}

// runVU is the loop of one virtual user: pick a behavior, run it to
// completion, record the iteration, pace, repeat.
func (r *Runner) runVU(ctx context.Context, id int, retire <-chan struct{}) {
	env := &behavior.Env{
		Doer:   r.exec,
		Rand:   r.rng(id),
		VU:     id,
		UserID: uuid.NewString(),
	}
	log := r.log.With().Int("vu", id).Logger()
	log.Debug().Str("user_id", env.UserID).Msg("virtual user started")
	defer log.Debug().Uint64("iterations", env.Iteration).Msg("virtual user stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case <-retire:
			return
		default:
		}

		b := r.sel.Pick(env.Rand)
		started := time.Now()
		// calls run on the abort context so a graceful stop lets them finish
		res := b.Execute(r.abortCtx, env)
		r.agg.RecordIteration(b.Name(), time.Since(started), res.Status)
		r.agg.AddToRate(RateErrors, res.Status.Failed())
		r.agg.AddToRate(RateConflicts, res.Status == stats.Conflict)
		if res.Err != nil {
			log.Debug().Err(res.Err).
				Str("behavior", b.Name()).
				Str("status", res.Status.String()).
				Uint64("iteration", env.Iteration).
				Msg("iteration did not succeed")
		}
		env.Iteration++

		if r.cfg.Pacing <= 0 {
			continue
		}
		t := time.NewTimer(r.cfg.Pacing)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-retire:
			t.Stop()
			return
		case <-t.C:
		}
	}
}
