// Package behavior defines the weighted units of work a virtual user runs
// on each iteration.
package behavior

import (
	"context"
	"math/rand/v2"
	"net/http"

	"stagehand/internal/stats"
)

// Request describes one HTTP call issued by a behavior. Path is resolved
// against the run's base URL.
type Request struct {
	Name   string
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// Response is what a Doer hands back to the behavior after recording the
// outcome.
type Response struct {
	Status     stats.Status
	StatusCode int
	Body       []byte
	Err        error
}

// Doer executes a request and records its outcome under the behavior's name.
type Doer interface {
	Do(ctx context.Context, behavior string, req Request) Response
}

// Env is the per-iteration view a behavior gets of its virtual user.
type Env struct {
	Doer      Doer
	Rand      *rand.Rand
	VU        int
	UserID    string
	Iteration uint64
}

// Result is the outcome of one behavior execution as a whole.
type Result struct {
	Status stats.Status
	Calls  int
	Err    error
}

// Behavior is a named, weighted workload action.
type Behavior interface {
	Name() string
	Weight() float64
	Execute(ctx context.Context, env *Env) Result
}

// Sequence runs reqs in order and stops at the first call that does not
// succeed. Calls already made keep their recorded outcomes.
func Sequence(ctx context.Context, env *Env, behavior string, reqs ...Request) Result {
	res := Result{Status: stats.Success}
	for _, r := range reqs {
		resp := env.Doer.Do(ctx, behavior, r)
		res.Calls++
		if resp.Status != stats.Success {
			res.Status = resp.Status
			res.Err = resp.Err
			return res
		}
	}
	return res
}
