package stats

import (
	"fmt"
	"time"
)

// Status classifies a single request or a whole iteration.
type Status int

const (
	Success Status = iota
	Failure
	Conflict
	Timeout
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Conflict:
		return "conflict"
	case Timeout:
		return "timeout"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Failed reports whether s counts as a failure for threshold purposes.
// Timeouts are failures; conflicts are not.
func (s Status) Failed() bool {
	return s == Failure || s == Timeout
}

// Outcome is the result of one HTTP call. It is consumed by Aggregator.Record
// and not retained.
type Outcome struct {
	Behavior   string
	Name       string
	StartedAt  time.Time
	Latency    time.Duration
	Status     Status
	StatusCode int
	Bytes      int64
	Err        error
}
