package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Op is a comparison operator.
type Op string

const (
	Less         Op = "<"
	LessEqual    Op = "<="
	Greater      Op = ">"
	GreaterEqual Op = ">="
)

func (o Op) holds(observed, limit float64) bool {
	switch o {
	case Less:
		return observed < limit
	case LessEqual:
		return observed <= limit
	case Greater:
		return observed > limit
	case GreaterEqual:
		return observed >= limit
	}
	return false
}

// Aggregation names the statistic a condition reads.
type Aggregation struct {
	Func       string // avg, min, max, med, p, count, rate, value
	Percentile float64
}

func (a Aggregation) String() string {
	if a.Func == "p" {
		return "p(" + strconv.FormatFloat(a.Percentile, 'f', -1, 64) + ")"
	}
	return a.Func
}

// Condition is a parsed threshold expression.
type Condition struct {
	Agg   Aggregation
	Op    Op
	Value float64
	// Duration is set when the literal carried a time unit.
	Duration time.Duration
	HasUnit  bool
}

var exprRE = regexp.MustCompile(`^\s*([a-z]+)(?:\(\s*([0-9]*\.?[0-9]+)\s*\))?\s*(<=|>=|<|>)\s*([-+]?[0-9]*\.?[0-9]+)\s*([a-zµ]*)\s*$`)

var aggFuncs = map[string]bool{
	"avg": true, "min": true, "max": true, "med": true, "p": true,
	"count": true, "rate": true, "value": true,
}

var units = map[string]time.Duration{
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
}

// Parse reads expressions such as "p(99) < 200ms", "rate<0.01" or
// "count >= 100".
func Parse(expr string) (Condition, error) {
	m := exprRE.FindStringSubmatch(strings.ToLower(expr))
	if m == nil {
		return Condition{}, fmt.Errorf("invalid threshold expression %q", expr)
	}
	fn, pct, op, num, unit := m[1], m[2], m[3], m[4], m[5]
	if !aggFuncs[fn] {
		return Condition{}, fmt.Errorf("invalid threshold expression %q: unknown aggregation %q", expr, fn)
	}
	c := Condition{Agg: Aggregation{Func: fn}, Op: Op(op)}
	switch {
	case fn == "p" && pct == "":
		return Condition{}, fmt.Errorf("invalid threshold expression %q: p() needs a percentile", expr)
	case fn != "p" && pct != "":
		return Condition{}, fmt.Errorf("invalid threshold expression %q: %s takes no argument", expr, fn)
	case fn == "p":
		q, err := strconv.ParseFloat(pct, 64)
		if err != nil || q < 0 || q > 100 {
			return Condition{}, fmt.Errorf("invalid threshold expression %q: percentile must be within [0,100]", expr)
		}
		c.Agg.Percentile = q
	}

	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return Condition{}, fmt.Errorf("invalid threshold expression %q: %w", expr, err)
	}
	c.Value = v
	if unit != "" {
		scale, ok := units[unit]
		if !ok {
			return Condition{}, fmt.Errorf("invalid threshold expression %q: unknown unit %q", expr, unit)
		}
		c.HasUnit = true
		c.Duration = time.Duration(v * float64(scale))
	}
	return c, nil
}

// limit returns the comparison value in the unit observed values use:
// milliseconds for durations, the raw number otherwise.
func (c Condition) limit() float64 {
	if c.HasUnit {
		return float64(c.Duration) / float64(time.Millisecond)
	}
	return c.Value
}

func (c Condition) String() string {
	v := strconv.FormatFloat(c.Value, 'f', -1, 64)
	if c.HasUnit {
		v = c.Duration.String()
	}
	return fmt.Sprintf("%s %s %s", c.Agg, c.Op, v)
}
