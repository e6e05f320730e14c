package behavior

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"sync"
)

// ErrNoSelectableBehavior is returned when every registered weight is zero.
var ErrNoSelectableBehavior = errors.New("no behavior has a positive weight")

// Registry holds behaviors keyed by unique name. It is filled before a run
// and only read afterwards.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Behavior
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Behavior{}}
}

func (r *Registry) Register(b Behavior) error {
	if b == nil {
		return errors.New("behavior is nil")
	}
	name := b.Name()
	if name == "" {
		return errors.New("behavior name is required")
	}
	w := b.Weight()
	if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
		return fmt.Errorf("behavior %q: weight must be a finite number >= 0, got %v", name, w)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("behavior %q registered twice", name)
	}
	r.byName[name] = b
	r.order = append(r.order, name)
	return nil
}

// Get returns a behavior by name, including zero-weight ones.
func (r *Registry) Get(name string) (Behavior, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byName[name]
	return b, ok
}

// All returns behaviors in registration order.
func (r *Registry) All() []Behavior {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Behavior, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Selector builds the weighted selector for the registered behaviors.
func (r *Registry) Selector() (*Selector, error) {
	return NewSelector(r.All())
}

// Selector draws behaviors with probability proportional to weight. The
// table is immutable; callers bring their own random source so virtual users
// share no mutable state.
type Selector struct {
	entries []Behavior
	cum     []float64
	total   float64
}

func NewSelector(bs []Behavior) (*Selector, error) {
	s := &Selector{}
	for _, b := range bs {
		w := b.Weight()
		if w <= 0 {
			continue
		}
		s.total += w
		s.entries = append(s.entries, b)
		s.cum = append(s.cum, s.total)
	}
	if len(s.entries) == 0 {
		return nil, ErrNoSelectableBehavior
	}
	return s, nil
}

// Pick draws one behavior using rng.
func (s *Selector) Pick(rng *rand.Rand) Behavior {
	if len(s.entries) == 1 {
		return s.entries[0]
	}
	x := rng.Float64() * s.total
	i := sort.Search(len(s.cum), func(i int) bool { return s.cum[i] > x })
	if i == len(s.entries) {
		// x can only reach total through rounding
		i = len(s.entries) - 1
	}
	return s.entries[i]
}

// Probabilities returns the normalized selection probability per name.
func (s *Selector) Probabilities() map[string]float64 {
	out := make(map[string]float64, len(s.entries))
	prev := 0.0
	for i, b := range s.entries {
		out[b.Name()] = (s.cum[i] - prev) / s.total
		prev = s.cum[i]
	}
	return out
}
