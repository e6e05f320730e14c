package behavior

import "fmt"

// Spec is the declarative form of a behavior, as read from configuration.
type Spec struct {
	Name      string
	Kind      Kind
	Weight    float64
	Catalog   Catalog
	PrimeCart *bool
	UserID    string
	Steps     []Step
}

// Build turns a Spec into a Behavior. Kind defaults to the name when it
// matches a built-in kind.
func Build(s Spec, engine *TemplateEngine) (Behavior, error) {
	kind := s.Kind
	if kind == "" {
		kind = Kind(s.Name)
	}
	switch kind {
	case KindSearch:
		return NewSearch(s.Name, s.Weight, s.Catalog), nil
	case KindCart:
		return NewCart(s.Name, s.Weight, s.Catalog), nil
	case KindCheckout:
		var opts []CheckoutOption
		if s.PrimeCart != nil {
			opts = append(opts, WithPrimeCart(*s.PrimeCart))
		}
		if s.UserID != "" {
			opts = append(opts, WithUserID(s.UserID))
		}
		return NewCheckout(s.Name, s.Weight, s.Catalog, opts...), nil
	case KindHTTP:
		return NewHTTP(s.Name, s.Weight, engine, s.Steps)
	}
	return nil, fmt.Errorf("behavior %q: unknown kind %q (expected search, cart, checkout or http)", s.Name, kind)
}

// NewRegistryFromSpecs builds and registers every spec.
func NewRegistryFromSpecs(specs []Spec) (*Registry, error) {
	engine := NewTemplateEngine()
	reg := NewRegistry()
	for _, s := range specs {
		b, err := Build(s, engine)
		if err != nil {
			return nil, err
		}
		if err := reg.Register(b); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
