package behavior

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"net/url"
)

// Kind names the closed set of built-in behaviors.
type Kind string

const (
	KindSearch   Kind = "search"
	KindCart     Kind = "cart"
	KindCheckout Kind = "checkout"
	KindHTTP     Kind = "http"
)

const (
	searchPath   = "/api/search"
	cartPath     = "/api/cart"
	checkoutPath = "/api/checkout/finalize"
)

// Item is a cart line as the gateway expects it.
type Item struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

type checkoutPayload struct {
	UserID string `json:"userId"`
	Items  []Item `json:"items"`
}

// Catalog is the data the grocery behaviors draw from.
type Catalog struct {
	Terms       []string
	Items       []string
	MaxQuantity int
}

func DefaultCatalog() Catalog {
	return Catalog{
		Terms:       []string{"milk"},
		Items:       []string{"item-123"},
		MaxQuantity: 1,
	}
}

func (c Catalog) withDefaults() Catalog {
	d := DefaultCatalog()
	if len(c.Terms) == 0 {
		c.Terms = d.Terms
	}
	if len(c.Items) == 0 {
		c.Items = d.Items
	}
	if c.MaxQuantity < 1 {
		c.MaxQuantity = d.MaxQuantity
	}
	return c
}

func (c Catalog) item(r *rand.Rand) Item {
	return Item{
		ItemID:   c.Items[r.IntN(len(c.Items))],
		Quantity: 1 + r.IntN(c.MaxQuantity),
	}
}

func jsonHeader() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return h
}

type base struct {
	name   string
	weight float64
}

func (b base) Name() string    { return b.name }
func (b base) Weight() float64 { return b.weight }

// Search browses the catalog: GET /api/search?q=<term>.
type Search struct {
	base
	catalog Catalog
}

func NewSearch(name string, weight float64, c Catalog) *Search {
	return &Search{base: base{name, weight}, catalog: c.withDefaults()}
}

func (s *Search) Execute(ctx context.Context, env *Env) Result {
	term := s.catalog.Terms[env.Rand.IntN(len(s.catalog.Terms))]
	return Sequence(ctx, env, s.name, Request{
		Name:   "search",
		Method: http.MethodGet,
		Path:   searchPath + "?q=" + url.QueryEscape(term),
	})
}

// Cart adds one item: POST /api/cart.
type Cart struct {
	base
	catalog Catalog
}

func NewCart(name string, weight float64, c Catalog) *Cart {
	return &Cart{base: base{name, weight}, catalog: c.withDefaults()}
}

func (c *Cart) Execute(ctx context.Context, env *Env) Result {
	return Sequence(ctx, env, c.name, cartRequest(c.catalog.item(env.Rand)))
}

func cartRequest(it Item) Request {
	body, _ := json.Marshal(it)
	return Request{
		Name:   "cart",
		Method: http.MethodPost,
		Path:   cartPath,
		Header: jsonHeader(),
		Body:   body,
	}
}

// Checkout finalizes an order. With PrimeCart set it first puts the item in
// the cart, and skips finalization if that call fails.
type Checkout struct {
	base
	catalog   Catalog
	primeCart bool
	userID    string
}

type CheckoutOption func(*Checkout)

// WithPrimeCart controls the preceding cart call. Default true.
func WithPrimeCart(prime bool) CheckoutOption {
	return func(c *Checkout) { c.primeCart = prime }
}

// WithUserID pins the userId sent on finalize. By default each virtual user
// sends its own id.
func WithUserID(id string) CheckoutOption {
	return func(c *Checkout) { c.userID = id }
}

func NewCheckout(name string, weight float64, c Catalog, opts ...CheckoutOption) *Checkout {
	co := &Checkout{base: base{name, weight}, catalog: c.withDefaults(), primeCart: true}
	for _, o := range opts {
		o(co)
	}
	return co
}

func (c *Checkout) Execute(ctx context.Context, env *Env) Result {
	it := c.catalog.item(env.Rand)
	user := c.userID
	if user == "" {
		user = env.UserID
	}
	body, _ := json.Marshal(checkoutPayload{UserID: user, Items: []Item{it}})
	finalize := Request{
		Name:   "checkout",
		Method: http.MethodPost,
		Path:   checkoutPath,
		Header: jsonHeader(),
		Body:   body,
	}
	if !c.primeCart {
		return Sequence(ctx, env, c.name, finalize)
	}
	return Sequence(ctx, env, c.name, cartRequest(it), finalize)
}
