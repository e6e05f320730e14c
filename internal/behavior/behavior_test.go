package behavior

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stagehand/internal/stats"
)

// fakeDoer records requests and answers with a status per path prefix.
type fakeDoer struct {
	mu       sync.Mutex
	requests []Request
	statuses map[string]stats.Status
}

func (f *fakeDoer) Do(_ context.Context, _ string, req Request) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	for prefix, st := range f.statuses {
		if strings.HasPrefix(req.Path, prefix) {
			return Response{Status: st}
		}
	}
	return Response{Status: stats.Success, StatusCode: http.StatusOK}
}

func newEnv(d Doer) *Env {
	return &Env{Doer: d, Rand: rand.New(rand.NewPCG(1, 2)), VU: 3, UserID: "user-1", Iteration: 7}
}

func groceryRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewSearch("search", 0.8, Catalog{})))
	require.NoError(t, reg.Register(NewCart("cart", 0.15, Catalog{})))
	require.NoError(t, reg.Register(NewCheckout("checkout", 0.05, Catalog{})))
	return reg
}

func TestSelector_ConvergesToWeights(t *testing.T) {
	sel, err := groceryRegistry(t).Selector()
	require.NoError(t, err)

	const n = 200000
	rng := rand.New(rand.NewPCG(42, 42))
	counts := map[string]int{}
	for i := 0; i < n; i++ {
		counts[sel.Pick(rng).Name()]++
	}

	want := map[string]float64{"search": 0.8, "cart": 0.15, "checkout": 0.05}
	for name, p := range want {
		got := float64(counts[name]) / n
		// five standard errors
		tol := 5 * math.Sqrt(p*(1-p)/n)
		assert.InDelta(t, p, got, tol, name)
	}
	assert.InDelta(t, 0.8, sel.Probabilities()["search"], 1e-9)
}

func TestSelector_DeterministicWithSeed(t *testing.T) {
	sel, err := groceryRegistry(t).Selector()
	require.NoError(t, err)

	draw := func() []string {
		rng := rand.New(rand.NewPCG(7, 9))
		out := make([]string, 100)
		for i := range out {
			out[i] = sel.Pick(rng).Name()
		}
		return out
	}
	assert.Equal(t, draw(), draw())
}

func TestSelector_DegenerateWeights(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(NewSearch("search", 0, Catalog{})))
	require.NoError(t, reg.Register(NewCart("cart", 2, Catalog{})))
	sel, err := reg.Selector()
	require.NoError(t, err)
	rng := rand.New(rand.NewPCG(1, 1))
	for i := 0; i < 1000; i++ {
		assert.Equal(t, "cart", sel.Pick(rng).Name())
	}

	// zero weight stays addressable
	b, ok := reg.Get("search")
	require.True(t, ok)
	assert.Equal(t, 0.0, b.Weight())

	zero := NewRegistry()
	require.NoError(t, zero.Register(NewSearch("search", 0, Catalog{})))
	_, err = zero.Selector()
	assert.ErrorIs(t, err, ErrNoSelectableBehavior)
}

func TestRegistry_Register(t *testing.T) {
	tests := map[string]struct {
		b       Behavior
		wantErr bool
	}{
		"ok":           {b: NewCart("cart", 1, Catalog{})},
		"duplicate":    {b: NewSearch("search", 1, Catalog{}), wantErr: true},
		"negative":     {b: NewSearch("neg", -1, Catalog{}), wantErr: true},
		"nan":          {b: NewSearch("nan", math.NaN(), Catalog{}), wantErr: true},
		"inf":          {b: NewSearch("inf", math.Inf(1), Catalog{}), wantErr: true},
		"missing name": {b: NewSearch("", 1, Catalog{}), wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			reg := NewRegistry()
			require.NoError(t, reg.Register(NewSearch("search", 1, Catalog{})))
			err := reg.Register(tt.b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, 2, reg.Len())
		})
	}
}

func TestSearch_Request(t *testing.T) {
	d := &fakeDoer{}
	res := NewSearch("search", 1, Catalog{Terms: []string{"oat milk"}}).Execute(context.Background(), newEnv(d))
	assert.Equal(t, stats.Success, res.Status)
	require.Len(t, d.requests, 1)
	assert.Equal(t, http.MethodGet, d.requests[0].Method)
	assert.Equal(t, "/api/search?q=oat+milk", d.requests[0].Path)
}

func TestCart_Request(t *testing.T) {
	d := &fakeDoer{}
	NewCart("cart", 1, Catalog{}).Execute(context.Background(), newEnv(d))
	require.Len(t, d.requests, 1)
	assert.Equal(t, "/api/cart", d.requests[0].Path)
	assert.JSONEq(t, `{"itemId":"item-123","quantity":1}`, string(d.requests[0].Body))
	assert.Equal(t, "application/json", d.requests[0].Header.Get("Content-Type"))
}

func TestCheckout_PrimesCartThenFinalizes(t *testing.T) {
	d := &fakeDoer{}
	res := NewCheckout("checkout", 1, Catalog{}).Execute(context.Background(), newEnv(d))
	assert.Equal(t, stats.Success, res.Status)
	assert.Equal(t, 2, res.Calls)
	require.Len(t, d.requests, 2)
	assert.Equal(t, "/api/cart", d.requests[0].Path)
	assert.Equal(t, "/api/checkout/finalize", d.requests[1].Path)

	var p checkoutPayload
	require.NoError(t, json.Unmarshal(d.requests[1].Body, &p))
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, []Item{{ItemID: "item-123", Quantity: 1}}, p.Items)
}

func TestCheckout_ShortCircuitsOnCartFailure(t *testing.T) {
	d := &fakeDoer{statuses: map[string]stats.Status{"/api/cart": stats.Failure}}
	res := NewCheckout("checkout", 1, Catalog{}).Execute(context.Background(), newEnv(d))
	assert.Equal(t, stats.Failure, res.Status)
	assert.Equal(t, 1, res.Calls)
	assert.Len(t, d.requests, 1)
}

func TestCheckout_Conflict(t *testing.T) {
	d := &fakeDoer{statuses: map[string]stats.Status{"/api/checkout": stats.Conflict}}
	res := NewCheckout("checkout", 1, Catalog{}, WithUserID("fixed")).Execute(context.Background(), newEnv(d))
	assert.Equal(t, stats.Conflict, res.Status)
	assert.False(t, res.Status.Failed())

	var p checkoutPayload
	require.NoError(t, json.Unmarshal(d.requests[1].Body, &p))
	assert.Equal(t, "fixed", p.UserID)
}

func TestCheckout_WithoutPrimeCart(t *testing.T) {
	d := &fakeDoer{}
	NewCheckout("checkout", 1, Catalog{}, WithPrimeCart(false)).Execute(context.Background(), newEnv(d))
	require.Len(t, d.requests, 1)
	assert.Equal(t, "/api/checkout/finalize", d.requests[0].Path)
}

func TestHTTP_RendersTemplates(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "terms.txt")
	require.NoError(t, os.WriteFile(file, []byte("apples\n\n"), 0o644))

	h, err := NewHTTP("browse", 1, nil, []Step{
		{
			Method:  "get",
			Path:    `/api/search?q={{randomLine "` + file + `"}}&vu={{vu}}`,
			Headers: map[string]string{"X-User": "{{userID}}"},
		},
		{
			Name:   "add",
			Method: http.MethodPost,
			Path:   "/api/cart",
			Body:   `{"itemId":"{{randomChoice "a"}}","quantity":{{randomInt 2 3}},"it":{{iteration}}}`,
		},
	})
	require.NoError(t, err)

	d := &fakeDoer{}
	res := h.Execute(context.Background(), newEnv(d))
	require.Equal(t, stats.Success, res.Status)
	require.Len(t, d.requests, 2)

	assert.Equal(t, http.MethodGet, d.requests[0].Method)
	assert.Equal(t, "/api/search?q=apples&vu=3", d.requests[0].Path)
	assert.Equal(t, "user-1", d.requests[0].Header.Get("X-User"))
	assert.Equal(t, "browse_0", d.requests[0].Name)
	assert.JSONEq(t, `{"itemId":"a","quantity":2,"it":7}`, string(d.requests[1].Body))
}

func TestTemplateEngine_Preprocess(t *testing.T) {
	e := NewTemplateEngine()
	tests := map[string]struct {
		in, want string
	}{
		"short vars":      {in: "/u/{{userID}}/{{iteration}}", want: "/u/{{.UserID}}/{{.Iteration}}"},
		"helper":          {in: "{{randomInt 1 5}}", want: "{{$.RandomInt 1 5}}"},
		"spaced nested":   {in: `{{ printf "%s" (randomChoice "a" "b") }}`, want: `{{ printf "%s" ($.RandomChoice "a" "b") }}`},
		"uuid alias":      {in: "{{uuid | printf}}", want: "{{$.RandomUUID | printf}}"},
		"outside actions": {in: "/api/uuid/randomInt", want: "/api/uuid/randomInt"},
		"string literal":  {in: `{{randomChoice "uuid"}}`, want: `{{$.RandomChoice "uuid"}}`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Preprocess(tt.in))
		})
	}
}

func TestHTTP_SeededRenderingRepeats(t *testing.T) {
	h, err := NewHTTP("ids", 1, nil, []Step{{
		Method: http.MethodPost,
		Path:   "/api/orders/{{uuid}}",
		Body:   `{{randomUUID}} {{randomInt 0 1000000}} {{randomChoice "a" "b" "c" "d"}}`,
	}})
	require.NoError(t, err)

	render := func() Request {
		d := &fakeDoer{}
		h.Execute(context.Background(), newEnv(d))
		require.Len(t, d.requests, 1)
		return d.requests[0]
	}
	first, second := render(), render()
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, first.Body, second.Body)
	assert.Len(t, strings.TrimPrefix(first.Path, "/api/orders/"), 36)
}

func TestHTTP_StopsAtFirstFailure(t *testing.T) {
	h, err := NewHTTP("seq", 1, nil, []Step{{Path: "/a"}, {Path: "/b"}})
	require.NoError(t, err)
	d := &fakeDoer{statuses: map[string]stats.Status{"/a": stats.Timeout}}
	res := h.Execute(context.Background(), newEnv(d))
	assert.Equal(t, stats.Timeout, res.Status)
	assert.Len(t, d.requests, 1)
}

func TestHTTP_LaterRenderErrorSendsNothing(t *testing.T) {
	h, err := NewHTTP("two", 1, nil, []Step{{Path: "/api/search?q=milk"}, {Path: `/x/{{randomLine "/does/not/exist"}}`}})
	require.NoError(t, err)
	d := &fakeDoer{}
	res := h.Execute(context.Background(), newEnv(d))
	assert.Equal(t, stats.Failure, res.Status)
	assert.Zero(t, res.Calls)
	assert.Empty(t, d.requests)
}

func TestHTTP_RenderErrorIsFailure(t *testing.T) {
	h, err := NewHTTP("bad", 1, nil, []Step{{Path: `/x/{{randomLine "/does/not/exist"}}`}})
	require.NoError(t, err)
	d := &fakeDoer{}
	res := h.Execute(context.Background(), newEnv(d))
	assert.Equal(t, stats.Failure, res.Status)
	assert.Error(t, res.Err)
	assert.Empty(t, d.requests)
}

func TestBuild(t *testing.T) {
	prime := false
	reg, err := NewRegistryFromSpecs([]Spec{
		{Name: "search", Weight: 0.8},
		{Name: "cart", Weight: 0.15},
		{Name: "buy", Kind: KindCheckout, Weight: 0.05, PrimeCart: &prime},
		{Name: "custom", Kind: KindHTTP, Steps: []Step{{Path: "/healthz"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, reg.Len())
	b, ok := reg.Get("buy")
	require.True(t, ok)
	assert.False(t, b.(*Checkout).primeCart)

	_, err = NewRegistryFromSpecs([]Spec{{Name: "mystery"}})
	assert.Error(t, err)
	_, err = NewRegistryFromSpecs([]Spec{{Name: "x", Kind: KindHTTP}})
	assert.Error(t, err)
	_, err = NewRegistryFromSpecs([]Spec{{Name: "x", Kind: KindHTTP, Steps: []Step{{Path: "{{"}}}})
	assert.Error(t, err)
}
