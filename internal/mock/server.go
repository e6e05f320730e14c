// Package mock serves a small grocery gateway for demos and tests. It
// implements the search, cart and checkout endpoints the built-in behaviors
// call, with configurable latency and injected failures.
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Options struct {
	// Latency is added to every API response.
	Latency time.Duration
	// Jitter adds a uniform random delay in [0, Jitter).
	Jitter time.Duration
	// FailRate is the exact fraction of API calls answered with 500.
	FailRate float64
	// ConflictRate is the exact fraction of checkouts answered with 409.
	ConflictRate float64
}

type Server struct {
	opts   Options
	log    zerolog.Logger
	router chi.Router

	calls     atomic.Uint64
	checkouts atomic.Uint64

	requests  atomic.Uint64
	failed    atomic.Uint64
	conflicts atomic.Uint64
}

func New(opts Options, log zerolog.Logger) *Server {
	s := &Server{opts: opts, log: log}
	s.router = s.buildRouter()
	return s
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(s.delay)
		r.Use(s.injectFailures)
		r.Get("/search", s.handleSearch)
		r.Post("/cart", s.handleCart)
		r.Post("/checkout/finalize", s.handleFinalize)
	})
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Counts returns the API requests served, and how many were answered with an
// injected 500 or 409.
func (s *Server) Counts() (requests, failed, conflicts uint64) {
	return s.requests.Load(), s.failed.Load(), s.conflicts.Load()
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("mock grocery gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) delay(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.opts.Latency
		if s.opts.Jitter > 0 {
			d += rand.N(s.opts.Jitter)
		}
		if d > 0 {
			t := time.NewTimer(d)
			select {
			case <-t.C:
			case <-r.Context().Done():
				t.Stop()
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		if hit(&s.calls, s.opts.FailRate) {
			s.failed.Add(1)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "injected failure"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// hit advances n and reports whether this call falls on the rate. Over N
// calls exactly floor(N*rate) hits are returned.
func hit(n *atomic.Uint64, rate float64) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		n.Add(1)
		return true
	}
	cur := n.Add(1)
	return math.Floor(float64(cur)*rate) > math.Floor(float64(cur-1)*rate)
}

type searchResult struct {
	ItemID string  `json:"itemId"`
	Name   string  `json:"name"`
	Price  float64 `json:"price"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "q is required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"query": q,
		"results": []searchResult{
			{ItemID: "item-123", Name: q, Price: 2.49},
			{ItemID: "item-456", Name: "organic " + q, Price: 3.99},
		},
	})
}

type cartItem struct {
	ItemID   string `json:"itemId"`
	Quantity int    `json:"quantity"`
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	var it cartItem
	if err := json.NewDecoder(r.Body).Decode(&it); err != nil || it.ItemID == "" || it.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "itemId and a positive quantity are required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"itemId": it.ItemID, "quantity": it.Quantity, "status": "added"})
}

type finalizeRequest struct {
	UserID string     `json:"userId"`
	Items  []cartItem `json:"items"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "userId and items are required"})
		return
	}
	if hit(&s.checkouts, s.opts.ConflictRate) {
		s.conflicts.Add(1)
		writeJSON(w, http.StatusConflict, map[string]any{"error": "insufficient stock"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"orderId": uuid.NewString(), "status": "confirmed"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
