// Package health serves the liveness and readiness checks of the relay
// server.
//
// /healthz answers 200 as long as the process serves HTTP. /readyz runs every
// registered [Checker] concurrently and answers 503 when any of them fails,
// which is how an orchestrator learns that the upstream credential is missing
// or that the upstream circuit is open.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// can serve new sessions.
type Checker struct {
	// Name labels the check in the JSON response, e.g. "upstream".
	Name string

	// Check tests the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Func adapts a context-free check, such as the relay's Ready method, into a
// [Checker].
func Func(name string, fn func() error) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return fn() }}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
	// Failing lists the names of failed checks in sorted order.
	Failing []string `json:"failing,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time, so a Handler is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz is the liveness check.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness check. Every checker gets its own [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))

	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			if err := c.Check(ctx); err != nil {
				errs[i] = err
			} else if err := ctx.Err(); err != nil {
				errs[i] = err
			}
			return nil
		})
	}
	_ = g.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Failing = append(res.Failing, c.Name)
			continue
		}
		res.Checks[c.Name] = "ok"
	}

	status := http.StatusOK
	if len(res.Failing) > 0 {
		sort.Strings(res.Failing)
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
