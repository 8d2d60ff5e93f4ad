// Package health provides the liveness and readiness handlers of the control
// plane.
//
//   - /healthz is the liveness probe and always returns 200 OK.
//   - /readyz returns 200 only when every registered [Checker] passes: the
//     output directories are writable, the postgres sink answers, and at
//     least one provider of each kind has a closed circuit.
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short label for this check (e.g. "postgres", "stt"). It
	// appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// result is the JSON response body for health endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers on each /readyz
// request. Checkers with a nil Check function are ignored.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, 0, len(checkers))
	for _, ch := range checkers {
		if ch.Check != nil {
			c = append(c, ch)
		}
	}
	return &Handler{checkers: c}
}

// Healthz is a liveness probe that always returns 200 OK.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs every checker concurrently, each with a [checkTimeout]
// deadline derived from the request context, and returns 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, c := range h.checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			err := c.Check(ctx)
			cancel()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				checks[c.Name] = "fail: " + err.Error()
				allOK = false
			} else {
				checks[c.Name] = "ok"
			}
		}()
	}
	wg.Wait()

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
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

// WritableDir returns a checker that creates and removes a probe file in dir.
// An empty dir checks the working directory.
func WritableDir(name, dir string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if dir == "" {
				dir = "."
			}
			f, err := os.CreateTemp(dir, ".callpilot-ready-*")
			if err != nil {
				return err
			}
			path := f.Name()
			f.Close()
			return os.Remove(path)
		},
	}
}

// AnyClosed returns a checker over a set of circuit-breaker states, keyed by
// provider name with values such as "closed" or "open". It passes while at
// least one provider is not open.
func AnyClosed(name string, states func() map[string]string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			st := states()
			if len(st) == 0 {
				return nil
			}
			names := make([]string, 0, len(st))
			for provider, state := range st {
				if state != "open" {
					return nil
				}
				names = append(names, provider)
			}
			sort.Strings(names)
			return fmt.Errorf("all circuits open: %s", strings.Join(names, ", "))
		},
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
