// Package health serves Kubernetes-style liveness and readiness probes.
//
// Checks run on demand when a probe endpoint is hit, each bounded by its own
// timeout. Results are cached for a short period so aggressive kubelet
// polling cannot stampede dependencies such as the database.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes a single dependency. It returns nil when the dependency
// is usable, or an error describing what is wrong.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc
}

type cachedResult struct {
	err error
	at  time.Time
}

// Checker aggregates liveness and readiness checks behind HTTP probe
// endpoints. The readiness flag is independent of check results: readiness
// reports failure until SetReady(true) is called, and again after
// SetReady(false) during shutdown, regardless of how the checks fare.
type Checker struct {
	ttl   time.Duration
	ready atomic.Bool

	// mu guards the check slices and the result cache. Checks themselves run
	// outside the lock, so concurrent probes against a cold cache may run the
	// same check twice. That is harmless and keeps probe latency independent.
	mu        sync.Mutex
	liveness  []check
	readiness []check
	results   map[string]cachedResult
}

// New creates a Checker that caches check results for ttl. A zero or
// negative ttl disables caching and every probe runs the checks afresh.
func New(ttl time.Duration) *Checker {
	return &Checker{
		ttl:     ttl,
		results: make(map[string]cachedResult),
	}
}

// AddLiveness registers a liveness check. Liveness answers "should this
// process be restarted": goroutine leaks, runaway GC pauses, deadlocks.
func (c *Checker) AddLiveness(name string, timeout time.Duration, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.liveness = append(c.liveness, check{name: name, timeout: timeout, fn: fn})
}

// AddReadiness registers a readiness check. Readiness answers "should this
// process receive traffic": database connectivity, cache reachability.
func (c *Checker) AddReadiness(name string, timeout time.Duration, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readiness = append(c.readiness, check{name: name, timeout: timeout, fn: fn})
}

// SetReady flips the manual readiness gate. Call with true once startup has
// finished and with false at the start of graceful shutdown so load
// balancers drain the instance before the listener closes.
func (c *Checker) SetReady(ready bool) {
	c.ready.Store(ready)
}

// run executes a single check, consulting the result cache first.
func (c *Checker) run(ctx context.Context, ck check) error {
	if c.ttl > 0 {
		c.mu.Lock()
		res, ok := c.results[ck.name]
		c.mu.Unlock()
		if ok && time.Since(res.at) < c.ttl {
			return res.err
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, ck.timeout)
	defer cancel()
	err := ck.fn(checkCtx)

	if c.ttl > 0 {
		c.mu.Lock()
		c.results[ck.name] = cachedResult{err: err, at: time.Now()}
		c.mu.Unlock()
	}
	return err
}

// runAll executes every check in the set and reports per-check outcomes.
func (c *Checker) runAll(ctx context.Context, checks []check) (map[string]string, bool) {
	outcomes := make(map[string]string, len(checks))
	healthy := true
	for _, ck := range checks {
		if err := c.run(ctx, ck); err != nil {
			outcomes[ck.name] = err.Error()
			healthy = false
		} else {
			outcomes[ck.name] = "ok"
		}
	}
	return outcomes, healthy
}

type probeResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint handles the /livez probe. It returns 200 while all liveness
// checks pass and 503 otherwise, with per-check outcomes in the body.
func (c *Checker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	checks := make([]check, len(c.liveness))
	copy(checks, c.liveness)
	c.mu.Unlock()

	outcomes, healthy := c.runAll(r.Context(), checks)
	writeProbe(w, outcomes, healthy)
}

// ReadyEndpoint handles the /readyz probe. It returns 200 only when the
// service has been marked ready and every readiness check passes.
func (c *Checker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	checks := make([]check, len(c.readiness))
	copy(checks, c.readiness)
	c.mu.Unlock()

	outcomes, healthy := c.runAll(r.Context(), checks)
	if !c.ready.Load() {
		outcomes["service"] = "not marked ready"
		healthy = false
	}
	writeProbe(w, outcomes, healthy)
}

func writeProbe(w http.ResponseWriter, outcomes map[string]string, healthy bool) {
	w.Header().Set("Content-Type", "application/json")

	resp := probeResponse{Status: "ok", Checks: outcomes}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	w.WriteHeader(status)
	// The status line is already written, so the encode error cannot be
	// surfaced to the client.
	_ = json.NewEncoder(w).Encode(resp)
}
