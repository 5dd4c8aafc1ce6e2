package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

var startedAt = time.Now()

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Check reports why a dependency is not ready, or nil.
type Check func(ctx context.Context) error

type checkError string

func (e checkError) Error() string { return string(e) }

// Flag turns a boolean probe into a Check failing with failure.
func Flag(ok func() bool, failure string) Check {
	return func(context.Context) error {
		if ok != nil && ok() {
			return nil
		}
		return checkError(failure)
	}
}

type namedCheck struct {
	name  string
	check Check
}

// Readiness is the set of dependencies the console needs before it can
// serve screens: loaded definitions, the session store, the backend.
type Readiness struct {
	timeout time.Duration
	checks  []namedCheck
}

// NewReadiness creates an empty set. timeout bounds each check, 2s when
// zero.
func NewReadiness(timeout time.Duration) *Readiness {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Readiness{timeout: timeout}
}

// Add registers a check under name. A nil check is skipped.
func (r *Readiness) Add(name string, check Check) *Readiness {
	if check != nil {
		r.checks = append(r.checks, namedCheck{name: name, check: check})
	}
	return r
}

// AddChecker registers hc under name. A nil checker is skipped.
func (r *Readiness) AddChecker(name string, hc HealthChecker) *Readiness {
	if hc == nil {
		return r
	}
	return r.Add(name, hc.HealthCheck)
}

// Run executes every check concurrently.
func (r *Readiness) Run(ctx context.Context) ReadinessResponse {
	results := make(map[string]CheckResult, len(r.checks))
	var mu sync.Mutex
	var g errgroup.Group

	for _, nc := range r.checks {
		g.Go(func() error {
			res := r.run(ctx, nc.check)
			mu.Lock()
			results[nc.name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := "ready"
	for _, res := range results {
		if res.Status != "ok" {
			status = "not_ready"
			break
		}
	}
	return ReadinessResponse{Status: status, Checks: results}
}

func (r *Readiness) run(parent context.Context, check Check) CheckResult {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

// Handler serves the readiness endpoint: 200 when every check passes, 503
// otherwise.
func (r *Readiness) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		resp := r.Run(req.Context())
		status := http.StatusOK
		if resp.Status != "ready" {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

// HandleHealth returns the liveness handler.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:        "ok",
			Version:       Version,
			Commit:        Commit,
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
