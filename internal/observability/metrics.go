package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "console"

// unmatchedRoute labels requests no route matched, keeping path_pattern
// bounded whatever URLs clients send.
const unmatchedRoute = "unmatched"

var (
	latencyBuckets = prometheus.ExponentialBuckets(0.005, 2.5, 9) // 5ms .. ~7.6s
	sizeBuckets    = prometheus.ExponentialBuckets(128, 8, 6)     // 128B .. 4MiB
	rowBuckets     = []float64{0, 10, 25, 50, 100, 250, 1000, 5000}
)

// Metrics holds the console's Prometheus instruments. A nil *Metrics
// records nothing, so components can be built without metrics.
type Metrics struct {
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	BackendRequestsTotal   *prometheus.CounterVec
	BackendRequestDuration *prometheus.HistogramVec
	// BackendCircuitBreakerState follows backend.BreakerState:
	// 0 closed, 1 open, 2 half-open.
	BackendCircuitBreakerState prometheus.Gauge
	BackendRetriesTotal        *prometheus.CounterVec

	ScreenLoadsTotal     *prometheus.CounterVec
	ScreenCollectionSize *prometheus.HistogramVec
	ScreensActive        *prometheus.GaugeVec
	MutationsTotal       *prometheus.CounterVec
	MutationDuration     *prometheus.HistogramVec
	ConfirmationsTotal   *prometheus.CounterVec

	ReferenceCacheHitsTotal   *prometheus.CounterVec
	ReferenceCacheMissesTotal *prometheus.CounterVec
	ReferenceFailuresTotal    *prometheus.CounterVec

	SessionsActive prometheus.Gauge
	LoginsTotal    *prometheus.CounterVec
	UploadsTotal   *prometheus.CounterVec

	DefinitionsLoaded        prometheus.Gauge
	OpenAPIOperationsIndexed prometheus.Gauge
	BuildInfo                *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// InitMetrics registers every instrument with reg. When reg is also a
// Gatherer, Handler serves exactly what was registered here.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return f.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return f.NewHistogramVec(prometheus.HistogramOpts{Namespace: namespace, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return f.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
	}

	m := &Metrics{
		HTTPRequestsTotal:     counter("http_requests_total", "HTTP requests served.", "method", "path_pattern", "status"),
		HTTPRequestDuration:   histogram("http_request_duration_seconds", "HTTP request latency.", latencyBuckets, "method", "path_pattern"),
		HTTPRequestSizeBytes:  histogram("http_request_size_bytes", "HTTP request body size.", sizeBuckets, "method", "path_pattern"),
		HTTPResponseSizeBytes: histogram("http_response_size_bytes", "HTTP response body size.", sizeBuckets, "method", "path_pattern"),

		BackendRequestsTotal:       counter("backend_requests_total", "Backend round trips; status 0 means no response.", "operation", "status"),
		BackendRequestDuration:     histogram("backend_request_duration_seconds", "Backend round trip latency.", latencyBuckets, "operation"),
		BackendCircuitBreakerState: gauge("backend_circuit_breaker_state", "Backend circuit breaker state (0 closed, 1 open, 2 half-open)."),
		BackendRetriesTotal:        counter("backend_retries_total", "Backend requests retried.", "operation"),

		ScreenLoadsTotal:     counter("screen_loads_total", "List screen collection fetches.", "resource", "view", "outcome"),
		ScreenCollectionSize: histogram("screen_collection_size", "Entities returned per collection fetch.", rowBuckets, "resource"),
		ScreensActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "screens_active", Help: "Mounted list screens.",
		}, []string{"resource"}),
		MutationsTotal:     counter("mutations_total", "Entity mutations by outcome.", "resource", "action", "outcome"),
		MutationDuration:   histogram("mutation_duration_seconds", "Entity mutation latency.", latencyBuckets, "resource", "action"),
		ConfirmationsTotal: counter("confirmations_total", "Resolved confirmation prompts.", "resource", "action", "decision"),

		ReferenceCacheHitsTotal:   counter("reference_cache_hits_total", "Reference labels served from cache.", "resource"),
		ReferenceCacheMissesTotal: counter("reference_cache_misses_total", "Reference labels fetched from the backend.", "resource"),
		ReferenceFailuresTotal:    counter("reference_failures_total", "Reference label fetches that failed.", "resource"),

		SessionsActive: gauge("sessions_active", "Sessions with a live workspace."),
		LoginsTotal:    counter("logins_total", "Sign-in attempts by outcome.", "outcome"),
		UploadsTotal:   counter("uploads_total", "Processed image uploads by outcome.", "outcome"),

		DefinitionsLoaded:        gauge("definitions_loaded", "Loaded resource definitions."),
		OpenAPIOperationsIndexed: gauge("openapi_operations_indexed", "Indexed backend OpenAPI operations."),
		BuildInfo: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "build_info", Help: "Always 1; labelled with the running build.",
		}, []string{"version", "commit"}),
	}
	m.BuildInfo.WithLabelValues(Version, Commit).Set(1)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordBackendRequest records one round trip. Status 0 means no response
// was received.
func (m *Metrics) RecordBackendRequest(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	if m != nil {
		m.BackendCircuitBreakerState.Set(state)
	}
}

func (m *Metrics) RecordBackendRetry(operation string) {
	if m != nil {
		m.BackendRetriesTotal.WithLabelValues(operation).Inc()
	}
}

// RecordScreenLoad counts a collection fetch; size is observed only for
// successful ones.
func (m *Metrics) RecordScreenLoad(resource, view, outcome string, size int) {
	if m == nil {
		return
	}
	m.ScreenLoadsTotal.WithLabelValues(resource, view, outcome).Inc()
	if outcome == "success" {
		m.ScreenCollectionSize.WithLabelValues(resource).Observe(float64(size))
	}
}

// ScreenMounted moves the active screen gauge by delta (+1 mount, -1 close).
func (m *Metrics) ScreenMounted(resource string, delta float64) {
	if m != nil {
		m.ScreensActive.WithLabelValues(resource).Add(delta)
	}
}

func (m *Metrics) RecordMutation(resource, action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(resource, action, outcome).Inc()
	m.MutationDuration.WithLabelValues(resource, action).Observe(duration.Seconds())
}

func (m *Metrics) RecordConfirmation(resource, action, decision string) {
	if m != nil {
		m.ConfirmationsTotal.WithLabelValues(resource, action, decision).Inc()
	}
}

func (m *Metrics) RecordReferenceCacheHit(resource string) {
	if m != nil {
		m.ReferenceCacheHitsTotal.WithLabelValues(resource).Inc()
	}
}

func (m *Metrics) RecordReferenceCacheMiss(resource string) {
	if m != nil {
		m.ReferenceCacheMissesTotal.WithLabelValues(resource).Inc()
	}
}

func (m *Metrics) RecordReferenceFailure(resource string) {
	if m != nil {
		m.ReferenceFailuresTotal.WithLabelValues(resource).Inc()
	}
}

func (m *Metrics) SessionOpened(delta float64) {
	if m != nil {
		m.SessionsActive.Add(delta)
	}
}

func (m *Metrics) RecordLogin(outcome string) {
	if m != nil {
		m.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RecordUpload(outcome string) {
	if m != nil {
		m.UploadsTotal.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) SetDefinitionsLoaded(count float64) {
	if m != nil {
		m.DefinitionsLoaded.Set(count)
	}
}

func (m *Metrics) SetOpenAPIOperationsIndexed(count float64) {
	if m != nil {
		m.OpenAPIOperationsIndexed.Set(count)
	}
}

// MetricsMiddleware records every request under its chi route pattern.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		reqSize := max(int(r.ContentLength), 0)
		m.RecordHTTPRequest(r.Method, routeLabel(r), status, time.Since(start), reqSize, ww.BytesWritten())
	})
}

// Handler serves the metrics registered by InitMetrics, falling back to the
// default registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}
