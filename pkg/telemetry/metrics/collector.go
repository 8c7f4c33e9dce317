package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// DefaultMaxRoutes bounds the number of distinct route labels.
const DefaultMaxRoutes = 200

// otherRoute replaces route labels beyond the cardinality limit.
const otherRoute = "other"

// Collector owns the process Prometheus registry and the HTTP server
// metrics. Admission metrics register into the same registry through
// Registry().
type Collector struct {
	enabled  bool
	registry *prometheus.Registry
	http     *HTTPMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector. A nil registry creates a fresh one
// carrying the Go runtime and process collectors.
func NewCollector(enabled bool, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return &Collector{
		enabled:            enabled,
		registry:           registry,
		http:               NewHTTPMetrics(registry),
		cardinalityLimiter: NewCardinalityLimiter(DefaultMaxRoutes),
	}
}

// Enabled reports whether request metrics are recorded and served.
func (c *Collector) Enabled() bool {
	return c.enabled
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordRequest records a completed HTTP request.
func (c *Collector) RecordRequest(method, route string, status int, duration time.Duration) {
	if !c.enabled {
		return
	}
	if route == "" || !c.cardinalityLimiter.Allow(route) {
		route = otherRoute
	}
	c.http.RecordRequest(method, route, strconv.Itoa(status), duration)
}

// Middleware records request count, latency and in-flight requests labelled
// by the ServeMux pattern that served the request.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	if !c.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.http.inFlight.Inc()
		defer c.http.inFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		c.RecordRequest(r.Method, r.Pattern, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// CardinalityLimiter caps the number of unique label values admitted.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting up to maxCardinality
// distinct values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already known or still fits under the limit.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of admitted values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
