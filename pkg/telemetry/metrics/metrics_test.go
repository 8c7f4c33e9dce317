package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Middleware(t *testing.T) {
	c := NewCollector(true, prometheus.NewRegistry())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /budgets/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := c.Middleware(mux)

	for _, id := range []string{"a", "b", "c"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/budgets/"+id, nil))
	}

	got := testutil.ToFloat64(c.http.requestsTotal.WithLabelValues("GET", "GET /budgets/{id}", "404"))
	if got != 3 {
		t.Errorf("Expected 3 requests under the route pattern, got %v", got)
	}
	if n := testutil.ToFloat64(c.http.inFlight); n != 0 {
		t.Errorf("Expected 0 in-flight requests after completion, got %v", n)
	}
}

func TestCollector_Disabled(t *testing.T) {
	c := NewCollector(false, prometheus.NewRegistry())
	called := false
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

	c.Middleware(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	if !called {
		t.Error("Expected wrapped handler to run")
	}

	c.RecordRequest("GET", "/x", 200, time.Millisecond)
	if n := testutil.CollectAndCount(c.http.requestsTotal); n != 0 {
		t.Errorf("Expected no series when disabled, got %d", n)
	}
}

func TestCollector_RouteCardinality(t *testing.T) {
	c := NewCollector(true, prometheus.NewRegistry())
	c.cardinalityLimiter = NewCardinalityLimiter(2)

	c.RecordRequest("GET", "GET /a", 200, time.Millisecond)
	c.RecordRequest("GET", "GET /b", 200, time.Millisecond)
	c.RecordRequest("GET", "GET /c", 200, time.Millisecond)
	c.RecordRequest("GET", "", 404, time.Millisecond)

	if got := testutil.ToFloat64(c.http.requestsTotal.WithLabelValues("GET", otherRoute, "200")); got != 1 {
		t.Errorf("Expected overflow route folded into %q, got %v", otherRoute, got)
	}
	if got := testutil.ToFloat64(c.http.requestsTotal.WithLabelValues("GET", otherRoute, "404")); got != 1 {
		t.Errorf("Expected unmatched request folded into %q, got %v", otherRoute, got)
	}
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector(true, nil)
	c.RecordRequest("POST", "POST /admission/check", 200, 2*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"costgate_http_requests_total", "go_goroutines"} {
		if !strings.Contains(body, want) {
			t.Errorf("Expected exposition to contain %s", want)
		}
	}
}

func TestCardinalityLimiter_Concurrent(t *testing.T) {
	cl := NewCardinalityLimiter(50)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cl.Allow(fmt.Sprintf("route-%d", i))
		}(i)
	}
	wg.Wait()

	if cl.Count() != 50 {
		t.Errorf("Expected 50 admitted values, got %d", cl.Count())
	}
	if cl.Allow("route-new") {
		t.Error("Expected new value to be rejected at the limit")
	}
}
