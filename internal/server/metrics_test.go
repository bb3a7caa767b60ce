package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	s := newTestServer(t)
	reg, ok := s.cfg.MetricsGatherer.(*prometheus.Registry)
	if !ok {
		t.Fatal("test server must use an isolated registry")
	}
	return s, reg
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s, _ := newMetricsTestServer(t)

	w := do(t, s, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Errorf("want 200, got %d", w.Code)
	}
	ct := w.Header().Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_HTTPRequestsByPattern(t *testing.T) {
	t.Parallel()
	s, _ := newMetricsTestServer(t)

	do(t, s, http.MethodGet, "/api/contexts/default", nil)
	do(t, s, http.MethodGet, "/api/contexts/ghost", nil)
	do(t, s, http.MethodGet, "/no/such/route", nil)

	c := s.metrics.httpRequestsTotal
	if got := testutil.ToFloat64(c.WithLabelValues("GET", "GET /api/contexts/{name}", "200")); got != 1 {
		t.Errorf("200 count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.WithLabelValues("GET", "GET /api/contexts/{name}", "404")); got != 1 {
		t.Errorf("404 count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.WithLabelValues("GET", "unmatched", "404")); got != 1 {
		t.Errorf("unmatched count = %v, want 1", got)
	}
}

func Test_Metrics_SearchOutcomes(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	do(t, s, http.MethodPost, "/api/contexts/default/search", searchRequest{Query: "anything"})
	do(t, s, http.MethodPost, "/api/contexts/default/search", searchRequest{})

	if got := testutil.ToFloat64(s.metrics.searchRequestsTotal.WithLabelValues("not_initialized")); got != 1 {
		t.Errorf("not_initialized = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.metrics.searchRequestsTotal.WithLabelValues("invalid")); got != 1 {
		t.Errorf("invalid = %v, want 1", got)
	}

	n, err := testutil.GatherAndCount(reg, "ragctx_search_requests_total")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Errorf("want 2 series, got %d", n)
	}
}

func Test_Metrics_AskCounters(t *testing.T) {
	t.Parallel()
	s, _ := newMetricsTestServer(t)
	s.asker = &fakeAsker{pieces: []string{"ok"}}

	req := httptest.NewRequest(http.MethodPost, "/api/contexts/default/ask", strings.NewReader(`{"question":"hi"}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if got := testutil.ToFloat64(s.metrics.askRequestsTotal.WithLabelValues("ok")); got != 1 {
		t.Errorf("ask ok = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.metrics.askActiveStreams); got != 0 {
		t.Errorf("active streams = %v, want 0 after completion", got)
	}
}
