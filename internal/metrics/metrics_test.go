package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordHTTPRequest(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("threads", "GET", "/api/threads/{id}", "200"))
	RecordHTTPRequest("threads", "get", "/api/threads/{id}", "200", 15*time.Millisecond)
	after := testutil.ToFloat64(httpRequests.WithLabelValues("threads", "GET", "/api/threads/{id}", "200"))

	if after-before != 1 {
		t.Errorf("requests_total delta = %v, want 1", after-before)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	RecordCacheLookup("scrape", true)
	RecordCacheLookup("scrape", false)
	RecordCacheLookup("scrape", false)

	if got := testutil.ToFloat64(cacheLookups.WithLabelValues("scrape", "miss")); got < 2 {
		t.Errorf("miss count = %v, want >= 2", got)
	}
}

func TestHandler_ExposesCollectors(t *testing.T) {
	RecordUpstream("serpapi", "200", 20*time.Millisecond)
	RecordBillingEvent("")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{
		"omniplex_upstream_calls_total",
		"omniplex_billing_webhook_events_total",
		"omniplex_http_inflight_requests",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
	if !strings.Contains(body, `type="unknown"`) {
		t.Error("empty event type not normalised to unknown")
	}
}
