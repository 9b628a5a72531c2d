package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"":                                         "/",
		"/":                                        "/",
		"/healthz":                                 "/healthz",
		"/v1/bridge":                               "/v1/bridge",
		"/v1/sessions/abc-123/primary-button/click": "/v1/sessions/:id/primary-button",
	}
	for in, want := range tests {
		if got := canonicalPath(in); got != want {
			t.Errorf("canonicalPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecordCapabilityCall(t *testing.T) {
	before := testutil.ToFloat64(capabilityCalls.WithLabelValues("ready", "ok"))
	RecordCapabilityCall("ready", "", time.Millisecond)
	after := testutil.ToFloat64(capabilityCalls.WithLabelValues("ready", "ok"))
	if after-before != 1 {
		t.Fatalf("ready/ok counter delta = %v, want 1", after-before)
	}
}

func TestSessionGauge(t *testing.T) {
	base := testutil.ToFloat64(activeSessions)
	SessionOpened()
	SessionOpened()
	SessionClosed()
	if got := testutil.ToFloat64(activeSessions) - base; got != 1 {
		t.Fatalf("active sessions delta = %v, want 1", got)
	}
}

func TestInstrumentHandler(t *testing.T) {
	h := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/healthz", "418"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/healthz", "418"))

	if after-before != 1 {
		t.Fatalf("request counter delta = %v, want 1", after-before)
	}
}

func TestHandlerExposesBridgeMetrics(t *testing.T) {
	RecordDroppedMessage("malformed")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "miniapp_host_transport_dropped_messages_total") {
		t.Fatal("metrics output missing dropped messages counter")
	}
}
