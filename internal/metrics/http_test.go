package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		path    string
		status  int
		want    string
	}{
		{name: "method pattern", pattern: "POST /grade", path: "/grade", status: 200, want: "/grade"},
		{name: "bare pattern", pattern: "/health", path: "/health", status: 200, want: "/health"},
		{name: "unmatched", path: "/wp-login.php", status: 404, want: "unmatched"},
		{name: "uuid fallback", path: "/gradings/0b6f2a34-1d5c-4b8e-9f3a-2c7d8e9f0a1b", status: 200, want: "/gradings/{id}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.path, nil)
			r.Pattern = tt.pattern
			assert.Equal(t, tt.want, routeLabel(r, tt.status))
		})
	}
}

func TestMiddleware_CountsByPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /usage", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := Middleware(mux)

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/usage", "418"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/usage", nil))
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/usage", "418"))

	assert.Equal(t, before+1, after)
}

func TestEventHelpers(t *testing.T) {
	before := testutil.ToFloat64(TicketsGrantedTotal.WithLabelValues("premium"))
	TicketsGranted("premium", 30)
	assert.Equal(t, before+30, testutil.ToFloat64(TicketsGrantedTotal.WithLabelValues("premium")))

	beforeDenied := testutil.ToFloat64(QuotaDenialsTotal)
	QuotaDenied()
	assert.Equal(t, beforeDenied+1, testutil.ToFloat64(QuotaDenialsTotal))
}
