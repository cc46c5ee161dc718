package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_ServesRegisteredMetrics(t *testing.T) {
	reg := New()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "privacy_test_total",
		Help: "test counter",
	})
	reg.MustRegister(counter)
	counter.Inc()

	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "privacy_test_total 1")
	assert.Contains(t, body, "go_goroutines")
}
