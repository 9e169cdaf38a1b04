package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/bakery-payway/internal/obs"
)

func TestHTTPMetricsLabelsByRoutePattern(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("bakery", []float64{10, 1}, registry)

	r := chi.NewRouter()
	r.Use(obs.HTTPObs{Metrics: metrics}.Middleware)
	r.Get("/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	for _, path := range []string{"/orders/a", "/orders/b", "/health/live"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, float64(2), testutil.ToFloat64(metrics.Requests.WithLabelValues(http.MethodGet, "/orders/{id}", "204")))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.Requests.WithLabelValues(http.MethodGet, "/health/live", "200")))
	require.Equal(t, 2, testutil.CollectAndCount(metrics.Latency))
	require.Equal(t, float64(0), testutil.ToFloat64(metrics.InFlight))

	again := obs.NewHTTPMetrics("bakery", nil, registry)
	require.Same(t, metrics.Requests, again.Requests)
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 12.5, 100}, obs.ParseBucketsCSV("5, 12.5,,x,-3,100"))
	require.Empty(t, obs.ParseBucketsCSV(""))
}

func TestRequestLoggerUsesRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	r := chi.NewRouter()
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	req := httptest.NewRequest(http.MethodGet, "/orders/ord-1", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "error", entry["level"])
	require.Equal(t, "/orders/ord-1", entry["path"])
	require.Equal(t, float64(http.StatusInternalServerError), entry["status"])
	require.Equal(t, "/orders/{id}", entry["route"])
	require.Equal(t, "203.0.113.7", entry["client_ip"])
}

func TestDomainMetricHelpersTolerateUnregisteredCollectors(t *testing.T) {
	require.NotPanics(t, func() {
		obs.IncCounter(nil, "a")
		obs.ObserveMillis(nil, 12, "a")
	})

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "probe_total"}, []string{"result"})
	obs.IncCounter(vec, "ok")
	obs.IncCounter(vec, "ok")
	require.Equal(t, float64(2), testutil.ToFloat64(vec.WithLabelValues("ok")))
}
