package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/chainmap/internal/chain"
)

var _ chain.Observer = (*Metrics)(nil)

func TestObserveOutcomeAndChain(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveOutcome("backward", "inserted")
	m.ObserveOutcome("backward", "inserted")
	m.ObserveOutcome("forward", "map-url-missing")
	m.ObserveChain("backward", 2)
	m.ObserveChain("forward", 0)
	m.ObservePass("backward", 1500*time.Millisecond)

	require.InDelta(t, 2, testutil.ToFloat64(m.outcomesTotal.WithLabelValues("backward", "inserted")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.outcomesTotal.WithLabelValues("forward", "map-url-missing")), 0)
	require.Equal(t, 2, testutil.CollectAndCount(m.chainHops))
	require.Equal(t, 1, testutil.CollectAndCount(m.passDurationSeconds))

	expected := `
# HELP chainmap_outcomes_total Total number of records processed, labeled by pass and outcome.
# TYPE chainmap_outcomes_total counter
chainmap_outcomes_total{outcome="inserted",pass="backward"} 2
chainmap_outcomes_total{outcome="map-url-missing",pass="forward"} 1
`
	require.NoError(t, testutil.CollectAndCompare(m.outcomesTotal, strings.NewReader(expected)))
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/test", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/notfound", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/test", "/notfound"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, 1, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "200")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues("GET", "404")), 0)
	require.Positive(t, testutil.CollectAndCount(m.httpRequestDurationSeconds))
}

func TestHandlerAndTextfile(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveOutcome("referrer", "inserted")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `chainmap_outcomes_total{outcome="inserted",pass="referrer"} 1`)

	path := filepath.Join(t.TempDir(), "chainmap.prom")
	require.NoError(t, m.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `chainmap_outcomes_total{outcome="inserted",pass="referrer"} 1`)

	require.Error(t, m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")))
}
