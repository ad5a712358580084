package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)
	pr.ObserveUnitDuration("merge", 15*time.Millisecond)
	pr.IncUnitResult("merge", ResultSuccess)
	pr.IncUnitResult("script", ResultFailed)
	pr.IncUnitResult("script", ResultFailed)
	pr.ObserveRunDuration(50 * time.Millisecond)
	pr.IncRunOutcome(RunDegraded)
	pr.SetTouchedKeys(3)
	pr.IncPublishSkipped()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 6)

	assert.InDelta(t, 2, testutil.ToFloat64(pr.unitResults.WithLabelValues("script", "failed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(pr.runOutcome.WithLabelValues("degraded")), 0)
	assert.InDelta(t, 3, testutil.ToFloat64(pr.touchedKeys), 0)
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncRunOutcome(RunSuccess)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `clashchain_run_outcomes_total{outcome="success"} 1`))
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.IncRunOutcome(RunFatal)
		pr.SetTouchedKeys(1)
	})
}
