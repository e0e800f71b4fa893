package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := New()

	m.ObserveFetch("fetched", 150*time.Millisecond, 4)
	m.ObserveFetch("fetch_failed", time.Second, 0)
	m.ObserveSkipped(2)
	m.ObservePost(true)
	m.ObservePost(false)
	m.ObserveRun(3*time.Second, 42)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetchTotal.WithLabelValues("fetched")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.itemsTotal))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetchSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.postsTotal.WithLabelValues("failure")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.seenKeys))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.ObserveFetch("fetched", time.Second, 1)
		m.ObserveSkipped(1)
		m.ObservePost(true)
		m.ObserveRun(time.Second, 1)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObservePost(true)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `rss_relay_webhook_posts_total{status="success"} 1`))
}
