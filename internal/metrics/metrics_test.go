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

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("ok", time.Second)
	m.CacheHit()
	m.Retry()
	m.ItemFailed()
	m.RunFinished(1, 1, 0)
}

func TestRecording(t *testing.T) {
	m := New()

	m.ObserveRequest("ok", 10*time.Millisecond)
	m.ObserveRequest("server_error", time.Second)
	m.CacheHit()
	m.CacheHit()
	m.SubResourceMissing("reviews")
	m.RunFinished(10, 7, 3)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SubResourceGap.WithLabelValues("reviews")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.LastRunItems.WithLabelValues("failed")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.BatchFlushed()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "harvester_batches_flushed_total 1"))
}
