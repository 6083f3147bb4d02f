package monitoring

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/anomaly-detector/internal/clock"
	"github.com/slipstream/anomaly-detector/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestDashboard() (*DashboardServer, *Collector, *clock.Fake) {
	fake := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	collector := NewCollector(fake)
	return NewDashboardServer(collector, 8080), collector, fake
}

func serve(s *DashboardServer, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.engine.ServeHTTP(w, req)
	return w
}

func TestDashboardMetricsEndpoint(t *testing.T) {
	s, collector, _ := newTestDashboard()

	for i := 0; i < 100; i++ {
		collector.RecordTransaction(time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		result := flaggedResult(fmt.Sprintf("tx-%d", i), 0.9, models.AnomalyUnusualAmount)
		collector.RecordAnomaly(result)
		collector.RecordAlert(result)
	}

	w := serve(s, http.MethodGet, "/api/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(100), body["totalTransactions"])
	assert.Equal(t, float64(5), body["totalAnomalies"])
	assert.Equal(t, float64(5), body["totalAlerts"])
	assert.InDelta(t, 0.05, body["anomalyRate"].(float64), 0.01)
	assert.Contains(t, body, "averageProcessingTime")
	assert.Contains(t, body, "lastUpdate")
}

func TestDashboardAnomaliesNewestFirst(t *testing.T) {
	s, collector, _ := newTestDashboard()

	collector.RecordAnomaly(flaggedResult("first", 0.7, models.AnomalyVelocity))
	collector.RecordAnomaly(flaggedResult("second", 0.8, models.AnomalyVelocity))
	collector.RecordAnomaly(flaggedResult("third", 0.9, models.AnomalyFraud))

	w := serve(s, http.MethodGet, "/api/anomalies")
	require.Equal(t, http.StatusOK, w.Code)

	var feed []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &feed))
	require.Len(t, feed, 3)
	assert.Equal(t, "third", feed[0]["transactionId"])
	assert.Equal(t, "fraud", feed[0]["type"])
	assert.Equal(t, "first", feed[2]["transactionId"])
}

func TestDashboardAnomaliesEmptyIsArray(t *testing.T) {
	s, _, _ := newTestDashboard()

	w := serve(s, http.MethodGet, "/api/anomalies")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestDashboardDistribution(t *testing.T) {
	s, collector, _ := newTestDashboard()

	collector.RecordAnomaly(flaggedResult("a", 0.8, models.AnomalyTimePattern))
	collector.RecordAnomaly(flaggedResult("b", 0.8, models.AnomalyTimePattern))
	collector.RecordAnomaly(flaggedResult("c", 0.9, models.AnomalyLocation))

	w := serve(s, http.MethodGet, "/api/distribution")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]float64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["time_pattern"])
	assert.Equal(t, float64(1), body["location"])
}

func TestDashboardHealthHealthy(t *testing.T) {
	s, collector, _ := newTestDashboard()
	collector.RecordTransaction(time.Millisecond)

	w := serve(s, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["healthy"])
	assert.Equal(t, "OK", body["uptime_check"])
	assert.Contains(t, body, "timestamp")
	assert.GreaterOrEqual(t, body["processing_rate"].(float64), 0.0)
}

func TestDashboardHealthUnhealthyReturns503(t *testing.T) {
	s, _, fake := newTestDashboard()

	fake.Advance(10 * time.Minute)

	w := serve(s, http.MethodGet, "/api/health")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["healthy"])
}

func TestDashboardRootServesPage(t *testing.T) {
	s, _, _ := newTestDashboard()

	w := serve(s, http.MethodGet, "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "SlipStream Anomaly Detection Dashboard")
	assert.Contains(t, w.Body.String(), "setInterval(fetchMetrics, 5000)")
}

func TestDashboardMethodNotAllowed(t *testing.T) {
	s, _, _ := newTestDashboard()

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		w := serve(s, method, "/api/metrics")
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
	}
}

func TestDashboardUnknownPathNotFound(t *testing.T) {
	s, _, _ := newTestDashboard()

	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/api/nope").Code)
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/missing").Code)
}

func TestDashboardPreflightRequest(t *testing.T) {
	s, _, _ := newTestDashboard()

	w := serve(s, http.MethodOptions, "/api/metrics")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestDashboardPrometheusScrape(t *testing.T) {
	s, collector, _ := newTestDashboard()
	collector.RecordTransaction(time.Millisecond)

	w := serve(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "slipstream_transactions_processed_total")
}

func TestDashboardRequestIDPropagated(t *testing.T) {
	s, _, _ := newTestDashboard()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	s.engine.ServeHTTP(w, req)

	assert.Equal(t, "req-42", w.Header().Get("X-Request-ID"))

	w = serve(s, http.MethodGet, "/api/health")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"), "a request ID is generated when absent")
}
