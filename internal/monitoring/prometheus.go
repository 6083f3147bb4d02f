package monitoring

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	promTransactionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "slipstream",
		Name:      "transactions_processed_total",
		Help:      "Total transactions pulled from the input topic and scored.",
	})

	promAnomaliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slipstream",
		Name:      "anomalies_detected_total",
		Help:      "Total flagged transactions by anomaly type.",
	}, []string{"type"})

	promAlertsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "slipstream",
		Name:      "alerts_published_total",
		Help:      "Total records published to the alerts topic.",
	})

	promDroppedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "slipstream",
		Name:      "records_dropped_total",
		Help:      "Total records discarded before emission, by pipeline stage.",
	}, []string{"stage"})

	promProcessingSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "slipstream",
		Name:      "processing_duration_seconds",
		Help:      "Time spent scoring and updating the model per record.",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})

	promAnomalyScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "slipstream",
		Name:      "anomaly_scores",
		Help:      "Score distribution of flagged transactions.",
		Buckets:   prometheus.LinearBuckets(0.1, 0.1, 10),
	})

	promActiveDetectors = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "slipstream",
		Name:      "active_detectors",
		Help:      "Number of running detection workers.",
	})

	promSystemLoad = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "slipstream",
		Name:      "system_load",
		Help:      "Heap in use relative to heap held from the OS.",
	})

	promMemoryUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "slipstream",
		Name:      "memory_used_bytes",
		Help:      "Heap bytes currently allocated.",
	})
)

func init() {
	prometheus.MustRegister(
		promTransactionsTotal,
		promAnomaliesTotal,
		promAlertsTotal,
		promDroppedTotal,
		promProcessingSeconds,
		promAnomalyScores,
		promActiveDetectors,
		promSystemLoad,
		promMemoryUsed,
	)
}

// PrometheusHandler returns the Prometheus scrape handler for the
// /metrics endpoint.
func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
