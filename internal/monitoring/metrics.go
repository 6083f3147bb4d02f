// Package monitoring tracks pipeline throughput and detection metrics
// and serves them on the operator dashboard.
package monitoring

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/slipstream/anomaly-detector/internal/clock"
	"github.com/slipstream/anomaly-detector/internal/models"
)

// recentAnomalyLimit bounds the in-memory anomaly feed.
const recentAnomalyLimit = 100

// healthStaleAfter marks the collector unhealthy when no transaction has
// been recorded for this long.
const healthStaleAfter = 5 * time.Minute

// AnomalySummary is one entry in the recent-anomaly feed.
type AnomalySummary struct {
	TransactionID string             `json:"transactionId"`
	Score         float64            `json:"score"`
	Type          models.AnomalyType `json:"type"`
	Timestamp     models.CivilTime   `json:"timestamp"`
}

// Snapshot is the point-in-time metrics view served on /api/metrics.
type Snapshot struct {
	TotalTransactions     int64            `json:"totalTransactions"`
	TotalAnomalies        int64            `json:"totalAnomalies"`
	TotalAlerts           int64            `json:"totalAlerts"`
	DroppedRecords        int64            `json:"droppedRecords"`
	AnomalyRate           float64          `json:"anomalyRate"`
	AverageProcessingTime float64          `json:"averageProcessingTime"`
	ActiveDetectors       int64            `json:"activeDetectors"`
	SystemLoad            float64          `json:"systemLoad"`
	MemoryUsage           uint64           `json:"memoryUsage"`
	LastUpdate            models.CivilTime `json:"lastUpdate"`
}

// Collector accumulates pipeline counters, the recent-anomaly feed and
// system health gauges. All methods are safe for concurrent use.
type Collector struct {
	clk clock.Clock

	totalTransactions atomic.Int64
	totalAnomalies    atomic.Int64
	totalAlerts       atomic.Int64
	droppedRecords    atomic.Int64
	processingNanos   atomic.Int64
	activeDetectors   atomic.Int64
	lastUpdateNanos   atomic.Int64

	mu         sync.RWMutex
	recent     []AnomalySummary
	typeCounts map[models.AnomalyType]int64
	// Per-second buckets covering the trailing minute. A bucket only
	// counts if its stamp is within the last 60 seconds.
	secondCounts [60]int64
	secondStamps [60]int64
	systemLoad   float64
	memoryUsage  uint64
}

// NewCollector builds an empty collector. A nil clk uses the wall clock.
func NewCollector(clk clock.Clock) *Collector {
	if clk == nil {
		clk = clock.Real{}
	}
	c := &Collector{
		clk:        clk,
		typeCounts: make(map[models.AnomalyType]int64),
	}
	c.lastUpdateNanos.Store(clk.Now().UnixNano())
	log.Info().Msg("Metrics collector initialized")
	return c
}

// RecordTransaction counts one processed record and its scoring latency.
func (c *Collector) RecordTransaction(elapsed time.Duration) {
	c.totalTransactions.Add(1)
	c.processingNanos.Add(elapsed.Nanoseconds())

	now := c.clk.Now()
	c.lastUpdateNanos.Store(now.UnixNano())

	sec := now.Unix()
	idx := int(sec % 60)
	c.mu.Lock()
	if c.secondStamps[idx] != sec {
		c.secondStamps[idx] = sec
		c.secondCounts[idx] = 0
	}
	c.secondCounts[idx]++
	c.mu.Unlock()

	promTransactionsTotal.Inc()
	promProcessingSeconds.Observe(elapsed.Seconds())
}

// RecordAnomaly counts a flagged result and pushes it onto the recent
// feed, evicting the oldest entry past the limit.
func (c *Collector) RecordAnomaly(result *models.AnomalyResult) {
	c.totalAnomalies.Add(1)

	summary := AnomalySummary{
		TransactionID: result.TransactionID,
		Score:         result.Score,
		Type:          result.Type,
		Timestamp:     models.NewCivilTime(c.clk.Now()),
	}

	c.mu.Lock()
	c.typeCounts[result.Type]++
	c.recent = append(c.recent, summary)
	if len(c.recent) > recentAnomalyLimit {
		c.recent = c.recent[len(c.recent)-recentAnomalyLimit:]
	}
	c.mu.Unlock()

	promAnomaliesTotal.WithLabelValues(string(result.Type)).Inc()
	promAnomalyScores.Observe(result.Score)
	log.Debug().
		Str("transaction_id", result.TransactionID).
		Float64("score", result.Score).
		Msg("Recorded anomaly")
}

// RecordAlert counts a record published to the alerts sink.
func (c *Collector) RecordAlert(result *models.AnomalyResult) {
	c.totalAlerts.Add(1)
	promAlertsTotal.Inc()
	log.Info().
		Str("transaction_id", result.TransactionID).
		Str("anomaly_type", string(result.Type)).
		Msg("Alert recorded")
}

// RecordDrop counts a record discarded before scoring. stage is the
// pipeline step that rejected it, such as "decode" or "validate".
func (c *Collector) RecordDrop(stage string) {
	c.droppedRecords.Add(1)
	promDroppedTotal.WithLabelValues(stage).Inc()
}

// SetActiveDetectors publishes the number of running worker loops.
func (c *Collector) SetActiveDetectors(n int) {
	c.activeDetectors.Store(int64(n))
	promActiveDetectors.Set(float64(n))
}

// UpdateSystemHealth samples process memory into the load gauges. Load
// is the heap in use relative to the heap held from the OS.
func (c *Collector) UpdateSystemHealth() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	load := 0.0
	if mem.HeapSys > 0 {
		load = float64(mem.HeapAlloc) / float64(mem.HeapSys)
	}

	c.mu.Lock()
	c.memoryUsage = mem.HeapAlloc
	c.systemLoad = load
	c.mu.Unlock()

	promMemoryUsed.Set(float64(mem.HeapAlloc))
	promSystemLoad.Set(load)
}

// Snapshot returns the current counters and derived rates.
func (c *Collector) Snapshot() Snapshot {
	transactions := c.totalTransactions.Load()
	anomalies := c.totalAnomalies.Load()

	rate := 0.0
	avgMillis := 0.0
	if transactions > 0 {
		rate = float64(anomalies) / float64(transactions)
		avgMillis = float64(c.processingNanos.Load()) / float64(transactions) / 1e6
	}

	c.mu.RLock()
	load := c.systemLoad
	memory := c.memoryUsage
	c.mu.RUnlock()

	return Snapshot{
		TotalTransactions:     transactions,
		TotalAnomalies:        anomalies,
		TotalAlerts:           c.totalAlerts.Load(),
		DroppedRecords:        c.droppedRecords.Load(),
		AnomalyRate:           rate,
		AverageProcessingTime: avgMillis,
		ActiveDetectors:       c.activeDetectors.Load(),
		SystemLoad:            load,
		MemoryUsage:           memory,
		LastUpdate:            models.NewCivilTime(time.Unix(0, c.lastUpdateNanos.Load()).UTC()),
	}
}

// RecentAnomalies returns a newest-first copy of the anomaly feed.
func (c *Collector) RecentAnomalies() []AnomalySummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]AnomalySummary, len(c.recent))
	for i, summary := range c.recent {
		out[len(c.recent)-1-i] = summary
	}
	return out
}

// Distribution returns anomaly counts keyed by type name.
func (c *Collector) Distribution() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]int64, len(c.typeCounts))
	for anomalyType, count := range c.typeCounts {
		out[string(anomalyType)] = count
	}
	return out
}

// ProcessingRate returns transactions per second over the trailing
// minute.
func (c *Collector) ProcessingRate() float64 {
	now := c.clk.Now().Unix()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var total int64
	for i, stamp := range c.secondStamps {
		if now-stamp < 60 {
			total += c.secondCounts[i]
		}
	}
	return float64(total) / 60.0
}

// Healthy reports whether metrics are fresh and the process is not
// memory-saturated.
func (c *Collector) Healthy() bool {
	stale := c.clk.Now().Sub(time.Unix(0, c.lastUpdateNanos.Load()))

	c.mu.RLock()
	load := c.systemLoad
	c.mu.RUnlock()

	return stale < healthStaleAfter && load < 0.9
}

// Reset clears every counter and the anomaly feed.
func (c *Collector) Reset() {
	c.totalTransactions.Store(0)
	c.totalAnomalies.Store(0)
	c.totalAlerts.Store(0)
	c.droppedRecords.Store(0)
	c.processingNanos.Store(0)
	c.lastUpdateNanos.Store(c.clk.Now().UnixNano())

	c.mu.Lock()
	c.recent = nil
	c.typeCounts = make(map[models.AnomalyType]int64)
	c.secondCounts = [60]int64{}
	c.secondStamps = [60]int64{}
	c.mu.Unlock()

	log.Info().Msg("All metrics reset")
}
