package monitoring

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slipstream/anomaly-detector/internal/clock"
	"github.com/slipstream/anomaly-detector/internal/models"
)

func newTestCollector() (*Collector, *clock.Fake) {
	fake := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewCollector(fake), fake
}

func flaggedResult(id string, score float64, anomalyType models.AnomalyType) *models.AnomalyResult {
	return &models.AnomalyResult{
		TransactionID: id,
		IsAnomaly:     true,
		Score:         score,
		Confidence:    0.8,
		Type:          anomalyType,
	}
}

func TestCollectorCountsAndRates(t *testing.T) {
	c, _ := newTestCollector()

	for i := 0; i < 100; i++ {
		c.RecordTransaction(2 * time.Millisecond)
	}
	for i := 0; i < 5; i++ {
		result := flaggedResult(fmt.Sprintf("tx-%d", i), 0.9, models.AnomalyVelocity)
		c.RecordAnomaly(result)
		c.RecordAlert(result)
	}
	c.RecordDrop("decode")
	c.RecordDrop("decode")
	c.SetActiveDetectors(4)

	snapshot := c.Snapshot()
	assert.Equal(t, int64(100), snapshot.TotalTransactions)
	assert.Equal(t, int64(5), snapshot.TotalAnomalies)
	assert.Equal(t, int64(5), snapshot.TotalAlerts)
	assert.Equal(t, int64(2), snapshot.DroppedRecords)
	assert.Equal(t, int64(4), snapshot.ActiveDetectors)
	assert.InDelta(t, 0.05, snapshot.AnomalyRate, 0.01)
	assert.InDelta(t, 2.0, snapshot.AverageProcessingTime, 1e-9)
}

func TestCollectorEmptySnapshot(t *testing.T) {
	c, _ := newTestCollector()

	snapshot := c.Snapshot()
	assert.Zero(t, snapshot.TotalTransactions)
	assert.Equal(t, 0.0, snapshot.AnomalyRate)
	assert.Equal(t, 0.0, snapshot.AverageProcessingTime)
}

func TestCollectorRecentAnomalyFeedBoundedNewestFirst(t *testing.T) {
	c, _ := newTestCollector()

	for i := 0; i < 150; i++ {
		c.RecordAnomaly(flaggedResult(fmt.Sprintf("tx-%d", i), 0.8, models.AnomalyUnusualAmount))
	}

	recent := c.RecentAnomalies()
	require.Len(t, recent, recentAnomalyLimit)
	assert.Equal(t, "tx-149", recent[0].TransactionID)
	assert.Equal(t, "tx-50", recent[len(recent)-1].TransactionID)
}

func TestCollectorDistribution(t *testing.T) {
	c, _ := newTestCollector()

	c.RecordAnomaly(flaggedResult("a", 0.8, models.AnomalyUnusualAmount))
	c.RecordAnomaly(flaggedResult("b", 0.9, models.AnomalyUnusualAmount))
	c.RecordAnomaly(flaggedResult("c", 0.7, models.AnomalyVelocity))

	distribution := c.Distribution()
	assert.Equal(t, int64(2), distribution["unusual_amount"])
	assert.Equal(t, int64(1), distribution["velocity"])
	assert.NotContains(t, distribution, "fraud")
}

func TestCollectorHealth(t *testing.T) {
	c, fake := newTestCollector()

	assert.True(t, c.Healthy(), "fresh collector starts healthy")

	fake.Advance(6 * time.Minute)
	assert.False(t, c.Healthy(), "stale metrics are unhealthy")

	c.RecordTransaction(time.Millisecond)
	assert.True(t, c.Healthy(), "traffic restores health")

	c.mu.Lock()
	c.systemLoad = 0.95
	c.mu.Unlock()
	assert.False(t, c.Healthy(), "memory saturation is unhealthy")
}

func TestCollectorProcessingRate(t *testing.T) {
	c, fake := newTestCollector()

	for i := 0; i < 30; i++ {
		c.RecordTransaction(time.Millisecond)
	}
	fake.Advance(30 * time.Second)
	for i := 0; i < 30; i++ {
		c.RecordTransaction(time.Millisecond)
	}
	assert.InDelta(t, 1.0, c.ProcessingRate(), 1e-9, "both batches inside the trailing minute")

	fake.Advance(40 * time.Second)
	assert.InDelta(t, 0.5, c.ProcessingRate(), 1e-9, "first batch aged out")

	fake.Advance(2 * time.Minute)
	assert.Equal(t, 0.0, c.ProcessingRate())
}

func TestCollectorReset(t *testing.T) {
	c, _ := newTestCollector()

	c.RecordTransaction(time.Millisecond)
	c.RecordAnomaly(flaggedResult("a", 0.8, models.AnomalyFraud))
	c.Reset()

	snapshot := c.Snapshot()
	assert.Zero(t, snapshot.TotalTransactions)
	assert.Zero(t, snapshot.TotalAnomalies)
	assert.Empty(t, c.RecentAnomalies())
	assert.Empty(t, c.Distribution())
	assert.True(t, c.Healthy())
}

func TestCollectorConcurrentRecording(t *testing.T) {
	c, _ := newTestCollector()

	const workers = 8
	const perWorker = 500

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				c.RecordTransaction(time.Millisecond)
				if i%10 == 0 {
					c.RecordAnomaly(flaggedResult(fmt.Sprintf("tx-%d-%d", w, i), 0.9, models.AnomalyVelocity))
				}
			}
		}(w)
	}
	wg.Wait()

	snapshot := c.Snapshot()
	assert.Equal(t, int64(workers*perWorker), snapshot.TotalTransactions)
	assert.Equal(t, int64(workers*perWorker/10), snapshot.TotalAnomalies)
	assert.Len(t, c.RecentAnomalies(), recentAnomalyLimit)
}
