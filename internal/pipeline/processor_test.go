package pipeline

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/slipstream/anomaly-detector/internal/clock"
	"github.com/slipstream/anomaly-detector/internal/detector"
	"github.com/slipstream/anomaly-detector/internal/models"
	"github.com/slipstream/anomaly-detector/internal/monitoring"
)

// captureSink collects emitted results in memory and can be told to
// fail either topic.
type captureSink struct {
	results   []*models.AnomalyResult
	alerts    []*models.AnomalyResult
	resultErr error
	alertErr  error
}

func (s *captureSink) EmitResult(result *models.AnomalyResult) error {
	if s.resultErr != nil {
		return s.resultErr
	}
	s.results = append(s.results, result)
	return nil
}

func (s *captureSink) EmitAlert(result *models.AnomalyResult) error {
	if s.alertErr != nil {
		return s.alertErr
	}
	s.alerts = append(s.alerts, result)
	return nil
}

// stubDetector returns a canned verdict and records what it was asked
// to score and observe.
type stubDetector struct {
	verdict         models.AnomalyResult
	observed        []string
	observedAtScore int
	panics          bool
}

func (d *stubDetector) Score(tx *models.Transaction) *models.AnomalyResult {
	if d.panics {
		panic("scorer exploded")
	}
	d.observedAtScore = len(d.observed)
	res := d.verdict
	res.TransactionID = tx.TransactionID
	res.OriginalTransaction = tx
	return &res
}

func (d *stubDetector) Observe(tx *models.Transaction) {
	d.observed = append(d.observed, tx.TransactionID)
}

func (d *stubDetector) Name() string                 { return "stub" }
func (d *stubDetector) SupportsOnlineLearning() bool { return true }

func validTx(id string) models.Transaction {
	return models.Transaction{
		TransactionID: id,
		UserID:        "user_1",
		MerchantID:    "merchant_9",
		Amount:        125.50,
		Currency:      "USD",
		Timestamp:     models.NewCivilTime(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	}
}

func encodeTx(t *testing.T, tx models.Transaction) []byte {
	t.Helper()
	payload, err := json.Marshal(tx)
	require.NoError(t, err)
	return payload
}

func newTestCollector() *monitoring.Collector {
	return monitoring.NewCollector(clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)))
}

func TestProcessorScoresThenObserves(t *testing.T) {
	det := &stubDetector{verdict: models.AnomalyResult{Score: 0.1, Type: models.AnomalyUnknown}}
	sink := &captureSink{}
	collector := newTestCollector()
	proc := NewProcessor(det, sink, collector)

	proc.Process(encodeTx(t, validTx("tx-1")))

	require.Len(t, sink.results, 1)
	require.Empty(t, sink.alerts)
	require.Equal(t, "tx-1", sink.results[0].TransactionID)
	require.Equal(t, []string{"tx-1"}, det.observed)
	// The verdict must come from the model state before this record.
	require.Zero(t, det.observedAtScore)

	snap := collector.Snapshot()
	require.Equal(t, int64(1), snap.TotalTransactions)
	require.Zero(t, snap.TotalAnomalies)
	require.Zero(t, snap.DroppedRecords)
}

func TestProcessorFlaggedRecordRaisesAlert(t *testing.T) {
	det := &stubDetector{verdict: models.AnomalyResult{
		IsAnomaly: true,
		Score:     0.95,
		Type:      models.AnomalyVelocity,
	}}
	sink := &captureSink{}
	collector := newTestCollector()
	proc := NewProcessor(det, sink, collector)

	proc.Process(encodeTx(t, validTx("tx-2")))

	require.Len(t, sink.results, 1)
	require.Len(t, sink.alerts, 1)
	require.Equal(t, "tx-2", sink.alerts[0].TransactionID)

	snap := collector.Snapshot()
	require.Equal(t, int64(1), snap.TotalTransactions)
	require.Equal(t, int64(1), snap.TotalAnomalies)
	require.Equal(t, int64(1), snap.TotalAlerts)
}

func TestProcessorDropsMalformedJSON(t *testing.T) {
	det := &stubDetector{}
	sink := &captureSink{}
	collector := newTestCollector()
	proc := NewProcessor(det, sink, collector)

	proc.Process([]byte(`{"transaction_id": "tx-3", "amount": `))

	require.Empty(t, sink.results)
	require.Empty(t, det.observed)

	snap := collector.Snapshot()
	require.Zero(t, snap.TotalTransactions)
	require.Equal(t, int64(1), snap.DroppedRecords)
}

func TestProcessorDropsInvalidTransaction(t *testing.T) {
	det := &stubDetector{}
	sink := &captureSink{}
	collector := newTestCollector()
	proc := NewProcessor(det, sink, collector)

	missingUser := validTx("tx-4")
	missingUser.UserID = ""
	proc.Process(encodeTx(t, missingUser))

	negative := validTx("tx-5")
	negative.Amount = -10
	proc.Process(encodeTx(t, negative))

	require.Empty(t, sink.results)
	require.Empty(t, det.observed)
	require.Equal(t, int64(2), collector.Snapshot().DroppedRecords)
}

func TestProcessorResultPublishFailureSkipsAlert(t *testing.T) {
	det := &stubDetector{verdict: models.AnomalyResult{
		IsAnomaly: true,
		Score:     0.9,
		Type:      models.AnomalyFraud,
	}}
	sink := &captureSink{resultErr: errors.New("broker unreachable")}
	collector := newTestCollector()
	proc := NewProcessor(det, sink, collector)

	proc.Process(encodeTx(t, validTx("tx-6")))

	require.Empty(t, sink.results)
	require.Empty(t, sink.alerts)

	snap := collector.Snapshot()
	require.Equal(t, int64(1), snap.TotalTransactions)
	require.Equal(t, int64(1), snap.TotalAnomalies)
	require.Zero(t, snap.TotalAlerts)
	require.Equal(t, int64(1), snap.DroppedRecords)
}

func TestProcessorAlertPublishFailureCountsDrop(t *testing.T) {
	det := &stubDetector{verdict: models.AnomalyResult{
		IsAnomaly: true,
		Score:     0.8,
		Type:      models.AnomalyUnusualAmount,
	}}
	sink := &captureSink{alertErr: errors.New("alerts topic offline")}
	collector := newTestCollector()
	proc := NewProcessor(det, sink, collector)

	proc.Process(encodeTx(t, validTx("tx-7")))

	require.Len(t, sink.results, 1)
	require.Empty(t, sink.alerts)

	snap := collector.Snapshot()
	require.Zero(t, snap.TotalAlerts)
	require.Equal(t, int64(1), snap.DroppedRecords)
}

func TestProcessorRecoversFromPanic(t *testing.T) {
	det := &stubDetector{panics: true}
	sink := &captureSink{}
	collector := newTestCollector()
	proc := NewProcessor(det, sink, collector)

	require.NotPanics(t, func() {
		proc.Process(encodeTx(t, validTx("tx-8")))
	})

	require.Empty(t, sink.results)
	require.Equal(t, int64(1), collector.Snapshot().DroppedRecords)
}

func TestProcessorStreamSkipsBadRecordsAndKeepsScoring(t *testing.T) {
	det := detector.NewEnsembleDetector(detector.Config{
		Clock: clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)),
	})
	sink := &captureSink{}
	collector := newTestCollector()
	proc := NewProcessor(det, sink, collector)

	proc.Process(encodeTx(t, validTx("tx-a")))
	proc.Process([]byte("not json at all"))
	proc.Process(encodeTx(t, validTx("tx-b")))

	require.Len(t, sink.results, 2)
	require.Equal(t, "tx-a", sink.results[0].TransactionID)
	require.Equal(t, "tx-b", sink.results[1].TransactionID)
	for _, res := range sink.results {
		require.False(t, res.IsAnomaly)
		require.InDelta(t, 0.1, res.Score, 1e-9)
		require.Equal(t, "model-not-trained", res.Reason)
	}

	snap := collector.Snapshot()
	require.Equal(t, int64(2), snap.TotalTransactions)
	require.Equal(t, int64(1), snap.DroppedRecords)
}
