package pipeline

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/slipstream/anomaly-detector/internal/detector"
	"github.com/slipstream/anomaly-detector/internal/models"
	"github.com/slipstream/anomaly-detector/internal/monitoring"
)

// ResultSink receives scored verdicts. The Kafka producer is the
// production implementation; tests swap in an in-memory sink.
type ResultSink interface {
	EmitResult(result *models.AnomalyResult) error
	EmitAlert(result *models.AnomalyResult) error
}

// Processor runs one record through decode, validation, scoring and
// publication. A failed record is dropped with a warning so the stream
// keeps moving.
type Processor struct {
	detector detector.Detector
	sink     ResultSink
	metrics  *monitoring.Collector
}

// NewProcessor wires the detection engine to its sink and metrics.
func NewProcessor(det detector.Detector, sink ResultSink, metrics *monitoring.Collector) *Processor {
	return &Processor{detector: det, sink: sink, metrics: metrics}
}

// Process handles a single raw record from the input topic.
func (p *Processor) Process(value []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic while processing record")
			p.metrics.RecordDrop("panic")
		}
	}()

	var tx models.Transaction
	if err := json.Unmarshal(value, &tx); err != nil {
		log.Warn().Err(err).Msg("Failed to unmarshal transaction, skipping record")
		p.metrics.RecordDrop("decode")
		return
	}

	if err := tx.Validate(); err != nil {
		log.Warn().
			Err(err).
			Str("transaction_id", tx.TransactionID).
			Msg("Invalid transaction, skipping record")
		p.metrics.RecordDrop("validate")
		return
	}

	start := time.Now()
	result := p.detector.Score(&tx)
	p.detector.Observe(&tx)
	p.metrics.RecordTransaction(time.Since(start))

	if result.IsAnomaly {
		p.metrics.RecordAnomaly(result)

		event := log.Warn().
			Str("transaction_id", result.TransactionID).
			Str("user_id", tx.UserID).
			Float64("score", result.Score).
			Str("anomaly_type", string(result.Type))
		if result.Score >= 0.9 {
			event = event.Str("severity", "critical")
		}
		event.Msg("Anomaly detected")
	}

	if err := p.sink.EmitResult(result); err != nil {
		log.Error().
			Err(err).
			Str("transaction_id", result.TransactionID).
			Msg("Failed to publish result")
		p.metrics.RecordDrop("publish")
		return
	}

	if result.IsAnomaly {
		if err := p.sink.EmitAlert(result); err != nil {
			log.Error().
				Err(err).
				Str("transaction_id", result.TransactionID).
				Msg("Failed to publish alert")
			p.metrics.RecordDrop("publish")
			return
		}
		p.metrics.RecordAlert(result)
	}
}
