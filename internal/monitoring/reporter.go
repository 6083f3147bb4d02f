package monitoring

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// ModelStats is the slice of the detection engine the reporter reads.
type ModelStats interface {
	TotalObserved() int64
	Trained() bool
	GlobalSampleCount() int
	UserCount() int
}

// Reporter logs pipeline and model statistics on a fixed interval and
// refreshes the system health gauges between dashboard polls.
type Reporter struct {
	collector *Collector
	model     ModelStats
	interval  time.Duration
}

// NewReporter builds a reporter. A non-positive interval defaults to
// 30 seconds.
func NewReporter(collector *Collector, model ModelStats, interval time.Duration) *Reporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reporter{
		collector: collector,
		model:     model,
		interval:  interval,
	}
}

// Run ticks until ctx is cancelled. It always returns nil so it can sit
// in an errgroup without tearing the pipeline down.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.report()
		}
	}
}

func (r *Reporter) report() {
	r.collector.UpdateSystemHealth()

	snapshot := r.collector.Snapshot()
	log.Info().
		Int64("transactions", snapshot.TotalTransactions).
		Int64("anomalies", snapshot.TotalAnomalies).
		Int64("alerts", snapshot.TotalAlerts).
		Int64("dropped", snapshot.DroppedRecords).
		Float64("anomaly_rate", snapshot.AnomalyRate).
		Float64("avg_processing_ms", snapshot.AverageProcessingTime).
		Float64("rate_per_sec", r.collector.ProcessingRate()).
		Uint64("memory_bytes", snapshot.MemoryUsage).
		Msg("Pipeline statistics")

	log.Info().
		Int("global_samples", r.model.GlobalSampleCount()).
		Bool("model_trained", r.model.Trained()).
		Int64("total_observed", r.model.TotalObserved()).
		Int("users", r.model.UserCount()).
		Msg("Detector statistics")
}
