// Package detector implements the online anomaly scoring engine. Two
// variants share one interface: an ensemble detector that blends
// statistical, behavioural and temporal sub-scores against adaptive
// per-user thresholds, and a lighter statistical detector that falls
// back to fixed rules until it has seen enough traffic.
package detector

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/slipstream/anomaly-detector/internal/clock"
	"github.com/slipstream/anomaly-detector/internal/models"
)

// Detector scores transactions against learned baselines and folds
// observed transactions back into the model. Score never fails: internal
// errors degrade to a safe "normal" result so no record is ever dropped
// by the engine. Observe errors are logged and swallowed for the same
// reason.
type Detector interface {
	Score(tx *models.Transaction) *models.AnomalyResult
	Observe(tx *models.Transaction)
	Name() string
	SupportsOnlineLearning() bool
}

// Ensemble blend weights. They must sum to 1.
const (
	weightStatistical = 0.3
	weightBehavioural = 0.4
	weightTemporal    = 0.3
)

// Trigger levels for classification and dominant-signal escalation. A
// single component crossing its trigger is a stronger verdict than its
// diluted share of the blend, so the score is raised to the component
// value.
const (
	velocityTrigger = 0.5
	amountTrigger   = 0.6
	timeTrigger     = 0.5
	locationTrigger = 0.8
	fraudAmount     = 10000
)

// Adaptive threshold shape: users with at least adaptiveMinCount
// observations earn a variability-scaled threshold, capped below 1 so
// extreme spenders still get flagged eventually.
const (
	adaptiveMinCount         = 10
	adaptiveVariabilityScale = 0.2
	adaptiveCeiling          = 0.95
)

// Config tunes a detector variant. Zero fields are filled from the
// variant's defaults at construction.
type Config struct {
	// AnomalyThreshold is the base decision threshold before per-user
	// adaptation.
	AnomalyThreshold float64
	// MinTrainingSamples is the global observation count below which the
	// variant's untrained behaviour applies.
	MinTrainingSamples int
	// VelocityWindow bounds how far back the velocity sub-score looks.
	VelocityWindow time.Duration
	// VelocityBurstCount normalises the velocity sub-score: the ensemble
	// divides the in-window count by it, the statistical variant treats
	// it as the burst size that saturates the score.
	VelocityBurstCount int
	// GlobalWindowCapacity sizes the process-wide amount and hour
	// windows.
	GlobalWindowCapacity int
	// ZScoreThreshold normalises raw z-scores on the statistical path.
	ZScoreThreshold float64
	// Clock supplies "now" for detected_at stamps. Tests inject a fake.
	Clock clock.Clock
}

// DefaultConfig is the ensemble variant's tuning.
func DefaultConfig() Config {
	return Config{
		AnomalyThreshold:     0.75,
		MinTrainingSamples:   50,
		VelocityWindow:       5 * time.Minute,
		VelocityBurstCount:   3,
		GlobalWindowCapacity: 1000,
		ZScoreThreshold:      2.5,
		Clock:                clock.Real{},
	}
}

// StatisticalConfig is the statistical variant's tuning. It trains
// faster and watches for tighter bursts than the ensemble.
func StatisticalConfig() Config {
	return Config{
		AnomalyThreshold:     0.7,
		MinTrainingSamples:   20,
		VelocityWindow:       time.Minute,
		VelocityBurstCount:   10,
		GlobalWindowCapacity: 1000,
		ZScoreThreshold:      2.5,
		Clock:                clock.Real{},
	}
}

// normalized fills zero-valued fields from def.
func (c Config) normalized(def Config) Config {
	if c.AnomalyThreshold == 0 {
		c.AnomalyThreshold = def.AnomalyThreshold
	}
	if c.MinTrainingSamples == 0 {
		c.MinTrainingSamples = def.MinTrainingSamples
	}
	if c.VelocityWindow == 0 {
		c.VelocityWindow = def.VelocityWindow
	}
	if c.VelocityBurstCount == 0 {
		c.VelocityBurstCount = def.VelocityBurstCount
	}
	if c.GlobalWindowCapacity == 0 {
		c.GlobalWindowCapacity = def.GlobalWindowCapacity
	}
	if c.ZScoreThreshold == 0 {
		c.ZScoreThreshold = def.ZScoreThreshold
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}

// New constructs the detector variant identified by name. An empty name
// selects the ensemble.
func New(variant string, cfg Config) (Detector, error) {
	switch variant {
	case "", "ensemble":
		return NewEnsembleDetector(cfg), nil
	case "statistical":
		return NewStatisticalDetector(cfg), nil
	default:
		return nil, fmt.Errorf("unknown detector variant %q", variant)
	}
}

// signals carries the per-component values both variants feed into
// classification, escalation and explanation.
type signals struct {
	velocity float64
	amount   float64
	time     float64
	location float64
}

// strongest returns the highest component value among those that
// crossed their trigger level, or 0 when none did.
func (s signals) strongest() float64 {
	v := 0.0
	if s.velocity > velocityTrigger {
		v = math.Max(v, s.velocity)
	}
	if s.amount > amountTrigger {
		v = math.Max(v, s.amount)
	}
	if s.time > timeTrigger {
		v = math.Max(v, s.time)
	}
	if s.location > locationTrigger {
		v = math.Max(v, s.location)
	}
	return v
}

// classify picks the anomaly type from the dominating component, first
// match wins.
func classify(sig signals, amount float64) models.AnomalyType {
	switch {
	case sig.velocity > velocityTrigger:
		return models.AnomalyVelocity
	case sig.amount > amountTrigger:
		return models.AnomalyUnusualAmount
	case sig.time > timeTrigger:
		return models.AnomalyTimePattern
	case sig.location > locationTrigger:
		return models.AnomalyLocation
	case amount > fraudAmount:
		return models.AnomalyFraud
	default:
		return models.AnomalyStatisticalOutlier
	}
}

// component runs one sub-scorer, collapsing panics and non-finite
// values to a zero contribution so a single bad feature never poisons
// the whole score.
func component(name, txnID string, fn func() float64) (v float64) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().
				Interface("panic", r).
				Str("component", name).
				Str("transaction_id", txnID).
				Msg("Sub-scorer failed, taking zero contribution")
			v = 0
		}
	}()
	v = fn()
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
