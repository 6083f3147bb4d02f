package detector

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/slipstream/anomaly-detector/internal/models"
	"github.com/slipstream/anomaly-detector/internal/profile"
	"github.com/slipstream/anomaly-detector/internal/stats"
)

// EnsembleDetector blends statistical, behavioural and temporal
// sub-scores over per-user and per-merchant profiles. Until the global
// observation count reaches MinTrainingSamples it answers every Score
// with a fixed "model-not-trained" normal result.
type EnsembleDetector struct {
	cfg Config

	mu            sync.Mutex // guards the global windows
	globalAmounts *stats.Window
	globalHours   *stats.Window

	users      sync.Map // user ID -> *profile.UserProfile
	merchants  sync.Map // merchant ID -> *profile.MerchantProfile
	thresholds sync.Map // user ID -> float64

	userCount     atomic.Int64
	merchantCount atomic.Int64
	totalObserved atomic.Int64
	trained       atomic.Bool
}

// NewEnsembleDetector builds an ensemble detector, filling zero config
// fields from DefaultConfig.
func NewEnsembleDetector(cfg Config) *EnsembleDetector {
	cfg = cfg.normalized(DefaultConfig())
	d := &EnsembleDetector{
		cfg:           cfg,
		globalAmounts: stats.NewWindow(cfg.GlobalWindowCapacity),
		globalHours:   stats.NewWindow(cfg.GlobalWindowCapacity),
	}
	log.Info().
		Float64("threshold", cfg.AnomalyThreshold).
		Int("min_training_samples", cfg.MinTrainingSamples).
		Msg("Initialized ensemble anomaly detector")
	return d
}

func (d *EnsembleDetector) Name() string { return "ensemble" }

func (d *EnsembleDetector) SupportsOnlineLearning() bool { return true }

// Score evaluates a transaction against the learned model. It never
// panics outward: any internal failure degrades to a safe normal
// result carrying a "scoring error" reason.
func (d *EnsembleDetector) Score(tx *models.Transaction) (result *models.AnomalyResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("transaction_id", tx.TransactionID).
				Msg("Scoring failed, returning safe normal result")
			result = d.normalResult(tx, fmt.Sprintf("scoring error: %v", r))
		}
	}()

	if !d.trained.Load() {
		return d.normalResult(tx, "model-not-trained")
	}

	prof := d.userProfile(tx.UserID)
	sig, statScore, behavScore, tempScore := d.subScores(tx, prof)

	score := weightStatistical*statScore + weightBehavioural*behavScore + weightTemporal*tempScore
	if esc := sig.strongest(); esc > score {
		score = esc
	}
	score = clamp01(score)

	threshold := d.thresholdFor(tx.UserID)
	flagged := score > threshold
	anomalyType := classify(sig, tx.Amount)

	return &models.AnomalyResult{
		TransactionID:       tx.TransactionID,
		IsAnomaly:           flagged,
		Score:               score,
		Confidence:          math.Min(0.9, 0.5+math.Abs(score-threshold)),
		Type:                anomalyType,
		DetectedAt:          models.NewCivilTime(d.cfg.Clock.Now()),
		OriginalTransaction: tx,
		FeaturesUsed:        d.features(tx, prof),
		Reason:              explain(sig, score, flagged),
	}
}

// subScores computes the three ensemble components plus the raw signal
// values used for classification. All of them are 0 for an unseen user.
func (d *EnsembleDetector) subScores(tx *models.Transaction, prof *profile.UserProfile) (sig signals, stat, behav, temp float64) {
	if prof == nil {
		return sig, 0, 0, 0
	}
	id := tx.TransactionID

	// Statistical: the amount z-score averaged with a frequency anomaly
	// component that is reserved and currently always zero.
	sig.amount = component("amount_z", id, func() float64 {
		return math.Min(math.Abs(prof.AmountZScore(tx.Amount))/3, 1)
	})
	frequency := 0.0
	stat = (sig.amount + frequency) / 2

	// Behavioural: merchant category, payment method and, when the
	// transaction carries coordinates, distance from known locations.
	category := component("category", id, func() float64 {
		return prof.CategoryAnomaly(tx.MerchantCategory)
	})
	payment := component("payment", id, func() float64 {
		return prof.PaymentAnomaly(tx.PaymentMethod)
	})
	if tx.Location != nil {
		sig.location = component("location", id, func() float64 {
			return prof.LocationAnomaly(tx.Location)
		})
		behav = (category + payment + sig.location) / 3
	} else {
		behav = (category + payment) / 2
	}

	// Temporal: hour-of-day and day-of-week habits plus recent velocity.
	hour := component("hour", id, func() float64 {
		return prof.HourAnomaly(tx.Hour())
	})
	day := component("day", id, func() float64 {
		return prof.DayAnomaly(tx.Timestamp.ISOWeekday())
	})
	sig.velocity = component("velocity", id, func() float64 {
		k := prof.VelocityCount(tx.Timestamp.Time, d.cfg.VelocityWindow)
		return math.Min(float64(k)/float64(d.cfg.VelocityBurstCount), 1)
	})
	sig.time = math.Max(hour, day)
	temp = (hour + day + sig.velocity) / 3

	return sig, stat, behav, temp
}

// Observe folds a transaction into the model: global windows, user and
// merchant profiles, and the user's cached adaptive threshold. Failures
// are logged and swallowed; partially applied updates are acceptable.
func (d *EnsembleDetector) Observe(tx *models.Transaction) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("transaction_id", tx.TransactionID).
				Msg("Observe failed, model partially updated")
		}
	}()

	d.mu.Lock()
	d.globalAmounts.Add(tx.Amount)
	d.globalHours.Add(float64(tx.Hour()))
	d.mu.Unlock()

	prof, created := d.loadOrCreateUser(tx.UserID)
	if created {
		d.userCount.Add(1)
	}
	prof.Observe(tx)

	merch, created := d.loadOrCreateMerchant(tx.MerchantID)
	if created {
		d.merchantCount.Add(1)
	}
	merch.Observe(tx)

	d.refreshThreshold(tx.UserID, prof)

	n := d.totalObserved.Add(1)
	if n >= int64(d.cfg.MinTrainingSamples) && d.trained.CompareAndSwap(false, true) {
		log.Info().Int64("samples", n).Msg("Ensemble model is now trained")
	}
}

// refreshThreshold recomputes and caches the user's decision threshold.
// Established users with erratic history earn more headroom before
// flagging, up to a hard ceiling.
func (d *EnsembleDetector) refreshThreshold(userID string, prof *profile.UserProfile) {
	threshold := d.cfg.AnomalyThreshold
	if prof.TransactionCount() >= adaptiveMinCount {
		threshold = math.Min(threshold+adaptiveVariabilityScale*prof.Variability(), adaptiveCeiling)
	}
	d.thresholds.Store(userID, threshold)
}

func (d *EnsembleDetector) thresholdFor(userID string) float64 {
	if v, ok := d.thresholds.Load(userID); ok {
		return v.(float64)
	}
	return d.cfg.AnomalyThreshold
}

func (d *EnsembleDetector) userProfile(userID string) *profile.UserProfile {
	if v, ok := d.users.Load(userID); ok {
		return v.(*profile.UserProfile)
	}
	return nil
}

func (d *EnsembleDetector) loadOrCreateUser(userID string) (*profile.UserProfile, bool) {
	if v, ok := d.users.Load(userID); ok {
		return v.(*profile.UserProfile), false
	}
	v, loaded := d.users.LoadOrStore(userID, profile.NewUserProfile())
	return v.(*profile.UserProfile), !loaded
}

func (d *EnsembleDetector) loadOrCreateMerchant(merchantID string) (*profile.MerchantProfile, bool) {
	if v, ok := d.merchants.Load(merchantID); ok {
		return v.(*profile.MerchantProfile), false
	}
	v, loaded := d.merchants.LoadOrStore(merchantID, profile.NewMerchantProfile())
	return v.(*profile.MerchantProfile), !loaded
}

func (d *EnsembleDetector) features(tx *models.Transaction, prof *profile.UserProfile) map[string]float64 {
	features := map[string]float64{
		"amount":      tx.Amount,
		"hour_of_day": float64(tx.Hour()),
		"day_of_week": float64(tx.Timestamp.ISOWeekday()),
	}
	if prof != nil {
		features["user_avg_amount"] = prof.AvgAmount()
		features["user_transaction_count"] = float64(prof.TransactionCount())
	}
	return features
}

// normalResult is the safe answer for an untrained model or a scoring
// failure: not anomalous, low score, decent confidence.
func (d *EnsembleDetector) normalResult(tx *models.Transaction, reason string) *models.AnomalyResult {
	return &models.AnomalyResult{
		TransactionID:       tx.TransactionID,
		IsAnomaly:           false,
		Score:               0.1,
		Confidence:          0.8,
		Type:                models.AnomalyUnknown,
		DetectedAt:          models.NewCivilTime(d.cfg.Clock.Now()),
		OriginalTransaction: tx,
		FeaturesUsed:        map[string]float64{},
		Reason:              reason,
	}
}

// explain produces the reason sentence from the dominating signal.
func explain(sig signals, score float64, flagged bool) string {
	if !flagged {
		return "normal transaction pattern"
	}
	reason := "anomalous transaction pattern"
	top := 0.0
	if sig.velocity > velocityTrigger && sig.velocity > top {
		top, reason = sig.velocity, "rapid transaction burst"
	}
	if sig.amount > amountTrigger && sig.amount > top {
		top, reason = sig.amount, "amount far outside user baseline"
	}
	if sig.time > timeTrigger && sig.time > top {
		top, reason = sig.time, "unusual time of day for user"
	}
	if sig.location > locationTrigger && sig.location > top {
		reason = "far from user's known locations"
	}
	return fmt.Sprintf("%s (score %.3f)", reason, score)
}

// Stats accessors used by the periodic reporter and the dashboard.

func (d *EnsembleDetector) TotalObserved() int64 { return d.totalObserved.Load() }

func (d *EnsembleDetector) Trained() bool { return d.trained.Load() }

func (d *EnsembleDetector) GlobalSampleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.globalAmounts.N()
}

func (d *EnsembleDetector) UserCount() int { return int(d.userCount.Load()) }

func (d *EnsembleDetector) MerchantCount() int { return int(d.merchantCount.Load()) }
