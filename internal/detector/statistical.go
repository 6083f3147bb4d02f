package detector

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/slipstream/anomaly-detector/internal/models"
	"github.com/slipstream/anomaly-detector/internal/stats"
)

// Per-user amount window capacity for the statistical variant.
const statisticalUserWindow = 100

// StatisticalDetector scores on z-scores against global and per-user
// amount baselines plus fixed rules. Until enough traffic has been
// observed it answers from the rule path alone, so it produces useful
// verdicts from the very first record.
type StatisticalDetector struct {
	cfg Config

	mu            sync.Mutex // guards the global windows
	globalAmounts *stats.Window
	globalHours   *stats.Window

	users         sync.Map // user ID -> *userState
	userCount     atomic.Int64
	totalObserved atomic.Int64
	trained       atomic.Bool
}

// userState is the variant's lightweight per-user model: a bounded
// amount window plus burst bookkeeping for the velocity score.
type userState struct {
	mu       sync.RWMutex
	amounts  *stats.Window
	count    int64
	lastSeen time.Time
	burst    int
}

// NewStatisticalDetector builds a statistical detector, filling zero
// config fields from StatisticalConfig.
func NewStatisticalDetector(cfg Config) *StatisticalDetector {
	cfg = cfg.normalized(StatisticalConfig())
	d := &StatisticalDetector{
		cfg:           cfg,
		globalAmounts: stats.NewWindow(cfg.GlobalWindowCapacity),
		globalHours:   stats.NewWindow(cfg.GlobalWindowCapacity),
	}
	log.Info().
		Float64("threshold", cfg.AnomalyThreshold).
		Float64("z_score_threshold", cfg.ZScoreThreshold).
		Msg("Initialized statistical anomaly detector")
	return d
}

func (d *StatisticalDetector) Name() string { return "statistical" }

func (d *StatisticalDetector) SupportsOnlineLearning() bool { return true }

// Score evaluates a transaction. Untrained models answer from the rule
// path; internal failures degrade to a safe normal result.
func (d *StatisticalDetector) Score(tx *models.Transaction) (result *models.AnomalyResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("transaction_id", tx.TransactionID).
				Msg("Scoring failed, returning safe normal result")
			result = d.errorResult(tx, fmt.Sprintf("scoring error: %v", r))
		}
	}()

	if !d.trained.Load() {
		return d.ruleBasedResult(tx)
	}

	id := tx.TransactionID
	sig := signals{
		amount:   component("amount", id, func() float64 { return d.amountScore(tx) }),
		time:     component("time", id, func() float64 { return d.timeScore(tx) }),
		velocity: component("velocity", id, func() float64 { return d.velocityScore(tx) }),
		location: component("location", id, func() float64 { return d.locationScore(tx) }),
	}

	// Weighted composite, capped at 1.
	score := math.Min(0.4*sig.amount+0.2*sig.time+0.3*sig.velocity+0.1*sig.location, 1)
	flagged := score > d.cfg.AnomalyThreshold
	anomalyType := classify(sig, tx.Amount)

	return &models.AnomalyResult{
		TransactionID:       tx.TransactionID,
		IsAnomaly:           flagged,
		Score:               score,
		Confidence:          d.confidence(score),
		Type:                anomalyType,
		DetectedAt:          models.NewCivilTime(d.cfg.Clock.Now()),
		OriginalTransaction: tx,
		FeaturesUsed:        d.features(tx),
		Reason:              d.reason(anomalyType, tx, score),
	}
}

// Observe folds a transaction into the global windows, the user's
// amount window and the burst counter that feeds velocityScore.
func (d *StatisticalDetector) Observe(tx *models.Transaction) {
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

	st, created := d.stateForCreate(tx.UserID)
	if created {
		d.userCount.Add(1)
	}
	st.mu.Lock()
	st.amounts.Add(tx.Amount)
	st.count++
	if !st.lastSeen.IsZero() && tx.Timestamp.Sub(st.lastSeen) < d.cfg.VelocityWindow {
		st.burst++
	} else {
		st.burst = 1
	}
	st.lastSeen = tx.Timestamp.Time
	st.mu.Unlock()

	n := d.totalObserved.Add(1)
	if n >= int64(d.cfg.MinTrainingSamples) && d.trained.CompareAndSwap(false, true) {
		log.Info().Int64("samples", n).Msg("Statistical model is now trained")
	}
}

// amountScore takes the worse of the global and per-user z-scores,
// normalised by the configured z threshold, with flat rule bumps for
// very large amounts.
func (d *StatisticalDetector) amountScore(tx *models.Transaction) float64 {
	globalZ := 0.0
	d.mu.Lock()
	if d.globalAmounts.N() > 1 {
		if std := d.globalAmounts.StdDev(); std > 0 {
			globalZ = math.Abs(tx.Amount-d.globalAmounts.Mean()) / std
		}
	}
	d.mu.Unlock()

	userZ := 0.0
	if st := d.stateFor(tx.UserID); st != nil {
		st.mu.RLock()
		if st.amounts.N() > 1 {
			if std := st.amounts.StdDev(); std > 0 {
				userZ = math.Abs(tx.Amount-st.amounts.Mean()) / std
			}
		}
		st.mu.RUnlock()
	}

	rule := 0.0
	if tx.Amount > 10000 {
		rule += 0.5
	}
	if tx.Amount > 50000 {
		rule += 0.3
	}

	z := math.Min(math.Max(globalZ, userZ)/d.cfg.ZScoreThreshold, 1)
	return math.Max(z, rule)
}

// timeScore flags night-time hours by rule and refines against the
// global hour distribution once it carries enough samples.
func (d *StatisticalDetector) timeScore(tx *models.Transaction) float64 {
	hour := tx.Hour()
	score := 0.0
	if hour < 6 || hour > 22 {
		score += 0.6
	}
	if hour < 3 {
		score += 0.3
	}

	d.mu.Lock()
	if d.globalHours.N() > d.cfg.MinTrainingSamples {
		if std := d.globalHours.StdDev(); std > 0 {
			z := math.Abs(float64(hour)-d.globalHours.Mean()) / std
			score = math.Max(score, math.Min(z/d.cfg.ZScoreThreshold, 1)*0.5)
		}
	}
	d.mu.Unlock()

	return math.Min(score, 1)
}

// velocityScore reads the burst state prospectively: the transaction
// under scoring counts as one more hit in the window, but the state
// itself only advances in Observe, keeping Score pure.
func (d *StatisticalDetector) velocityScore(tx *models.Transaction) float64 {
	st := d.stateFor(tx.UserID)
	if st == nil {
		return 0
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	if st.lastSeen.IsZero() || tx.Timestamp.Sub(st.lastSeen) >= d.cfg.VelocityWindow {
		return 0
	}
	k := st.burst + 1
	switch {
	case k > d.cfg.VelocityBurstCount:
		return 0.8
	case k > d.cfg.VelocityBurstCount/2:
		return 0.4
	}
	return 0
}

func (d *StatisticalDetector) locationScore(tx *models.Transaction) float64 {
	if tx.Location == nil {
		// Missing location is slightly suspicious.
		return 0.1
	}
	if math.Abs(tx.Location.Latitude) > 90 || math.Abs(tx.Location.Longitude) > 180 {
		return 0.8
	}
	return 0
}

// ruleBasedResult is the untrained path: fixed rules, lower confidence
// when flagged. Useful verdicts before the model has any baselines.
func (d *StatisticalDetector) ruleBasedResult(tx *models.Transaction) *models.AnomalyResult {
	var (
		flagged bool
		rules   []string
	)
	anomalyType := models.AnomalyUnknown
	score := 0.0

	if tx.Amount > 5000 {
		flagged = true
		anomalyType = models.AnomalyUnusualAmount
		score = 0.8
		rules = append(rules, "large amount")
	}
	if hour := tx.Hour(); hour < 6 || hour > 22 {
		flagged = true
		anomalyType = models.AnomalyTimePattern
		score = math.Max(score, 0.7)
		rules = append(rules, "unusual time")
	}

	reason := "normal transaction"
	confidence := 0.9
	if flagged {
		reason = "rule-based detection: " + strings.Join(rules, ", ")
		confidence = 0.6
	}

	return &models.AnomalyResult{
		TransactionID:       tx.TransactionID,
		IsAnomaly:           flagged,
		Score:               score,
		Confidence:          confidence,
		Type:                anomalyType,
		DetectedAt:          models.NewCivilTime(d.cfg.Clock.Now()),
		OriginalTransaction: tx,
		FeaturesUsed:        d.features(tx),
		Reason:              reason,
	}
}

func (d *StatisticalDetector) errorResult(tx *models.Transaction, reason string) *models.AnomalyResult {
	return &models.AnomalyResult{
		TransactionID:       tx.TransactionID,
		IsAnomaly:           false,
		Score:               0,
		Confidence:          0.1,
		Type:                models.AnomalyUnknown,
		DetectedAt:          models.NewCivilTime(d.cfg.Clock.Now()),
		OriginalTransaction: tx,
		FeaturesUsed:        map[string]float64{},
		Reason:              reason,
	}
}

// confidence grows with distance from the decision boundary: strong
// anomalies and clearly normal traffic are both easy calls.
func (d *StatisticalDetector) confidence(score float64) float64 {
	if score > d.cfg.AnomalyThreshold {
		return 0.5 + score*0.4
	}
	return 0.9 - score*0.3
}

func (d *StatisticalDetector) reason(anomalyType models.AnomalyType, tx *models.Transaction, score float64) string {
	reason := fmt.Sprintf("composite anomaly score %.3f, type %s", score, anomalyType)
	switch anomalyType {
	case models.AnomalyUnusualAmount:
		reason += fmt.Sprintf(", amount %.2f %s", tx.Amount, tx.Currency)
	case models.AnomalyTimePattern:
		reason += fmt.Sprintf(", hour %02d:00", tx.Hour())
	case models.AnomalyVelocity:
		reason += ", high transaction frequency"
	case models.AnomalyFraud:
		reason += ", potential fraud indicators"
	default:
		reason += ", statistical outlier"
	}
	return reason
}

func (d *StatisticalDetector) features(tx *models.Transaction) map[string]float64 {
	features := map[string]float64{
		"amount":      tx.Amount,
		"hour_of_day": float64(tx.Hour()),
		"day_of_week": float64(tx.Timestamp.ISOWeekday()),
	}
	if tx.Location != nil {
		features["latitude"] = tx.Location.Latitude
		features["longitude"] = tx.Location.Longitude
	}
	if st := d.stateFor(tx.UserID); st != nil {
		st.mu.RLock()
		if st.amounts.N() > 0 {
			features["user_avg_amount"] = st.amounts.Mean()
			features["user_tx_count"] = float64(st.amounts.N())
		}
		st.mu.RUnlock()
	}
	return features
}

func (d *StatisticalDetector) stateFor(userID string) *userState {
	if v, ok := d.users.Load(userID); ok {
		return v.(*userState)
	}
	return nil
}

func (d *StatisticalDetector) stateForCreate(userID string) (*userState, bool) {
	if v, ok := d.users.Load(userID); ok {
		return v.(*userState), false
	}
	v, loaded := d.users.LoadOrStore(userID, &userState{
		amounts: stats.NewWindow(statisticalUserWindow),
	})
	return v.(*userState), !loaded
}

// Stats accessors used by the periodic reporter and the dashboard.

func (d *StatisticalDetector) TotalObserved() int64 { return d.totalObserved.Load() }

func (d *StatisticalDetector) Trained() bool { return d.trained.Load() }

func (d *StatisticalDetector) GlobalSampleCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.globalAmounts.N()
}

func (d *StatisticalDetector) GlobalMeanAmount() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.globalAmounts.Mean()
}

func (d *StatisticalDetector) UserCount() int { return int(d.userCount.Load()) }
