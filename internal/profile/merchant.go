package profile

import (
	"math"
	"sync"
	"time"

	"github.com/slipstream/anomaly-detector/internal/models"
	"github.com/slipstream/anomaly-detector/internal/stats"
)

const (
	merchantAmountWindow   = 100
	merchantIntervalWindow = 100
)

// MerchantProfile is a per-merchant baseline: amount distribution,
// payment-method histogram, inter-arrival statistics, and a derived risk
// score. Same locking discipline as UserProfile.
type MerchantProfile struct {
	mu sync.RWMutex

	amounts       *stats.Window
	intervals     *stats.Window // minutes between consecutive transactions
	paymentCounts map[string]int64

	riskScore        float64
	transactionCount int64
	firstSeen        time.Time
	lastSeen         time.Time
}

// NewMerchantProfile creates an empty merchant baseline.
func NewMerchantProfile() *MerchantProfile {
	return &MerchantProfile{
		amounts:       stats.NewWindow(merchantAmountWindow),
		intervals:     stats.NewWindow(merchantIntervalWindow),
		paymentCounts: make(map[string]int64),
	}
}

// Observe folds one transaction into the baseline and refreshes the
// risk score.
func (p *MerchantProfile) Observe(tx *models.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.amounts.Add(tx.Amount)
	p.paymentCounts[tx.PaymentMethod]++

	if !p.lastSeen.IsZero() {
		minutes := tx.Timestamp.Sub(p.lastSeen).Minutes()
		if minutes > 0 {
			p.intervals.Add(minutes)
		}
	}
	if p.firstSeen.IsZero() {
		p.firstSeen = tx.Timestamp.Time
	}
	p.lastSeen = tx.Timestamp.Time
	p.transactionCount++

	p.riskScore = p.computeRiskScore()
}

// computeRiskScore applies the additive risk rules. Callers hold the lock.
func (p *MerchantProfile) computeRiskScore() float64 {
	var risk float64

	// Machine-gun pattern: many transactions less than a minute apart.
	if p.intervals.N() > 10 && p.intervals.Mean() < 1.0 {
		risk += 0.3
	}

	// Highly dispersed amounts.
	if mean := p.amounts.Mean(); p.amounts.N() > 10 && mean > 0 {
		if p.amounts.StdDev()/mean > 2.0 {
			risk += 0.2
		}
	}

	// No dominant payment method.
	if p.transactionCount > 0 {
		var maxCount int64
		for _, n := range p.paymentCounts {
			if n > maxCount {
				maxCount = n
			}
		}
		if float64(maxCount)/float64(p.transactionCount) < 0.3 {
			risk += 0.2
		}
	}

	// Young merchants carry residual risk.
	if p.transactionCount < 50 {
		risk += 0.1
	}

	return math.Min(risk, 1.0)
}

// AmountAnomaly scores how far the amount sits from this merchant's
// amount distribution, normalised to [0,1] at three standard deviations.
func (p *MerchantProfile) AmountAnomaly(amount float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.amounts.N() < 5 {
		return 0
	}
	mean := p.amounts.Mean()
	std := p.amounts.StdDev()
	if std == 0 {
		if amount == mean {
			return 0
		}
		return 0.8
	}
	z := math.Abs(amount-mean) / std
	return math.Min(1, z/3)
}

// RiskScore returns the current derived risk score in [0,1].
func (p *MerchantProfile) RiskScore() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.riskScore
}

// TransactionCount returns how many transactions have been observed.
func (p *MerchantProfile) TransactionCount() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.transactionCount
}

// FirstSeen returns the civil timestamp of the first observed transaction.
func (p *MerchantProfile) FirstSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.firstSeen
}

// LastSeen returns the civil timestamp of the latest observed transaction.
func (p *MerchantProfile) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}
