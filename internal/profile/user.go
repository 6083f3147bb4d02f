package profile

import (
	"math"
	"sync"
	"time"

	"github.com/slipstream/anomaly-detector/internal/models"
	"github.com/slipstream/anomaly-detector/internal/stats"
)

const (
	userAmountWindow = 100
	maxLocations     = 50
	maxRecent        = 100
)

// UserProfile is a per-user behavioural baseline learned online from the
// stream. One writer (Observe) may run concurrently with any number of
// readers (the anomaly scorers); a Score that starts after an Observe
// returns sees that Observe's effects.
type UserProfile struct {
	mu sync.RWMutex

	amounts        *stats.Window
	categoryCounts map[string]int64
	paymentCounts  map[string]int64
	hourCounts     map[int]int64
	dayCounts      map[int]int64

	locations []models.Location
	recent    []time.Time // civil timestamps of recent transactions, oldest first

	transactionCount int64
	variability      float64
	lastSeen         time.Time
}

// NewUserProfile creates an empty baseline.
func NewUserProfile() *UserProfile {
	return &UserProfile{
		amounts:        stats.NewWindow(userAmountWindow),
		categoryCounts: make(map[string]int64),
		paymentCounts:  make(map[string]int64),
		hourCounts:     make(map[int]int64),
		dayCounts:      make(map[int]int64),
	}
}

// Observe folds one transaction into the baseline.
func (p *UserProfile) Observe(tx *models.Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.amounts.Add(tx.Amount)
	p.categoryCounts[tx.MerchantCategory]++
	p.paymentCounts[tx.PaymentMethod]++
	p.hourCounts[tx.Hour()]++
	p.dayCounts[tx.Timestamp.ISOWeekday()]++

	if tx.Location != nil {
		p.locations = append(p.locations, *tx.Location)
		if len(p.locations) > maxLocations {
			p.locations = p.locations[1:]
		}
	}

	p.recent = append(p.recent, tx.Timestamp.Time)
	if len(p.recent) > maxRecent {
		p.recent = p.recent[1:]
	}

	p.transactionCount++
	p.lastSeen = tx.Timestamp.Time

	if p.amounts.N() > 5 {
		mean := p.amounts.Mean()
		if mean <= 0 {
			p.variability = 1
		} else {
			cv := p.amounts.StdDev() / mean
			p.variability = math.Min(cv/2, 1)
		}
	}
}

// AmountZScore returns |amount-mean|/stddev over the amount window.
// Fewer than three samples yield 0; a zero stddev yields 0 when the
// amount equals the mean and 3 otherwise.
func (p *UserProfile) AmountZScore(amount float64) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.amounts.N() < 3 {
		return 0
	}
	mean := p.amounts.Mean()
	std := p.amounts.StdDev()
	if std == 0 {
		if amount == mean {
			return 0
		}
		return 3
	}
	return math.Abs(amount-mean) / std
}

// CategoryAnomaly scores how unusual the merchant category is for this
// user: rare categories approach 0.8, frequent ones fall to 0.
func (p *UserProfile) CategoryAnomaly(category string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.transactionCount < 5 {
		return 0
	}
	f := float64(p.categoryCounts[category]) / float64(p.transactionCount)
	return math.Max(0, 0.8-f*4)
}

// PaymentAnomaly scores how unusual the payment method is for this user.
func (p *UserProfile) PaymentAnomaly(method string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.transactionCount < 5 {
		return 0
	}
	f := float64(p.paymentCounts[method]) / float64(p.transactionCount)
	return math.Max(0, 0.7-f*3)
}

// HourAnomaly scores how unusual the hour of day is for this user.
func (p *UserProfile) HourAnomaly(hour int) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.transactionCount < 10 {
		return 0
	}
	f := float64(p.hourCounts[hour]) / float64(p.transactionCount)
	return math.Max(0, 0.6-f*10)
}

// DayAnomaly scores how unusual the ISO day of week is for this user.
func (p *UserProfile) DayAnomaly(day int) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.transactionCount < 10 {
		return 0
	}
	f := float64(p.dayCounts[day]) / float64(p.transactionCount)
	return math.Max(0, 0.5-f*7)
}

// LocationAnomaly scores the distance from the nearest previously seen
// location, saturating at 100 km. No history yields 0.
func (p *UserProfile) LocationAnomaly(loc *models.Location) float64 {
	if loc == nil {
		return 0
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if len(p.locations) == 0 {
		return 0
	}
	minKm := math.MaxFloat64
	for _, prev := range p.locations {
		if d := haversineKm(loc.Latitude, loc.Longitude, prev.Latitude, prev.Longitude); d < minKm {
			minKm = d
		}
	}
	return math.Min(1, minKm/100)
}

// VelocityCount returns how many recent transactions fall inside the
// window ending at the given civil time.
func (p *UserProfile) VelocityCount(at time.Time, window time.Duration) int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	cutoff := at.Add(-window)
	k := 0
	for _, ts := range p.recent {
		if ts.After(cutoff) {
			k++
		}
	}
	return k
}

// TransactionCount returns how many transactions have been observed.
func (p *UserProfile) TransactionCount() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.transactionCount
}

// Variability returns the amount variability score in [0,1].
func (p *UserProfile) Variability() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.variability
}

// AvgAmount returns the mean of the amount window.
func (p *UserProfile) AvgAmount() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.amounts.Mean()
}

// LastSeen returns the civil timestamp of the latest observed transaction.
func (p *UserProfile) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

// MostFrequentCategory returns the merchant category this user hits most.
func (p *UserProfile) MostFrequentCategory() string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var best string
	var bestCount int64 = -1
	for cat, n := range p.categoryCounts {
		if n > bestCount {
			best, bestCount = cat, n
		}
	}
	return best
}

// LocationCount returns how many locations are retained.
func (p *UserProfile) LocationCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.locations)
}

// RecentCount returns how many recent-transaction timestamps are retained.
func (p *UserProfile) RecentCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.recent)
}
