package models

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// CivilTimeLayout is the wire layout for timestamps: ISO-8601 local
// date-time without a zone offset.
const CivilTimeLayout = "2006-01-02T15:04:05"

// civilTimeParseLayout additionally accepts optional fractional seconds.
const civilTimeParseLayout = "2006-01-02T15:04:05.999999999"

// CivilTime is a zone-less local date-time. Transactions carry civil
// timestamps; the codec never converts them to UTC instants, and
// arithmetic between two CivilTimes treats both as being in the same
// unspecified zone.
type CivilTime struct {
	time.Time
}

// NewCivilTime wraps t as a civil timestamp.
func NewCivilTime(t time.Time) CivilTime {
	return CivilTime{Time: t}
}

func (c CivilTime) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.Format(CivilTimeLayout) + `"`), nil
}

func (c *CivilTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		return nil
	}
	t, err := time.Parse(civilTimeParseLayout, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	c.Time = t
	return nil
}

// ISOWeekday returns the day of week with ISO numbering: Monday=1 .. Sunday=7.
func (c CivilTime) ISOWeekday() int {
	if wd := int(c.Weekday()); wd != 0 {
		return wd
	}
	return 7
}

// Location is an optional geographic tag on a transaction.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
	City      string  `json:"city"`
}

// Transaction is one input record on the stream.
type Transaction struct {
	TransactionID    string                 `json:"transaction_id"`
	UserID           string                 `json:"user_id"`
	MerchantID       string                 `json:"merchant_id"`
	Amount           float64                `json:"amount"`
	Currency         string                 `json:"currency"`
	Timestamp        CivilTime              `json:"timestamp"`
	Location         *Location              `json:"location"`
	PaymentMethod    string                 `json:"payment_method"`
	MerchantCategory string                 `json:"merchant_category"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// Validate reports whether the record carries the fields the detector
// needs. Records failing validation are dropped by the pipeline.
func (t *Transaction) Validate() error {
	if t.TransactionID == "" {
		return fmt.Errorf("missing transaction_id")
	}
	if t.UserID == "" {
		return fmt.Errorf("missing user_id")
	}
	if t.MerchantID == "" {
		return fmt.Errorf("missing merchant_id")
	}
	if t.Amount < 0 || math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0) {
		return fmt.Errorf("invalid amount %v", t.Amount)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// Hour returns the civil hour of day, 0..23.
func (t *Transaction) Hour() int { return t.Timestamp.Hour() }

// AnomalyType labels a flagged record for downstream routing.
type AnomalyType string

const (
	AnomalyFraud              AnomalyType = "fraud"
	AnomalyUnusualAmount      AnomalyType = "unusual_amount"
	AnomalyVelocity           AnomalyType = "velocity"
	AnomalyLocation           AnomalyType = "location"
	AnomalyTimePattern        AnomalyType = "time_pattern"
	AnomalyMerchantPattern    AnomalyType = "merchant_pattern"
	AnomalyStatisticalOutlier AnomalyType = "statistical_outlier"
	AnomalyUnknown            AnomalyType = "unknown"
)

// AnomalyResult is the judgement emitted for every scored transaction.
type AnomalyResult struct {
	TransactionID       string             `json:"transaction_id"`
	IsAnomaly           bool               `json:"is_anomaly"`
	Score               float64            `json:"anomaly_score"`
	Confidence          float64            `json:"confidence"`
	Type                AnomalyType        `json:"anomaly_type"`
	DetectedAt          CivilTime          `json:"detected_at"`
	OriginalTransaction *Transaction       `json:"original_transaction"`
	FeaturesUsed        map[string]float64 `json:"features_used"`
	Reason              string             `json:"reason"`
}
