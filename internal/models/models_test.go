package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCivilTimeRoundTrip(t *testing.T) {
	c := NewCivilTime(time.Date(2024, 3, 15, 14, 30, 5, 0, time.UTC))

	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, `"2024-03-15T14:30:05"`, string(data))

	var parsed CivilTime
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.True(t, parsed.Equal(c.Time))
}

func TestCivilTimeAcceptsFractionalSeconds(t *testing.T) {
	var c CivilTime
	require.NoError(t, json.Unmarshal([]byte(`"2024-03-15T14:30:05.123456"`), &c))
	assert.Equal(t, 14, c.Hour())
	assert.Equal(t, 123456000, c.Nanosecond())
}

func TestCivilTimeRejectsGarbage(t *testing.T) {
	var c CivilTime
	err := json.Unmarshal([]byte(`"not-a-timestamp"`), &c)
	assert.Error(t, err)
}

func TestCivilTimeISOWeekday(t *testing.T) {
	// 2024-03-11 was a Monday.
	for i := 0; i < 7; i++ {
		c := NewCivilTime(time.Date(2024, 3, 11+i, 12, 0, 0, 0, time.UTC))
		assert.Equal(t, i+1, c.ISOWeekday())
	}
}

func TestTransactionDecodeWireFormat(t *testing.T) {
	raw := `{
		"transaction_id": "tx-001",
		"user_id": "user_1",
		"merchant_id": "merchant_42",
		"amount": 129.95,
		"currency": "USD",
		"timestamp": "2024-03-15T14:30:05",
		"location": {"latitude": 40.7128, "longitude": -74.006, "country": "US", "city": "New York"},
		"payment_method": "credit_card",
		"merchant_category": "grocery",
		"metadata": {"channel": "pos"},
		"some_future_field": true
	}`

	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))

	assert.Equal(t, "tx-001", tx.TransactionID)
	assert.Equal(t, "user_1", tx.UserID)
	assert.Equal(t, "merchant_42", tx.MerchantID)
	assert.Equal(t, 129.95, tx.Amount)
	assert.Equal(t, 14, tx.Hour())
	require.NotNil(t, tx.Location)
	assert.Equal(t, "New York", tx.Location.City)
	assert.Equal(t, "pos", tx.Metadata["channel"])
	assert.NoError(t, tx.Validate())
}

func TestTransactionNullLocation(t *testing.T) {
	raw := `{
		"transaction_id": "tx-002",
		"user_id": "user_1",
		"merchant_id": "merchant_42",
		"amount": 10,
		"currency": "USD",
		"timestamp": "2024-03-15T03:00:00",
		"location": null,
		"payment_method": "debit_card",
		"merchant_category": "fuel"
	}`

	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(raw), &tx))
	assert.Nil(t, tx.Location)
	assert.NoError(t, tx.Validate())
}

func TestTransactionValidate(t *testing.T) {
	base := func() Transaction {
		return Transaction{
			TransactionID: "tx-1",
			UserID:        "u1",
			MerchantID:    "m1",
			Amount:        5,
			Timestamp:     NewCivilTime(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)),
		}
	}

	tests := []struct {
		name   string
		mutate func(*Transaction)
		fails  bool
	}{
		{"valid", func(tx *Transaction) {}, false},
		{"zero amount ok", func(tx *Transaction) { tx.Amount = 0 }, false},
		{"missing transaction_id", func(tx *Transaction) { tx.TransactionID = "" }, true},
		{"missing user_id", func(tx *Transaction) { tx.UserID = "" }, true},
		{"missing merchant_id", func(tx *Transaction) { tx.MerchantID = "" }, true},
		{"negative amount", func(tx *Transaction) { tx.Amount = -1 }, true},
		{"missing timestamp", func(tx *Transaction) { tx.Timestamp = CivilTime{} }, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tx := base()
			tc.mutate(&tx)
			err := tx.Validate()
			if tc.fails {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAnomalyResultRoundTrip(t *testing.T) {
	tx := &Transaction{
		TransactionID: "tx-9",
		UserID:        "u9",
		MerchantID:    "m9",
		Amount:        15000,
		Currency:      "USD",
		Timestamp:     NewCivilTime(time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)),
		PaymentMethod: "credit_card",
	}
	result := AnomalyResult{
		TransactionID:       "tx-9",
		IsAnomaly:           true,
		Score:               0.87,
		Confidence:          0.9,
		Type:                AnomalyUnusualAmount,
		DetectedAt:          NewCivilTime(time.Date(2024, 3, 15, 14, 0, 1, 0, time.UTC)),
		OriginalTransaction: tx,
		FeaturesUsed:        map[string]float64{"amount": 15000, "hour_of_day": 14},
		Reason:              "amount deviates from user baseline",
	}

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"anomaly_type":"unusual_amount"`)
	assert.Contains(t, string(data), `"anomaly_score":0.87`)

	var back AnomalyResult
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, result.TransactionID, back.TransactionID)
	assert.Equal(t, result.IsAnomaly, back.IsAnomaly)
	assert.Equal(t, result.Score, back.Score)
	assert.Equal(t, result.Confidence, back.Confidence)
	assert.Equal(t, result.Type, back.Type)
	assert.True(t, back.DetectedAt.Equal(result.DetectedAt.Time))
	assert.Equal(t, result.FeaturesUsed, back.FeaturesUsed)
	assert.Equal(t, result.Reason, back.Reason)
	require.NotNil(t, back.OriginalTransaction)
	assert.Equal(t, tx.TransactionID, back.OriginalTransaction.TransactionID)
	assert.Equal(t, tx.Amount, back.OriginalTransaction.Amount)
}

func TestAnomalyTypeWireValues(t *testing.T) {
	expected := map[AnomalyType]string{
		AnomalyFraud:              "fraud",
		AnomalyUnusualAmount:      "unusual_amount",
		AnomalyVelocity:           "velocity",
		AnomalyLocation:           "location",
		AnomalyTimePattern:        "time_pattern",
		AnomalyMerchantPattern:    "merchant_pattern",
		AnomalyStatisticalOutlier: "statistical_outlier",
		AnomalyUnknown:            "unknown",
	}
	for typ, wire := range expected {
		data, err := json.Marshal(typ)
		require.NoError(t, err)
		assert.Equal(t, `"`+wire+`"`, string(data))
	}
}
