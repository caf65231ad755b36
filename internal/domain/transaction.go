package domain

import (
	"time"
)

// Input column names.
const (
	ColTransactionID           = "TransactionID"
	ColTransactionAmount       = "TransactionAmount"
	ColTransactionType         = "TransactionType"
	ColLocation                = "Location"
	ColChannel                 = "Channel"
	ColDeviceID                = "DeviceID"
	ColMerchantID              = "MerchantID"
	ColCustomerAge             = "CustomerAge"
	ColCustomerOccupation      = "CustomerOccupation"
	ColTransactionDuration     = "TransactionDuration"
	ColLoginAttempts           = "LoginAttempts"
	ColAccountBalance          = "AccountBalance"
	ColTransactionDate         = "TransactionDate"
	ColPreviousTransactionDate = "PreviousTransactionDate"
)

// Result columns appended to the input columns.
const (
	ColAnomalyScore     = "AnomalyScore"
	ColIsFraud          = "IsFraud"
	ColFraudProbability = "FraudProbability"
	ColFraudExplanation = "FraudExplanation"
)

// RequiredColumns lists the input columns every dataset must carry, in canonical order.
var RequiredColumns = []string{
	ColTransactionID,
	ColTransactionAmount,
	ColTransactionType,
	ColLocation,
	ColChannel,
	ColDeviceID,
	ColMerchantID,
	ColCustomerAge,
	ColCustomerOccupation,
	ColTransactionDuration,
	ColLoginAttempts,
	ColAccountBalance,
	ColTransactionDate,
	ColPreviousTransactionDate,
}

// ResultColumns lists the columns the pipeline adds to every row.
var ResultColumns = []string{
	ColAnomalyScore,
	ColIsFraud,
	ColFraudProbability,
	ColFraudExplanation,
}

// MissingField marks a blank cell in a TransactionRecord.
type MissingField uint16

const (
	MissingAmount MissingField = 1 << iota
	MissingCustomerAge
	MissingDuration
	MissingLoginAttempts
	MissingAccountBalance
	MissingTransactionDate
	MissingPreviousDate
)

// TransactionRecord is one row of raw input. It is never mutated after it is read.
type TransactionRecord struct {
	TransactionID      string  `json:"transactionId"`
	Amount             float64 `json:"transactionAmount"`
	Type               string  `json:"transactionType"`
	Location           string  `json:"location"`
	Channel            string  `json:"channel"`
	DeviceID           string  `json:"deviceId"`
	MerchantID         string  `json:"merchantId"`
	CustomerAge        float64 `json:"customerAge"`
	CustomerOccupation string  `json:"customerOccupation"`
	Duration           float64 `json:"transactionDuration"`
	LoginAttempts      float64 `json:"loginAttempts"`
	AccountBalance     float64 `json:"accountBalance"`

	TransactionDate         time.Time `json:"transactionDate"`
	PreviousTransactionDate time.Time `json:"previousTransactionDate"`

	// Missing flags blank numeric/date cells so they are not confused with zero.
	Missing MissingField `json:"missing,omitempty"`

	// Extra holds any additional input columns, keyed by header name.
	Extra map[string]string `json:"extra,omitempty"`
}

// Has reports whether the field was present in the input.
func (r *TransactionRecord) Has(f MissingField) bool {
	return r.Missing&f == 0
}

// TimeDiff returns the seconds between the current and previous transaction.
// Negative values pass through; a missing timestamp yields ok == false.
func (r *TransactionRecord) TimeDiff() (float64, bool) {
	if !r.Has(MissingTransactionDate) || !r.Has(MissingPreviousDate) {
		return 0, false
	}
	return r.TransactionDate.Sub(r.PreviousTransactionDate).Seconds(), true
}
