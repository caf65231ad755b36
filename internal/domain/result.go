package domain

import (
	"time"
)

// Direction is the effect a feature had on fraud risk.
type Direction string

const (
	DirectionIncreased Direction = "increased"
	DirectionReduced   Direction = "reduced"
)

// Contribution is one feature's share of an anomaly score.
type Contribution struct {
	Feature   Feature   `json:"feature"`
	Value     float64   `json:"value"`
	Direction Direction `json:"direction"`
}

// Magnitude returns the absolute contribution.
func (c Contribution) Magnitude() float64 {
	if c.Value < 0 {
		return -c.Value
	}
	return c.Value
}

// Attribution is the additive decomposition of one row's isolation output.
// Base + sum(Contributions[i].Value) == Output.
type Attribution struct {
	// Base is the expected output over the background sample.
	Base float64 `json:"base"`

	// Output is the explained model output for the row (negated mean path length).
	Output float64 `json:"output"`

	// Contributions has one entry per feature, in feature order.
	Contributions []Contribution `json:"contributions"`
}

// Sum returns the total of all contributions.
func (a *Attribution) Sum() float64 {
	var s float64
	for _, c := range a.Contributions {
		s += c.Value
	}
	return s
}

// ScoredRecord is a TransactionRecord enriched with the pipeline's verdict.
type ScoredRecord struct {
	TransactionRecord

	AnomalyScore     float64      `json:"anomalyScore"`
	IsFraud          bool         `json:"isFraud"`
	FraudProbability float64      `json:"fraudProbability"`
	FraudExplanation string       `json:"fraudExplanation"`
	Attribution      *Attribution `json:"attribution,omitempty"`
}

// RunParams records the model settings a run used.
type RunParams struct {
	Contamination float64 `json:"contamination"`
	Trees         int     `json:"trees"`
	SampleSize    int     `json:"sampleSize"`
	Seed          int64   `json:"seed"`
	Offset        float64 `json:"offset"`
	TopN          int     `json:"topN"`
	Background    int     `json:"background"`
}

// RunTimings holds per-stage durations in milliseconds.
type RunTimings struct {
	FeaturesMs    int64 `json:"featuresMs"`
	ScoringMs     int64 `json:"scoringMs"`
	CalibrationMs int64 `json:"calibrationMs"`
	AttributionMs int64 `json:"attributionMs"`
	NarrativeMs   int64 `json:"narrativeMs"`
	TotalMs       int64 `json:"totalMs"`
}

// ResultTable is the single artifact produced by one pipeline run:
// one ScoredRecord per input row, in input order.
type ResultTable struct {
	RunID        string         `json:"runId"`
	TenantID     string         `json:"tenantId"`
	Source       string         `json:"source,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	Records      []ScoredRecord `json:"records"`
	FlaggedCount int            `json:"flaggedCount"`
	ExtraColumns []string       `json:"extraColumns,omitempty"`
	Params       RunParams      `json:"params"`
	Timings      RunTimings     `json:"timings"`
}

// Flagged returns the rows marked as fraud, in input order.
func (t *ResultTable) Flagged() []ScoredRecord {
	out := make([]ScoredRecord, 0, t.FlaggedCount)
	for _, r := range t.Records {
		if r.IsFraud {
			out = append(out, r)
		}
	}
	return out
}

// Find returns the record with the given transaction ID.
func (t *ResultTable) Find(txID string) (*ScoredRecord, bool) {
	for i := range t.Records {
		if t.Records[i].TransactionID == txID {
			return &t.Records[i], true
		}
	}
	return nil, false
}

// Summary builds the lightweight view of the table used by listings and caches.
func (t *ResultTable) Summary() *RunSummary {
	return &RunSummary{
		RunID:        t.RunID,
		TenantID:     t.TenantID,
		Source:       t.Source,
		CreatedAt:    t.CreatedAt,
		Rows:         len(t.Records),
		FlaggedCount: t.FlaggedCount,
		Params:       t.Params,
		Timings:      t.Timings,
	}
}

// RunSummary describes a stored run without its rows.
type RunSummary struct {
	RunID        string     `json:"runId"`
	TenantID     string     `json:"tenantId"`
	Source       string     `json:"source,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	Rows         int        `json:"rows"`
	FlaggedCount int        `json:"flaggedCount"`
	Params       RunParams  `json:"params"`
	Timings      RunTimings `json:"timings"`
}

// Run status values reported to API clients.
const (
	RunStatusCompleted = "completed"
	RunStatusPending   = "pending"
	RunStatusFailed    = "failed"
)
