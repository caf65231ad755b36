// Package calibrate maps anomaly scores to fraud probabilities and risk tiers.
package calibrate

import (
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Fallback is the probability given to every row when all scores are equal.
const Fallback = 0.5

// Tier thresholds on FraudProbability.
const (
	LowMax    = 0.3
	MediumMax = 0.7
)

// Probabilities min-max normalises scores over the batch and inverts them so
// that the most anomalous row (lowest score) gets 1.
func Probabilities(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}

	lo, hi := floats.Min(scores), floats.Max(scores)
	if hi == lo {
		for i := range out {
			out[i] = Fallback
		}
		return out
	}

	span := hi - lo
	for i, s := range scores {
		out[i] = clamp(1 - (s-lo)/span)
	}
	return out
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// Tier is a coarse risk bucket.
type Tier string

const (
	TierLow    Tier = "Low"
	TierMedium Tier = "Medium"
	TierHigh   Tier = "High"
)

// RiskTier buckets a probability: Low below 0.3, Medium below 0.7, High otherwise.
func RiskTier(p float64) Tier {
	switch {
	case p < LowMax:
		return TierLow
	case p < MediumMax:
		return TierMedium
	default:
		return TierHigh
	}
}

// ParseTier converts a tier name, accepting any case.
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return TierLow, true
	case "medium":
		return TierMedium, true
	case "high":
		return TierHigh, true
	}
	return "", false
}
