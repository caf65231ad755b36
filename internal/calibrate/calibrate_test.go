package calibrate

import (
	"math"
	"testing"
)

func TestProbabilities(t *testing.T) {
	t.Run("MinScoreGetsOne", func(t *testing.T) {
		probs := Probabilities([]float64{-0.2, 0.1, 0.05, 0.3})
		if probs[0] != 1 {
			t.Errorf("expected 1 for lowest score, got %f", probs[0])
		}
		if probs[3] != 0 {
			t.Errorf("expected 0 for highest score, got %f", probs[3])
		}
		if math.Abs(probs[1]-0.4) > 1e-12 {
			t.Errorf("expected 0.4, got %f", probs[1])
		}
	})

	t.Run("MonotoneDecreasing", func(t *testing.T) {
		scores := []float64{0.3, -0.1, 0.0, 0.2, -0.05}
		probs := Probabilities(scores)
		for i := range scores {
			for j := range scores {
				if scores[i] < scores[j] && probs[i] < probs[j] {
					t.Errorf("score %f < %f but prob %f < %f", scores[i], scores[j], probs[i], probs[j])
				}
			}
		}
	})

	t.Run("EqualScoresFallBack", func(t *testing.T) {
		for _, p := range Probabilities([]float64{0.1, 0.1, 0.1}) {
			if p != Fallback {
				t.Errorf("expected %f, got %f", Fallback, p)
			}
		}
	})

	t.Run("SingleRow", func(t *testing.T) {
		probs := Probabilities([]float64{-0.3})
		if len(probs) != 1 || probs[0] != 0.5 {
			t.Errorf("expected [0.5], got %v", probs)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if probs := Probabilities(nil); len(probs) != 0 {
			t.Errorf("expected empty output, got %v", probs)
		}
	})
}

func TestRiskTier(t *testing.T) {
	tests := []struct {
		p    float64
		want Tier
	}{
		{0, TierLow},
		{0.29, TierLow},
		{0.3, TierMedium},
		{0.69, TierMedium},
		{0.7, TierHigh},
		{1, TierHigh},
	}
	for _, tt := range tests {
		if got := RiskTier(tt.p); got != tt.want {
			t.Errorf("RiskTier(%.2f) = %s, want %s", tt.p, got, tt.want)
		}
	}

	if tier, ok := ParseTier("high"); !ok || tier != TierHigh {
		t.Errorf("ParseTier(high) = %s, %v", tier, ok)
	}
	if _, ok := ParseTier("extreme"); ok {
		t.Error("expected unknown tier to fail")
	}
}
