package main

import (
	"math"
	"testing"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

func labelled(fraud bool, label string) domain.ScoredRecord {
	return domain.ScoredRecord{
		TransactionRecord: domain.TransactionRecord{Extra: map[string]string{"Label": label}},
		IsFraud:           fraud,
	}
}

func TestEvaluate(t *testing.T) {
	table := &domain.ResultTable{
		ExtraColumns: []string{"Label"},
		Records: []domain.ScoredRecord{
			labelled(true, "1"),
			labelled(true, "0"),
			labelled(false, "true"),
			labelled(false, "no"),
			labelled(false, "0"),
			labelled(true, ""),
		},
	}

	m, err := Evaluate(table, "Label")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if m.TruePositives != 1 || m.FalsePositives != 1 || m.FalseNegatives != 1 || m.TrueNegatives != 2 {
		t.Errorf("unexpected confusion matrix %+v", m)
	}
	if m.Unlabeled != 1 || m.TotalFraud != 2 || m.TotalNonFraud != 3 {
		t.Errorf("unexpected totals %+v", m)
	}
	if m.Precision() != 0.5 || m.Recall() != 0.5 || m.F1() != 0.5 {
		t.Errorf("expected 0.5 precision/recall/F1, got %v/%v/%v", m.Precision(), m.Recall(), m.F1())
	}
	if math.Abs(m.Accuracy()-0.6) > 1e-12 {
		t.Errorf("expected accuracy 0.6, got %v", m.Accuracy())
	}

	t.Run("UnknownColumn", func(t *testing.T) {
		if _, err := Evaluate(table, "Missing"); err == nil {
			t.Error("expected error for unknown column")
		}
	})

	t.Run("InvalidLabel", func(t *testing.T) {
		bad := &domain.ResultTable{
			ExtraColumns: []string{"Label"},
			Records:      []domain.ScoredRecord{labelled(true, "maybe")},
		}
		if _, err := Evaluate(bad, "Label"); err == nil {
			t.Error("expected error for invalid label")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		m := &Metrics{}
		if m.Precision() != 0 || m.Recall() != 0 || m.F1() != 0 || m.Accuracy() != 0 {
			t.Error("expected zero metrics without labels")
		}
	})
}
