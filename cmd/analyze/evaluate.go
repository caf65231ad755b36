package main

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Metrics compares verdicts with ground-truth labels.
type Metrics struct {
	TruePositives  int64 // Fraud flagged
	FalsePositives int64 // Non-fraud flagged
	TrueNegatives  int64 // Non-fraud passed
	FalseNegatives int64 // Fraud passed (missed fraud!)

	TotalFraud    int64
	TotalNonFraud int64
	Unlabeled     int64
}

// Evaluate scores each row's IsFraud against the label column. Labels
// parse as booleans ("1", "true", "yes" are fraud); blank labels are skipped.
func Evaluate(table *domain.ResultTable, column string) (*Metrics, error) {
	if !slices.Contains(table.ExtraColumns, column) {
		return nil, fmt.Errorf("label column %q not in dataset", column)
	}

	m := &Metrics{}
	for i := range table.Records {
		r := &table.Records[i]
		raw := strings.TrimSpace(r.Extra[column])
		if raw == "" {
			m.Unlabeled++
			continue
		}
		fraud, err := parseLabel(raw)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+1, err)
		}

		switch {
		case fraud && r.IsFraud:
			m.TruePositives++
		case fraud:
			m.FalseNegatives++
		case r.IsFraud:
			m.FalsePositives++
		default:
			m.TrueNegatives++
		}
		if fraud {
			m.TotalFraud++
		} else {
			m.TotalNonFraud++
		}
	}
	return m, nil
}

func parseLabel(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "yes", "y", "fraud":
		return true, nil
	case "no", "n", "legit":
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid label %q", s)
	}
	return b, nil
}

// Precision is the share of flagged rows that were fraud.
func (m *Metrics) Precision() float64 {
	if m.TruePositives+m.FalsePositives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
}

// Recall is the share of fraud rows that were flagged.
func (m *Metrics) Recall() float64 {
	if m.TruePositives+m.FalseNegatives == 0 {
		return 0
	}
	return float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
}

// F1 is the harmonic mean of precision and recall.
func (m *Metrics) F1() float64 {
	p, r := m.Precision(), m.Recall()
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// Accuracy is the share of labelled rows judged correctly.
func (m *Metrics) Accuracy() float64 {
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total == 0 {
		return 0
	}
	return float64(m.TruePositives+m.TrueNegatives) / float64(total)
}

func printResults(m *Metrics) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                   VERDICTS VS LABELS                          ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 LABELS\n")
	fmt.Printf("   Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Unlabeled:  %d\n", m.Unlabeled)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                 Flagged     Passed")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flags, how many were actual fraud)\n", m.Precision())
	fmt.Printf("   Recall:     %.4f  (of fraud, how many were flagged)\n", m.Recall())
	fmt.Printf("   F1-Score:   %.4f\n", m.F1())
	fmt.Printf("   Accuracy:   %.4f\n", m.Accuracy())
	fmt.Println()
}
