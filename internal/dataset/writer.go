package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// TimeLayout is the layout used when timestamps are written back out.
const TimeLayout = "2006-01-02 15:04:05"

// Header returns the output column order for a table: canonical input
// columns, then extras, then result columns.
func Header(table *domain.ResultTable) []string {
	cols := make([]string, 0, len(domain.RequiredColumns)+len(table.ExtraColumns)+len(domain.ResultColumns))
	cols = append(cols, domain.RequiredColumns...)
	cols = append(cols, table.ExtraColumns...)
	cols = append(cols, domain.ResultColumns...)
	return cols
}

// WriteResults writes the result table as CSV with a header row.
func WriteResults(w io.Writer, table *domain.ResultTable) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(Header(table)); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i := range table.Records {
		if err := cw.Write(Row(table, &table.Records[i])); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Row renders one scored record in Header order.
func Row(table *domain.ResultTable, r *domain.ScoredRecord) []string {
	row := make([]string, 0, len(domain.RequiredColumns)+len(table.ExtraColumns)+len(domain.ResultColumns))
	row = append(row,
		r.TransactionID,
		formatNumber(r.Amount, r.Has(domain.MissingAmount)),
		r.Type,
		r.Location,
		r.Channel,
		r.DeviceID,
		r.MerchantID,
		formatNumber(r.CustomerAge, r.Has(domain.MissingCustomerAge)),
		r.CustomerOccupation,
		formatNumber(r.Duration, r.Has(domain.MissingDuration)),
		formatNumber(r.LoginAttempts, r.Has(domain.MissingLoginAttempts)),
		formatNumber(r.AccountBalance, r.Has(domain.MissingAccountBalance)),
		formatTime(r.TransactionDate, r.Has(domain.MissingTransactionDate)),
		formatTime(r.PreviousTransactionDate, r.Has(domain.MissingPreviousDate)),
	)
	for _, col := range table.ExtraColumns {
		row = append(row, r.Extra[col])
	}
	row = append(row,
		strconv.FormatFloat(r.AnomalyScore, 'f', -1, 64),
		strconv.FormatBool(r.IsFraud),
		strconv.FormatFloat(r.FraudProbability, 'f', -1, 64),
		r.FraudExplanation,
	)
	return row
}

func formatNumber(v float64, present bool) string {
	if !present {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatTime(t time.Time, present bool) string {
	if !present {
		return ""
	}
	return t.Format(TimeLayout)
}
