// Package dataset reads transaction batches from delimited text and writes
// scored result tables back out.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Accepted timestamp layouts, tried in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04",
}

// Dataset is a parsed batch plus the columns that were not part of the model input.
type Dataset struct {
	Records []domain.TransactionRecord

	// ExtraColumns lists additional header names in input order.
	ExtraColumns []string
}

type options struct {
	delimiter rune
	maxRows   int
}

// Option configures the reader.
type Option func(*options)

// WithDelimiter sets the field separator. Default is ','.
func WithDelimiter(d rune) Option {
	return func(o *options) { o.delimiter = d }
}

// WithMaxRows rejects datasets with more than n data rows. Zero disables the check.
func WithMaxRows(n int) Option {
	return func(o *options) { o.maxRows = n }
}

// Read parses delimited text with a header row into transaction records.
func Read(r io.Reader, opts ...Option) ([]domain.TransactionRecord, error) {
	ds, err := Load(r, opts...)
	if err != nil {
		return nil, err
	}
	return ds.Records, nil
}

// Load parses delimited text and keeps track of extra columns.
func Load(r io.Reader, opts ...Option) (*Dataset, error) {
	o := options{delimiter: ','}
	for _, opt := range opts {
		opt(&o)
	}

	reader := csv.NewReader(r)
	reader.Comma = o.delimiter
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, &domain.DataError{Op: "dataset.Read", Msg: "input is empty"}
	}
	if err != nil {
		return nil, &domain.DataError{Op: "dataset.Read", Msg: "failed to read header", Err: err}
	}

	colIndex := make(map[string]int, len(header))
	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		header[i] = col
		if _, dup := colIndex[col]; dup {
			return nil, &domain.DataError{Op: "dataset.Read", Column: col, Msg: "duplicate column"}
		}
		colIndex[col] = i
	}

	if err := checkColumns(colIndex); err != nil {
		return nil, err
	}

	ds := &Dataset{ExtraColumns: extraColumns(header)}

	for row := 1; ; row++ {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &domain.DataError{Op: "dataset.Read", Row: row, Msg: "malformed row", Err: err}
		}
		if o.maxRows > 0 && row > o.maxRows {
			return nil, &domain.DataError{Op: "dataset.Read", Msg: fmt.Sprintf("dataset exceeds %d rows", o.maxRows)}
		}

		rec, err := parseRecord(row, func(col string) string {
			return fields[colIndex[col]]
		})
		if err != nil {
			return nil, err
		}

		if len(ds.ExtraColumns) > 0 {
			rec.Extra = make(map[string]string, len(ds.ExtraColumns))
			for _, col := range ds.ExtraColumns {
				rec.Extra[col] = fields[colIndex[col]]
			}
		}

		ds.Records = append(ds.Records, rec)
	}

	return ds, nil
}

// FromMaps converts header-keyed rows into records, applying the same column
// checks and parsing rules as Read. Unknown keys become extras in sorted order.
func FromMaps(rows []map[string]string) (*Dataset, error) {
	present := make(map[string]int)
	for _, row := range rows {
		for k := range row {
			present[k]++
		}
	}
	if len(rows) > 0 {
		if err := checkColumns(present); err != nil {
			return nil, err
		}
	}

	var extras []string
	for k := range present {
		if !isRequired(k) {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)

	ds := &Dataset{ExtraColumns: extras, Records: make([]domain.TransactionRecord, 0, len(rows))}
	for i, row := range rows {
		rowNum := i + 1
		for _, col := range domain.RequiredColumns {
			if _, ok := row[col]; !ok {
				return nil, &domain.DataError{Op: "dataset.FromMaps", Row: rowNum, Column: col, Msg: "missing column"}
			}
		}

		rec, err := parseRecord(rowNum, func(col string) string { return row[col] })
		if err != nil {
			return nil, err
		}
		if len(extras) > 0 {
			rec.Extra = make(map[string]string, len(extras))
			for _, col := range extras {
				rec.Extra[col] = row[col]
			}
		}
		ds.Records = append(ds.Records, rec)
	}
	return ds, nil
}

func checkColumns(present map[string]int) error {
	var missing []string
	for _, col := range domain.RequiredColumns {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &domain.DataError{
			Op:     "dataset.Read",
			Column: strings.Join(missing, ","),
			Msg:    "missing required column",
		}
	}
	return nil
}

func isRequired(col string) bool {
	for _, c := range domain.RequiredColumns {
		if c == col {
			return true
		}
	}
	return false
}

func extraColumns(header []string) []string {
	var out []string
	for _, col := range header {
		if !isRequired(col) {
			out = append(out, col)
		}
	}
	return out
}

// parseRecord builds one record from a column getter.
func parseRecord(row int, get func(col string) string) (domain.TransactionRecord, error) {
	rec := domain.TransactionRecord{
		TransactionID:      strings.TrimSpace(get(domain.ColTransactionID)),
		Type:               strings.TrimSpace(get(domain.ColTransactionType)),
		Location:           strings.TrimSpace(get(domain.ColLocation)),
		Channel:            strings.TrimSpace(get(domain.ColChannel)),
		DeviceID:           strings.TrimSpace(get(domain.ColDeviceID)),
		MerchantID:         strings.TrimSpace(get(domain.ColMerchantID)),
		CustomerOccupation: strings.TrimSpace(get(domain.ColCustomerOccupation)),
	}

	numeric := []struct {
		col  string
		dst  *float64
		flag domain.MissingField
	}{
		{domain.ColTransactionAmount, &rec.Amount, domain.MissingAmount},
		{domain.ColCustomerAge, &rec.CustomerAge, domain.MissingCustomerAge},
		{domain.ColTransactionDuration, &rec.Duration, domain.MissingDuration},
		{domain.ColLoginAttempts, &rec.LoginAttempts, domain.MissingLoginAttempts},
		{domain.ColAccountBalance, &rec.AccountBalance, domain.MissingAccountBalance},
	}
	for _, n := range numeric {
		v, ok, err := parseNumber(get(n.col))
		if err != nil {
			return rec, &domain.DataError{Op: "dataset.Read", Row: row, Column: n.col, Msg: "invalid number", Err: err}
		}
		if !ok {
			rec.Missing |= n.flag
			continue
		}
		*n.dst = v
	}

	dates := []struct {
		col  string
		dst  *time.Time
		flag domain.MissingField
	}{
		{domain.ColTransactionDate, &rec.TransactionDate, domain.MissingTransactionDate},
		{domain.ColPreviousTransactionDate, &rec.PreviousTransactionDate, domain.MissingPreviousDate},
	}
	for _, d := range dates {
		t, ok, err := ParseTime(get(d.col))
		if err != nil {
			return rec, &domain.DataError{Op: "dataset.Read", Row: row, Column: d.col, Msg: "invalid timestamp", Err: err}
		}
		if !ok {
			rec.Missing |= d.flag
			continue
		}
		*d.dst = t
	}

	return rec, nil
}

var errNonFinite = errors.New("value is not finite")

// parseNumber returns ok == false for blank or NaN-like cells.
func parseNumber(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if isBlank(s) {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false, errNonFinite
	}
	return v, true, nil
}

// ParseTime parses a timestamp in any accepted layout. Blank input yields ok == false.
func ParseTime(s string) (time.Time, bool, error) {
	s = strings.TrimSpace(s)
	if isBlank(s) {
		return time.Time{}, false, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true, nil
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognised timestamp %q", s)
}

func isBlank(s string) bool {
	switch strings.ToLower(s) {
	case "", "nan", "na", "null", "none":
		return true
	}
	return false
}
