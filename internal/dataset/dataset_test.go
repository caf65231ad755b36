package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

const header = "TransactionID,TransactionAmount,TransactionType,Location,Channel,DeviceID,MerchantID,CustomerAge,CustomerOccupation,TransactionDuration,LoginAttempts,AccountBalance,TransactionDate,PreviousTransactionDate"

func TestRead(t *testing.T) {
	t.Run("ParsesRows", func(t *testing.T) {
		input := header + "\n" +
			"TX000001,14.09,Debit,San Diego,ATM,D000380,M015,70,Doctor,81,1,5112.21,2023-04-11 16:29:14,2024-11-04 08:08:08\n" +
			"TX000002,376.24,Debit,Houston,ATM,D000051,M052,68,Doctor,141,1,13758.91,2023-06-27 16:44:19,2024-11-04 08:09:35\n"

		records, err := Read(strings.NewReader(input))
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}

		r := records[0]
		if r.TransactionID != "TX000001" {
			t.Errorf("expected TX000001, got %s", r.TransactionID)
		}
		if r.Amount != 14.09 {
			t.Errorf("expected amount 14.09, got %.2f", r.Amount)
		}
		if r.Location != "San Diego" {
			t.Errorf("expected San Diego, got %s", r.Location)
		}
		if r.Missing != 0 {
			t.Errorf("expected no missing fields, got %b", r.Missing)
		}
		if r.TransactionDate.Year() != 2023 || r.TransactionDate.Hour() != 16 {
			t.Errorf("unexpected TransactionDate %v", r.TransactionDate)
		}
		diff, ok := r.TimeDiff()
		if !ok {
			t.Fatal("expected TimeDiff to be available")
		}
		if diff >= 0 {
			t.Errorf("expected negative TimeDiff for previous date after current, got %f", diff)
		}
	})

	t.Run("BlankCellsAreMissing", func(t *testing.T) {
		input := header + "\n" +
			"TX1,,Debit,,ATM,D1,M1,,Doctor,81,1,,2023-04-11 16:29:14,\n"

		records, err := Read(strings.NewReader(input))
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		r := records[0]
		if r.Has(domain.MissingAmount) {
			t.Error("expected amount to be missing")
		}
		if r.Has(domain.MissingAccountBalance) {
			t.Error("expected balance to be missing")
		}
		if r.Has(domain.MissingPreviousDate) {
			t.Error("expected previous date to be missing")
		}
		if !r.Has(domain.MissingDuration) {
			t.Error("expected duration to be present")
		}
		if _, ok := r.TimeDiff(); ok {
			t.Error("expected TimeDiff to be unavailable")
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		h := strings.Replace(header, ",AccountBalance", "", 1)
		input := h + "\nTX1,10,Debit,X,ATM,D1,M1,30,Doctor,81,1,2023-04-11 16:29:14,2023-04-10 16:29:14\n"

		records, err := Read(strings.NewReader(input))
		if err == nil {
			t.Fatal("expected error for missing column")
		}
		if records != nil {
			t.Error("expected nil records on error")
		}
		if !errors.Is(err, domain.ErrData) {
			t.Errorf("expected DataError, got %v", err)
		}
		var de *domain.DataError
		if !errors.As(err, &de) || de.Column != domain.ColAccountBalance {
			t.Errorf("expected column AccountBalance in error, got %v", err)
		}
	})

	t.Run("InvalidNumber", func(t *testing.T) {
		input := header + "\nTX1,abc,Debit,X,ATM,D1,M1,30,Doctor,81,1,100,2023-04-11,2023-04-10\n"

		_, err := Read(strings.NewReader(input))
		var de *domain.DataError
		if !errors.As(err, &de) {
			t.Fatalf("expected DataError, got %v", err)
		}
		if de.Row != 1 || de.Column != domain.ColTransactionAmount {
			t.Errorf("expected row 1 TransactionAmount, got row %d column %s", de.Row, de.Column)
		}
	})

	t.Run("InvalidTimestamp", func(t *testing.T) {
		input := header + "\nTX1,10,Debit,X,ATM,D1,M1,30,Doctor,81,1,100,yesterday,2023-04-10\n"

		_, err := Read(strings.NewReader(input))
		if !errors.Is(err, domain.ErrData) {
			t.Errorf("expected DataError, got %v", err)
		}
	})

	t.Run("Delimiter", func(t *testing.T) {
		input := strings.ReplaceAll(header, ",", ";") + "\nTX1;10;Debit;X;ATM;D1;M1;30;Doctor;81;1;100;2023-04-11;2023-04-10\n"

		records, err := Read(strings.NewReader(input), WithDelimiter(';'))
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if records[0].AccountBalance != 100 {
			t.Errorf("expected balance 100, got %f", records[0].AccountBalance)
		}
	})

	t.Run("MaxRows", func(t *testing.T) {
		row := "TX1,10,Debit,X,ATM,D1,M1,30,Doctor,81,1,100,2023-04-11,2023-04-10\n"
		input := header + "\n" + row + row + row

		_, err := Read(strings.NewReader(input), WithMaxRows(2))
		if !errors.Is(err, domain.ErrData) {
			t.Errorf("expected DataError, got %v", err)
		}
	})

	t.Run("EmptyInput", func(t *testing.T) {
		_, err := Read(strings.NewReader(""))
		if !errors.Is(err, domain.ErrData) {
			t.Errorf("expected DataError, got %v", err)
		}
	})
}

func TestLoadExtraColumns(t *testing.T) {
	input := "Note," + header + ",Region\n" +
		"vip,TX1,10,Debit,X,ATM,D1,M1,30,Doctor,81,1,100,2023-04-11,2023-04-10,west\n"

	ds, err := Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(ds.ExtraColumns) != 2 || ds.ExtraColumns[0] != "Note" || ds.ExtraColumns[1] != "Region" {
		t.Fatalf("expected extras [Note Region], got %v", ds.ExtraColumns)
	}
	if ds.Records[0].Extra["Region"] != "west" {
		t.Errorf("expected Region=west, got %q", ds.Records[0].Extra["Region"])
	}
}

func TestFromMaps(t *testing.T) {
	row := map[string]string{
		domain.ColTransactionID:           "TX1",
		domain.ColTransactionAmount:       "250.5",
		domain.ColTransactionType:         "Credit",
		domain.ColLocation:                "Austin",
		domain.ColChannel:                 "Online",
		domain.ColDeviceID:                "D1",
		domain.ColMerchantID:              "M1",
		domain.ColCustomerAge:             "41",
		domain.ColCustomerOccupation:      "Engineer",
		domain.ColTransactionDuration:     "30",
		domain.ColLoginAttempts:           "1",
		domain.ColAccountBalance:          "9000",
		domain.ColTransactionDate:         "2023-04-11 10:00:00",
		domain.ColPreviousTransactionDate: "2023-04-11 09:59:00",
	}

	t.Run("Valid", func(t *testing.T) {
		ds, err := FromMaps([]map[string]string{row})
		if err != nil {
			t.Fatalf("FromMaps failed: %v", err)
		}
		diff, _ := ds.Records[0].TimeDiff()
		if diff != 60 {
			t.Errorf("expected TimeDiff 60, got %f", diff)
		}
	})

	t.Run("MissingColumn", func(t *testing.T) {
		bad := make(map[string]string, len(row))
		for k, v := range row {
			bad[k] = v
		}
		delete(bad, domain.ColAccountBalance)

		_, err := FromMaps([]map[string]string{bad})
		if !errors.Is(err, domain.ErrData) {
			t.Errorf("expected DataError, got %v", err)
		}
	})
}

func TestWriteResults(t *testing.T) {
	input := header + ",Region\n" +
		"TX1,10.5,Debit,X,ATM,D1,M1,30,Doctor,81,1,,2023-04-11 10:00:00,2023-04-10 10:00:00,west\n"
	ds, err := Load(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	table := &domain.ResultTable{
		ExtraColumns: ds.ExtraColumns,
		Records: []domain.ScoredRecord{{
			TransactionRecord: ds.Records[0],
			AnomalyScore:      -0.12,
			IsFraud:           true,
			FraudProbability:  0.9,
			FraudExplanation:  "<div>x</div>",
		}},
	}

	var buf bytes.Buffer
	if err := WriteResults(&buf, table); err != nil {
		t.Fatalf("WriteResults failed: %v", err)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("output is not valid CSV: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d", len(rows))
	}

	want := len(domain.RequiredColumns) + 1 + len(domain.ResultColumns)
	if len(rows[0]) != want {
		t.Fatalf("expected %d columns, got %d", want, len(rows[0]))
	}
	if rows[0][len(domain.RequiredColumns)] != "Region" {
		t.Errorf("expected extra column after inputs, got %s", rows[0][len(domain.RequiredColumns)])
	}

	got := make(map[string]string)
	for i, col := range rows[0] {
		got[col] = rows[1][i]
	}
	if got[domain.ColAccountBalance] != "" {
		t.Errorf("expected blank balance, got %q", got[domain.ColAccountBalance])
	}
	if got[domain.ColIsFraud] != "true" {
		t.Errorf("expected IsFraud true, got %q", got[domain.ColIsFraud])
	}
	if got[domain.ColAnomalyScore] != "-0.12" {
		t.Errorf("expected AnomalyScore -0.12, got %q", got[domain.ColAnomalyScore])
	}
	if got["Region"] != "west" {
		t.Errorf("expected Region west, got %q", got["Region"])
	}
	if got[domain.ColTransactionDate] != "2023-04-11 10:00:00" {
		t.Errorf("unexpected TransactionDate %q", got[domain.ColTransactionDate])
	}
}
