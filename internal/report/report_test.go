package report

import (
	"bytes"
	"math"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/fraudlens/internal/calibrate"
	"github.com/opensource-finance/fraudlens/internal/domain"
)

func day(d, h int) time.Time {
	return time.Date(2023, 4, d, h, 30, 0, 0, time.UTC)
}

func record(id string, amount float64, typ, loc, ch string, date time.Time, fraud bool, prob float64) domain.ScoredRecord {
	r := domain.ScoredRecord{
		TransactionRecord: domain.TransactionRecord{
			TransactionID:   id,
			Amount:          amount,
			Type:            typ,
			Location:        loc,
			Channel:         ch,
			TransactionDate: date,
			Extra:           map[string]string{"IP Address": "10.0.0.1"},
		},
		IsFraud:          fraud,
		FraudProbability: prob,
	}
	if fraud {
		r.AnomalyScore = -0.01
		r.FraudExplanation = "<div>x</div>"
	}
	return r
}

func sampleTable() *domain.ResultTable {
	t := &domain.ResultTable{
		RunID:        "run-1",
		Source:       "batch.csv",
		ExtraColumns: []string{"IP Address"},
		Records: []domain.ScoredRecord{
			record("TX1", 14.09, "Debit", "San Diego", "ATM", day(11, 16), false, 0.1),
			record("TX2", 376.24, "Debit", "Houston", "ATM", day(11, 9), true, 0.85),
			record("TX3", 126.29, "Credit", "Mesa", "Online", day(12, 10), true, 0.5),
			record("TX4", 184.5, "Debit", "Houston", "Branch", day(13, 8), true, 0.2),
			record("TX5", 92.15, "Credit", "Atlanta", "Online", day(13, 12), false, 0.05),
		},
	}
	contribs := func(amount, login float64) *domain.Attribution {
		c := make([]domain.Contribution, domain.NumFeatures)
		for i := range c {
			c[i] = domain.Contribution{Feature: domain.Feature(i)}
		}
		c[domain.FeatureAmount].Value = amount
		c[domain.FeatureLoginAttempts].Value = login
		return &domain.Attribution{Contributions: c}
	}
	t.Records[1].Attribution = contribs(2, -1)
	t.Records[2].Attribution = contribs(-4, 0.5)
	t.Records[3].Attribution = contribs(0, 3)
	t.FlaggedCount = 3
	return t
}

func ptr(v float64) *float64 { return &v }

func TestFilter(t *testing.T) {
	table := sampleTable()

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"All", Filter{}, []string{"TX1", "TX2", "TX3", "TX4", "TX5"}},
		{"FlaggedOnly", Filter{FlaggedOnly: true}, []string{"TX2", "TX3", "TX4"}},
		{"Type", Filter{FlaggedOnly: true, Type: "Credit"}, []string{"TX3"}},
		{"Locations", Filter{Locations: []string{"Houston", "Mesa"}}, []string{"TX2", "TX3", "TX4"}},
		{"Channels", Filter{Channels: []string{"Online"}}, []string{"TX3", "TX5"}},
		{"AmountRange", Filter{MinAmount: ptr(100), MaxAmount: ptr(200)}, []string{"TX3", "TX4"}},
		{"DateRangeInclusive", Filter{From: day(12, 23), To: day(13, 0)}, []string{"TX3", "TX4", "TX5"}},
		{"Tiers", Filter{Tiers: []calibrate.Tier{calibrate.TierHigh, calibrate.TierMedium}}, []string{"TX2", "TX3"}},
		{"FlaggedLowTier", Filter{FlaggedOnly: true, Tiers: []calibrate.Tier{calibrate.TierLow}}, []string{"TX4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := Apply(table, tt.filter)
			var got []string
			for _, r := range rows {
				got = append(got, r.TransactionID)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}

	t.Run("RiskTier", func(t *testing.T) {
		rows := Apply(table, Filter{FlaggedOnly: true})
		want := []calibrate.Tier{calibrate.TierHigh, calibrate.TierMedium, calibrate.TierLow}
		for i, r := range rows {
			if r.RiskTier != want[i] {
				t.Errorf("row %s: expected %s, got %s", r.TransactionID, want[i], r.RiskTier)
			}
		}
	})

	t.Run("Active", func(t *testing.T) {
		if (Filter{FlaggedOnly: true}).Active() {
			t.Error("flagged-only filter should not count as active")
		}
		if !(Filter{Channels: []string{"ATM"}}).Active() {
			t.Error("channel filter should be active")
		}
		if !(Filter{Tiers: []calibrate.Tier{calibrate.TierHigh}}).Active() {
			t.Error("tier filter should be active")
		}
	})
}

func TestParseFilter(t *testing.T) {
	q := url.Values{
		"flagged":   {"true"},
		"type":      {"Debit"},
		"location":  {"Houston,Mesa", "All"},
		"channel":   {"ATM"},
		"tier":      {"High, medium", "HIGH"},
		"minAmount": {"10"},
		"maxAmount": {"500.5"},
		"from":      {"2023-04-11"},
		"to":        {"2023-04-12"},
	}

	f, err := ParseFilter(q)
	if err != nil {
		t.Fatalf("ParseFilter failed: %v", err)
	}
	if !f.FlaggedOnly || f.Type != "Debit" {
		t.Errorf("unexpected filter %+v", f)
	}
	if len(f.Locations) != 2 || f.Locations[1] != "Mesa" {
		t.Errorf("expected two locations, got %v", f.Locations)
	}
	if len(f.Tiers) != 2 || f.Tiers[0] != calibrate.TierHigh || f.Tiers[1] != calibrate.TierMedium {
		t.Errorf("expected high and medium tiers, got %v", f.Tiers)
	}
	if *f.MinAmount != 10 || *f.MaxAmount != 500.5 {
		t.Errorf("unexpected amount range %v..%v", *f.MinAmount, *f.MaxAmount)
	}
	if !f.From.Equal(time.Date(2023, 4, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected from %v", f.From)
	}

	bad := []url.Values{
		{"flagged": {"maybe"}},
		{"minAmount": {"ten"}},
		{"minAmount": {"5"}, "maxAmount": {"1"}},
		{"from": {"yesterday"}},
		{"tier": {"critical"}},
	}
	for _, q := range bad {
		if _, err := ParseFilter(q); err == nil {
			t.Errorf("expected error for %v", q)
		}
	}
}

func TestComputeTrends(t *testing.T) {
	tr := ComputeTrends(sampleTable())

	if tr.Flagged != 3 {
		t.Errorf("expected 3 flagged, got %d", tr.Flagged)
	}

	t.Run("Daily", func(t *testing.T) {
		want := []DailyCount{{"2023-04-11", 1}, {"2023-04-12", 1}, {"2023-04-13", 1}}
		if len(tr.Daily) != len(want) {
			t.Fatalf("expected %d days, got %v", len(want), tr.Daily)
		}
		for i := range want {
			if tr.Daily[i] != want[i] {
				t.Errorf("day %d: expected %v, got %v", i, want[i], tr.Daily[i])
			}
		}
	})

	t.Run("ByLocation", func(t *testing.T) {
		if tr.ByLocation[0] != (LocationCount{"Houston", 2}) {
			t.Errorf("expected Houston first, got %v", tr.ByLocation)
		}
		if tr.ByLocation[1].Location != "Mesa" {
			t.Errorf("expected Mesa second, got %v", tr.ByLocation)
		}
	})

	t.Run("Importance", func(t *testing.T) {
		// amount: (2+4+0)/3 = 2, login: (1+0.5+3)/3 = 1.5
		if tr.Importance[0].Feature != domain.FeatureAmount || math.Abs(tr.Importance[0].MeanAbs-2) > 1e-12 {
			t.Errorf("expected amount first with 2, got %+v", tr.Importance[0])
		}
		if tr.Importance[1].Feature != domain.FeatureLoginAttempts || math.Abs(tr.Importance[1].MeanAbs-1.5) > 1e-12 {
			t.Errorf("expected login attempts second with 1.5, got %+v", tr.Importance[1])
		}
		if len(tr.Importance) != domain.NumFeatures {
			t.Errorf("expected every feature, got %d", len(tr.Importance))
		}
	})

	t.Run("NoFlagged", func(t *testing.T) {
		tr := ComputeTrends(&domain.ResultTable{RunID: "empty"})
		if tr.Flagged != 0 || len(tr.Daily) != 0 || tr.Importance == nil {
			t.Errorf("unexpected trends %+v", tr)
		}
	})
}

func TestFormat(t *testing.T) {
	amounts := map[float64]string{
		0:          "Rs.0.00",
		14.09:      "Rs.14.09",
		1234.5:     "Rs.1,234.50",
		500000:     "Rs.500,000.00",
		1234567.89: "Rs.1,234,567.89",
		-2500:      "Rs.-2,500.00",
	}
	for v, want := range amounts {
		if got := FormatAmount(v); got != want {
			t.Errorf("FormatAmount(%v) = %s, want %s", v, got, want)
		}
	}

	percents := map[float64]string{0: "0.00%", 0.5: "50.00%", 0.12345: "12.35%", 1: "100.00%"}
	for v, want := range percents {
		if got := FormatPercent(v); got != want {
			t.Errorf("FormatPercent(%v) = %s, want %s", v, got, want)
		}
	}

	colors := map[float64]string{0.1: "#FFFF99", 0.3: "#FFCC66", 0.69: "#FFCC66", 0.7: "#FF6666"}
	for p, want := range colors {
		if got := string(ProbabilityColor(p)); got != want {
			t.Errorf("ProbabilityColor(%v) = %s, want %s", p, got, want)
		}
	}
}

func TestWriteHTML(t *testing.T) {
	table := sampleTable()
	rows := Apply(table, Filter{FlaggedOnly: true})

	t.Run("Columns", func(t *testing.T) {
		cols := Columns(table, []string{"Location", "TransactionID", "Bogus", "IP Address"})
		want := "TransactionID,TransactionAmount,TransactionDate,FraudProbability,Location,IP Address"
		if strings.Join(cols, ",") != want {
			t.Errorf("expected %s, got %v", want, cols)
		}
	})

	t.Run("Render", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteHTML(&buf, table, rows, Options{Highlight: []string{"Location"}}); err != nil {
			t.Fatalf("WriteHTML failed: %v", err)
		}
		out := buf.String()

		for _, want := range []string{
			DefaultTitle,
			"Rs.376.24",
			"85.00%",
			"2023-04-11",
			"#FF6666",
			"#FFCC66",
			"#E6E6E6",
			"<th style=\"background-color: #FFFF99\">Location</th>",
			"<td style=\"background-color: #FFFF99\">Houston</td>",
		} {
			if !strings.Contains(out, want) {
				t.Errorf("expected report to contain %q", want)
			}
		}
		if strings.Contains(out, "TX1") {
			t.Error("unflagged row should not be in the report")
		}
		if strings.Count(out, "<tr>") != 4 {
			t.Errorf("expected header and 3 rows, got %d", strings.Count(out, "<tr>"))
		}
	})

	t.Run("Empty", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WriteHTML(&buf, table, nil, Options{Title: "April"}); err != nil {
			t.Fatalf("WriteHTML failed: %v", err)
		}
		if !strings.Contains(buf.String(), NoFraudMessage) || !strings.Contains(buf.String(), "April") {
			t.Error("expected empty report message and custom title")
		}
	})
}

func TestHighlightWithSpaces(t *testing.T) {
	table := sampleTable()
	rows := Apply(table, Filter{FlaggedOnly: true})

	var buf bytes.Buffer
	if err := WriteHTML(&buf, table, rows, Options{Highlight: []string{"Location", " Channel "}}); err != nil {
		t.Fatalf("WriteHTML failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"<th style=\"background-color: #FFFF99\">Channel</th>",
		"<td style=\"background-color: #FFFF99\">Branch</td>",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected report to contain %q", want)
		}
	}
}

func TestBuildSheet(t *testing.T) {
	table := sampleTable()
	rows := Apply(table, Filter{FlaggedOnly: true})
	s := buildSheet(table, rows, Options{Highlight: []string{" Location", "TransactionID"}})

	if s.Title != DefaultTitle {
		t.Errorf("expected default title, got %q", s.Title)
	}

	headers := map[string]Color{
		"TransactionID":     ColorHighlight,
		"TransactionAmount": ColorHeader,
		"FraudProbability":  ColorHeader,
		"Location":          ColorHighlight,
	}
	for _, c := range s.Columns {
		if want, ok := headers[c.Value]; ok && c.Color != want {
			t.Errorf("header %s: expected %s, got %s", c.Value, want, c.Color)
		}
	}
	if len(s.Columns) != 5 || len(s.Rows) != 3 {
		t.Fatalf("expected 5 columns and 3 rows, got %d and %d", len(s.Columns), len(s.Rows))
	}

	// TX2, TX3, TX4 with probabilities 0.85, 0.5, 0.2
	want := [][]cell{
		{{"TX2", ColorHighlight}, {"Rs.376.24", ColorCell}, {"2023-04-11", ColorCell}, {"85.00%", ColorHighRisk}, {"Houston", ColorHighlight}},
		{{"TX3", ColorHighlight}, {"Rs.126.29", ColorCell}, {"2023-04-12", ColorCell}, {"50.00%", ColorMediumRisk}, {"Mesa", ColorHighlight}},
		{{"TX4", ColorHighlight}, {"Rs.184.50", ColorCell}, {"2023-04-13", ColorCell}, {"20.00%", ColorLowRisk}, {"Houston", ColorHighlight}},
	}
	for i, row := range want {
		for j, c := range row {
			if got := s.Rows[i][j]; got != c {
				t.Errorf("row %d col %d: expected %+v, got %+v", i, j, c, got)
			}
		}
	}
}

func TestColorRGB(t *testing.T) {
	tests := map[Color][3]int{
		ColorLowRisk:    {255, 255, 153},
		ColorMediumRisk: {255, 204, 102},
		ColorHighRisk:   {255, 102, 102},
		ColorHeader:     {230, 230, 230},
		ColorCell:       {255, 255, 255},
	}
	for c, want := range tests {
		r, g, b := c.RGB()
		if [3]int{r, g, b} != want {
			t.Errorf("%s.RGB() = %d,%d,%d, want %v", c, r, g, b, want)
		}
	}
}

func TestWritePDF(t *testing.T) {
	table := sampleTable()
	rows := Apply(table, Filter{FlaggedOnly: true})
	opts := Options{Highlight: []string{"Location"}}

	t.Run("Compressed", func(t *testing.T) {
		var buf bytes.Buffer
		if err := WritePDF(&buf, table, rows, opts); err != nil {
			t.Fatalf("WritePDF failed: %v", err)
		}
		if !bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")) {
			t.Error("expected a PDF document")
		}
	})

	t.Run("Cells", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writePDF(&buf, buildSheet(table, rows, opts), false); err != nil {
			t.Fatalf("writePDF failed: %v", err)
		}
		out := buf.String()

		for _, want := range []string{
			"(" + DefaultTitle + ") Tj",
			"(TransactionID) Tj",
			"(Rs.376.24) Tj",
			"(85.00%) Tj",
			"(2023-04-11) Tj",
			"(Houston) Tj",
			"1.000 0.400 0.400 rg", // high risk
			"1.000 0.800 0.400 rg", // medium risk
			"1.000 1.000 0.600 rg", // low risk and highlight
			"0.902 g",              // plain header
		} {
			if !strings.Contains(out, want) {
				t.Errorf("expected PDF content to contain %q", want)
			}
		}
		if strings.Contains(out, "(TX1) Tj") {
			t.Error("unflagged row should not be in the report")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		var buf bytes.Buffer
		if err := writePDF(&buf, buildSheet(table, nil, Options{}), false); err != nil {
			t.Fatalf("writePDF failed: %v", err)
		}
		if !strings.Contains(buf.String(), "("+NoFraudMessage+") Tj") {
			t.Error("expected empty report message")
		}
	})
}
