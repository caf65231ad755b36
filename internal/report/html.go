package report

import (
	"fmt"
	"html/template"
	"io"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/fraudlens/internal/calibrate"
	"github.com/opensource-finance/fraudlens/internal/dataset"
	"github.com/opensource-finance/fraudlens/internal/domain"
)

// Color is a report fill colour in #RRGGBB form.
type Color string

// Report colours.
const (
	ColorLowRisk    Color = "#FFFF99"
	ColorMediumRisk Color = "#FFCC66"
	ColorHighRisk   Color = "#FF6666"
	ColorHighlight  Color = "#FFFF99"
	ColorHeader     Color = "#E6E6E6"
	ColorCell       Color = "#FFFFFF"
)

// CSS returns c for use in a style attribute.
func (c Color) CSS() template.CSS { return template.CSS(c) }

// RGB returns the colour components of c.
func (c Color) RGB() (r, g, b int) {
	fmt.Sscanf(string(c), "#%02x%02x%02x", &r, &g, &b)
	return r, g, b
}

// DefaultTitle heads every report unless overridden.
const DefaultTitle = "Fraud Detection Report"

// NoFraudMessage is shown when a report has no rows.
const NoFraudMessage = "No frauds detected in the uploaded dataset."

// CoreColumns are always present, in this order.
var CoreColumns = []string{
	domain.ColTransactionID,
	domain.ColTransactionAmount,
	domain.ColTransactionDate,
	domain.ColFraudProbability,
}

// Options customise the HTML and PDF reports.
type Options struct {
	Title     string
	Highlight []string
}

type cell struct {
	Value string
	Color Color
}

// sheet is a rendered report grid shared by the HTML and PDF writers.
type sheet struct {
	Title   string
	RunID   string
	Source  string
	Columns []cell
	Rows    [][]cell
	Empty   string
}

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: Arial, sans-serif; font-size: 10pt; }
h1 { text-align: center; font-size: 14pt; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #000; padding: 4px 6px; text-align: left; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p>Run {{.RunID}}{{if .Source}} ({{.Source}}){{end}}</p>
{{- if .Rows}}
<table>
<thead><tr>{{range .Columns}}<th style="background-color: {{.Color.CSS}}">{{.Value}}</th>{{end}}</tr></thead>
<tbody>
{{- range .Rows}}
<tr>{{range .}}<td style="background-color: {{.Color.CSS}}">{{.Value}}</td>{{end}}</tr>
{{- end}}
</tbody>
</table>
{{- else}}
<p>{{.Empty}}</p>
{{- end}}
</body>
</html>
`))

// Columns returns the report columns: the core columns followed by each
// highlighted column that exists in the table and is not already present.
func Columns(table *domain.ResultTable, highlight []string) []string {
	known := dataset.Header(table)
	cols := slices.Clone(CoreColumns)
	for _, h := range trimNames(highlight) {
		if slices.Contains(cols, h) || !slices.Contains(known, h) {
			continue
		}
		cols = append(cols, h)
	}
	return cols
}

// trimNames drops surrounding space and empty entries from column names.
func trimNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// WriteHTML renders rows of table as an HTML report.
func WriteHTML(w io.Writer, table *domain.ResultTable, rows []Row, opts Options) error {
	if err := reportTemplate.Execute(w, buildSheet(table, rows, opts)); err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	return nil
}

// buildSheet formats and colours the report cells. Highlighted headers and
// cells are yellow, other headers grey; FraudProbability cells take the
// colour of their risk tier.
func buildSheet(table *domain.ResultTable, rows []Row, opts Options) sheet {
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	highlight := trimNames(opts.Highlight)

	cols := Columns(table, highlight)
	header := dataset.Header(table)
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[h] = i
	}

	s := sheet{
		Title:  title,
		RunID:  table.RunID,
		Source: table.Source,
		Empty:  NoFraudMessage,
	}
	for _, c := range cols {
		color := ColorHeader
		if slices.Contains(highlight, c) {
			color = ColorHighlight
		}
		s.Columns = append(s.Columns, cell{Value: c, Color: color})
	}

	for i := range rows {
		r := &rows[i].ScoredRecord
		raw := dataset.Row(table, r)
		line := make([]cell, 0, len(cols))
		for _, c := range cols {
			v := cell{Value: raw[index[c]], Color: ColorCell}
			switch c {
			case domain.ColTransactionAmount:
				if r.Has(domain.MissingAmount) {
					v.Value = FormatAmount(r.Amount)
				}
			case domain.ColFraudProbability:
				v.Value = FormatPercent(r.FraudProbability)
				v.Color = ProbabilityColor(r.FraudProbability)
			case domain.ColTransactionDate:
				if r.Has(domain.MissingTransactionDate) {
					v.Value = r.TransactionDate.Format(DateLayout)
				}
			case domain.ColPreviousTransactionDate:
				if r.Has(domain.MissingPreviousDate) {
					v.Value = r.PreviousTransactionDate.Format(DateLayout)
				}
			}
			if c != domain.ColFraudProbability && slices.Contains(highlight, c) {
				v.Color = ColorHighlight
			}
			line = append(line, v)
		}
		s.Rows = append(s.Rows, line)
	}
	return s
}

// ProbabilityColor is the FraudProbability cell colour for p.
func ProbabilityColor(p float64) Color {
	switch calibrate.RiskTier(p) {
	case calibrate.TierLow:
		return ColorLowRisk
	case calibrate.TierMedium:
		return ColorMediumRisk
	default:
		return ColorHighRisk
	}
}

// FormatAmount renders v as rupees with thousands separators, e.g. Rs.1,234.56.
func FormatAmount(v float64) string {
	s := decimal.NewFromFloat(v).StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, d := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	return "Rs." + sign + b.String() + "." + frac
}

// FormatPercent renders a probability as a percentage with two decimals.
func FormatPercent(p float64) string {
	return decimal.NewFromFloat(p).Shift(2).StringFixed(2) + "%"
}
