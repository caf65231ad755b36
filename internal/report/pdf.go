package report

import (
	"fmt"
	"io"

	"github.com/go-pdf/fpdf"

	"github.com/opensource-finance/fraudlens/internal/domain"
)

// PDF layout in millimetres on landscape A4.
const (
	pdfTableWidth = 277.0
	pdfRowHeight  = 10.0
	pdfTitleSpace = 4.0
)

// WritePDF renders rows of table as a landscape A4 PDF report with equal
// column widths. Cell colours and formats match WriteHTML.
func WritePDF(w io.Writer, table *domain.ResultTable, rows []Row, opts Options) error {
	return writePDF(w, buildSheet(table, rows, opts), true)
}

func writePDF(w io.Writer, s sheet, compress bool) error {
	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetCompression(compress)
	pdf.SetTitle(s.Title, true)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, pdfRowHeight, tr(s.Title), "", 1, "C", false, 0, "")
	pdf.Ln(pdfTitleSpace)
	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(0, 0, 0)

	if len(s.Rows) == 0 {
		pdf.CellFormat(0, pdfRowHeight, tr(s.Empty), "", 1, "C", false, 0, "")
	} else {
		width := pdfTableWidth / float64(len(s.Columns))
		line := func(cells []cell) {
			for _, c := range cells {
				pdf.SetFillColor(c.Color.RGB())
				pdf.CellFormat(width, pdfRowHeight, tr(c.Value), "1", 0, "", true, 0, "")
			}
			pdf.Ln(-1)
		}
		line(s.Columns)
		for _, row := range s.Rows {
			line(row)
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render pdf report: %w", err)
	}
	return nil
}
