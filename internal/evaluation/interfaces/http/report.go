package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"

	evaluation "mabis-registry/internal/evaluation/domain"
	timeseries "mabis-registry/internal/timeseries/domain"
)

// BuildCalculationPDF renders a calculation report. A nil result is valid
// for scalar calculations.
func BuildCalculationPDF(calc *evaluation.Calculation, result *timeseries.TimeSeries) ([]byte, error) {
	if calc == nil {
		return nil, evaluation.ErrNilCalculation
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Formula Calculation Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Calculation: %s", calc.CalculationID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Formula: %s v%d", calc.FormulaID, calc.FormulaVersion))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", calc.Status))
	pdf.Ln(5)
	if !calc.Period.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Period: %s to %s",
			calc.Period.Start.Format(time.RFC3339), calc.Period.End.Format(time.RFC3339)))
		pdf.Ln(5)
	}
	if calc.RequestedBy != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Requested by: %s", calc.RequestedBy))
		pdf.Ln(5)
	}
	if !calc.CompletedAt.IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Completed: %s", calc.CompletedAt.Format(time.RFC3339)))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	if calc.ResultValue != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Result: %s", calc.ResultValue))
		pdf.Ln(5)
	}

	if result != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Result series: %s (%s, %s)", result.TimeSeriesID, result.Unit, result.Resolution))
		pdf.Ln(8)

		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(20, 6, "Pos", "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 6, "Start", "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, "Quantity", "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, "Quality", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, interval := range result.Intervals {
			pdf.CellFormat(20, 6, fmt.Sprintf("%d", interval.Position), "1", 0, "C", false, 0, "")
			pdf.CellFormat(55, 6, interval.Start.Format(time.RFC3339), "1", 0, "C", false, 0, "")
			pdf.CellFormat(40, 6, interval.Quantity.String(), "1", 0, "R", false, 0, "")
			pdf.CellFormat(35, 6, interval.Quality, "1", 0, "C", false, 0, "")
			pdf.Ln(-1)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
