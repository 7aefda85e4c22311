// Package xlsx exports permit summaries and fee estimates as Excel workbooks.
package xlsx

import (
	"fmt"
	"io"
	"strconv"

	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/tealeg/xlsx/v2"
)

// Sheet names. Excel limits them to 31 characters.
const (
	SheetPermitTypes     = "Permit Types"
	SheetStatuses        = "Statuses"
	SheetYears           = "Years"
	SheetValuationFees   = "Valuation vs Fees"
	SheetAverageFee      = "Average Fee"
	SheetAverageSqFt     = "Average Square Feet"
	SheetDurations       = "Duration"
	SheetEstimate        = "Estimate"
	SheetNeighbors       = "Comparable Permits"
)

// Workbook accumulates summary and estimate sheets before writing them out.
type Workbook struct {
	file *xlsx.File
}

// NewWorkbook creates an empty workbook.
func NewWorkbook() *Workbook {
	return &Workbook{file: xlsx.NewFile()}
}

// AddSummary adds one sheet per summary table.
func (b *Workbook) AddSummary(s domain.Summary) error {
	if err := b.labelCounts(SheetPermitTypes, "Permit Type", s.PermitTypeCounts); err != nil {
		return err
	}
	if err := b.labelCounts(SheetStatuses, "Status", s.StatusCounts); err != nil {
		return err
	}

	years, err := b.sheet(SheetYears, "Year", "Permits")
	if err != nil {
		return err
	}
	for _, y := range s.YearCounts {
		row := years.AddRow()
		row.AddCell().SetInt(y.Year)
		row.AddCell().SetInt(y.Count)
	}

	points, err := b.sheet(SheetValuationFees, "Valuation", "Fees Paid")
	if err != nil {
		return err
	}
	for _, p := range s.ValuationFeePoints {
		row := points.AddRow()
		row.AddCell().SetFloat(p.Valuation)
		row.AddCell().SetFloat(p.FeesPaid)
	}

	if err := b.labelAverages(SheetAverageFee, "Average Fee", s.AverageFeeByType); err != nil {
		return err
	}
	if err := b.labelAverages(SheetAverageSqFt, "Average Square Feet", s.AverageSquareFeetByType); err != nil {
		return err
	}

	durations, err := b.sheet(SheetDurations, "Permit Type", "Permits", "Min", "Q1", "Median", "Q3", "Max", "Mean")
	if err != nil {
		return err
	}
	for _, d := range s.DurationByType {
		row := durations.AddRow()
		row.AddCell().SetString(d.PermitType)
		row.AddCell().SetInt(d.Count)
		for _, v := range []float64{d.Min, d.Q1, d.Median, d.Q3, d.Max, d.Mean} {
			row.AddCell().SetFloat(v)
		}
	}
	if s.DurationCap != nil {
		durations.AddRow()
		row := durations.AddRow()
		row.AddCell().SetString("Duration cap (days)")
		row.AddCell().SetFloat(*s.DurationCap)
	}
	return nil
}

// AddEstimate adds the query, the estimated fee and the comparable permits.
func (b *Workbook) AddEstimate(q domain.Query, e domain.FeeEstimate) error {
	sheet, err := b.sheet(SheetEstimate, "Field", "Value")
	if err != nil {
		return err
	}
	pair := func(label, value string) {
		row := sheet.AddRow()
		row.AddCell().SetString(label)
		row.AddCell().SetString(value)
	}
	pair("Permit Type", q.PermitType)
	pair("Square Feet", optional(q.SquareFeet))
	pair("Valuation", optional(q.Valuation))
	pair("Neighbors Requested", strconv.Itoa(q.K))
	if e.Found() {
		pair("Estimated Fee", domain.FormatUSD(*e.EstimatedFee))
	} else {
		pair("Estimated Fee", "no comparable data")
	}
	pair("Method", e.Method)
	pair("Eligible Permits", strconv.Itoa(e.Eligible))

	neighbors, err := b.sheet(SheetNeighbors, "Zip Code", "Permit Type", "Square Feet", "Valuation", "Fees Paid", "Distance")
	if err != nil {
		return err
	}
	for _, n := range e.Neighbors {
		row := neighbors.AddRow()
		row.AddCell().SetString(n.ZipCode)
		row.AddCell().SetString(n.PermitType)
		floatCell(row, n.SquareFeet)
		floatCell(row, n.Valuation)
		row.AddCell().SetFloat(n.FeesPaid)
		row.AddCell().SetFloat(n.Distance)
	}
	return nil
}

// Write serializes the workbook.
func (b *Workbook) Write(w io.Writer) error {
	if len(b.file.Sheets) == 0 {
		return fmt.Errorf("xlsx: workbook has no sheets")
	}
	if err := b.file.Write(w); err != nil {
		return fmt.Errorf("xlsx: write workbook: %w", err)
	}
	return nil
}

// Save writes the workbook to path.
func (b *Workbook) Save(path string) error {
	if len(b.file.Sheets) == 0 {
		return fmt.Errorf("xlsx: workbook has no sheets")
	}
	if err := b.file.Save(path); err != nil {
		return fmt.Errorf("xlsx: save %s: %w", path, err)
	}
	return nil
}

func (b *Workbook) sheet(name string, headers ...string) (*xlsx.Sheet, error) {
	sheet, err := b.file.AddSheet(name)
	if err != nil {
		return nil, fmt.Errorf("xlsx: add sheet %q: %w", name, err)
	}
	row := sheet.AddRow()
	for _, h := range headers {
		row.AddCell().SetString(h)
	}
	return sheet, nil
}

func (b *Workbook) labelCounts(name, label string, counts []domain.LabelCount) error {
	sheet, err := b.sheet(name, label, "Permits")
	if err != nil {
		return err
	}
	for _, c := range counts {
		row := sheet.AddRow()
		row.AddCell().SetString(c.Label)
		row.AddCell().SetInt(c.Count)
	}
	return nil
}

func (b *Workbook) labelAverages(name, value string, averages []domain.LabelAverage) error {
	sheet, err := b.sheet(name, "Permit Type", value, "Permits")
	if err != nil {
		return err
	}
	for _, a := range averages {
		row := sheet.AddRow()
		row.AddCell().SetString(a.Label)
		row.AddCell().SetFloat(a.Average)
		row.AddCell().SetInt(a.Count)
	}
	return nil
}

// floatCell leaves the cell blank for missing values.
func floatCell(row *xlsx.Row, v *float64) {
	cell := row.AddCell()
	if v != nil {
		cell.SetFloat(*v)
	}
}

func optional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
