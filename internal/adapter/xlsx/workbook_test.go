package xlsx

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/permit-data-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func ptr(v float64) *float64 { return &v }

func sampleSummary() domain.Summary {
	return domain.Summary{
		Total: 3,
		PermitTypeCounts: []domain.LabelCount{
			{Label: "Building", Count: 2},
			{Label: "Electrical", Count: 1},
		},
		StatusCounts:       []domain.LabelCount{{Label: "Finaled", Count: 3}},
		YearCounts:         []domain.YearCount{{Year: 2022, Count: 1}, {Year: 2023, Count: 2}},
		ValuationFeePoints: []domain.ValuationFeePoint{{Valuation: 250000, FeesPaid: 1250.5}},
		AverageFeeByType:   []domain.LabelAverage{{Label: "Building", Average: 1000, Count: 2}},
		AverageSquareFeetByType: []domain.LabelAverage{
			{Label: "Building", Average: 4500, Count: 2},
		},
		DurationByType: []domain.DurationStats{
			{PermitType: "Building", Count: 2, Min: 10, Q1: 12.5, Median: 15, Q3: 17.5, Max: 20, Mean: 15},
		},
		DurationCap: ptr(19.5),
	}
}

func readBack(t *testing.T, b *Workbook) *xlsx.File {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, b.Write(&buf))
	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	return f
}

func values(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = c.Value
	}
	return out
}

func TestAddSummary_OneSheetPerTable(t *testing.T) {
	b := NewWorkbook()
	require.NoError(t, b.AddSummary(sampleSummary()))

	f := readBack(t, b)
	for _, name := range []string{
		SheetPermitTypes, SheetStatuses, SheetYears, SheetValuationFees,
		SheetAverageFee, SheetAverageSqFt, SheetDurations,
	} {
		assert.Contains(t, f.Sheet, name)
	}

	types := f.Sheet[SheetPermitTypes]
	require.Len(t, types.Rows, 3)
	assert.Equal(t, []string{"Permit Type", "Permits"}, values(types.Rows[0]))
	assert.Equal(t, []string{"Building", "2"}, values(types.Rows[1]))
	assert.Equal(t, []string{"Electrical", "1"}, values(types.Rows[2]))

	years := f.Sheet[SheetYears]
	require.Len(t, years.Rows, 3)
	assert.Equal(t, []string{"2023", "2"}, values(years.Rows[2]))

	fees := f.Sheet[SheetValuationFees]
	require.Len(t, fees.Rows, 2)
	v, err := fees.Rows[1].Cells[1].Float()
	require.NoError(t, err)
	assert.InDelta(t, 1250.5, v, 1e-9)
}

func TestAddSummary_DurationCapRow(t *testing.T) {
	b := NewWorkbook()
	require.NoError(t, b.AddSummary(sampleSummary()))

	durations := readBack(t, b).Sheet[SheetDurations]
	require.NotNil(t, durations)
	assert.Equal(t, []string{"Permit Type", "Permits", "Min", "Q1", "Median", "Q3", "Max", "Mean"}, values(durations.Rows[0]))
	assert.Equal(t, "Building", durations.Rows[1].Cells[0].Value)

	last := durations.Rows[len(durations.Rows)-1]
	assert.Equal(t, "Duration cap (days)", last.Cells[0].Value)
	assert.Equal(t, "19.5", last.Cells[1].Value)
}

func TestAddSummary_NoCap(t *testing.T) {
	s := sampleSummary()
	s.DurationCap = nil
	b := NewWorkbook()
	require.NoError(t, b.AddSummary(s))

	durations := readBack(t, b).Sheet[SheetDurations]
	assert.Len(t, durations.Rows, 2)
}

func TestAddEstimate_Found(t *testing.T) {
	b := NewWorkbook()
	q := domain.Query{PermitType: "Building", SquareFeet: ptr(2000), K: 2}
	e := domain.FeeEstimate{
		EstimatedFee: ptr(1234.5),
		Method:       domain.MethodNearest,
		Eligible:     3,
		Neighbors: []domain.Neighbor{
			{ZipCode: "75062", PermitType: "Building", SquareFeet: ptr(2000), FeesPaid: 1200},
			{ZipCode: "75039", PermitType: "Building", SquareFeet: ptr(2100), Valuation: ptr(90000), FeesPaid: 1269, Distance: 0.1},
		},
	}
	require.NoError(t, b.AddEstimate(q, e))

	f := readBack(t, b)
	est := f.Sheet[SheetEstimate]
	require.NotNil(t, est)
	fields := map[string]string{}
	for _, row := range est.Rows[1:] {
		fields[row.Cells[0].Value] = row.Cells[1].Value
	}
	assert.Equal(t, "Building", fields["Permit Type"])
	assert.Equal(t, "2000", fields["Square Feet"])
	assert.Equal(t, "$1,234.50", fields["Estimated Fee"])
	assert.Equal(t, "nearest", fields["Method"])
	assert.Equal(t, "3", fields["Eligible Permits"])

	neighbors := f.Sheet[SheetNeighbors]
	require.Len(t, neighbors.Rows, 3)
	assert.Equal(t, "75062", neighbors.Rows[1].Cells[0].Value)
	assert.Empty(t, neighbors.Rows[1].Cells[3].Value, "missing valuation stays blank")
	assert.Equal(t, "90000", neighbors.Rows[2].Cells[3].Value)
}

func TestAddEstimate_NoResult(t *testing.T) {
	b := NewWorkbook()
	require.NoError(t, b.AddEstimate(domain.Query{PermitType: "Unknown", K: 5}, domain.FeeEstimate{}))

	est := readBack(t, b).Sheet[SheetEstimate]
	require.NotNil(t, est)
	assert.Equal(t, "no comparable data", est.Rows[5].Cells[1].Value)
}

func TestWrite_EmptyWorkbook(t *testing.T) {
	var buf bytes.Buffer
	err := NewWorkbook().Write(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no sheets")
}

func TestAddSummary_Twice(t *testing.T) {
	b := NewWorkbook()
	require.NoError(t, b.AddSummary(sampleSummary()))
	err := b.AddSummary(sampleSummary())
	require.Error(t, err)
	assert.Contains(t, err.Error(), SheetPermitTypes)
}

func TestSave(t *testing.T) {
	b := NewWorkbook()
	require.NoError(t, b.AddSummary(sampleSummary()))

	path := filepath.Join(t.TempDir(), "summary.xlsx")
	require.NoError(t, b.Save(path))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.Len(t, f.Sheets, 7)
}
