package domain

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryPermit(permitType, status, zip string, year int, fee *float64, duration *int) Permit {
	return Permit{
		PermitType:   permitType,
		Status:       status,
		ZipCode:      zip,
		Year:         year,
		FeesPaid:     fee,
		DurationDays: duration,
	}
}

func days(d int) *int { return &d }

func summaryPermits() []Permit {
	return []Permit{
		summaryPermit("Building", "Finaled", "75038", 2022, ptr(100), days(10)),
		summaryPermit("Building", "Issued", "75039", 2023, ptr(300), days(30)),
		summaryPermit("Electrical", "Finaled", "75038", 2023, ptr(50), days(5)),
		summaryPermit("Electrical", "Finaled", "", 2024, nil, days(-3)),
		summaryPermit("Sign", "Void", "75060", 0, ptr(20), nil),
	}
}

func TestApplyFilter(t *testing.T) {
	permits := summaryPermits()

	t.Run("empty filter keeps everything", func(t *testing.T) {
		assert.Len(t, ApplyFilter(permits, Filter{}), len(permits))
	})

	t.Run("single column", func(t *testing.T) {
		got := ApplyFilter(permits, Filter{ZipCodes: []string{"75038"}})
		require.Len(t, got, 2)
		assert.Equal(t, "Building", got[0].PermitType)
		assert.Equal(t, "Electrical", got[1].PermitType)
	})

	t.Run("columns combine with and", func(t *testing.T) {
		got := ApplyFilter(permits, Filter{Years: []int{2023}, Statuses: []string{"Finaled"}})
		require.Len(t, got, 1)
		assert.Equal(t, "Electrical", got[0].PermitType)
	})

	t.Run("values combine with or", func(t *testing.T) {
		got := ApplyFilter(permits, Filter{PermitTypes: []string{"Sign", "Electrical"}})
		assert.Len(t, got, 3)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, ApplyFilter(permits, Filter{ZipCodes: []string{"99999"}}))
	})
}

func TestFilterOptionsOf(t *testing.T) {
	got := FilterOptionsOf(summaryPermits())

	want := FilterOptions{
		ZipCodes:    []string{"75038", "75039", "75060"},
		Years:       []int{2022, 2023, 2024},
		PermitTypes: []string{"Building", "Electrical", "Sign"},
		Statuses:    []string{"Finaled", "Issued", "Void"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("filter options mismatch (-want +got):\n%s", diff)
	}
}

func TestSummarize_Counts(t *testing.T) {
	s := Summarize(summaryPermits())

	assert.Equal(t, 5, s.Total)
	assert.Equal(t, []LabelCount{
		{Label: "Building", Count: 2},
		{Label: "Electrical", Count: 2},
		{Label: "Sign", Count: 1},
	}, s.PermitTypeCounts)
	assert.Equal(t, []LabelCount{
		{Label: "Finaled", Count: 3},
		{Label: "Issued", Count: 1},
		{Label: "Void", Count: 1},
	}, s.StatusCounts)
	assert.Equal(t, []YearCount{
		{Year: 2022, Count: 1},
		{Year: 2023, Count: 2},
		{Year: 2024, Count: 1},
	}, s.YearCounts)
}

func TestSummarize_Averages(t *testing.T) {
	permits := summaryPermits()
	permits[0].SquareFeet = ptr(1000)
	permits[1].SquareFeet = ptr(3000)
	permits[0].Valuation = ptr(10_000)

	s := Summarize(permits)

	assert.Equal(t, []LabelAverage{
		{Label: "Building", Average: 200, Count: 2},
		{Label: "Electrical", Average: 50, Count: 1},
		{Label: "Sign", Average: 20, Count: 1},
	}, s.AverageFeeByType)
	assert.Equal(t, []LabelAverage{
		{Label: "Building", Average: 2000, Count: 2},
	}, s.AverageSquareFeetByType)
	assert.Equal(t, []ValuationFeePoint{{Valuation: 10_000, FeesPaid: 100}}, s.ValuationFeePoints)
}

func TestSummarize_DurationDropsNegativeAndCaps(t *testing.T) {
	var permits []Permit
	for d := 1; d <= 20; d++ {
		permits = append(permits, summaryPermit("Building", "Finaled", "", 2022, nil, days(d)))
	}
	permits = append(permits,
		summaryPermit("Building", "Finaled", "", 2022, nil, days(-10)),
		summaryPermit("Sign", "Finaled", "", 2022, nil, days(1000)),
	)

	s := Summarize(permits)

	// 21 non-negative durations: 1..20 and 1000. h = 20*0.95 = 19 -> sorted[19] = 20.
	require.NotNil(t, s.DurationCap)
	assert.Equal(t, 20.0, *s.DurationCap)

	require.Len(t, s.DurationByType, 2)
	building := s.DurationByType[0]
	assert.Equal(t, "Building", building.PermitType)
	assert.Equal(t, 20, building.Count)
	assert.Equal(t, 1.0, building.Min)
	assert.Equal(t, 20.0, building.Max)
	assert.InDelta(t, 10.5, building.Median, 1e-9)
	assert.InDelta(t, 5.75, building.Q1, 1e-9)
	assert.InDelta(t, 15.25, building.Q3, 1e-9)
	assert.InDelta(t, 10.5, building.Mean, 1e-9)

	sign := s.DurationByType[1]
	assert.Equal(t, "Sign", sign.PermitType)
	assert.Equal(t, 20.0, sign.Max, "outlier should be capped")
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil)

	assert.Zero(t, s.Total)
	assert.Empty(t, s.PermitTypeCounts)
	assert.Empty(t, s.DurationByType)
	assert.Nil(t, s.DurationCap)
	assert.NotNil(t, s.ValuationFeePoints)
}

func TestQuantile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}

	assert.Equal(t, 1.0, quantile(sorted, 0))
	assert.Equal(t, 4.0, quantile(sorted, 1))
	assert.InDelta(t, 2.5, quantile(sorted, 0.5), 1e-9)
	assert.InDelta(t, 1.75, quantile(sorted, 0.25), 1e-9)
	assert.Equal(t, 7.0, quantile([]float64{7}, 0.95))
	assert.True(t, math.IsNaN(quantile(nil, 0.5)))
}
