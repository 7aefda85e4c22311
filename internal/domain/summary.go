package domain

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// durationCapQuantile is the percentile above which durations are capped
// before computing per-type distributions.
const durationCapQuantile = 0.95

// Filter narrows permits before aggregation. An empty list places no
// constraint on that column.
type Filter struct {
	ZipCodes    []string `json:"zip_codes,omitempty"`
	Years       []int    `json:"years,omitempty"`
	PermitTypes []string `json:"permit_types,omitempty"`
	Statuses    []string `json:"statuses,omitempty"`
}

// FilterOptions lists the distinct values available for each filter.
type FilterOptions struct {
	ZipCodes    []string `json:"zip_codes"`
	Years       []int    `json:"years"`
	PermitTypes []string `json:"permit_types"`
	Statuses    []string `json:"statuses"`
}

// LabelCount is a category with its number of permits.
type LabelCount struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// YearCount is the number of permits issued in a year.
type YearCount struct {
	Year  int `json:"year"`
	Count int `json:"count"`
}

// LabelAverage is a per-category mean.
type LabelAverage struct {
	Label   string  `json:"label"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// ValuationFeePoint pairs a permit's valuation with its paid fee.
type ValuationFeePoint struct {
	Valuation float64 `json:"valuation"`
	FeesPaid  float64 `json:"fees_paid"`
}

// DurationStats is the five-number summary of permit durations for one type.
type DurationStats struct {
	PermitType string  `json:"permit_type"`
	Count      int     `json:"count"`
	Min        float64 `json:"min"`
	Q1         float64 `json:"q1"`
	Median     float64 `json:"median"`
	Q3         float64 `json:"q3"`
	Max        float64 `json:"max"`
	Mean       float64 `json:"mean"`
}

// Summary holds every descriptive aggregate over a set of permits.
type Summary struct {
	Total                   int                 `json:"total"`
	PermitTypeCounts        []LabelCount        `json:"permit_type_counts"`
	StatusCounts            []LabelCount        `json:"status_counts"`
	YearCounts              []YearCount         `json:"year_counts"`
	ValuationFeePoints      []ValuationFeePoint `json:"valuation_fee_points"`
	AverageFeeByType        []LabelAverage      `json:"average_fee_by_type"`
	AverageSquareFeetByType []LabelAverage      `json:"average_square_feet_by_type"`
	DurationByType          []DurationStats     `json:"duration_by_type"`
	DurationCap             *float64            `json:"duration_cap,omitempty"`
}

// ApplyFilter returns the permits matching every non-empty filter list.
// The input is not modified.
func ApplyFilter(permits []Permit, f Filter) []Permit {
	out := make([]Permit, 0, len(permits))
	for i := range permits {
		p := &permits[i]
		if len(f.ZipCodes) > 0 && !slices.Contains(f.ZipCodes, p.ZipCode) {
			continue
		}
		if len(f.Years) > 0 && !slices.Contains(f.Years, p.Year) {
			continue
		}
		if len(f.PermitTypes) > 0 && !slices.Contains(f.PermitTypes, p.PermitType) {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, p.Status) {
			continue
		}
		out = append(out, *p)
	}
	return out
}

// FilterOptionsOf returns the sorted distinct zip codes, years, permit types
// and statuses present, skipping unknown values.
func FilterOptionsOf(permits []Permit) FilterOptions {
	zips := map[string]struct{}{}
	years := map[int]struct{}{}
	types := map[string]struct{}{}
	statuses := map[string]struct{}{}
	for i := range permits {
		p := &permits[i]
		if p.ZipCode != "" {
			zips[p.ZipCode] = struct{}{}
		}
		if p.Year != 0 {
			years[p.Year] = struct{}{}
		}
		if p.PermitType != "" {
			types[p.PermitType] = struct{}{}
		}
		if p.Status != "" {
			statuses[p.Status] = struct{}{}
		}
	}
	return FilterOptions{
		ZipCodes:    sortedKeys(zips),
		Years:       sortedKeys(years),
		PermitTypes: sortedKeys(types),
		Statuses:    sortedKeys(statuses),
	}
}

// Summarize computes all descriptive aggregates for the given permits.
func Summarize(permits []Permit) Summary {
	durations, durationCap := durationsByType(permits)
	return Summary{
		Total:                   len(permits),
		PermitTypeCounts:        countBy(permits, func(p *Permit) string { return p.PermitType }),
		StatusCounts:            countBy(permits, func(p *Permit) string { return p.Status }),
		YearCounts:              countByYear(permits),
		ValuationFeePoints:      valuationFeePoints(permits),
		AverageFeeByType:        averageByType(permits, func(p *Permit) *float64 { return p.FeesPaid }),
		AverageSquareFeetByType: averageByType(permits, func(p *Permit) *float64 { return p.SquareFeet }),
		DurationByType:          durations,
		DurationCap:             durationCap,
	}
}

// countBy counts permits per label, most frequent first, ties by label.
// Empty labels are skipped.
func countBy(permits []Permit, label func(*Permit) string) []LabelCount {
	counts := map[string]int{}
	for i := range permits {
		if l := label(&permits[i]); l != "" {
			counts[l]++
		}
	}
	out := make([]LabelCount, 0, len(counts))
	for l, n := range counts {
		out = append(out, LabelCount{Label: l, Count: n})
	}
	slices.SortFunc(out, func(a, b LabelCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Label, b.Label)
	})
	return out
}

func countByYear(permits []Permit) []YearCount {
	counts := map[int]int{}
	for i := range permits {
		if y := permits[i].Year; y != 0 {
			counts[y]++
		}
	}
	out := make([]YearCount, 0, len(counts))
	for _, y := range sortedKeys(counts) {
		out = append(out, YearCount{Year: y, Count: counts[y]})
	}
	return out
}

func valuationFeePoints(permits []Permit) []ValuationFeePoint {
	out := make([]ValuationFeePoint, 0)
	for i := range permits {
		p := &permits[i]
		if p.Valuation == nil || p.FeesPaid == nil {
			continue
		}
		out = append(out, ValuationFeePoint{Valuation: *p.Valuation, FeesPaid: *p.FeesPaid})
	}
	return out
}

// averageByType averages a nullable column per permit type, ordered by type.
func averageByType(permits []Permit, value func(*Permit) *float64) []LabelAverage {
	groups := map[string][]float64{}
	for i := range permits {
		p := &permits[i]
		v := value(p)
		if v == nil || p.PermitType == "" {
			continue
		}
		groups[p.PermitType] = append(groups[p.PermitType], *v)
	}
	out := make([]LabelAverage, 0, len(groups))
	for _, t := range sortedKeys(groups) {
		out = append(out, LabelAverage{Label: t, Average: stat.Mean(groups[t], nil), Count: len(groups[t])})
	}
	return out
}

// durationsByType drops negative durations, caps the rest at the 95th
// percentile of all remaining durations, and summarizes each permit type.
func durationsByType(permits []Permit) ([]DurationStats, *float64) {
	type row struct {
		permitType string
		days       float64
	}
	var rows []row
	for i := range permits {
		p := &permits[i]
		if p.DurationDays == nil || p.PermitType == "" || *p.DurationDays < 0 {
			continue
		}
		rows = append(rows, row{permitType: p.PermitType, days: float64(*p.DurationDays)})
	}
	if len(rows) == 0 {
		return []DurationStats{}, nil
	}

	all := make([]float64, len(rows))
	for i, r := range rows {
		all[i] = r.days
	}
	slices.Sort(all)
	upper := quantile(all, durationCapQuantile)

	groups := map[string][]float64{}
	for _, r := range rows {
		groups[r.permitType] = append(groups[r.permitType], math.Min(r.days, upper))
	}

	out := make([]DurationStats, 0, len(groups))
	for _, t := range sortedKeys(groups) {
		days := groups[t]
		slices.Sort(days)
		out = append(out, DurationStats{
			PermitType: t,
			Count:      len(days),
			Min:        days[0],
			Q1:         quantile(days, 0.25),
			Median:     quantile(days, 0.5),
			Q3:         quantile(days, 0.75),
			Max:        days[len(days)-1],
			Mean:       stat.Mean(days, nil),
		})
	}
	return out, &upper
}

// quantile returns the p-quantile of sorted values by linear interpolation
// between closest ranks, h = (n-1)p.
func quantile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	hi := int(math.Ceil(h))
	return sorted[lo] + (h-float64(lo))*(sorted[hi]-sorted[lo])
}

func sortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
