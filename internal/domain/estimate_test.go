package domain

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTypeElectrical = "Electrical"
	testTypeBuilding   = "Building"
	testSeed           = 42
)

func ptr(v float64) *float64 { return &v }

func permit(permitType string, sqft, valuation, fee *float64) Permit {
	return Permit{PermitType: permitType, SquareFeet: sqft, Valuation: valuation, FeesPaid: fee}
}

func electricalPermits() []Permit {
	permits := make([]Permit, 10)
	for i := range permits {
		permits[i] = permit(testTypeElectrical, nil, nil, ptr(float64(100*(i+1))))
		permits[i].ZipCode = "75038"
	}
	return permits
}

func TestEstimate_NoDimensionsSamplesAndAveragesAllEligible(t *testing.T) {
	est := NewEstimator(testSeed)

	result, err := est.Estimate(electricalPermits(), Query{PermitType: testTypeElectrical, K: 5})
	require.NoError(t, err)

	require.True(t, result.Found())
	assert.Len(t, result.Neighbors, 5)
	assert.InDelta(t, 550.0, *result.EstimatedFee, 1e-9)
	assert.Equal(t, MethodSample, result.Method)
	assert.Equal(t, 10, result.Eligible)

	seen := map[float64]bool{}
	for _, n := range result.Neighbors {
		assert.False(t, seen[n.FeesPaid], "sample must be without replacement")
		seen[n.FeesPaid] = true
	}
}

func TestEstimate_NoDimensionsFeeIgnoresSampleSize(t *testing.T) {
	est := NewEstimator(testSeed)
	for _, k := range []int{1, 3, 10, 50} {
		result, err := est.Estimate(electricalPermits(), Query{PermitType: testTypeElectrical, K: k})
		require.NoError(t, err)
		assert.Len(t, result.Neighbors, min(k, 10))
		assert.InDelta(t, 550.0, *result.EstimatedFee, 1e-9)
	}
}

func TestEstimate_NearestBySquareFeet(t *testing.T) {
	permits := []Permit{
		permit("X", ptr(1000), ptr(10_000), ptr(500)),
		permit("X", ptr(2000), ptr(20_000), ptr(600)),
		permit("X", ptr(3000), ptr(30_000), ptr(700)),
	}

	result, err := NewEstimator(testSeed).Estimate(permits, Query{PermitType: "X", SquareFeet: ptr(2000), K: 2})
	require.NoError(t, err)

	require.Len(t, result.Neighbors, 2)
	assert.Equal(t, 2000.0, *result.Neighbors[0].SquareFeet)
	assert.Equal(t, 0.0, result.Neighbors[0].Distance)
	// 1000 and 3000 are equidistant; the earlier row wins.
	assert.Equal(t, 1000.0, *result.Neighbors[1].SquareFeet)
	assert.InDelta(t, 1.0, result.Neighbors[1].Distance, 1e-9)
	assert.InDelta(t, 550.0, *result.EstimatedFee, 1e-9)
	assert.Equal(t, MethodNearest, result.Method)
}

func TestEstimate_UnknownPermitTypeIsNoResult(t *testing.T) {
	result, err := NewEstimator(testSeed).Estimate(electricalPermits(), Query{PermitType: "Plumbing", K: 5})
	require.NoError(t, err)
	assert.False(t, result.Found())
	assert.Empty(t, result.Neighbors)
	assert.Zero(t, result.Eligible)
}

func TestEstimate_ZeroVarianceDimension(t *testing.T) {
	permits := []Permit{
		permit(testTypeBuilding, ptr(1500), ptr(100), ptr(10)),
		permit(testTypeBuilding, ptr(1500), ptr(200), ptr(20)),
		permit(testTypeBuilding, ptr(1500), ptr(300), ptr(30)),
	}

	result, err := NewEstimator(testSeed).Estimate(permits, Query{PermitType: testTypeBuilding, SquareFeet: ptr(900), K: 3})
	require.NoError(t, err)

	require.Len(t, result.Neighbors, 3)
	for i, n := range result.Neighbors {
		assert.Equal(t, 0.0, n.Distance)
		assert.False(t, math.IsNaN(n.Distance))
		assert.Equal(t, float64(10*(i+1)), n.FeesPaid, "ties keep dataset order")
	}
	assert.InDelta(t, 20.0, *result.EstimatedFee, 1e-9)
}

func TestEstimate_ZeroVarianceOnOneOfTwoDimensions(t *testing.T) {
	permits := []Permit{
		permit(testTypeBuilding, ptr(1500), ptr(100), ptr(10)),
		permit(testTypeBuilding, ptr(1500), ptr(300), ptr(30)),
	}

	result, err := NewEstimator(testSeed).Estimate(permits, Query{
		PermitType: testTypeBuilding, SquareFeet: ptr(1500), Valuation: ptr(300), K: 1,
	})
	require.NoError(t, err)

	require.Len(t, result.Neighbors, 1)
	assert.Equal(t, 30.0, result.Neighbors[0].FeesPaid)
	assert.Equal(t, 0.0, result.Neighbors[0].Distance)
}

func TestEstimate_SingleCompleteRow(t *testing.T) {
	permits := []Permit{
		permit(testTypeBuilding, ptr(1500), ptr(100), ptr(10)),
		permit(testTypeBuilding, nil, ptr(100), ptr(99)),
	}

	result, err := NewEstimator(testSeed).Estimate(permits, Query{PermitType: testTypeBuilding, Valuation: ptr(5000), K: 5})
	require.NoError(t, err)

	require.Len(t, result.Neighbors, 1)
	assert.Equal(t, 0.0, result.Neighbors[0].Distance)
	assert.InDelta(t, 10.0, *result.EstimatedFee, 1e-9)
}

func TestEstimate_JointFilterOnBothColumns(t *testing.T) {
	permits := []Permit{
		permit(testTypeBuilding, ptr(1000), nil, ptr(10)),       // no valuation
		permit(testTypeBuilding, ptr(2000), ptr(500), ptr(20)),  // complete
		permit(testTypeBuilding, nil, ptr(700), ptr(30)),        // no square feet
		permit(testTypeBuilding, ptr(3000), ptr(900), ptr(40)),  // complete
		permit(testTypeBuilding, ptr(2000), ptr(500), nil),      // no fee
		permit(testTypeElectrical, ptr(2000), ptr(500), ptr(1)), // other type
	}

	result, err := NewEstimator(testSeed).Estimate(permits, Query{PermitType: testTypeBuilding, SquareFeet: ptr(2000), K: 10})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Eligible)
	require.Len(t, result.Neighbors, 2)
	for _, n := range result.Neighbors {
		assert.NotNil(t, n.SquareFeet)
		assert.NotNil(t, n.Valuation)
	}
	assert.Equal(t, 20.0, result.Neighbors[0].FeesPaid)
}

func TestEstimate_NoCompleteRowsIsNoResult(t *testing.T) {
	permits := []Permit{
		permit(testTypeBuilding, ptr(1000), nil, ptr(10)),
		permit(testTypeBuilding, nil, ptr(700), ptr(30)),
	}

	result, err := NewEstimator(testSeed).Estimate(permits, Query{PermitType: testTypeBuilding, Valuation: ptr(700), K: 5})
	require.NoError(t, err)
	assert.False(t, result.Found())
}

func TestEstimate_DistanceAveragesActiveDimensions(t *testing.T) {
	permits := []Permit{
		permit("X", ptr(1000), ptr(100), ptr(1)),
		permit("X", ptr(2000), ptr(200), ptr(2)),
		permit("X", ptr(3000), ptr(300), ptr(3)),
	}

	// Both dimensions one standard deviation away on the first row:
	// sqrt((1 + 1) / 2) = 1.
	result, err := NewEstimator(testSeed).Estimate(permits, Query{
		PermitType: "X", SquareFeet: ptr(2000), Valuation: ptr(200), K: 3,
	})
	require.NoError(t, err)

	require.Len(t, result.Neighbors, 3)
	assert.Equal(t, 2.0, result.Neighbors[0].FeesPaid)
	assert.InDelta(t, 1.0, result.Neighbors[1].Distance, 1e-9)
	assert.InDelta(t, 1.0, result.Neighbors[2].Distance, 1e-9)
}

func TestEstimate_ZeroQueryValueIsActive(t *testing.T) {
	permits := []Permit{
		permit("X", ptr(0), ptr(100), ptr(1)),
		permit("X", ptr(5000), ptr(100), ptr(2)),
	}

	result, err := NewEstimator(testSeed).Estimate(permits, Query{PermitType: "X", SquareFeet: ptr(0), K: 1})
	require.NoError(t, err)

	assert.Equal(t, MethodNearest, result.Method)
	require.Len(t, result.Neighbors, 1)
	assert.Equal(t, 1.0, result.Neighbors[0].FeesPaid)
}

func TestEstimate_NeighborCountBoundedByK(t *testing.T) {
	permits := make([]Permit, 0, 20)
	for i := range 20 {
		permits = append(permits, permit("X", ptr(float64(100*i)), ptr(float64(1000*i)), ptr(float64(i))))
	}

	for _, k := range []int{1, 5, 20, 25} {
		result, err := NewEstimator(testSeed).Estimate(permits, Query{PermitType: "X", Valuation: ptr(5000), K: k})
		require.NoError(t, err)
		assert.Len(t, result.Neighbors, min(k, 20))
		for i := 1; i < len(result.Neighbors); i++ {
			assert.LessOrEqual(t, result.Neighbors[i-1].Distance, result.Neighbors[i].Distance)
		}
	}
}

func TestEstimate_IdempotentWithFixedSeed(t *testing.T) {
	est := NewEstimator(testSeed)
	q := Query{PermitType: testTypeElectrical, K: 4}

	first, err := est.Estimate(electricalPermits(), q)
	require.NoError(t, err)
	second, err := est.Estimate(electricalPermits(), q)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("repeated estimate differs (-first +second):\n%s", diff)
	}
}

func TestEstimate_DoesNotMutateDataset(t *testing.T) {
	permits := []Permit{
		permit("X", ptr(1000), ptr(100), ptr(1)),
		permit("X", ptr(2000), ptr(200), ptr(2)),
		permit("X", ptr(3000), ptr(300), ptr(3)),
	}
	before := make([]Permit, len(permits))
	for i, p := range permits {
		before[i] = p
		before[i].SquareFeet = ptr(*p.SquareFeet)
		before[i].Valuation = ptr(*p.Valuation)
		before[i].FeesPaid = ptr(*p.FeesPaid)
	}

	result, err := NewEstimator(testSeed).Estimate(permits, Query{PermitType: "X", SquareFeet: ptr(1500), K: 2})
	require.NoError(t, err)

	// Mutating the result must not reach the dataset either.
	*result.Neighbors[0].SquareFeet = -1

	if diff := cmp.Diff(before, permits); diff != "" {
		t.Fatalf("dataset mutated (-before +after):\n%s", diff)
	}
}

func TestEstimate_InvalidQuery(t *testing.T) {
	tests := []struct {
		name  string
		query Query
		msg   string
	}{
		{"missing permit type", Query{K: 5}, "permit type is required"},
		{"zero k", Query{PermitType: "X"}, "k must be positive"},
		{"negative k", Query{PermitType: "X", K: -1}, "k must be positive"},
		{"negative square feet", Query{PermitType: "X", K: 5, SquareFeet: ptr(-1)}, "square feet"},
		{"negative valuation", Query{PermitType: "X", K: 5, Valuation: ptr(-10)}, "valuation"},
		{"NaN valuation", Query{PermitType: "X", K: 5, Valuation: ptr(math.NaN())}, "valuation"},
		{"infinite square feet", Query{PermitType: "X", K: 5, SquareFeet: ptr(math.Inf(1))}, "square feet"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEstimator(testSeed).Estimate(electricalPermits(), tt.query)
			require.ErrorIs(t, err, ErrInvalidQuery)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestEstimate_EmptyDataset(t *testing.T) {
	result, err := NewEstimator(0).Estimate(nil, Query{PermitType: "X", K: 5})
	require.NoError(t, err)
	assert.False(t, result.Found())
}
