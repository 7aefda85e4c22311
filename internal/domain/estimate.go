package domain

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"gonum.org/v1/gonum/stat"
)

// DefaultNeighbors is the neighbor count callers use when none is requested.
const DefaultNeighbors = 5

// Estimate methods.
const (
	MethodSample  = "sample"  // no numeric dimension requested
	MethodNearest = "nearest" // k nearest by normalized distance
)

// ErrInvalidQuery marks a query that violates the estimator's input contract.
var ErrInvalidQuery = errors.New("invalid estimate query")

// Query describes the permit to price. A nil SquareFeet or Valuation means
// the dimension is not used; zero is a real value.
type Query struct {
	PermitType string
	SquareFeet *float64
	Valuation  *float64
	K          int
}

// Neighbor is a comparable historical permit projected to display columns.
type Neighbor struct {
	ZipCode    string   `json:"zip_code"`
	PermitType string   `json:"permit_type"`
	SquareFeet *float64 `json:"square_feet"`
	Valuation  *float64 `json:"valuation"`
	FeesPaid   float64  `json:"fees_paid"`
	Distance   float64  `json:"distance"`
}

// FeeEstimate is the estimator's result. A nil EstimatedFee means no
// comparable permits existed for the query.
type FeeEstimate struct {
	Neighbors    []Neighbor `json:"neighbors"`
	EstimatedFee *float64   `json:"estimated_fee"`
	Method       string     `json:"method,omitempty"`
	Eligible     int        `json:"eligible"`
}

// Found reports whether the estimate carries a fee.
func (e FeeEstimate) Found() bool {
	return e.EstimatedFee != nil
}

// Estimator prices a permit from its most similar historical permits.
// It holds no reference to any dataset and is safe for concurrent use.
type Estimator struct {
	seed uint64
}

// NewEstimator creates an Estimator. A non-zero seed makes the sampling
// branch deterministic: every call draws from a fresh source seeded with it.
// Zero draws a new random seed per call.
func NewEstimator(seed uint64) *Estimator {
	return &Estimator{seed: seed}
}

// candidate is the per-query scratch row. It points into the shared dataset
// read-only; normalized values and distances live only here.
type candidate struct {
	permit   *Permit
	distance float64
}

// Estimate selects up to q.K permits of the same type closest to the query on
// the requested dimensions and averages their paid fees.
//
// With no dimension requested it returns a uniform random sample of up to
// q.K eligible permits while the fee is averaged over every eligible permit.
// With at least one dimension, permits missing square feet or valuation are
// excluded, both columns are z-scored over what remains, and the distance is
// the root of the mean squared normalized difference across active
// dimensions. A dimension with zero or undefined spread contributes nothing.
func (e *Estimator) Estimate(permits []Permit, q Query) (FeeEstimate, error) {
	if err := q.validate(); err != nil {
		return FeeEstimate{}, err
	}

	eligible := make([]*Permit, 0, len(permits))
	for i := range permits {
		if permits[i].PermitType == q.PermitType && permits[i].FeesPaid != nil {
			eligible = append(eligible, &permits[i])
		}
	}
	if len(eligible) == 0 {
		return FeeEstimate{}, nil
	}

	if q.SquareFeet == nil && q.Valuation == nil {
		return e.sample(eligible, q.K), nil
	}
	return nearest(eligible, q), nil
}

func (q Query) validate() error {
	if q.PermitType == "" {
		return fmt.Errorf("%w: permit type is required", ErrInvalidQuery)
	}
	if q.K <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidQuery, q.K)
	}
	if q.SquareFeet != nil && !validMagnitude(*q.SquareFeet) {
		return fmt.Errorf("%w: square feet must be a non-negative number, got %v", ErrInvalidQuery, *q.SquareFeet)
	}
	if q.Valuation != nil && !validMagnitude(*q.Valuation) {
		return fmt.Errorf("%w: valuation must be a non-negative number, got %v", ErrInvalidQuery, *q.Valuation)
	}
	return nil
}

func validMagnitude(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

func (e *Estimator) sample(eligible []*Permit, k int) FeeEstimate {
	fees := make([]float64, len(eligible))
	for i, p := range eligible {
		fees[i] = *p.FeesPaid
	}
	mean := stat.Mean(fees, nil)

	n := min(k, len(eligible))
	order := e.source().Perm(len(eligible))[:n]
	neighbors := make([]Neighbor, n)
	for i, idx := range order {
		neighbors[i] = toNeighbor(eligible[idx], 0)
	}

	return FeeEstimate{
		Neighbors:    neighbors,
		EstimatedFee: &mean,
		Method:       MethodSample,
		Eligible:     len(eligible),
	}
}

func (e *Estimator) source() *rand.Rand {
	seed := e.seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return rand.New(rand.NewPCG(seed, seed))
}

func nearest(eligible []*Permit, q Query) FeeEstimate {
	// Both columns are required even when only one is requested.
	complete := make([]*Permit, 0, len(eligible))
	for _, p := range eligible {
		if p.SquareFeet != nil && p.Valuation != nil {
			complete = append(complete, p)
		}
	}
	if len(complete) == 0 {
		return FeeEstimate{}
	}

	sqft := make([]float64, len(complete))
	val := make([]float64, len(complete))
	for i, p := range complete {
		sqft[i] = *p.SquareFeet
		val[i] = *p.Valuation
	}

	var dims []dimension
	if q.SquareFeet != nil {
		dims = append(dims, newDimension(sqft, *q.SquareFeet))
	}
	if q.Valuation != nil {
		dims = append(dims, newDimension(val, *q.Valuation))
	}

	candidates := make([]candidate, len(complete))
	for i, p := range complete {
		var sum float64
		for _, d := range dims {
			sum += d.squaredDiff(i)
		}
		candidates[i] = candidate{permit: p, distance: math.Sqrt(sum / float64(len(dims)))}
	}

	slices.SortStableFunc(candidates, func(a, b candidate) int {
		return cmp.Compare(a.distance, b.distance)
	})
	candidates = candidates[:min(q.K, len(candidates))]

	neighbors := make([]Neighbor, len(candidates))
	fees := make([]float64, len(candidates))
	for i, c := range candidates {
		neighbors[i] = toNeighbor(c.permit, c.distance)
		fees[i] = *c.permit.FeesPaid
	}
	mean := stat.Mean(fees, nil)

	return FeeEstimate{
		Neighbors:    neighbors,
		EstimatedFee: &mean,
		Method:       MethodNearest,
		Eligible:     len(complete),
	}
}

// dimension holds one z-scored column and the query value on the same scale.
type dimension struct {
	values     []float64
	mean       float64
	std        float64
	query      float64
	degenerate bool
}

func newDimension(values []float64, query float64) dimension {
	mean, std := stat.MeanStdDev(values, nil)
	d := dimension{values: values, mean: mean, std: std}
	if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		d.degenerate = true
		return d
	}
	d.query = (query - mean) / std
	return d
}

func (d dimension) squaredDiff(i int) float64 {
	if d.degenerate {
		return 0
	}
	diff := (d.values[i]-d.mean)/d.std - d.query
	return diff * diff
}

func toNeighbor(p *Permit, distance float64) Neighbor {
	return Neighbor{
		ZipCode:    p.ZipCode,
		PermitType: p.PermitType,
		SquareFeet: copyFloat(p.SquareFeet),
		Valuation:  copyFloat(p.Valuation),
		FeesPaid:   *p.FeesPaid,
		Distance:   distance,
	}
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
