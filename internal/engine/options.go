// Package engine holds the reconciliation core: record normalization, dataset
// indexing, classification, rate calculation and aggregation. Nothing in here
// performs I/O or keeps state between runs.
package engine

import "github.com/shopspring/decimal"

const (
	DefaultRatePrecision int32 = 2
	DefaultWorkers             = 1
)

// DefaultNumericTolerance is the largest absolute difference still treated as equal.
var DefaultNumericTolerance = decimal.RequireFromString("0.01")

// Options tunes a single reconciliation run.
type Options struct {
	RatePrecision    int32           `json:"rate_precision"`
	NumericTolerance decimal.Decimal `json:"numeric_tolerance"`
	// Workers is the number of classification shards run in parallel.
	Workers int `json:"workers"`
}

// DefaultOptions returns precision 2, tolerance 0.01 and a single worker.
func DefaultOptions() Options {
	return Options{
		RatePrecision:    DefaultRatePrecision,
		NumericTolerance: DefaultNumericTolerance,
		Workers:          DefaultWorkers,
	}
}

// Normalize replaces out-of-range values with defaults.
func (o Options) Normalize() Options {
	if o.RatePrecision < 0 {
		o.RatePrecision = DefaultRatePrecision
	}
	if o.NumericTolerance.IsNegative() {
		o.NumericTolerance = DefaultNumericTolerance
	}
	if o.Workers < 1 {
		o.Workers = DefaultWorkers
	}
	return o
}
