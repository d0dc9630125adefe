package engine

import (
	"context"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"revenue-reconciler/internal/domain"
)

// Classifier partitions the keys of two datasets and diffs the pairs that are
// unique on both sides.
type Classifier struct {
	tolerance decimal.Decimal
	rates     RateCalculator
	workers   int
}

// NewClassifier builds a classifier from run options.
func NewClassifier(opts Options) *Classifier {
	opts = opts.Normalize()
	return &Classifier{
		tolerance: opts.NumericTolerance,
		rates:     NewRateCalculator(opts.RatePrecision),
		workers:   opts.Workers,
	}
}

// Classification is the classifier output: the key partition plus the click
// id annotations found while comparing pairs.
type Classification struct {
	Result            domain.ClassificationResult
	ClickIDMismatches []domain.ClickIDMismatch
}

// Classify walks the sorted union of keys. Duplicated keys are reported per
// dataset and never compared. With more than one worker the key list is cut
// into contiguous shards whose outputs are concatenated in shard order, so the
// result is identical to a sequential run.
func (c *Classifier) Classify(ctx context.Context, a, b *Dataset) (Classification, error) {
	keys := unionKeys(a.Keys(), b.Keys())

	shards := c.workers
	if shards > len(keys) {
		shards = len(keys)
	}
	if shards <= 1 {
		var out Classification
		if err := c.classifyKeys(ctx, a, b, keys, &out); err != nil {
			return Classification{}, err
		}
		return out, nil
	}

	parts := make([]Classification, shards)
	size := (len(keys) + shards - 1) / shards
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < shards; i++ {
		lo := i * size
		hi := lo + size
		if hi > len(keys) {
			hi = len(keys)
		}
		if lo >= hi {
			continue
		}
		part := &parts[i]
		shard := keys[lo:hi]
		g.Go(func() error {
			return c.classifyKeys(gctx, a, b, shard, part)
		})
	}
	if err := g.Wait(); err != nil {
		return Classification{}, err
	}

	var out Classification
	for _, p := range parts {
		out.Result.Matched = append(out.Result.Matched, p.Result.Matched...)
		out.Result.Mismatched = append(out.Result.Mismatched, p.Result.Mismatched...)
		out.Result.OnlyInA = append(out.Result.OnlyInA, p.Result.OnlyInA...)
		out.Result.OnlyInB = append(out.Result.OnlyInB, p.Result.OnlyInB...)
		out.Result.DuplicateInA = append(out.Result.DuplicateInA, p.Result.DuplicateInA...)
		out.Result.DuplicateInB = append(out.Result.DuplicateInB, p.Result.DuplicateInB...)
		out.ClickIDMismatches = append(out.ClickIDMismatches, p.ClickIDMismatches...)
	}
	return out, nil
}

// classifyKeys only reads a and b and only writes to out.
func (c *Classifier) classifyKeys(ctx context.Context, a, b *Dataset, keys []string, out *Classification) error {
	for i, key := range keys {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		dupA, dupB := a.IsDuplicated(key), b.IsDuplicated(key)
		if dupA {
			out.Result.DuplicateInA = append(out.Result.DuplicateInA, domain.DuplicateGroup{Key: key, Records: a.Lookup(key)})
		}
		if dupB {
			out.Result.DuplicateInB = append(out.Result.DuplicateInB, domain.DuplicateGroup{Key: key, Records: b.Lookup(key)})
		}
		if dupA || dupB {
			continue
		}

		inA, inB := a.Has(key), b.Has(key)
		switch {
		case inA && !inB:
			out.Result.OnlyInA = append(out.Result.OnlyInA, a.Lookup(key)[0])
		case inB && !inA:
			out.Result.OnlyInB = append(out.Result.OnlyInB, b.Lookup(key)[0])
		default:
			pair := domain.Pair{Key: key, A: a.Lookup(key)[0], B: b.Lookup(key)[0]}
			if diffs := c.Compare(pair.A, pair.B); len(diffs) == 0 {
				out.Result.Matched = append(out.Result.Matched, pair)
			} else {
				out.Result.Mismatched = append(out.Result.Mismatched, c.mismatch(pair, diffs))
			}
			if pair.A.ClickID != "" && pair.B.ClickID != "" && pair.A.ClickID != pair.B.ClickID {
				out.ClickIDMismatches = append(out.ClickIDMismatches, domain.ClickIDMismatch{
					Key:      key,
					ClickIDA: pair.A.ClickID,
					ClickIDB: pair.B.ClickID,
				})
			}
		}
	}
	return nil
}

// Compare returns the differing comparable fields of two records in a fixed
// field order. A field that failed coercion on either side is compared by
// its raw cell text.
func (c *Classifier) Compare(a, b domain.Record) []domain.FieldDiff {
	var diffs []domain.FieldDiff
	add := func(f domain.Field, va, vb string) {
		diffs = append(diffs, domain.FieldDiff{Field: f, ValueA: va, ValueB: vb})
	}

	for _, f := range []domain.Field{domain.FieldRevenue, domain.FieldSaleAmount} {
		if !a.Valid(f) || !b.Valid(f) {
			if a.Raw[f] != b.Raw[f] {
				add(f, a.Raw[f], b.Raw[f])
			}
			continue
		}
		va, vb := amountOf(a, f), amountOf(b, f)
		if !c.withinTolerance(va, vb) {
			add(f, va.String(), vb.String())
		}
	}
	if a.Status != b.Status {
		add(domain.FieldStatus, a.Status, b.Status)
	}
	if a.Brand != b.Brand {
		add(domain.FieldBrand, a.Brand, b.Brand)
	}
	if a.Dated() && b.Dated() {
		if !a.Created.Equal(b.Created) {
			add(domain.FieldCreated, a.CreatedDate(), b.CreatedDate())
		}
	} else if a.Raw[domain.FieldCreated] != b.Raw[domain.FieldCreated] {
		add(domain.FieldCreated, a.CreatedDate(), b.CreatedDate())
	}
	return diffs
}

// withinTolerance treats a difference of exactly the tolerance as equal.
func (c *Classifier) withinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(c.tolerance)
}

func (c *Classifier) mismatch(pair domain.Pair, diffs []domain.FieldDiff) domain.Mismatch {
	m := domain.Mismatch{Pair: pair, Diffs: diffs}

	has := make(map[domain.Field]bool, len(diffs))
	for _, d := range diffs {
		has[d.Field] = true
	}
	statusDiff, revenueDiff := has[domain.FieldStatus], has[domain.FieldRevenue]
	// With equal status, a sale amount difference alone is still a revenue
	// mismatch: either the rate moved or the sale amount did.
	amountDiff := revenueDiff || has[domain.FieldSaleAmount]
	sameRate := c.sameRate(pair.A, pair.B)
	switch {
	case statusDiff && revenueDiff && sameRate:
		m.Reason = domain.ReasonStatusAndRevenueBySaleAmount
	case statusDiff && revenueDiff:
		m.Reason = domain.ReasonStatusAndRevenueByRate
	case statusDiff:
		m.Reason = domain.ReasonStatusNeedsUpdate
	case amountDiff && sameRate:
		m.Reason = domain.ReasonRevenueBySaleAmount
	case amountDiff:
		m.Reason = domain.ReasonRevenueByRate
	default:
		m.Reason = domain.ReasonOtherFields
	}

	if pair.A.Dated() && pair.B.Dated() {
		days := int(pair.A.Created.Sub(pair.B.Created).Hours() / 24)
		m.DateDifferenceDays = &days
	}
	return m
}

func (c *Classifier) sameRate(a, b domain.Record) bool {
	if !a.Numeric() || !b.Numeric() {
		return false
	}
	ra, okA := c.rates.Rate(a.Revenue, a.SaleAmount)
	rb, okB := c.rates.Rate(b.Revenue, b.SaleAmount)
	if okA != okB {
		return false
	}
	return !okA || ra.Equal(rb)
}

func amountOf(r domain.Record, f domain.Field) decimal.Decimal {
	if f == domain.FieldSaleAmount {
		return r.SaleAmount
	}
	return r.Revenue
}

// unionKeys merges two ascending key lists without repeats.
func unionKeys(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			out = append(out, a[i])
			i++
		case a[i] > b[j]:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}
