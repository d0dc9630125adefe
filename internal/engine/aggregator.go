package engine

import (
	"sort"

	"github.com/shopspring/decimal"

	"revenue-reconciler/internal/domain"
)

// Aggregator groups one dataset's rates and revenue by brand, period and status.
type Aggregator struct {
	rates     RateCalculator
	precision int32
}

// NewAggregator rounds averages and status rates to precision places.
func NewAggregator(precision int32) Aggregator {
	return Aggregator{rates: NewRateCalculator(precision), precision: precision}
}

// DatasetAggregates is everything the aggregator derives from one dataset.
type DatasetAggregates struct {
	Buckets         []domain.AggregateBucket
	Statuses        []domain.StatusSummary
	StatusRevenue   domain.StatusRevenue
	TotalRevenue    decimal.Decimal
	TotalSaleAmount decimal.Decimal
	DivisionByZero  int
}

type bucketKey struct {
	brand  string
	period string
}

type bucketAcc struct {
	bucket   domain.AggregateBucket
	rateSum  decimal.Decimal
	rateN    int64
	distinct map[string]decimal.Decimal
	statuses map[string]*domain.StatusBreakdown
}

type statusAcc struct {
	revenue    decimal.Decimal
	saleAmount decimal.Decimal
	count      int
}

// Aggregate expects rates[i] to be the entry of records[i]. Totals and status
// revenue cover every record with usable numbers regardless of how it was
// classified; period buckets additionally need a parsed created date.
func (ag Aggregator) Aggregate(origin domain.Origin, records []domain.Record, rates []domain.RateEntry) DatasetAggregates {
	out := DatasetAggregates{
		StatusRevenue:   domain.StatusRevenue{},
		TotalRevenue:    decimal.Zero,
		TotalSaleAmount: decimal.Zero,
	}
	buckets := map[bucketKey]*bucketAcc{}
	statuses := map[string]*statusAcc{}

	for i, r := range records {
		entry := rates[i]
		if entry.Flag == domain.RateDivisionByZero {
			out.DivisionByZero++
		}
		if !r.Numeric() {
			continue
		}

		out.TotalRevenue = out.TotalRevenue.Add(r.Revenue)
		out.TotalSaleAmount = out.TotalSaleAmount.Add(r.SaleAmount)
		out.StatusRevenue[r.Status] = out.StatusRevenue[r.Status].Add(r.Revenue)

		st, ok := statuses[r.Status]
		if !ok {
			st = &statusAcc{}
			statuses[r.Status] = st
		}
		st.revenue = st.revenue.Add(r.Revenue)
		st.saleAmount = st.saleAmount.Add(r.SaleAmount)
		st.count++

		if !r.Dated() {
			continue
		}
		k := bucketKey{brand: r.Brand, period: r.Period()}
		acc, ok := buckets[k]
		if !ok {
			acc = &bucketAcc{
				bucket: domain.AggregateBucket{
					Origin:          origin,
					Brand:           r.Brand,
					Period:          k.period,
					TotalRevenue:    decimal.Zero,
					TotalSaleAmount: decimal.Zero,
					FirstDate:       r.CreatedDate(),
					LastDate:        r.CreatedDate(),
				},
				distinct: map[string]decimal.Decimal{},
				statuses: map[string]*domain.StatusBreakdown{},
			}
			buckets[k] = acc
		}
		acc.add(r, entry)
	}

	for _, acc := range buckets {
		out.Buckets = append(out.Buckets, acc.finish(ag.precision))
	}
	sort.Slice(out.Buckets, func(i, j int) bool {
		if out.Buckets[i].Brand != out.Buckets[j].Brand {
			return out.Buckets[i].Brand < out.Buckets[j].Brand
		}
		return out.Buckets[i].Period < out.Buckets[j].Period
	})

	for status, st := range statuses {
		summary := domain.StatusSummary{
			Origin:     origin,
			Status:     status,
			Revenue:    st.revenue,
			SaleAmount: st.saleAmount,
			Count:      st.count,
		}
		if rate, ok := ag.rates.Rate(st.revenue, st.saleAmount); ok {
			summary.Rate = decimal.NewNullDecimal(rate)
		}
		out.Statuses = append(out.Statuses, summary)
	}
	sort.Slice(out.Statuses, func(i, j int) bool { return out.Statuses[i].Status < out.Statuses[j].Status })
	return out
}

func (acc *bucketAcc) add(r domain.Record, entry domain.RateEntry) {
	b := &acc.bucket
	b.TotalRevenue = b.TotalRevenue.Add(r.Revenue)
	b.TotalSaleAmount = b.TotalSaleAmount.Add(r.SaleAmount)
	b.RecordCount++
	if d := r.CreatedDate(); d < b.FirstDate {
		b.FirstDate = d
	}
	if d := r.CreatedDate(); d > b.LastDate {
		b.LastDate = d
	}
	if entry.Rate.Valid {
		acc.rateSum = acc.rateSum.Add(entry.Rate.Decimal)
		acc.rateN++
		acc.distinct[entry.Rate.Decimal.String()] = entry.Rate.Decimal
	}
	sb, ok := acc.statuses[r.Status]
	if !ok {
		sb = &domain.StatusBreakdown{Status: r.Status, Revenue: decimal.Zero}
		acc.statuses[r.Status] = sb
	}
	sb.Revenue = sb.Revenue.Add(r.Revenue)
	sb.Count++
}

// finish computes the mean of the valid rates. A bucket without any valid
// rate keeps a null average.
func (acc *bucketAcc) finish(precision int32) domain.AggregateBucket {
	b := acc.bucket
	if acc.rateN > 0 {
		b.AverageRate = decimal.NewNullDecimal(acc.rateSum.DivRound(decimal.NewFromInt(acc.rateN), precision))
	}
	b.DistinctRates = make([]decimal.Decimal, 0, len(acc.distinct))
	for _, d := range acc.distinct {
		b.DistinctRates = append(b.DistinctRates, d)
	}
	sort.Slice(b.DistinctRates, func(i, j int) bool { return b.DistinctRates[i].LessThan(b.DistinctRates[j]) })
	for _, sb := range acc.statuses {
		b.ByStatus = append(b.ByStatus, *sb)
	}
	sort.Slice(b.ByStatus, func(i, j int) bool { return b.ByStatus[i].Status < b.ByStatus[j].Status })
	return b
}

// CompareRates joins the buckets of both datasets on brand and period.
// The second return value is the largest absolute difference, null when no
// pair has two averages.
func (ag Aggregator) CompareRates(a, b []domain.AggregateBucket) ([]domain.RateComparison, decimal.NullDecimal) {
	byKey := make(map[bucketKey]domain.AggregateBucket, len(b))
	for _, bk := range b {
		byKey[bucketKey{brand: bk.Brand, period: bk.Period}] = bk
	}

	var out []domain.RateComparison
	var maxDiff decimal.NullDecimal
	for _, ak := range a {
		bk, ok := byKey[bucketKey{brand: ak.Brand, period: ak.Period}]
		if !ok {
			continue
		}
		cmp := domain.RateComparison{
			Brand:        ak.Brand,
			Period:       ak.Period,
			AverageRateA: ak.AverageRate,
			AverageRateB: bk.AverageRate,
		}
		if ak.AverageRate.Valid && bk.AverageRate.Valid {
			diff := ak.AverageRate.Decimal.Sub(bk.AverageRate.Decimal).Round(ag.precision)
			cmp.Difference = decimal.NewNullDecimal(diff)
			if !maxDiff.Valid || diff.Abs().GreaterThan(maxDiff.Decimal) {
				maxDiff = decimal.NewNullDecimal(diff.Abs())
			}
		}
		out = append(out, cmp)
	}
	return out, maxDiff
}
