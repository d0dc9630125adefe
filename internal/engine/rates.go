package engine

import (
	"github.com/shopspring/decimal"

	"revenue-reconciler/internal/domain"
)

// RateCalculator derives revenue / sale_amount per record.
type RateCalculator struct {
	precision int32
}

// NewRateCalculator rounds rates to precision decimal places.
func NewRateCalculator(precision int32) RateCalculator {
	return RateCalculator{precision: precision}
}

// Rate divides and rounds half away from zero. ok is false when saleAmount is zero.
func (c RateCalculator) Rate(revenue, saleAmount decimal.Decimal) (rate decimal.Decimal, ok bool) {
	if saleAmount.IsZero() {
		return decimal.Decimal{}, false
	}
	return revenue.DivRound(saleAmount, c.precision), true
}

// Calculate builds the rate entry of one record. A zero sale amount is flagged,
// never raised.
func (c RateCalculator) Calculate(r domain.Record) domain.RateEntry {
	entry := domain.RateEntry{
		Key:        r.Key,
		Origin:     r.Origin,
		Row:        r.Row,
		Revenue:    r.Revenue,
		SaleAmount: r.SaleAmount,
	}
	if !r.Numeric() {
		entry.Flag = domain.RateInvalidData
		return entry
	}
	rate, ok := c.Rate(r.Revenue, r.SaleAmount)
	if !ok {
		entry.Flag = domain.RateDivisionByZero
		return entry
	}
	entry.Rate = decimal.NewNullDecimal(rate)
	entry.Flag = domain.RateOK
	return entry
}

// CalculateAll returns one entry per record, in record order.
func (c RateCalculator) CalculateAll(records []domain.Record) []domain.RateEntry {
	out := make([]domain.RateEntry, len(records))
	for i, r := range records {
		out[i] = c.Calculate(r)
	}
	return out
}
