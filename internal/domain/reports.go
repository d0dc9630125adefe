package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FieldDiff is one differing field of a key that is unique in both datasets.
type FieldDiff struct {
	Field  Field  `json:"field"`
	ValueA string `json:"value_a"`
	ValueB string `json:"value_b"`
}

// MismatchReason summarises which kind of disagreement a mismatch is.
type MismatchReason string

const (
	ReasonStatusNeedsUpdate            MismatchReason = "status_needs_update"
	ReasonRevenueBySaleAmount          MismatchReason = "revenue_mismatch_sale_amount"
	ReasonRevenueByRate                MismatchReason = "revenue_mismatch_rate"
	ReasonStatusAndRevenueBySaleAmount MismatchReason = "status_and_revenue_mismatch_sale_amount"
	ReasonStatusAndRevenueByRate       MismatchReason = "status_and_revenue_mismatch_rate"
	ReasonOtherFields                  MismatchReason = "other_fields"
)

// Pair holds the single record each dataset has for a key.
type Pair struct {
	Key string `json:"txn_id"`
	A   Record `json:"a"`
	B   Record `json:"b"`
}

// Mismatch is a pair with at least one differing comparable field.
type Mismatch struct {
	Pair
	Diffs              []FieldDiff    `json:"diffs"`
	Reason             MismatchReason `json:"reason"`
	DateDifferenceDays *int           `json:"date_difference_days,omitempty"`
}

// DuplicateGroup lists every record sharing a key inside one dataset.
type DuplicateGroup struct {
	Key     string   `json:"txn_id"`
	Records []Record `json:"records"`
}

// ClassificationResult partitions the key universe of both datasets. Every
// slice is sorted by key.
type ClassificationResult struct {
	Matched      []Pair           `json:"matched"`
	Mismatched   []Mismatch       `json:"mismatched"`
	OnlyInA      []Record         `json:"only_in_a"`
	OnlyInB      []Record         `json:"only_in_b"`
	DuplicateInA []DuplicateGroup `json:"duplicate_in_a"`
	DuplicateInB []DuplicateGroup `json:"duplicate_in_b"`
}

// ClickIDMismatch flags a pair whose click ids disagree. It does not affect
// the classification.
type ClickIDMismatch struct {
	Key      string `json:"txn_id"`
	ClickIDA string `json:"click_id_a"`
	ClickIDB string `json:"click_id_b"`
}

// RateFlag tells whether a rate could be computed.
type RateFlag string

const (
	RateOK             RateFlag = "ok"
	RateDivisionByZero RateFlag = "division_by_zero"
	RateInvalidData    RateFlag = "invalid_data"
)

// Err returns the sentinel behind a flag that carries no rate.
func (f RateFlag) Err() error {
	switch f {
	case RateDivisionByZero:
		return ErrDivisionByZero
	case RateInvalidData:
		return ErrInvalidDataType
	}
	return nil
}

// RateEntry is the revenue to sale amount ratio of one record.
type RateEntry struct {
	Key        string              `json:"txn_id"`
	Origin     Origin              `json:"origin"`
	Row        int                 `json:"row"`
	Revenue    decimal.Decimal     `json:"revenue"`
	SaleAmount decimal.Decimal     `json:"sale_amount"`
	Rate       decimal.NullDecimal `json:"rate"`
	Flag       RateFlag            `json:"flag"`
}

// StatusBreakdown is the revenue of one status inside an aggregate bucket.
type StatusBreakdown struct {
	Status  string          `json:"status"`
	Revenue decimal.Decimal `json:"revenue"`
	Count   int             `json:"count"`
}

// AggregateBucket totals one dataset's records per brand and year-month.
type AggregateBucket struct {
	Origin          Origin              `json:"origin"`
	Brand           string              `json:"brand"`
	Period          string              `json:"period"`
	TotalRevenue    decimal.Decimal     `json:"total_revenue"`
	TotalSaleAmount decimal.Decimal     `json:"total_sale_amount"`
	RecordCount     int                 `json:"record_count"`
	AverageRate     decimal.NullDecimal `json:"average_rate"`
	DistinctRates   []decimal.Decimal   `json:"distinct_rates"`
	FirstDate       string              `json:"first_date"`
	LastDate        string              `json:"last_date"`
	ByStatus        []StatusBreakdown   `json:"by_status"`
}

// StatusSummary totals one dataset's records per status.
type StatusSummary struct {
	Origin     Origin              `json:"origin"`
	Status     string              `json:"status"`
	Revenue    decimal.Decimal     `json:"revenue"`
	SaleAmount decimal.Decimal     `json:"sale_amount"`
	Count      int                 `json:"count"`
	Rate       decimal.NullDecimal `json:"rate"`
}

// StatusRevenue maps a status to the summed revenue of one dataset.
type StatusRevenue map[string]decimal.Decimal

// RateComparison lines up the average rate of a brand and period present in
// both datasets.
type RateComparison struct {
	Brand        string              `json:"brand"`
	Period       string              `json:"period"`
	AverageRateA decimal.NullDecimal `json:"average_rate_a"`
	AverageRateB decimal.NullDecimal `json:"average_rate_b"`
	Difference   decimal.NullDecimal `json:"difference"`
}

// Summary provides high-level statistics of the reconciliation run.
type Summary struct {
	TotalRecordsA     int                 `json:"total_records_a"`
	TotalRecordsB     int                 `json:"total_records_b"`
	MatchingCount     int                 `json:"matching_records_count"`
	MismatchedCount   int                 `json:"mismatched_records_count"`
	OnlyInACount      int                 `json:"only_in_a_count"`
	OnlyInBCount      int                 `json:"only_in_b_count"`
	DuplicateKeysA    int                 `json:"duplicate_keys_a"`
	DuplicateKeysB    int                 `json:"duplicate_keys_b"`
	DuplicateRecordsA int                 `json:"duplicate_records_a"`
	DuplicateRecordsB int                 `json:"duplicate_records_b"`
	InvalidRecordsA   int                 `json:"invalid_records_a"`
	InvalidRecordsB   int                 `json:"invalid_records_b"`
	DivisionByZeroA   int                 `json:"division_by_zero_a"`
	DivisionByZeroB   int                 `json:"division_by_zero_b"`
	ClickIDMismatches int                 `json:"click_id_mismatches"`
	TotalRevenueA     decimal.Decimal     `json:"total_revenue_a"`
	TotalRevenueB     decimal.Decimal     `json:"total_revenue_b"`
	MaxRateDifference decimal.NullDecimal `json:"max_rate_difference"`
	Brands            []string            `json:"brands"`
}

// ComparisonReport is the full result of one run. It is assembled once and
// handed to the caller; nothing mutates it afterwards.
type ComparisonReport struct {
	RunID             string               `json:"run_id"`
	GeneratedAt       time.Time            `json:"generated_at"`
	NameA             string               `json:"name_a"`
	NameB             string               `json:"name_b"`
	Summary           Summary              `json:"summary"`
	Classification    ClassificationResult `json:"classification"`
	ClickIDMismatches []ClickIDMismatch    `json:"click_id_mismatches"`
	Rates             []RateEntry          `json:"rates"`
	Aggregates        []AggregateBucket    `json:"aggregates"`
	StatusSummaries   []StatusSummary      `json:"status_summaries"`
	StatusRevenueA    StatusRevenue        `json:"status_revenue_a"`
	StatusRevenueB    StatusRevenue        `json:"status_revenue_b"`
	RateComparisons   []RateComparison     `json:"rate_comparisons"`
	Issues            []RecordIssue        `json:"issues"`
	Warnings          []Warning            `json:"warnings"`
}

// Name returns the display name of an origin.
func (r *ComparisonReport) Name(o Origin) string {
	if o == OriginB {
		return r.NameB
	}
	return r.NameA
}
