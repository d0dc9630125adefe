package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Field is a logical column name that a caller maps onto a file header.
type Field string

const (
	FieldTxnID        Field = "txn_id"
	FieldRevenue      Field = "revenue"
	FieldSaleAmount   Field = "sale_amount"
	FieldStatus       Field = "status"
	FieldBrand        Field = "brand"
	FieldCreated      Field = "created"
	FieldClickID      Field = "click_id"
	FieldConversionID Field = "conversion_id"
)

// RequiredFields must be mapped for every input file.
var RequiredFields = []Field{FieldTxnID, FieldRevenue, FieldSaleAmount, FieldStatus, FieldBrand, FieldCreated}

// OptionalFields are picked up when the data source carries them.
var OptionalFields = []Field{FieldClickID, FieldConversionID}

// ColumnMapping maps a logical field to the actual header of one file.
type ColumnMapping map[Field]string

// RawRow is a single spreadsheet row keyed by header name.
type RawRow map[string]string

// Sheet is the tabular content handed over by a spreadsheet reader.
type Sheet struct {
	Headers []string `json:"headers"`
	Rows    []RawRow `json:"rows"`
}

// Origin identifies the input dataset a record belongs to.
type Origin string

const (
	OriginA Origin = "A"
	OriginB Origin = "B"
)

// Record is one normalized row. It is never modified after normalization.
type Record struct {
	Key          string          `json:"txn_id"`
	Origin       Origin          `json:"origin"`
	Row          int             `json:"row"`
	Revenue      decimal.Decimal `json:"revenue"`
	SaleAmount   decimal.Decimal `json:"sale_amount"`
	Status       string          `json:"status"`
	Brand        string          `json:"brand"`
	Created      time.Time       `json:"created"`
	ClickID      string          `json:"click_id,omitempty"`
	ConversionID string          `json:"conversion_id,omitempty"`

	// Raw holds the trimmed cell text per mapped field, kept for reporting
	// and for comparing fields that failed coercion.
	Raw map[Field]string `json:"raw,omitempty"`
	// Invalid lists the fields whose value could not be coerced.
	Invalid []Field `json:"invalid,omitempty"`
}

// Valid reports whether f was coerced successfully.
func (r Record) Valid(f Field) bool {
	for _, bad := range r.Invalid {
		if bad == f {
			return false
		}
	}
	return true
}

// Numeric reports whether both revenue and sale amount are usable in calculations.
func (r Record) Numeric() bool {
	return r.Valid(FieldRevenue) && r.Valid(FieldSaleAmount)
}

// Dated reports whether the created date parsed.
func (r Record) Dated() bool {
	return r.Valid(FieldCreated)
}

// Period returns the year-month bucket of the created date.
func (r Record) Period() string {
	if !r.Dated() {
		return ""
	}
	return r.Created.Format("2006-01")
}

// CreatedDate formats the created date, falling back to the raw cell text.
func (r Record) CreatedDate() string {
	if !r.Dated() {
		return r.Raw[FieldCreated]
	}
	return r.Created.Format(time.DateOnly)
}

// IssueKind classifies a per-record data problem.
type IssueKind string

const (
	IssueInvalidDataType IssueKind = "invalid_data_type"
	IssueMissingKey      IssueKind = "missing_key"
)

// RecordIssue is a non-fatal problem found in one source row.
type RecordIssue struct {
	Origin  Origin    `json:"origin"`
	Row     int       `json:"row"`
	Key     string    `json:"txn_id"`
	Field   Field     `json:"field"`
	Kind    IssueKind `json:"kind"`
	Value   string    `json:"value"`
	Message string    `json:"message"`
}

// Warning is a dataset-level condition that does not stop a run.
type Warning struct {
	Origin  Origin `json:"origin"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}
