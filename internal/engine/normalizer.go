package engine

import (
	"fmt"
	"strings"

	"revenue-reconciler/internal/domain"
)

// Normalizer maps raw rows of one file into canonical records.
type Normalizer struct {
	origin  domain.Origin
	mapping domain.ColumnMapping
}

// NewNormalizer checks the mapping against the file headers and returns a
// normalizer for it. headers may be nil when the caller has no header row, in
// which case only the presence of a mapping is checked.
func NewNormalizer(origin domain.Origin, mapping domain.ColumnMapping, headers []string) (*Normalizer, error) {
	if err := ValidateMapping(mapping, headers); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", origin, err)
	}
	return &Normalizer{origin: origin, mapping: mapping}, nil
}

// ValidateMapping fails with domain.ErrMissingColumn when a required field is
// unmapped or mapped to a header the file does not have.
func ValidateMapping(mapping domain.ColumnMapping, headers []string) error {
	var present map[string]bool
	if headers != nil {
		present = make(map[string]bool, len(headers))
		for _, h := range headers {
			present[strings.TrimSpace(h)] = true
		}
	}

	var missing []string
	for _, f := range domain.RequiredFields {
		header := strings.TrimSpace(mapping[f])
		if header == "" {
			missing = append(missing, fmt.Sprintf("%s (unmapped)", f))
			continue
		}
		if present != nil && !present[header] {
			missing = append(missing, fmt.Sprintf("%s (header %q not found)", f, header))
		}
	}
	for _, f := range domain.OptionalFields {
		header := strings.TrimSpace(mapping[f])
		if header != "" && present != nil && !present[header] {
			missing = append(missing, fmt.Sprintf("%s (header %q not found)", f, header))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrMissingColumn, strings.Join(missing, ", "))
	}
	return nil
}

// Normalize converts every row. Rows with bad cells are still returned,
// with the failing fields listed in Record.Invalid and an issue per field.
func (n *Normalizer) Normalize(rows []domain.RawRow) ([]domain.Record, []domain.RecordIssue) {
	records := make([]domain.Record, 0, len(rows))
	var issues []domain.RecordIssue
	for i, row := range rows {
		rec, rowIssues := n.normalizeRow(i+1, row)
		records = append(records, rec)
		issues = append(issues, rowIssues...)
	}
	return records, issues
}

func (n *Normalizer) normalizeRow(rowNum int, row domain.RawRow) (domain.Record, []domain.RecordIssue) {
	raw := make(map[domain.Field]string, len(n.mapping))
	for f, header := range n.mapping {
		if header = strings.TrimSpace(header); header == "" {
			continue
		}
		raw[f] = strings.TrimSpace(row[header])
	}

	rec := domain.Record{
		Key:          raw[domain.FieldTxnID],
		Origin:       n.origin,
		Row:          rowNum,
		Status:       normalizeLabel(raw[domain.FieldStatus]),
		Brand:        normalizeLabel(raw[domain.FieldBrand]),
		ClickID:      raw[domain.FieldClickID],
		ConversionID: raw[domain.FieldConversionID],
		Raw:          raw,
	}

	var issues []domain.RecordIssue
	invalid := func(f domain.Field, kind domain.IssueKind, msg string) {
		rec.Invalid = append(rec.Invalid, f)
		issues = append(issues, domain.RecordIssue{
			Origin:  n.origin,
			Row:     rowNum,
			Key:     rec.Key,
			Field:   f,
			Kind:    kind,
			Value:   raw[f],
			Message: msg,
		})
	}

	if rec.Key == "" {
		issues = append(issues, domain.RecordIssue{
			Origin:  n.origin,
			Row:     rowNum,
			Field:   domain.FieldTxnID,
			Kind:    domain.IssueMissingKey,
			Message: "transaction id is empty",
		})
	}

	var err error
	if rec.Revenue, err = parseAmount(raw[domain.FieldRevenue]); err != nil {
		invalid(domain.FieldRevenue, domain.IssueInvalidDataType, fmt.Sprintf("%v: revenue: %v", domain.ErrInvalidDataType, err))
	}
	if rec.SaleAmount, err = parseAmount(raw[domain.FieldSaleAmount]); err != nil {
		invalid(domain.FieldSaleAmount, domain.IssueInvalidDataType, fmt.Sprintf("%v: sale_amount: %v", domain.ErrInvalidDataType, err))
	}
	if rec.Created, err = parseDate(raw[domain.FieldCreated]); err != nil {
		invalid(domain.FieldCreated, domain.IssueInvalidDataType, fmt.Sprintf("%v: created: %v", domain.ErrInvalidDataType, err))
	}
	return rec, issues
}
