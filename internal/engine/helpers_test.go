package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"revenue-reconciler/internal/domain"
)

var testMapping = domain.ColumnMapping{
	domain.FieldTxnID:      "txn_id",
	domain.FieldRevenue:    "revenue",
	domain.FieldSaleAmount: "sale_amount",
	domain.FieldStatus:     "status",
	domain.FieldBrand:      "brand",
	domain.FieldCreated:    "created",
	domain.FieldClickID:    "click_id",
}

var testHeaders = []string{"txn_id", "revenue", "sale_amount", "status", "brand", "created", "click_id"}

// row builds a raw row in the column order of testHeaders.
func row(cells ...string) domain.RawRow {
	r := domain.RawRow{}
	for i, c := range cells {
		r[testHeaders[i]] = c
	}
	return r
}

func normalize(t *testing.T, origin domain.Origin, rows ...domain.RawRow) []domain.Record {
	t.Helper()
	n, err := NewNormalizer(origin, testMapping, testHeaders)
	require.NoError(t, err)
	records, _ := n.Normalize(rows)
	return records
}

func dataset(t *testing.T, origin domain.Origin, rows ...domain.RawRow) *Dataset {
	t.Helper()
	return NewDataset(origin, string(origin), normalize(t, origin, rows...))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func keysOf[T any](items []T, key func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, key(it))
	}
	return out
}

func recordKey(r domain.Record) string        { return r.Key }
func pairKey(p domain.Pair) string            { return p.Key }
func mismatchKey(m domain.Mismatch) string    { return m.Key }
func groupKey(g domain.DuplicateGroup) string { return g.Key }
