package gateway

import (
	"strings"

	"revenue-reconciler/internal/domain"
)

// headerPatterns lists the header spellings recognised per field, most
// specific first.
var headerPatterns = []struct {
	field    domain.Field
	patterns []string
}{
	{domain.FieldTxnID, []string{"txn_id", "transaction_id", "txn", "transaction", "id", "order id", "orderid"}},
	{domain.FieldRevenue, []string{"revenue", "rev", "earning", "commission", "payment", "payout"}},
	{domain.FieldSaleAmount, []string{"sale_amount", "sale", "amount", "price", "value", "order sum", "ordersum", "order_amount"}},
	{domain.FieldStatus, []string{"status", "state", "condition", "order_status", "orderstatus"}},
	{domain.FieldBrand, []string{"brand", "brand_name", "advertiser", "merchant", "campaign_app_name", "app_name", "campaign"}},
	{domain.FieldCreated, []string{"created", "date", "created_at", "created_date", "transaction_date", "action time", "datetime"}},
	{domain.FieldClickID, []string{"click_id", "clickid", "click id"}},
	{domain.FieldConversionID, []string{"conversion_id", "conversionid", "conversion id"}},
}

// SuggestMapping guesses a column mapping from header names. Exact matches
// are assigned for every field before any partial match is tried, and each
// header is used at most once. Fields without a candidate are left out.
func SuggestMapping(headers []string) domain.ColumnMapping {
	lower := make([]string, len(headers))
	for i, h := range headers {
		lower[i] = strings.ToLower(strings.TrimSpace(h))
	}
	used := make([]bool, len(headers))
	mapping := domain.ColumnMapping{}

	assign := func(field domain.Field, match func(header, pattern string) bool, patterns []string) {
		for _, p := range patterns {
			for i, h := range lower {
				if used[i] || h == "" || !match(h, p) {
					continue
				}
				mapping[field] = headers[i]
				used[i] = true
				return
			}
		}
	}

	exact := func(h, p string) bool { return h == p }
	partial := func(h, p string) bool { return strings.Contains(h, p) || strings.Contains(p, h) }

	for _, fp := range headerPatterns {
		assign(fp.field, exact, fp.patterns)
	}
	for _, fp := range headerPatterns {
		if _, ok := mapping[fp.field]; !ok {
			assign(fp.field, partial, fp.patterns)
		}
	}
	return mapping
}
