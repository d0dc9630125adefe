package gateway

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"revenue-reconciler/internal/domain"
)

// SummarySheet is the first sheet of every report workbook.
const SummarySheet = "Summary"

const (
	maxSheetName = 31
	maxColWidth  = 60
)

// ReportWriter renders a ComparisonReport into an xlsx workbook.
type ReportWriter struct{}

// NewReportWriter creates a new writer instance.
func NewReportWriter() *ReportWriter {
	return &ReportWriter{}
}

// Write renders report and streams the workbook to out.
func (w *ReportWriter) Write(report *domain.ComparisonReport, out io.Writer) error {
	f, err := w.Workbook(report)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Workbook builds the workbook in memory. The caller closes it.
func (w *ReportWriter) Workbook(report *domain.ComparisonReport) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SummarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename default sheet: %w", err)
	}
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D3D3D3"}},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	b := &workbookBuilder{f: f, headerStyle: style}
	labelA, labelB := sheetLabels(report.NameA, report.NameB)
	b.summary(report)
	b.matching(report.Classification.Matched)
	b.mismatches(report.Classification.Mismatched)
	b.records("Only in "+labelA, report.Classification.OnlyInA)
	b.records("Only in "+labelB, report.Classification.OnlyInB)
	b.duplicates("Duplicates in "+labelA, report.Classification.DuplicateInA)
	b.duplicates("Duplicates in "+labelB, report.Classification.DuplicateInB)
	b.buckets("Rates "+labelA, report.Aggregates, domain.OriginA)
	b.buckets("Rates "+labelB, report.Aggregates, domain.OriginB)
	b.rateComparison(report.RateComparisons)
	b.recordRates(report)
	b.statusRevenue(report)
	b.clickIDs(report.ClickIDMismatches)
	b.issues(report)
	if b.err != nil {
		f.Close()
		return nil, b.err
	}
	f.SetActiveSheet(0)
	return f, nil
}

// ReportFileName names a report after its brands and the given day, e.g.
// "brandx-brandy-validation-results-2024-01-31.xlsx".
func ReportFileName(report *domain.ComparisonReport, now time.Time) string {
	brands := report.Summary.Brands
	prefix := strings.Join(brands, "-")
	if len(brands) > 3 {
		prefix = brands[0] + "-and-others"
	}
	name := fmt.Sprintf("%s-validation-results-%s.xlsx", prefix, now.Format(time.DateOnly))

	var sb strings.Builder
	for _, c := range strings.ToLower(name) {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '_' || c == '.' {
			sb.WriteRune(c)
		}
	}
	return strings.TrimLeft(sb.String(), "-")
}

// sheetLabels derives per-dataset sheet suffixes from the file names, falling
// back to A and B when they would collide.
func sheetLabels(nameA, nameB string) (string, string) {
	const room = maxSheetName - len("Duplicates in ")
	clean := func(name string) string {
		name = strings.TrimSuffix(name, filepath.Ext(name))
		name = strings.Map(func(r rune) rune {
			if strings.ContainsRune(`[]:*?/\`, r) {
				return -1
			}
			return r
		}, name)
		name = strings.TrimSpace(name)
		for utf8.RuneCountInString(name) > room {
			_, size := utf8.DecodeLastRuneInString(name)
			name = name[:len(name)-size]
		}
		return name
	}
	a, b := clean(nameA), clean(nameB)
	if a == "" || b == "" || strings.EqualFold(a, b) {
		return string(domain.OriginA), string(domain.OriginB)
	}
	return a, b
}

type workbookBuilder struct {
	f           *excelize.File
	headerStyle int
	err         error
}

type sheetWriter struct {
	b      *workbookBuilder
	name   string
	row    int
	widths []int
}

func (b *workbookBuilder) sheet(name string, headers ...string) *sheetWriter {
	s := &sheetWriter{b: b, name: name, widths: make([]int, len(headers))}
	if b.err != nil {
		return s
	}
	if name != SummarySheet {
		if _, err := b.f.NewSheet(name); err != nil {
			b.err = fmt.Errorf("failed to create sheet %q: %w", name, err)
			return s
		}
	}
	values := make([]interface{}, len(headers))
	for i, h := range headers {
		values[i] = h
	}
	s.append(values...)
	return s
}

func (s *sheetWriter) append(values ...interface{}) {
	if s.b.err != nil {
		return
	}
	s.row++
	cell, err := excelize.CoordinatesToCellName(1, s.row)
	if err != nil {
		s.b.err = err
		return
	}
	if err := s.b.f.SetSheetRow(s.name, cell, &values); err != nil {
		s.b.err = fmt.Errorf("failed to write row %d of %q: %w", s.row, s.name, err)
		return
	}
	for i, v := range values {
		if i >= len(s.widths) {
			s.widths = append(s.widths, 0)
		}
		if n := utf8.RuneCountInString(fmt.Sprint(v)); n > s.widths[i] {
			s.widths[i] = n
		}
	}
}

// close styles the header row and fits the column widths.
func (s *sheetWriter) close() {
	if s.b.err != nil || len(s.widths) == 0 {
		return
	}
	last, err := excelize.CoordinatesToCellName(len(s.widths), 1)
	if err != nil {
		s.b.err = err
		return
	}
	if err := s.b.f.SetCellStyle(s.name, "A1", last, s.b.headerStyle); err != nil {
		s.b.err = fmt.Errorf("failed to style header of %q: %w", s.name, err)
		return
	}
	for i, width := range s.widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			s.b.err = err
			return
		}
		if width+2 > maxColWidth {
			width = maxColWidth - 2
		}
		if err := s.b.f.SetColWidth(s.name, col, col, float64(width+2)); err != nil {
			s.b.err = fmt.Errorf("failed to size column %s of %q: %w", col, s.name, err)
			return
		}
	}
}

func (b *workbookBuilder) summary(report *domain.ComparisonReport) {
	s := b.sheet(SummarySheet, "Metric", "Value")
	sum := report.Summary
	rows := []struct {
		key   string
		value interface{}
	}{
		{"Run ID", report.RunID},
		{"Generated At", report.GeneratedAt.Format(time.DateTime)},
		{"File A", report.NameA},
		{"File B", report.NameB},
		{"Total Records A", sum.TotalRecordsA},
		{"Total Records B", sum.TotalRecordsB},
		{"Matching Records", sum.MatchingCount},
		{"Mismatched Records", sum.MismatchedCount},
		{"Only in A", sum.OnlyInACount},
		{"Only in B", sum.OnlyInBCount},
		{"Duplicate Keys A", sum.DuplicateKeysA},
		{"Duplicate Keys B", sum.DuplicateKeysB},
		{"Duplicate Records A", sum.DuplicateRecordsA},
		{"Duplicate Records B", sum.DuplicateRecordsB},
		{"Invalid Records A", sum.InvalidRecordsA},
		{"Invalid Records B", sum.InvalidRecordsB},
		{"Division By Zero A", sum.DivisionByZeroA},
		{"Division By Zero B", sum.DivisionByZeroB},
		{"Click ID Mismatches", sum.ClickIDMismatches},
		{"Total Revenue A", sum.TotalRevenueA.String()},
		{"Total Revenue B", sum.TotalRevenueB.String()},
		{"Max Rate Difference", nullText(sum.MaxRateDifference)},
		{"Brands", strings.Join(sum.Brands, ", ")},
	}
	for _, r := range rows {
		s.append(r.key, r.value)
	}
	for _, warn := range report.Warnings {
		s.append("Warning "+string(warn.Origin), warn.Message)
	}
	s.close()
}

func (b *workbookBuilder) matching(pairs []domain.Pair) {
	s := b.sheet("Matching Records", "Transaction ID", "Status", "Brand", "Created",
		"Revenue A", "Revenue B", "Sale Amount A", "Sale Amount B", "Click ID A", "Click ID B")
	for _, p := range pairs {
		s.append(p.Key, p.A.Status, p.A.Brand, p.A.CreatedDate(),
			amount(p.A, domain.FieldRevenue), amount(p.B, domain.FieldRevenue),
			amount(p.A, domain.FieldSaleAmount), amount(p.B, domain.FieldSaleAmount),
			p.A.ClickID, p.B.ClickID)
	}
	s.close()
}

func (b *workbookBuilder) mismatches(mismatches []domain.Mismatch) {
	s := b.sheet("Mismatches", "Transaction ID", "Field", "Value A", "Value B", "Reason", "Date Difference (days)")
	for _, m := range mismatches {
		var days interface{} = ""
		if m.DateDifferenceDays != nil {
			days = *m.DateDifferenceDays
		}
		for _, d := range m.Diffs {
			s.append(m.Key, string(d.Field), d.ValueA, d.ValueB, string(m.Reason), days)
		}
	}
	s.close()
}

func (b *workbookBuilder) records(name string, records []domain.Record) {
	s := b.sheet(name, "Row", "Transaction ID", "Revenue", "Sale Amount", "Status", "Brand", "Created", "Click ID")
	for _, r := range records {
		s.append(r.Row, r.Key, amount(r, domain.FieldRevenue), amount(r, domain.FieldSaleAmount),
			r.Status, r.Brand, r.CreatedDate(), r.ClickID)
	}
	s.close()
}

func (b *workbookBuilder) duplicates(name string, groups []domain.DuplicateGroup) {
	s := b.sheet(name, "Transaction ID", "Row", "Revenue", "Sale Amount", "Status", "Brand", "Created")
	for _, g := range groups {
		for _, r := range g.Records {
			s.append(g.Key, r.Row, amount(r, domain.FieldRevenue), amount(r, domain.FieldSaleAmount),
				r.Status, r.Brand, r.CreatedDate())
		}
	}
	s.close()
}

func (b *workbookBuilder) buckets(name string, buckets []domain.AggregateBucket, origin domain.Origin) {
	s := b.sheet(name, "Brand", "Period", "Total Revenue", "Total Sale Amount", "Records",
		"Average Rate", "Distinct Rates", "First Date", "Last Date", "Status Breakdown")
	for _, bk := range buckets {
		if bk.Origin != origin {
			continue
		}
		rates := make([]string, len(bk.DistinctRates))
		for i, r := range bk.DistinctRates {
			rates[i] = r.String()
		}
		statuses := make([]string, len(bk.ByStatus))
		for i, st := range bk.ByStatus {
			statuses[i] = fmt.Sprintf("%s: %s (%d)", st.Status, st.Revenue.String(), st.Count)
		}
		s.append(bk.Brand, bk.Period, number(bk.TotalRevenue), number(bk.TotalSaleAmount), bk.RecordCount,
			nullNumber(bk.AverageRate), strings.Join(rates, ", "), bk.FirstDate, bk.LastDate, strings.Join(statuses, "; "))
	}
	s.close()
}

func (b *workbookBuilder) rateComparison(rows []domain.RateComparison) {
	s := b.sheet("Rate Comparison", "Brand", "Period", "Average Rate A", "Average Rate B", "Difference")
	for _, r := range rows {
		s.append(r.Brand, r.Period, nullNumber(r.AverageRateA), nullNumber(r.AverageRateB), nullNumber(r.Difference))
	}
	s.close()
}

func (b *workbookBuilder) recordRates(report *domain.ComparisonReport) {
	s := b.sheet("Record Rates", "Dataset", "Row", "Transaction ID", "Revenue", "Sale Amount", "Rate", "Flag", "Note")
	for _, e := range report.Rates {
		revenue, sale := interface{}(number(e.Revenue)), interface{}(number(e.SaleAmount))
		if e.Flag == domain.RateInvalidData {
			revenue, sale = "", ""
		}
		note := ""
		if err := e.Flag.Err(); err != nil {
			note = err.Error()
		}
		s.append(report.Name(e.Origin), e.Row, e.Key, revenue, sale, nullNumber(e.Rate), string(e.Flag), note)
	}
	s.close()
}

func (b *workbookBuilder) statusRevenue(report *domain.ComparisonReport) {
	s := b.sheet("Status Revenue", "Dataset", "Status", "Revenue", "Sale Amount", "Records", "Rate")
	for _, st := range report.StatusSummaries {
		s.append(report.Name(st.Origin), st.Status, number(st.Revenue), number(st.SaleAmount), st.Count, nullNumber(st.Rate))
	}
	s.close()
}

func (b *workbookBuilder) clickIDs(rows []domain.ClickIDMismatch) {
	s := b.sheet("Click ID Mismatches", "Transaction ID", "Click ID A", "Click ID B")
	for _, r := range rows {
		s.append(r.Key, r.ClickIDA, r.ClickIDB)
	}
	s.close()
}

func (b *workbookBuilder) issues(report *domain.ComparisonReport) {
	s := b.sheet("Record Issues", "Dataset", "Row", "Transaction ID", "Field", "Kind", "Value", "Message")
	for _, is := range report.Issues {
		s.append(report.Name(is.Origin), is.Row, is.Key, string(is.Field), string(is.Kind), is.Value, is.Message)
	}
	s.close()
}

// amount writes a parsed amount as a number and an unparseable one as its
// original text.
func amount(r domain.Record, f domain.Field) interface{} {
	if !r.Valid(f) {
		return r.Raw[f]
	}
	if f == domain.FieldSaleAmount {
		return number(r.SaleAmount)
	}
	return number(r.Revenue)
}

func number(d decimal.Decimal) float64 {
	return d.InexactFloat64()
}

func nullNumber(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return "N/A"
	}
	return number(d.Decimal)
}

func nullText(d decimal.NullDecimal) string {
	if !d.Valid {
		return "N/A"
	}
	return d.Decimal.String()
}
