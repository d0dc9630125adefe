package usecase_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"revenue-reconciler/internal/domain"
	"revenue-reconciler/internal/engine"
	"revenue-reconciler/internal/usecase"
	mock_usecase "revenue-reconciler/internal/usecase/mocks"
)

var headers = []string{"Order ID", "Revenue", "Sale Amount", "Status", "Brand", "Created", "Click ID"}

var mapping = domain.ColumnMapping{
	domain.FieldTxnID:      "Order ID",
	domain.FieldRevenue:    "Revenue",
	domain.FieldSaleAmount: "Sale Amount",
	domain.FieldStatus:     "Status",
	domain.FieldBrand:      "Brand",
	domain.FieldCreated:    "Created",
	domain.FieldClickID:    "Click ID",
}

func row(cells ...string) domain.RawRow {
	r := domain.RawRow{}
	for i, c := range cells {
		r[headers[i]] = c
	}
	return r
}

func source(name string, rows ...domain.RawRow) usecase.Source {
	return usecase.Source{Name: name, Headers: headers, Rows: rows, Mapping: mapping}
}

func newUseCase(reader usecase.SpreadsheetReader) *usecase.ReconciliationUseCase {
	return usecase.NewReconciliationUseCase(reader, engine.DefaultOptions(), zerolog.Nop())
}

func expectAllPhases(pub *mock_usecase.MockProgressPublisher) {
	var calls []*gomock.Call
	for _, step := range domain.Steps {
		calls = append(calls, pub.EXPECT().Notify(step, step.Percentage(), gomock.Not(gomock.Nil())))
	}
	gomock.InOrder(calls...)
}

func TestReconciliationUseCase_Reconcile(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tests := []struct {
		name           string
		a, b           usecase.Source
		wantMatched    int
		wantMismatched int
		wantOnlyA      int
		wantOnlyB      int
		wantDupA       int
		wantDupB       int
		wantRevenueA   string
		wantRevenueB   string
		wantWarnings   int
	}{
		{
			name:         "identical records match",
			a:            source("a.xlsx", row("T1", "100", "50", "approved", "BrandX", "2024-01-05")),
			b:            source("b.xlsx", row("T1", "100", "50", "approved", "BrandX", "2024-01-05")),
			wantMatched:  1,
			wantRevenueA: "100",
			wantRevenueB: "100",
		},
		{
			name:         "record only in A",
			a:            source("a.xlsx", row("T2", "200", "0", "pending", "BrandY", "2024-01-10")),
			b:            source("b.xlsx"),
			wantOnlyA:    1,
			wantRevenueA: "200",
			wantRevenueB: "0",
			wantWarnings: 1,
		},
		{
			name:           "status mismatch",
			a:              source("a.xlsx", row("T3", "100", "50", "approved", "BrandX", "2024-01-05")),
			b:              source("b.xlsx", row("T3", "100", "50", "rejected", "BrandX", "2024-01-05")),
			wantMismatched: 1,
			wantRevenueA:   "100",
			wantRevenueB:   "100",
		},
		{
			name: "duplicates are counted in revenue but not compared",
			a: source("a.xlsx",
				row("T4", "10", "5", "approved", "BrandX", "2024-01-05"),
				row("T4", "20", "10", "approved", "BrandX", "2024-01-05"),
			),
			b:            source("b.xlsx", row("T4", "10", "5", "approved", "BrandX", "2024-01-05")),
			wantDupA:     1,
			wantRevenueA: "30",
			wantRevenueB: "10",
		},
		{
			name:         "both datasets empty",
			a:            source("a.xlsx"),
			b:            source("b.xlsx"),
			wantRevenueA: "0",
			wantRevenueB: "0",
			wantWarnings: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := mock_usecase.NewMockProgressPublisher(ctrl)
			expectAllPhases(pub)

			uc := newUseCase(nil)
			report, err := uc.Reconcile(context.Background(), usecase.Request{
				RunID:     "run-1",
				A:         tt.a,
				B:         tt.b,
				Publisher: pub,
			})
			require.NoError(t, err)

			s := report.Summary
			assert.Equal(t, "run-1", report.RunID)
			assert.Equal(t, "a.xlsx", report.NameA)
			assert.Equal(t, tt.wantMatched, s.MatchingCount)
			assert.Equal(t, tt.wantMismatched, s.MismatchedCount)
			assert.Equal(t, tt.wantOnlyA, s.OnlyInACount)
			assert.Equal(t, tt.wantOnlyB, s.OnlyInBCount)
			assert.Equal(t, tt.wantDupA, s.DuplicateKeysA)
			assert.Equal(t, tt.wantDupB, s.DuplicateKeysB)
			assert.True(t, decimal.RequireFromString(tt.wantRevenueA).Equal(s.TotalRevenueA), "revenue A %s", s.TotalRevenueA)
			assert.True(t, decimal.RequireFromString(tt.wantRevenueB).Equal(s.TotalRevenueB), "revenue B %s", s.TotalRevenueB)
			assert.Len(t, report.Warnings, tt.wantWarnings)
			assert.Len(t, report.Rates, s.TotalRecordsA+s.TotalRecordsB)
		})
	}
}

func TestReconciliationUseCase_ReportContents(t *testing.T) {
	uc := newUseCase(nil)
	report, err := uc.Reconcile(context.Background(), usecase.Request{
		A: source("network.csv",
			row("T1", "100", "50", "approved", "BrandX", "2024-01-05", "c1"),
			row("T2", "200", "100", "Approved", "BrandX", "2024-01-20", "c2"),
			row("T3", "30", "0", "pending", "BrandY", "2024-02-01"),
			row("T4", "oops", "10", "pending", "BrandY", "2024-02-01"),
		),
		B: source("platform.csv",
			row("T1", "100", "50", "approved", "BrandX", "2024-01-05", "c1-other"),
			row("T2", "250", "100", "approved", "BrandX", "2024-01-20", "c2"),
			row("T5", "40", "20", "approved", "BrandY", "2024-02-03"),
		),
	})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, []string{"brandx", "brandy"}, report.Summary.Brands)
	assert.Equal(t, 1, report.Summary.ClickIDMismatches)
	assert.Equal(t, 1, report.Summary.DivisionByZeroA)
	assert.Equal(t, 1, report.Summary.InvalidRecordsA)
	assert.True(t, decimal.RequireFromString("330").Equal(report.Summary.TotalRevenueA))

	require.Len(t, report.Classification.Mismatched, 1)
	m := report.Classification.Mismatched[0]
	assert.Equal(t, "T2", m.Key)
	assert.Equal(t, domain.ReasonRevenueByRate, m.Reason)

	var bucket *domain.AggregateBucket
	for i, b := range report.Aggregates {
		if b.Origin == domain.OriginA && b.Brand == "brandx" && b.Period == "2024-01" {
			bucket = &report.Aggregates[i]
		}
	}
	require.NotNil(t, bucket)
	assert.True(t, decimal.RequireFromString("300").Equal(bucket.TotalRevenue))
	assert.Equal(t, 2, bucket.RecordCount)
	assert.Equal(t, "2.00", bucket.AverageRate.Decimal.StringFixed(2))

	assert.True(t, decimal.RequireFromString("300").Equal(report.StatusRevenueA["approved"]))
	assert.True(t, decimal.RequireFromString("30").Equal(report.StatusRevenueA["pending"]))

	require.NotEmpty(t, report.Issues)
	assert.Equal(t, domain.IssueInvalidDataType, report.Issues[0].Kind)
	assert.Equal(t, 4, report.Issues[0].Row)
}

func TestReconciliationUseCase_ReadsFiles(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	reader := mock_usecase.NewMockSpreadsheetReader(ctrl)
	reader.EXPECT().Read(gomock.Any(), "/data/a.xlsx").Return(&domain.Sheet{
		Headers: headers,
		Rows:    []domain.RawRow{row("T1", "100", "50", "approved", "BrandX", "2024-01-05")},
	}, nil)
	reader.EXPECT().Read(gomock.Any(), "/data/b.csv").Return(&domain.Sheet{
		Headers: headers,
		Rows:    []domain.RawRow{row("T1", "100", "50", "approved", "BrandX", "2024-01-05")},
	}, nil)

	report, err := newUseCase(reader).Reconcile(context.Background(), usecase.Request{
		A: usecase.Source{Path: "/data/a.xlsx", Mapping: mapping},
		B: usecase.Source{Path: "/data/b.csv", Mapping: mapping},
	})
	require.NoError(t, err)
	assert.Equal(t, "a.xlsx", report.NameA)
	assert.Equal(t, "b.csv", report.NameB)
	assert.Equal(t, 1, report.Summary.MatchingCount)
}

func TestReconciliationUseCase_FatalErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	tests := []struct {
		name      string
		setup     func(reader *mock_usecase.MockSpreadsheetReader, pub *mock_usecase.MockProgressPublisher)
		a, b      usecase.Source
		wantPhase domain.Step
		wantErr   error
	}{
		{
			name: "unreadable file",
			setup: func(reader *mock_usecase.MockSpreadsheetReader, pub *mock_usecase.MockProgressPublisher) {
				reader.EXPECT().Read(gomock.Any(), "/data/a.xlsx").Return(nil, fmt.Errorf("corrupt zip: %w", domain.ErrFileFormat))
				reader.EXPECT().Read(gomock.Any(), "/data/b.xlsx").Return(&domain.Sheet{Headers: headers}, nil).AnyTimes()
			},
			a:         usecase.Source{Path: "/data/a.xlsx", Mapping: mapping},
			b:         usecase.Source{Path: "/data/b.xlsx", Mapping: mapping},
			wantPhase: domain.StepLoading,
			wantErr:   domain.ErrFileFormat,
		},
		{
			name: "required column unmapped",
			setup: func(reader *mock_usecase.MockSpreadsheetReader, pub *mock_usecase.MockProgressPublisher) {
				pub.EXPECT().Notify(domain.StepLoading, 20, gomock.Any())
			},
			a:         usecase.Source{Headers: headers, Mapping: domain.ColumnMapping{domain.FieldTxnID: "Order ID"}},
			b:         source("b.xlsx"),
			wantPhase: domain.StepValidation,
			wantErr:   domain.ErrMissingColumn,
		},
		{
			name: "mapped header missing in B",
			setup: func(reader *mock_usecase.MockSpreadsheetReader, pub *mock_usecase.MockProgressPublisher) {
				pub.EXPECT().Notify(domain.StepLoading, 20, gomock.Any())
			},
			a:         source("a.xlsx"),
			b:         usecase.Source{Headers: []string{"Order ID"}, Mapping: mapping},
			wantPhase: domain.StepValidation,
			wantErr:   domain.ErrMissingColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := mock_usecase.NewMockSpreadsheetReader(ctrl)
			pub := mock_usecase.NewMockProgressPublisher(ctrl)
			tt.setup(reader, pub)

			report, err := newUseCase(reader).Reconcile(context.Background(), usecase.Request{
				RunID:     "run-err",
				A:         tt.a,
				B:         tt.b,
				Publisher: pub,
			})
			assert.Nil(t, report)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var runErr *domain.RunError
			require.True(t, errors.As(err, &runErr))
			assert.Equal(t, tt.wantPhase, runErr.Phase)
			assert.Equal(t, "run-err", runErr.RunID)
			assert.Contains(t, err.Error(), string(tt.wantPhase))
		})
	}
}

func TestReconciliationUseCase_PanickingPublisher(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pub := mock_usecase.NewMockProgressPublisher(ctrl)
	pub.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Do(func(domain.Step, int, *domain.ProgressStats) {
		panic("observer went away")
	}).Times(len(domain.Steps))

	report, err := newUseCase(nil).Reconcile(context.Background(), usecase.Request{
		A:         source("a.xlsx", row("T1", "100", "50", "approved", "BrandX", "2024-01-05")),
		B:         source("b.xlsx", row("T1", "100", "50", "approved", "BrandX", "2024-01-05")),
		Publisher: pub,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Summary.MatchingCount)
}

func TestReconciliationUseCase_ProgressStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	var got []domain.ProgressStats
	pub := mock_usecase.NewMockProgressPublisher(ctrl)
	pub.EXPECT().Notify(gomock.Any(), gomock.Any(), gomock.Any()).Do(func(_ domain.Step, _ int, stats *domain.ProgressStats) {
		got = append(got, *stats)
	}).Times(len(domain.Steps))

	_, err := newUseCase(nil).Reconcile(context.Background(), usecase.Request{
		A: source("a.xlsx",
			row("T1", "100", "50", "approved", "BrandX", "2024-01-05"),
			row("T2", "100", "50", "approved", "BrandX", "2024-01-05"),
		),
		B:         source("b.xlsx", row("T1", "100", "50", "approved", "BrandX", "2024-01-05")),
		Publisher: pub,
	})
	require.NoError(t, err)
	require.Len(t, got, 5)

	assert.Equal(t, domain.ProgressStats{TotalRecordsA: 2, TotalRecordsB: 1}, got[0])
	assert.Zero(t, got[1].MatchingCount)
	assert.Equal(t, 1, got[2].MatchingCount)
	assert.Equal(t, 1, got[2].OnlyInACount)
	assert.Equal(t, 3, got[3].RateEntries)
}

func TestReconciliationUseCase_Deterministic(t *testing.T) {
	var rowsA, rowsB []domain.RawRow
	for i := 0; i < 200; i++ {
		key := fmt.Sprintf("K%03d", (i*37)%200)
		rowsA = append(rowsA, row(key, "10", "5", "approved", "BrandX", "2024-01-05"))
		if i%3 != 0 {
			rowsB = append(rowsB, row(key, fmt.Sprint(10+i%2), "5", "approved", "BrandX", "2024-01-05"))
		}
	}

	uc := newUseCase(nil)
	opts := engine.DefaultOptions()
	opts.Workers = 4

	first, err := uc.Reconcile(context.Background(), usecase.Request{A: source("a", rowsA...), B: source("b", rowsB...)})
	require.NoError(t, err)
	second, err := uc.Reconcile(context.Background(), usecase.Request{A: source("a", rowsA...), B: source("b", rowsB...), Options: &opts})
	require.NoError(t, err)

	assert.Equal(t, first.Classification, second.Classification)
	assert.Equal(t, first.Aggregates, second.Aggregates)
	assert.Equal(t, first.Summary, second.Summary)
}
