package usecase

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"revenue-reconciler/internal/domain"
	"revenue-reconciler/internal/engine"
)

// ReconciliationUseCase orchestrates the reconciliation process.
type ReconciliationUseCase struct {
	reader SpreadsheetReader
	opts   engine.Options
	log    zerolog.Logger
	now    func() time.Time
}

// NewReconciliationUseCase creates a new instance of the usecase. reader is
// only needed for sources given by path and may be nil otherwise.
func NewReconciliationUseCase(reader SpreadsheetReader, opts engine.Options, log zerolog.Logger) *ReconciliationUseCase {
	return &ReconciliationUseCase{
		reader: reader,
		opts:   opts.Normalize(),
		log:    log,
		now:    time.Now,
	}
}

// Source is one side of a reconciliation. Either Path is set and the file is
// read during loading, or Headers and Rows are already in memory.
type Source struct {
	Name    string
	Path    string
	Headers []string
	Rows    []domain.RawRow
	Mapping domain.ColumnMapping
}

func (s Source) displayName(origin domain.Origin) string {
	switch {
	case s.Name != "":
		return s.Name
	case s.Path != "":
		return filepath.Base(s.Path)
	}
	return "file " + string(origin)
}

// Request describes a single run.
type Request struct {
	// RunID identifies the run in logs and progress events. Generated when empty.
	RunID string
	A, B  Source
	// Options overrides the use case defaults for this run.
	Options   *engine.Options
	Publisher ProgressPublisher
}

// run holds the state of one reconciliation. Nothing in it outlives the call.
type run struct {
	id      string
	opts    engine.Options
	pub     ProgressPublisher
	log     zerolog.Logger
	stats   domain.ProgressStats
	started time.Time
}

// Reconcile runs loading, validation, comparison, calculation and report in
// that order and returns the assembled report. A fatal failure in any phase is
// returned as a *domain.RunError and no report is produced.
func (uc *ReconciliationUseCase) Reconcile(ctx context.Context, req Request) (*domain.ComparisonReport, error) {
	r := &run{
		id:      req.RunID,
		opts:    uc.opts,
		pub:     req.Publisher,
		started: uc.now(),
	}
	if r.id == "" {
		r.id = uuid.NewString()
	}
	if req.Options != nil {
		r.opts = req.Options.Normalize()
	}
	r.log = uc.log.With().Str("run_id", r.id).Logger()
	r.log.Info().
		Str("file_a", req.A.displayName(domain.OriginA)).
		Str("file_b", req.B.displayName(domain.OriginB)).
		Msg("reconciliation started")

	// Phase 1: Loading
	sheetA, sheetB, err := uc.load(ctx, req.A, req.B)
	if err != nil {
		return nil, r.fail(domain.StepLoading, err)
	}
	r.stats.TotalRecordsA = len(sheetA.Rows)
	r.stats.TotalRecordsB = len(sheetB.Rows)
	r.done(domain.StepLoading)

	// Phase 2: Validation
	a, issuesA, err := buildDataset(domain.OriginA, req.A.displayName(domain.OriginA), req.A.Mapping, sheetA)
	if err != nil {
		return nil, r.fail(domain.StepValidation, err)
	}
	b, issuesB, err := buildDataset(domain.OriginB, req.B.displayName(domain.OriginB), req.B.Mapping, sheetB)
	if err != nil {
		return nil, r.fail(domain.StepValidation, err)
	}
	var warnings []domain.Warning
	for _, d := range []*engine.Dataset{a, b} {
		if d.Empty() {
			warnings = append(warnings, domain.Warning{
				Origin:  d.Origin,
				Kind:    "empty_dataset",
				Message: fmt.Sprintf("%v: %s has no records", domain.ErrEmptyDataset, d.Name),
			})
			r.log.Warn().Str("dataset", string(d.Origin)).Msg("empty dataset")
		}
	}
	r.stats.DuplicateKeysA = len(a.DuplicateKeys())
	r.stats.DuplicateKeysB = len(b.DuplicateKeys())
	r.done(domain.StepValidation)

	// Phase 3: Comparison
	classification, err := engine.NewClassifier(r.opts).Classify(ctx, a, b)
	if err != nil {
		return nil, r.fail(domain.StepComparison, err)
	}
	res := classification.Result
	r.stats.MatchingCount = len(res.Matched)
	r.stats.MismatchedCount = len(res.Mismatched)
	r.stats.OnlyInACount = len(res.OnlyInA)
	r.stats.OnlyInBCount = len(res.OnlyInB)
	r.done(domain.StepComparison)

	// Phase 4: Calculation
	calc := engine.NewRateCalculator(r.opts.RatePrecision)
	ratesA := calc.CalculateAll(a.Records)
	ratesB := calc.CalculateAll(b.Records)
	agg := engine.NewAggregator(r.opts.RatePrecision)
	aggA := agg.Aggregate(domain.OriginA, a.Records, ratesA)
	aggB := agg.Aggregate(domain.OriginB, b.Records, ratesB)
	rateComparisons, maxDiff := agg.CompareRates(aggA.Buckets, aggB.Buckets)
	r.stats.RateEntries = len(ratesA) + len(ratesB)
	r.done(domain.StepCalculation)

	// Phase 5: Report
	report := &domain.ComparisonReport{
		RunID:       r.id,
		GeneratedAt: uc.now(),
		NameA:       a.Name,
		NameB:       b.Name,
		Summary: domain.Summary{
			TotalRecordsA:     a.Len(),
			TotalRecordsB:     b.Len(),
			MatchingCount:     len(res.Matched),
			MismatchedCount:   len(res.Mismatched),
			OnlyInACount:      len(res.OnlyInA),
			OnlyInBCount:      len(res.OnlyInB),
			DuplicateKeysA:    len(res.DuplicateInA),
			DuplicateKeysB:    len(res.DuplicateInB),
			DuplicateRecordsA: a.DuplicateRecordCount(),
			DuplicateRecordsB: b.DuplicateRecordCount(),
			InvalidRecordsA:   a.InvalidRecordCount(),
			InvalidRecordsB:   b.InvalidRecordCount(),
			DivisionByZeroA:   aggA.DivisionByZero,
			DivisionByZeroB:   aggB.DivisionByZero,
			ClickIDMismatches: len(classification.ClickIDMismatches),
			TotalRevenueA:     aggA.TotalRevenue,
			TotalRevenueB:     aggB.TotalRevenue,
			MaxRateDifference: maxDiff,
			Brands:            brands(a, b),
		},
		Classification:    res,
		ClickIDMismatches: classification.ClickIDMismatches,
		Rates:             append(ratesA, ratesB...),
		Aggregates:        append(aggA.Buckets, aggB.Buckets...),
		StatusSummaries:   append(aggA.Statuses, aggB.Statuses...),
		StatusRevenueA:    aggA.StatusRevenue,
		StatusRevenueB:    aggB.StatusRevenue,
		RateComparisons:   rateComparisons,
		Issues:            append(issuesA, issuesB...),
		Warnings:          warnings,
	}
	r.done(domain.StepReport)

	r.log.Info().
		Int("matched", report.Summary.MatchingCount).
		Int("mismatched", report.Summary.MismatchedCount).
		Int("only_in_a", report.Summary.OnlyInACount).
		Int("only_in_b", report.Summary.OnlyInBCount).
		Int("issues", len(report.Issues)).
		Dur("took", uc.now().Sub(r.started)).
		Msg("reconciliation finished")
	return report, nil
}

// load reads both sources concurrently when they are given by path.
func (uc *ReconciliationUseCase) load(ctx context.Context, srcA, srcB Source) (*domain.Sheet, *domain.Sheet, error) {
	var sheetA, sheetB *domain.Sheet
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sheetA, err = uc.sheet(gctx, srcA)
		return err
	})
	g.Go(func() error {
		var err error
		sheetB, err = uc.sheet(gctx, srcB)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return sheetA, sheetB, nil
}

func (uc *ReconciliationUseCase) sheet(ctx context.Context, src Source) (*domain.Sheet, error) {
	if src.Path == "" {
		return &domain.Sheet{Headers: src.Headers, Rows: src.Rows}, nil
	}
	if uc.reader == nil {
		return nil, fmt.Errorf("no spreadsheet reader configured for %s", src.Path)
	}
	sheet, err := uc.reader.Read(ctx, src.Path)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", src.Path, err)
	}
	return sheet, nil
}

func buildDataset(origin domain.Origin, name string, mapping domain.ColumnMapping, sheet *domain.Sheet) (*engine.Dataset, []domain.RecordIssue, error) {
	n, err := engine.NewNormalizer(origin, mapping, sheet.Headers)
	if err != nil {
		return nil, nil, err
	}
	records, issues := n.Normalize(sheet.Rows)
	return engine.NewDataset(origin, name, records), issues, nil
}

func brands(datasets ...*engine.Dataset) []string {
	seen := map[string]bool{}
	var out []string
	for _, d := range datasets {
		for _, rec := range d.Records {
			if rec.Brand == "" || seen[rec.Brand] {
				continue
			}
			seen[rec.Brand] = true
			out = append(out, rec.Brand)
		}
	}
	sort.Strings(out)
	return out
}

// done logs the finished phase and notifies the publisher with a copy of the
// counters collected so far.
func (r *run) done(step domain.Step) {
	r.log.Debug().Str("step", string(step)).Int("percentage", step.Percentage()).Msg("phase finished")
	if r.pub == nil {
		return
	}
	stats := r.stats
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn().Str("step", string(step)).Interface("panic", p).Msg("progress publisher failed")
		}
	}()
	r.pub.Notify(step, step.Percentage(), &stats)
}

func (r *run) fail(step domain.Step, err error) error {
	r.log.Error().Err(err).Str("step", string(step)).Msg("reconciliation failed")
	return &domain.RunError{RunID: r.id, Phase: step, Err: err}
}
