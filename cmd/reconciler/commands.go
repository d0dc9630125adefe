package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"revenue-reconciler/internal/domain"
	"revenue-reconciler/internal/gateway"
	"revenue-reconciler/internal/progress"
	"revenue-reconciler/internal/server"
	"revenue-reconciler/internal/usecase"
)

// =============================================================================
// RECONCILE COMMAND
// =============================================================================

func reconcileCommand() *cli.Command {
	return &cli.Command{
		Name:  "reconcile",
		Usage: "Compare two spreadsheet files and write the report",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file-a",
				Aliases:  []string{"a"},
				Usage:    "Path to the first file (.xlsx, .xls or .csv)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "file-b",
				Aliases:  []string{"b"},
				Usage:    "Path to the second file (.xlsx, .xls or .csv)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "mapping-a",
				Usage: `Column mapping of file A as JSON, e.g. {"txn_id":"Order ID"}; suggested from the headers when omitted`,
			},
			&cli.StringFlag{
				Name:  "mapping-b",
				Usage: "Column mapping of file B as JSON; suggested from the headers when omitted",
			},
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Value:   "json",
				Usage:   "Output format (json, xlsx)",
			},
			&cli.StringFlag{
				Name:    "out",
				Aliases: []string{"o"},
				Usage:   "Output file; stdout for json, a generated name for xlsx when omitted",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Number of parallel classification shards",
			},
			&cli.StringFlag{
				Name:  "tolerance",
				Usage: "Largest numeric difference still treated as equal",
			},
			&cli.IntFlag{
				Name:  "precision",
				Usage: "Decimal places of calculated rates",
			},
			&cli.BoolFlag{
				Name:  "save",
				Usage: "Also store the xlsx report in the history directory",
			},
		},
		Action: runReconcile,
	}
}

func runReconcile(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	if c.IsSet("workers") {
		cfg.Engine.Workers = c.Int("workers")
	}
	if c.IsSet("tolerance") {
		cfg.Engine.NumericTolerance = c.String("tolerance")
	}
	if c.IsSet("precision") {
		cfg.Engine.RatePrecision = int32(c.Int("precision"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}

	format := strings.ToLower(c.String("format"))
	if format != "json" && format != "xlsx" {
		return fmt.Errorf("unsupported format %q, expected json or xlsx", format)
	}

	ctx := c.Context
	reader := gateway.NewSpreadsheetReader()
	sources := make([]usecase.Source, 0, 2)
	for _, side := range []string{"a", "b"} {
		path := c.String("file-" + side)
		mapping, err := parseMapping(c.String("mapping-" + side))
		if err != nil {
			return fmt.Errorf("mapping-%s: %w", side, err)
		}
		if len(mapping) == 0 {
			headers, err := reader.Headers(ctx, path)
			if err != nil {
				return err
			}
			mapping = gateway.SuggestMapping(headers)
			log.Info().Str("file", path).Interface("mapping", mapping).Msg("using suggested column mapping")
		}
		sources = append(sources, usecase.Source{Path: path, Mapping: mapping})
	}

	uc := usecase.NewReconciliationUseCase(reader, opts, log)
	report, err := uc.Reconcile(ctx, usecase.Request{
		A:         sources[0],
		B:         sources[1],
		Publisher: logPublisher{log: log},
	})
	if err != nil {
		return err
	}
	printSummary(os.Stderr, report)

	writer := gateway.NewReportWriter()
	if c.Bool("save") {
		name, err := gateway.NewHistory(cfg.History.Dir, writer).Save(report)
		if err != nil {
			return err
		}
		log.Info().Str("report", filepath.Join(cfg.History.Dir, name)).Msg("report stored")
	}

	out := c.String("out")
	if format == "xlsx" {
		if out == "" {
			out = gateway.ReportFileName(report, time.Now())
		}
		return writeFile(out, func(w io.Writer) error { return writer.Write(report, w) })
	}

	output, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to generate JSON report: %w", err)
	}
	if out == "" {
		fmt.Println(string(output))
		return nil
	}
	return writeFile(out, func(w io.Writer) error {
		_, err := w.Write(append(output, '\n'))
		return err
	})
}

// logPublisher reports phase progress on the command line.
type logPublisher struct {
	log zerolog.Logger
}

func (p logPublisher) Notify(step domain.Step, percentage int, stats *domain.ProgressStats) {
	p.log.Info().Str("step", string(step)).Int("percentage", percentage).Msg("phase completed")
}

// parseMapping decodes a JSON column mapping. An empty string yields no mapping.
func parseMapping(raw string) (domain.ColumnMapping, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var mapping domain.ColumnMapping
	if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
		return nil, fmt.Errorf("invalid column mapping: %w", err)
	}
	return mapping, nil
}

func printSummary(w io.Writer, report *domain.ComparisonReport) {
	s := report.Summary
	fmt.Fprintf(w, "Run %s: %s (%d records) vs %s (%d records)\n",
		report.RunID, report.NameA, s.TotalRecordsA, report.NameB, s.TotalRecordsB)
	fmt.Fprintf(w, "  matching %d, mismatched %d, only in A %d, only in B %d, duplicate keys %d/%d\n",
		s.MatchingCount, s.MismatchedCount, s.OnlyInACount, s.OnlyInBCount, s.DuplicateKeysA, s.DuplicateKeysB)
	fmt.Fprintf(w, "  revenue A %s, revenue B %s, difference %s\n",
		s.TotalRevenueA, s.TotalRevenueB, s.TotalRevenueA.Sub(s.TotalRevenueB).StringFixed(2))
	for _, warn := range report.Warnings {
		fmt.Fprintf(w, "  warning (%s): %s\n", warn.Origin, warn.Message)
	}
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Report written to %s\n", path)
	return nil
}

// =============================================================================
// HEADERS COMMAND
// =============================================================================

func headersCommand() *cli.Command {
	return &cli.Command{
		Name:  "headers",
		Usage: "Print the headers of a file and the suggested column mapping",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Path to a .xlsx, .xls or .csv file",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			headers, err := gateway.NewSpreadsheetReader().Headers(c.Context, c.String("file"))
			if err != nil {
				return err
			}
			output, err := json.MarshalIndent(struct {
				Headers []string             `json:"headers"`
				Mapping domain.ColumnMapping `json:"mapping"`
			}{headers, gateway.SuggestMapping(headers)}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(output))
			return nil
		},
	}
}

// =============================================================================
// SERVE COMMAND
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address, overrides server.addr",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, log, err := setup(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}

	reader := gateway.NewSpreadsheetReader()
	writer := gateway.NewReportWriter()
	history := gateway.NewHistory(cfg.History.Dir, writer)

	janitor, err := server.NewJanitor(history, cfg.History.PruneSchedule, cfg.Retention(), log)
	if err != nil {
		return err
	}
	janitor.RunOnce()
	janitor.Start()
	defer janitor.Stop()

	srv := server.New(server.Config{
		Reconciler:     usecase.NewReconciliationUseCase(reader, opts, log),
		Reader:         reader,
		Writer:         writer,
		History:        history,
		Tracker:        progress.NewTracker(log),
		Log:            log,
		MaxUploadBytes: cfg.MaxUploadBytes(),
		UploadDir:      cfg.Server.UploadDir,
	})

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.ListenAndServe(ctx, cfg.Server.Addr)
}

// =============================================================================
// HISTORY COMMAND
// =============================================================================

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List stored reports",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "prune",
				Usage: "Delete reports older than the configured retention first",
			},
			&cli.StringFlag{
				Name:  "summary",
				Usage: "Print the summary of the named report instead of the list",
			},
		},
		Action: runHistory,
	}
}

func runHistory(c *cli.Context) error {
	cfg, _, err := setup(c)
	if err != nil {
		return err
	}
	history := gateway.NewHistory(cfg.History.Dir, gateway.NewReportWriter())

	if name := c.String("summary"); name != "" {
		items, err := history.Summary(name)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for _, item := range items {
			fmt.Fprintf(tw, "%s\t%s\n", item.Metric, item.Value)
		}
		return tw.Flush()
	}

	if c.Bool("prune") && cfg.Retention() > 0 {
		removed, err := history.Prune(cfg.Retention())
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Pruned %d report(s) older than %d days\n", removed, cfg.History.RetentionDays)
	}

	entries, err := history.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(os.Stderr, "No reports in %s\n", history.Dir())
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDATE\tSIZE")
	for _, e := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Date, e.Size)
	}
	return tw.Flush()
}
