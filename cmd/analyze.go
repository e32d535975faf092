package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/site-analyzer/internal/model"
	"github.com/sells-group/site-analyzer/internal/pipeline"
	"github.com/sells-group/site-analyzer/internal/present"
	"github.com/sells-group/site-analyzer/internal/source"
)

type analyzeFlags struct {
	input       string
	concurrency int
	limit       int
	format      string
	output      string
	offline     bool
	dryRun      bool
}

var analyzeOpts analyzeFlags

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze every website in a CSV or XLSX file",
	Long: `Reads a table of companies and websites, crawls each site and asks the
configured questions about it. Results keep the input row order.

Examples:
  # Parse the input only
  site-analyzer analyze --input companies.csv --dry-run

  # Offline run with stub answers (no API key needed)
  site-analyzer analyze --input companies.csv --offline --limit 2

  # Real run written to CSV
  site-analyzer analyze --input companies.xlsx --output results.csv`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runAnalyze(ctx, analyzeOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&analyzeOpts.input, "input", "", "path to CSV, TSV or XLSX input (required)")
	f.IntVar(&analyzeOpts.concurrency, "concurrency", 0, "rows processed at once (default from config)")
	f.IntVar(&analyzeOpts.limit, "limit", 0, "max rows to process (0 = all)")
	f.StringVar(&analyzeOpts.format, "format", "", "output format: table, csv or json (default from --output extension, else table)")
	f.StringVar(&analyzeOpts.output, "output", "", "write results to file (default: stdout)")
	f.BoolVar(&analyzeOpts.offline, "offline", false, "answer with a stub client (no API key needed)")
	f.BoolVar(&analyzeOpts.dryRun, "dry-run", false, "parse the input and print the records, skip analysis")
	_ = analyzeCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(ctx context.Context, opts analyzeFlags, stdout io.Writer) error {
	src, err := source.Open(opts.input, source.OptionsFromConfig(cfg.Input))
	if err != nil {
		return err
	}
	records, err := source.ReadAll(ctx, src)
	if err != nil {
		return err
	}
	zap.L().Info("analyze: parsed input", zap.String("input", opts.input), zap.Int("rows", len(records)))

	if opts.limit > 0 && opts.limit < len(records) {
		records = records[:opts.limit]
	}

	if opts.dryRun {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}

	format, err := outputFormat(opts.format, opts.output)
	if err != nil {
		return err
	}

	if opts.concurrency > 0 {
		cfg.Batch.Concurrency = opts.concurrency
	}

	env, err := initAnalyzer(ctx, "analyze", opts.offline)
	if err != nil {
		return eris.Wrap(err, "analyze: init")
	}
	defer env.Close()

	run := model.Run{
		ID:        uuid.NewString(),
		Input:     filepath.Base(opts.input),
		Status:    model.RunStatusRunning,
		Rows:      len(records),
		CreatedAt: time.Now().UTC(),
	}
	saveRun(ctx, env, &run)

	p := env.Pipeline(pipeline.WithObserver(logProgress))
	table, runErr := p.Run(ctx, records)

	run.Table = &table
	run.Status = model.RunStatusComplete
	if runErr != nil {
		run.Status = model.RunStatusCanceled
	}
	saveRun(context.WithoutCancel(ctx), env, &run)

	if err := writeOutput(opts.output, format, table, stdout); err != nil {
		return err
	}
	if runErr != nil {
		return eris.Wrap(runErr, "analyze: interrupted, unfinished rows marked canceled")
	}
	return nil
}

// outputFormat resolves --format, falling back to the output extension.
func outputFormat(format, output string) (string, error) {
	if format == "" {
		switch strings.ToLower(filepath.Ext(output)) {
		case ".csv":
			return "csv", nil
		case ".json":
			return "json", nil
		default:
			return "table", nil
		}
	}
	switch format {
	case "table", "csv", "json":
		return format, nil
	default:
		return "", eris.Errorf("analyze: unknown format %q (want table, csv or json)", format)
	}
}

// createOutput opens the results file; tests replace it.
var createOutput = func(path string) (io.WriteCloser, error) {
	return os.Create(path)
}

func writeOutput(path, format string, table model.ResultTable, stdout io.Writer) error {
	if path == "" {
		return present.Write(stdout, format, table)
	}

	f, err := createOutput(path)
	if err != nil {
		return eris.Wrap(err, "analyze: create output file")
	}
	if err := present.Write(f, format, table); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	if err := f.Close(); err != nil {
		return eris.Wrap(err, "analyze: close output file")
	}
	zap.L().Info("analyze: results written", zap.String("path", path), zap.String("format", format))
	return nil
}

func saveRun(ctx context.Context, env *analyzerEnv, run *model.Run) {
	run.UpdatedAt = time.Now().UTC()
	if err := env.Store.SaveRun(ctx, run); err != nil {
		zap.L().Warn("analyze: save run failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func logProgress(res model.AnswerResult, done, total int) {
	fields := []zap.Field{
		zap.Int("done", done),
		zap.Int("total", total),
		zap.String("company", res.Record.Label()),
		zap.Int("pages", res.Pages),
	}
	if res.Error != nil {
		zap.L().Warn("analyze: row failed", append(fields, zap.String("error", res.Error.String()))...)
		return
	}
	zap.L().Info("analyze: row done", append(fields, zap.Bool("cached", res.FromCache))...)
}
