// Analyze scores a transaction CSV locally, without a running server.
//
// Usage:
//
//	go run ./cmd/analyze -csv transactions.csv -out scored.csv -report report.pdf
//
// This tool:
//  1. Reads the dataset and runs the full pipeline in process
//  2. Prints a run summary and the narrative of every flagged transaction
//  3. Optionally writes the result table as CSV and the PDF or HTML report
//  4. With -label, compares the verdicts with a ground-truth column
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/opensource-finance/fraudlens/internal/calibrate"
	"github.com/opensource-finance/fraudlens/internal/config"
	"github.com/opensource-finance/fraudlens/internal/dataset"
	"github.com/opensource-finance/fraudlens/internal/domain"
	"github.com/opensource-finance/fraudlens/internal/explain"
	"github.com/opensource-finance/fraudlens/internal/features"
	"github.com/opensource-finance/fraudlens/internal/metrics"
	"github.com/opensource-finance/fraudlens/internal/narrative"
	"github.com/opensource-finance/fraudlens/internal/pipeline"
	"github.com/opensource-finance/fraudlens/internal/report"
	"github.com/opensource-finance/fraudlens/internal/rules"
)

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to transaction CSV file")
	outPath := flag.String("out", "", "Write the scored result table to this CSV file")
	reportPath := flag.String("report", "", "Write the report of flagged rows to this file (.pdf for PDF, HTML otherwise)")
	highlight := flag.String("highlight", "", "Comma separated columns to add to the report")
	configPath := flag.String("config", os.Getenv("FRAUDLENS_CONFIG"), "Path to YAML config file")
	contamination := flag.Float64("contamination", 0, "Expected share of anomalies (overrides config)")
	trees := flag.Int("trees", 0, "Number of isolation trees (overrides config)")
	seed := flag.Int64("seed", 0, "Random seed (overrides config)")
	top := flag.Int("top", 0, "Reasons per flagged transaction (overrides config)")
	delimiter := flag.String("delimiter", ",", "Field delimiter")
	label := flag.String("label", "", "Ground-truth column (1/true = fraud) to score the verdicts against")
	verbose := flag.Bool("verbose", false, "Log pipeline stages")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: analyze -csv /path/to/transactions.csv [-out scored.csv] [-report report.html]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := config.Load(*configPath)
	if err != nil {
		fail("failed to load configuration", err)
	}

	// Explicit flags win over the config file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "contamination":
			cfg.Detection.Contamination = *contamination
		case "trees":
			cfg.Detection.Trees = *trees
		case "seed":
			cfg.Detection.Seed = *seed
		case "top":
			cfg.Detection.TopN = *top
		}
	})
	if err := config.Validate(cfg); err != nil {
		fail("invalid settings", err)
	}

	delim, size := utf8.DecodeRuneInString(*delimiter)
	if size == 0 || size != len(*delimiter) {
		fail("invalid delimiter", fmt.Errorf("%q is not a single character", *delimiter))
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║              FRAUDLENS - Batch Fraud Screening                ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:      %s\n", *csvPath)
	fmt.Printf("Contamination: %.3f\n", cfg.Detection.Contamination)
	fmt.Printf("Trees:         %d\n", cfg.Detection.Trees)
	fmt.Printf("Seed:          %d\n", cfg.Detection.Seed)
	fmt.Printf("Top Reasons:   %d\n", cfg.Detection.TopN)
	fmt.Println()

	// Read dataset
	f, err := os.Open(*csvPath)
	if err != nil {
		fail("failed to open CSV", err)
	}
	ds, err := dataset.Load(f, dataset.WithDelimiter(delim), dataset.WithMaxRows(cfg.Limits.MaxRows))
	f.Close()
	if err != nil {
		metrics.ObserveFailure(metrics.ModeCLI, err)
		fail("failed to read CSV", err)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(ds.Records))

	// Build pipeline
	engine, err := rules.NewDefaultEngine(cfg.Narrative.Classifiers)
	if err != nil {
		fail("failed to initialize rule engine", err)
	}
	dict, err := narrative.DefaultDictionary().WithOverrides(cfg.Narrative.Phrases)
	if err != nil {
		fail("failed to load narrative phrases", err)
	}
	p, err := pipeline.New(cfg.Detection, engine, dict)
	if err != nil {
		fail("failed to initialize pipeline", err)
	}

	start := time.Now()
	table, err := p.Run(context.Background(), "cli", ds.Records,
		pipeline.WithSource(*csvPath),
		pipeline.WithExtraColumns(ds.ExtraColumns),
	)
	if err != nil {
		metrics.ObserveFailure(metrics.ModeCLI, err)
		fail("analysis failed", err)
	}
	metrics.ObserveRun(metrics.ModeCLI, table)
	duration := time.Since(start)

	printSummary(table, duration)

	if err := printNarratives(table, dict, engine); err != nil {
		fail("failed to render narratives", err)
	}

	if *outPath != "" {
		if err := writeFile(*outPath, func(f *os.File) error { return dataset.WriteResults(f, table) }); err != nil {
			fail("failed to write results", err)
		}
		fmt.Printf("✓ Results written to %s\n", *outPath)
	}

	if *reportPath != "" {
		opts := report.Options{}
		if *highlight != "" {
			opts.Highlight = strings.Split(*highlight, ",")
		}
		rows := report.Apply(table, report.Filter{FlaggedOnly: true})
		write := reportWriter(*reportPath)
		if err := writeFile(*reportPath, func(f *os.File) error { return write(f, table, rows, opts) }); err != nil {
			fail("failed to write report", err)
		}
		fmt.Printf("✓ Report written to %s\n", *reportPath)
	}

	if *label != "" {
		m, err := Evaluate(table, *label)
		if err != nil {
			fail("failed to score verdicts", err)
		}
		printResults(m)
	}
}

// reportWriter picks the report format from the output file extension.
func reportWriter(path string) func(io.Writer, *domain.ResultTable, []report.Row, report.Options) error {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return report.WritePDF
	}
	return report.WriteHTML
}

func fail(msg string, err error) {
	fmt.Fprintf(os.Stderr, "ERROR: %s: %v\n", msg, err)
	os.Exit(1)
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printSummary(table *domain.ResultTable, duration time.Duration) {
	fmt.Printf("\n📊 RUN SUMMARY\n")
	fmt.Printf("   Run ID:        %s\n", table.RunID)
	fmt.Printf("   Transactions:  %d\n", len(table.Records))
	fmt.Printf("   Flagged:       %d\n", table.FlaggedCount)
	if n := len(table.Records); n > 0 {
		fmt.Printf("   Flag Rate:     %s\n", report.FormatPercent(float64(table.FlaggedCount)/float64(n)))
	}

	t := table.Timings
	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Features:      %d ms\n", t.FeaturesMs)
	fmt.Printf("   Scoring:       %d ms\n", t.ScoringMs)
	fmt.Printf("   Calibration:   %d ms\n", t.CalibrationMs)
	fmt.Printf("   Attribution:   %d ms\n", t.AttributionMs)
	fmt.Printf("   Narrative:     %d ms\n", t.NarrativeMs)
	fmt.Printf("   Total:         %v\n", duration.Round(time.Millisecond))
}

// printNarratives prints the plain text explanation of each flagged row.
func printNarratives(table *domain.ResultTable, dict narrative.Dictionary, engine *rules.Engine) error {
	if table.FlaggedCount == 0 {
		fmt.Printf("\n%s\n\n", report.NoFraudMessage)
		return nil
	}

	records := make([]domain.TransactionRecord, len(table.Records))
	for i := range table.Records {
		records[i] = table.Records[i].TransactionRecord
	}
	raw, err := features.Build(records)
	if err != nil {
		return err
	}
	gen, err := narrative.NewGenerator(dict, engine)
	if err != nil {
		return err
	}

	fmt.Printf("\n🔍 FLAGGED TRANSACTIONS\n")
	for i := range table.Records {
		r := &table.Records[i]
		if !r.IsFraud {
			continue
		}
		fmt.Printf("\n   %s  %s  probability %s  (%s risk)\n",
			r.TransactionID,
			report.FormatAmount(r.Amount),
			report.FormatPercent(r.FraudProbability),
			calibrate.RiskTier(r.FraudProbability),
		)
		if r.Attribution == nil {
			continue
		}
		story := gen.Generate(explain.Rank(*r.Attribution, table.Params.TopN), raw.Row(i))
		for _, line := range strings.Split(story.Text(), "\n") {
			fmt.Printf("     %s\n", line)
		}
	}
	fmt.Println()
	return nil
}
