package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"riser-hydro/hydro"
)

const usage = `usage: riser-hydro [flags] <command> [command flags]

commands:
  process                      cut windowed tables from the raw logs
  stats -gas low|mid|high -col PDIT700
                               per-condition statistics for one gas level
  compare -col PDIT700         trial means across the three gas levels
  maxcat [-col PDIT700]        statistics of the max catalyst flow tests
  patm                         daily atmospheric pressure summary
  workbook                     export every results table to one .xlsx

flags:
`

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	var configPath string
	var rawDir string
	var processedDir string
	var resultsDir string
	var dbPath string
	var designPath string
	var debug bool
	var force bool
	var metricsTextfile string
	var workbook string
	var storageDriver string

	flag.StringVar(&configPath, "config", "", "YAML config file path.")
	flag.StringVar(&rawDir, "raw-dir", "", "Directory of raw instrument logs (overrides config raw_dir).")
	flag.StringVar(&processedDir, "processed-dir", "", "Directory of windowed tables for the fs storage driver.")
	flag.StringVar(&resultsDir, "results-dir", "", "Directory for result tables.")
	flag.StringVar(&dbPath, "db", "", "SQLite provenance registry path.")
	flag.StringVar(&designPath, "design", "", "Experiment design YAML (default: built-in matrix).")
	flag.BoolVar(&debug, "debug", false, "Enable debug logs.")
	flag.BoolVar(&force, "force", false, "Re-ingest entries even when unchanged.")
	flag.StringVar(&metricsTextfile, "metrics-textfile", "", "Write Prometheus textfile metrics here.")
	flag.StringVar(&workbook, "workbook", "", "Workbook path for the workbook command.")
	flag.StringVar(&storageDriver, "storage", "", "Storage driver for windowed tables: fs or s3.")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	visited := map[string]bool{}
	flag.CommandLine.Visit(func(f *flag.Flag) {
		visited[f.Name] = true
	})

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Base config from file (optional), then RISER_* environment.
	fileCfg, err := hydro.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := fileCfg.ApplyEnv(); err != nil {
		log.Fatalf("load environment: %v", err)
	}

	// CLI overrides
	if visited["raw-dir"] {
		fileCfg.RawDir = rawDir
	}
	if visited["processed-dir"] {
		fileCfg.ProcessedDir = processedDir
	}
	if visited["results-dir"] {
		fileCfg.ResultsDir = resultsDir
	}
	if visited["db"] {
		fileCfg.Database = dbPath
	}
	if visited["design"] {
		fileCfg.Design = designPath
	}
	if visited["debug"] {
		fileCfg.Debug = debug
	}
	if visited["force"] {
		fileCfg.Force = force
	}
	if visited["metrics-textfile"] {
		fileCfg.MetricsTextfile = metricsTextfile
	}
	if visited["workbook"] {
		fileCfg.Workbook = workbook
	}
	if visited["storage"] {
		fileCfg.Storage.Driver = storageDriver
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	design, err := hydro.LoadDesign(fileCfg.Design)
	if err != nil {
		log.Fatalf("load design: %v", err)
	}
	store, err := hydro.OpenArtifactStore(ctx, fileCfg.Storage, fileCfg.ProcessedDir)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}

	runner, err := hydro.NewRunner(hydro.RunnerConfig{
		RawDir:          fileCfg.RawDir,
		ResultsDir:      fileCfg.ResultsDir,
		DBPath:          fileCfg.Database,
		Design:          design,
		Store:           store,
		Debug:           fileCfg.Debug,
		Force:           fileCfg.Force,
		MetricsTextfile: fileCfg.MetricsTextfile,
		Workbook:        fileCfg.Workbook,
		AtmospherePath:  fileCfg.AtmospherePath(),
	})
	if err != nil {
		log.Fatalf("init runner: %v", err)
	}
	defer runner.Close()

	if err := run(ctx, runner, flag.Arg(0), flag.Args()[1:]); err != nil {
		runner.Close()
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func run(ctx context.Context, runner *hydro.Runner, command string, args []string) error {
	switch command {
	case "process":
		report, err := runner.Process(ctx)
		if err != nil {
			return err
		}
		if err := report.Err(); err != nil {
			return fmt.Errorf("%d of %d entries failed:\n%w", report.Failed(), report.Entries, err)
		}
		return nil

	case "stats":
		fs := flag.NewFlagSet("stats", flag.ExitOnError)
		gas := fs.String("gas", "", "Process gas level: low, mid or high.")
		col := fs.String("col", "", "Measurement column, e.g. PDIT700 or TE709C.")
		_ = fs.Parse(args)
		if *gas == "" || *col == "" {
			usageExit(fs, "stats needs -gas and -col")
		}
		t, err := runner.ConditionStats(ctx, *col, *gas)
		if err != nil {
			return err
		}
		return hydro.WriteRecords(os.Stdout, t)

	case "compare":
		fs := flag.NewFlagSet("compare", flag.ExitOnError)
		col := fs.String("col", "", "Measurement column, e.g. PDIT700.")
		_ = fs.Parse(args)
		if *col == "" {
			usageExit(fs, "compare needs -col")
		}
		t, err := runner.GasComparison(ctx, *col)
		if err != nil {
			return err
		}
		return hydro.WriteRecords(os.Stdout, t)

	case "maxcat":
		fs := flag.NewFlagSet("maxcat", flag.ExitOnError)
		col := fs.String("col", "", "Measurement column (default from design).")
		_ = fs.Parse(args)
		t, err := runner.MaxCatalyst(ctx, *col)
		if err != nil {
			return err
		}
		return hydro.WriteRecords(os.Stdout, t)

	case "patm":
		t, err := runner.Atmosphere(ctx)
		if err != nil {
			return err
		}
		return hydro.WriteRecords(os.Stdout, t)

	case "workbook":
		_, err := runner.ExportWorkbook(ctx)
		return err

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", command)
		flag.Usage()
		os.Exit(2)
	}
	return nil
}

func usageExit(fs *flag.FlagSet, msg string) {
	fmt.Fprintln(os.Stderr, msg)
	fs.PrintDefaults()
	os.Exit(2)
}

