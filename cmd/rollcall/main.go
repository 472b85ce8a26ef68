package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hurttlocker/rollcall/internal/config"
	"github.com/hurttlocker/rollcall/internal/extract"
	"github.com/hurttlocker/rollcall/internal/ingest"
	"github.com/hurttlocker/rollcall/internal/metrics"
	"github.com/hurttlocker/rollcall/internal/store"
)

var version = "0.1.0-dev"

// Global flags, accepted anywhere on the command line.
var (
	globalConfigPath  string
	globalDBPath      string
	globalMode        string
	globalEncoding    string
	globalProfile     string
	globalWorkers     string
	globalMetricsFile string
	globalVerbose     bool
)

func main() {
	args := parseGlobalFlags(os.Args[1:])
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	switch args[0] {
	case "parse":
		return runParse(ctx, args[1:])
	case "import":
		return runImport(ctx, args[1:])
	case "list":
		return runList(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "stats":
		return runStats(ctx, args[1:])
	case "config":
		return runConfig(args[1:])
	case "mcp":
		return runMCP(args[1:])
	case "version", "--version":
		fmt.Printf("rollcall %s\n", version)
		return nil
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// parseGlobalFlags pulls global flags out of args and returns the rest.
func parseGlobalFlags(args []string) []string {
	valued := map[string]*string{
		"--config":       &globalConfigPath,
		"--db":           &globalDBPath,
		"--mode":         &globalMode,
		"--encoding":     &globalEncoding,
		"--profile":      &globalProfile,
		"--workers":      &globalWorkers,
		"--metrics-file": &globalMetricsFile,
	}

	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--verbose" || arg == "-v" {
			globalVerbose = true
			continue
		}
		if dst, ok := valued[arg]; ok && i+1 < len(args) {
			i++
			*dst = args[i]
			continue
		}
		if name, value, found := strings.Cut(arg, "="); found {
			if dst, ok := valued[name]; ok {
				*dst = value
				continue
			}
		}
		rest = append(rest, arg)
	}
	return rest
}

func resolveConfig() (config.ResolvedConfig, error) {
	return config.ResolveConfig(config.ResolveOptions{
		ConfigPath:     globalConfigPath,
		CLIDBPath:      globalDBPath,
		CLIMode:        globalMode,
		CLIEncoding:    globalEncoding,
		CLIProfile:     globalProfile,
		CLIWorkers:     globalWorkers,
		CLIMetricsFile: globalMetricsFile,
	})
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if globalVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func getStoreConfig(cfg config.ResolvedConfig) store.StoreConfig {
	return store.StoreConfig{
		DBPath:    cfg.DBPath.Value,
		BatchSize: cfg.BatchSize.Int(store.DefaultBatchSize),
	}
}

// app bundles what the parse and import commands need.
type app struct {
	cfg     config.ResolvedConfig
	store   store.Store
	engine  *ingest.Engine
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// newApp resolves configuration and builds the engine. The store is opened
// only when withStore is set.
func newApp(withStore bool) (*app, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, err
	}

	prof, err := config.LoadProfile(cfg.ProfilePath.Value)
	if err != nil {
		return nil, err
	}
	pipeline, err := extract.NewPipeline(prof, extract.WithWorkers(cfg.Workers.Int(config.DefaultWorkers)))
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: newLogger()}
	if cfg.MetricsFile.Value != "" {
		a.metrics = metrics.New()
	}
	if withStore {
		s, err := store.Open(getStoreConfig(cfg))
		if err != nil {
			return nil, fmt.Errorf("opening store: %w", err)
		}
		a.store = s
	}

	a.engine = ingest.NewEngine(a.store,
		ingest.WithPipeline(pipeline),
		ingest.WithLogger(a.logger),
		ingest.WithMetrics(a.metrics),
	)
	return a, nil
}

// close flushes metrics and closes the store.
func (a *app) close() {
	if a.metrics != nil {
		if err := a.metrics.WriteTextfile(a.cfg.MetricsFile.Value); err != nil {
			a.logger.Warn("writing metrics", "path", a.cfg.MetricsFile.Value, "error", err)
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *app) importOptions() (ingest.ImportOptions, error) {
	enc, err := ingest.ParseEncoding(a.cfg.Encoding.Value)
	if err != nil {
		return ingest.ImportOptions{}, err
	}
	return ingest.ImportOptions{Mode: a.cfg.Mode.Value, Encoding: enc}, nil
}

// explain adds a hint to errors a user can act on.
func explain(err error) error {
	switch {
	case errors.Is(err, ingest.ErrNoInput):
		return fmt.Errorf("%w (the file has no data rows)", err)
	case errors.Is(err, ingest.ErrUndecodable):
		return fmt.Errorf("%w (try --encoding cp949 or --encoding utf-8)", err)
	case errors.Is(err, ingest.ErrTooLarge):
		return fmt.Errorf("%w (split the export into smaller files)", err)
	}
	return err
}

func printUsage() {
	fmt.Printf(`rollcall %s: student roster extraction for legacy education exports

Usage:
  rollcall <command> [arguments]

Commands:
  parse <file>        Extract records and print them, writing nothing
  import <file>       Extract records and write them to the roster database
  list                List stored students
  runs                List recent import runs
  stats               Show database statistics
  config              Show resolved configuration and where each value came from
  mcp                 Serve the MCP tools over stdio
  version             Print version

Import Flags:
  --replace           Empty the students table first
  --force             Import even if this exact file was imported before
  -n, --dry-run       Parse and report without writing
  --sheet <name>      Workbook sheet (default: first sheet)
  --json              Print JSON instead of a summary

List Flags:
  --limit N, --offset N, --region R, --category C, --run ID, --json

Global Flags:
  --config <path>     Config file (default: ~/.rollcall/config.yaml)
  --db <path|dsn>     SQLite path or postgres:// DSN (default: ~/.rollcall/rollcall.db)
  --mode <m>          auto, legacy or columnar (default: auto)
  --encoding <e>      auto, utf-8 or cp949 (default: auto)
  --profile <path>    YAML extraction profile
  --workers N         Parallel line assembly (default: 1)
  --metrics-file <p>  Write Prometheus metrics to a textfile after the run
  -v, --verbose       Debug logging, including per-line warnings

Environment:
  ROLLCALL_DB, ROLLCALL_MODE, ROLLCALL_ENCODING, ROLLCALL_PROFILE,
  ROLLCALL_WORKERS, ROLLCALL_BATCH_SIZE, ROLLCALL_METRICS_FILE
`, version)
}
