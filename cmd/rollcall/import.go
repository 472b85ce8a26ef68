package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hurttlocker/rollcall/internal/extract"
	"github.com/hurttlocker/rollcall/internal/ingest"
)

type importFlags struct {
	path    string
	sheet   string
	replace bool
	force   bool
	dryRun  bool
	json    bool
}

func parseImportFlags(cmd string, args []string) (importFlags, error) {
	var f importFlags
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--sheet" && i+1 < len(args):
			i++
			f.sheet = args[i]
		case strings.HasPrefix(args[i], "--sheet="):
			f.sheet = strings.TrimPrefix(args[i], "--sheet=")
		case args[i] == "--replace" && cmd == "import":
			f.replace = true
		case args[i] == "--force" && cmd == "import":
			f.force = true
		case (args[i] == "--dry-run" || args[i] == "-n") && cmd == "import":
			f.dryRun = true
		case args[i] == "--json":
			f.json = true
		case strings.HasPrefix(args[i], "-"):
			return f, fmt.Errorf("unknown flag: %s", args[i])
		default:
			if f.path != "" {
				return f, fmt.Errorf("unexpected argument: %s", args[i])
			}
			f.path = args[i]
		}
	}
	if f.path == "" {
		return f, fmt.Errorf("usage: rollcall %s <file> [flags]", cmd)
	}
	return f, nil
}

func runParse(ctx context.Context, args []string) error {
	f, err := parseImportFlags("parse", args)
	if err != nil {
		return err
	}

	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	opts, err := a.importOptions()
	if err != nil {
		return err
	}
	opts.Sheet = f.sheet

	res, err := a.engine.Parse(ctx, f.path, opts)
	if err != nil {
		return explain(err)
	}

	if f.json {
		return writeJSON(os.Stdout, res.Result)
	}
	printRecords(os.Stdout, res.Result.Records)
	fmt.Println()
	fmt.Print(ingest.FormatImportResult(res))
	return nil
}

func runImport(ctx context.Context, args []string) error {
	f, err := parseImportFlags("import", args)
	if err != nil {
		return err
	}

	a, err := newApp(!f.dryRun)
	if err != nil {
		return err
	}
	defer a.close()

	opts, err := a.importOptions()
	if err != nil {
		return err
	}
	opts.Sheet = f.sheet
	opts.Replace = f.replace
	opts.Force = f.force
	opts.DryRun = f.dryRun

	res, err := a.engine.Import(ctx, f.path, opts)
	if err != nil {
		return explain(err)
	}

	if f.json {
		return writeJSON(os.Stdout, importJSON(res))
	}
	fmt.Print(ingest.FormatImportResult(res))
	return nil
}

type importOutput struct {
	RunID         string        `json:"run_id"`
	SourceFile    string        `json:"source_file"`
	InputHash     string        `json:"input_hash"`
	Encoding      string        `json:"encoding"`
	Mode          extract.Mode  `json:"mode"`
	Stats         extract.Stats `json:"stats"`
	Written       int           `json:"written"`
	Replaced      bool          `json:"replaced"`
	DryRun        bool          `json:"dry_run"`
	Unchanged     bool          `json:"unchanged"`
	PreviousRunID string        `json:"previous_run_id,omitempty"`
	DurationMS    int64         `json:"duration_ms"`
}

func importJSON(r *ingest.ImportResult) importOutput {
	return importOutput{
		RunID:         r.RunID,
		SourceFile:    r.SourceFile,
		InputHash:     r.InputHash,
		Encoding:      string(r.Encoding),
		Mode:          r.Result.Mode,
		Stats:         r.Result.Stats,
		Written:       r.Written,
		Replaced:      r.Replaced,
		DryRun:        r.DryRun,
		Unchanged:     r.Unchanged,
		PreviousRunID: r.PreviousRunID,
		DurationMS:    r.Duration.Milliseconds(),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecords(w io.Writer, records []extract.Record) {
	fmt.Fprintf(w, "%-5s %-8s %-10s %-11s %-6s %-14s\n", "LINE", "NAME", "BIRTH", "PHONE", "REGION", "TYPE")
	for _, r := range records {
		fmt.Fprintf(w, "%-5d %-8s %-10s %-11s %-6s %-14s\n",
			r.SourceLine, r.Name, orDash(r.BirthDate.String()), orDash(r.Phone), r.Region, r.Category)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
