package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hurttlocker/rollcall/internal/config"
	"github.com/hurttlocker/rollcall/internal/mcp"
	"github.com/hurttlocker/rollcall/internal/store"
)

func openStore() (store.Store, error) {
	cfg, err := resolveConfig()
	if err != nil {
		return nil, err
	}
	s, err := store.Open(getStoreConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return s, nil
}

func parseListFlags(args []string) (store.ListOpts, bool, error) {
	opts := store.ListOpts{}
	asJSON := false
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		if !hasValue && name != "--json" && i+1 < len(args) {
			i++
			value = args[i]
		}
		switch name {
		case "--limit":
			n, err := strconv.Atoi(value)
			if err != nil {
				return opts, false, fmt.Errorf("invalid --limit: %s", value)
			}
			opts.Limit = n
		case "--offset":
			n, err := strconv.Atoi(value)
			if err != nil {
				return opts, false, fmt.Errorf("invalid --offset: %s", value)
			}
			opts.Offset = n
		case "--region":
			opts.Region = value
		case "--category":
			opts.Category = value
		case "--run":
			opts.RunID = value
		case "--json":
			asJSON = true
		default:
			return opts, false, fmt.Errorf("unknown flag: %s", name)
		}
	}
	return opts, asJSON, nil
}

func runList(ctx context.Context, args []string) error {
	opts, asJSON, err := parseListFlags(args)
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	students, err := s.ListStudents(ctx, opts)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(os.Stdout, students)
	}

	total, err := s.CountStudents(ctx, opts)
	if err != nil {
		return err
	}
	printStudents(os.Stdout, students)
	fmt.Printf("\n%d of %s students\n", len(students), humanize.Comma(total))
	return nil
}

func printStudents(w io.Writer, students []*store.Student) {
	fmt.Fprintf(w, "%-6s %-8s %-10s %-11s %-6s %-14s %-6s\n", "ID", "NAME", "BIRTH", "PHONE", "REGION", "TYPE", "YEAR")
	for _, st := range students {
		fmt.Fprintf(w, "%-6d %-8s %-10s %-11s %-6s %-14s %-6s\n",
			st.ID, st.Name, orDash(st.BirthDate), orDash(st.Phone), st.Region, st.FarmerType, st.YearLevel)
	}
}

func runRuns(ctx context.Context, args []string) error {
	limit := 20
	asJSON := false
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--limit" && i+1 < len(args):
			i++
			fmt.Sscanf(args[i], "%d", &limit)
		case strings.HasPrefix(args[i], "--limit="):
			fmt.Sscanf(strings.TrimPrefix(args[i], "--limit="), "%d", &limit)
		case args[i] == "--json":
			asJSON = true
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	runs, err := s.ListRuns(ctx, limit)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(os.Stdout, runs)
	}

	if len(runs) == 0 {
		fmt.Println("No import runs yet.")
		return nil
	}
	for _, r := range runs {
		replaced := ""
		if r.Replaced {
			replaced = ", replaced table"
		}
		fmt.Printf("%s  %s  %s (%s mode%s)\n", r.ID, humanize.Time(r.StartedAt), r.SourceFile, r.Mode, replaced)
		fmt.Printf("    %s lines, %s records, %s duplicates, %s date warnings, %s skipped, %s\n",
			humanize.Comma(int64(r.LinesRead)), humanize.Comma(int64(r.RecordsEmitted)),
			humanize.Comma(int64(r.Duplicates)), humanize.Comma(int64(r.DateWarnings)),
			humanize.Comma(int64(r.Skipped)), r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	}
	return nil
}

func runStats(ctx context.Context, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := s.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Students:  %s\n", humanize.Comma(st.StudentCount))
	fmt.Printf("Runs:      %s\n", humanize.Comma(st.RunCount))
	if st.DBSizeBytes > 0 {
		fmt.Printf("Database:  %s\n", humanize.Bytes(uint64(st.DBSizeBytes)))
	}
	return nil
}

func runConfig(args []string) error {
	asJSON := false
	for _, arg := range args {
		if arg != "--json" {
			return fmt.Errorf("unknown flag: %s", arg)
		}
		asJSON = true
	}

	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(os.Stdout, cfg)
	}
	printConfig(os.Stdout, cfg)
	return nil
}

func printConfig(w io.Writer, cfg config.ResolvedConfig) {
	fmt.Fprintf(w, "Config file: %s\n\n", cfg.ConfigPath)
	rows := []struct {
		key string
		v   config.ResolvedValue
	}{
		{"db_path", cfg.DBPath},
		{"mode", cfg.Mode},
		{"encoding", cfg.Encoding},
		{"profile", cfg.ProfilePath},
		{"workers", cfg.Workers},
		{"batch_size", cfg.BatchSize},
		{"metrics_file", cfg.MetricsFile},
	}
	for _, r := range rows {
		if r.v.Value == "" {
			fmt.Fprintf(w, "  %-13s -\n", r.key)
			continue
		}
		fmt.Fprintf(w, "  %-13s %s  (%s: %s)\n", r.key, r.v.Value, r.v.Source, r.v.From)
	}
}

func runMCP(args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	// stdout carries the protocol; logs stay on stderr.
	return mcp.ServeStdio(mcp.ServerConfig{
		Store:   a.store,
		Engine:  a.engine,
		Version: version,
	})
}
