package ingest

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// FormatImportResult returns a human-readable summary of an import.
func FormatImportResult(r *ImportResult) string {
	var sb strings.Builder
	s := r.Result.Stats

	switch {
	case r.Unchanged:
		sb.WriteString(fmt.Sprintf("Unchanged: %s was already imported (run %s)\n", r.SourceFile, r.PreviousRunID))
	case r.DryRun:
		sb.WriteString("Dry run complete (nothing written)\n")
	default:
		sb.WriteString("Import complete\n")
	}

	sb.WriteString(fmt.Sprintf("  Input:    %s, %s, %s mode\n",
		humanize.Bytes(uint64(r.InputBytes)), orDash(string(r.Encoding)), r.Result.Mode))
	sb.WriteString(fmt.Sprintf("  Lines:    %s read, %s retained\n",
		humanize.Comma(int64(s.LinesRead)), humanize.Comma(int64(s.LinesRetained))))
	sb.WriteString(fmt.Sprintf("  Records:  %s emitted, %s duplicates, %s skipped\n",
		humanize.Comma(int64(s.RecordsEmitted)), humanize.Comma(int64(s.Duplicates)),
		humanize.Comma(int64(s.SkippedNoAnchor))))
	if s.DateWarnings > 0 {
		sb.WriteString(fmt.Sprintf("  Dates:    %s birth dates could not be normalized\n", humanize.Comma(int64(s.DateWarnings))))
	}
	if !r.DryRun && !r.Unchanged {
		replaced := ""
		if r.Replaced {
			replaced = " (table replaced)"
		}
		sb.WriteString(fmt.Sprintf("  Written:  %s students%s\n", humanize.Comma(int64(r.Written)), replaced))
	}
	if r.RunID != "" && !r.Unchanged {
		sb.WriteString(fmt.Sprintf("  Run:      %s in %s\n", r.RunID, r.Duration.Round(time.Millisecond)))
	}

	if len(s.Warnings) > 0 {
		sb.WriteString(fmt.Sprintf("\n  Warnings (%d):\n", len(s.Warnings)))
		for i, w := range s.Warnings {
			if i == 10 {
				sb.WriteString(fmt.Sprintf("    ... and %d more\n", len(s.Warnings)-10))
				break
			}
			sb.WriteString(fmt.Sprintf("    line %d %s %q: %s\n", w.Line, w.Field, w.Raw, w.Reason))
		}
	}

	return sb.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
