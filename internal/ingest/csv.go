package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
)

// CSVSource handles .csv, .tsv and plain text exports.
type CSVSource struct{}

// CanHandle returns true for CSV/TSV/TXT file extensions.
func (c *CSVSource) CanHandle(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return true
	}
	return false
}

// Rows decodes data and splits it into CSV records.
func (c *CSVSource) Rows(ctx context.Context, name string, data []byte, opts ImportOptions) ([][]string, Encoding, error) {
	text, enc, err := DecodeDetect(data, opts.Encoding)
	if err != nil {
		return nil, enc, err
	}
	rows, err := csvRows(name, text)
	return rows, enc, err
}

// csvRows parses decoded text as CSV. Tab is the separator for .tsv files and
// for text whose first line has tabs but no commas.
func csvRows(name, text string) ([][]string, error) {
	reader := csv.NewReader(strings.NewReader(text))

	// Auto-detect TSV
	firstLine, _, _ := strings.Cut(text, "\n")
	if isTSV(name) || (strings.Contains(firstLine, "\t") && !strings.Contains(firstLine, ",")) {
		reader.Comma = '\t'
	}

	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing CSV %s: %w", name, err)
	}
	return records, nil
}
