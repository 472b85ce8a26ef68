package ingest

import (
	"context"
	"path/filepath"
	"strings"
)

// RowSource turns an upload into spreadsheet rows for columnar extraction.
type RowSource interface {
	// CanHandle returns true if this source supports the given file path.
	CanHandle(path string) bool

	// Rows decodes the upload and returns its rows.
	Rows(ctx context.Context, name string, data []byte, opts ImportOptions) ([][]string, Encoding, error)
}

// detectSource picks the row source for path by extension. CSV is the
// fallback for anything that is not a workbook.
func (e *Engine) detectSource(path string) RowSource {
	for _, src := range e.sources {
		if src.CanHandle(path) {
			return src
		}
	}
	return &CSVSource{}
}

func isTSV(path string) bool {
	return strings.ToLower(filepath.Ext(path)) == ".tsv"
}
