package ingest

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"
)

// XLSXSource handles Excel workbooks.
type XLSXSource struct{}

// CanHandle returns true for .xlsx and .xlsm files.
func (x *XLSXSource) CanHandle(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return true
	}
	return false
}

// Rows reads one sheet, the first unless opts.Sheet names another. Cells are
// read raw, so date cells arrive as serial day numbers and are normalized by
// the date parser like any other date text.
func (x *XLSXSource) Rows(ctx context.Context, name string, data []byte, opts ImportOptions) ([][]string, Encoding, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data), excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, "", fmt.Errorf("opening workbook %s: %v: %w", name, err, ErrUndecodable)
	}
	defer f.Close()

	sheet := strings.TrimSpace(opts.Sheet)
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, "", ErrNoInput
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, "", fmt.Errorf("reading sheet %q of %s: %w", sheet, name, err)
	}
	for _, row := range rows {
		for i, c := range row {
			row[i] = norm.NFC.String(c)
		}
	}
	return rows, EncodingUTF8, nil
}
