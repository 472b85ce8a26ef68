package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/hurttlocker/rollcall/internal/extract"
)

// legacyMarkers are substrings that identify a free-text legacy dump: the
// phone prefix glued to a row counter, and the category header label.
var legacyMarkers = []string{"1010-", "구분"}

// HasLegacyMarkers reports whether decoded text looks like a legacy dump.
func HasLegacyMarkers(text string) bool {
	for _, m := range legacyMarkers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

// runPipeline picks the extraction mode and runs the pipeline.
//
// Workbooks are always columnar. In auto mode, text with legacy markers goes
// through free-text extraction first and falls back to columnar CSV when that
// yields no records; any other text is columnar CSV.
func (e *Engine) runPipeline(ctx context.Context, name string, data []byte, opts ImportOptions) (extract.Result, Encoding, error) {
	auto := strings.EqualFold(strings.TrimSpace(opts.Mode), ModeAuto)
	var mode extract.Mode
	if !auto {
		m, err := extract.ParseMode(opts.Mode)
		if err != nil {
			return extract.Result{}, "", err
		}
		mode = m
	}

	src := e.detectSource(name)
	if _, ok := src.(*XLSXSource); ok {
		if mode == extract.ModeFreeText {
			return extract.Result{}, "", fmt.Errorf("%s: legacy mode needs a text export, not a workbook", name)
		}
		rows, enc, err := src.Rows(ctx, name, data, opts)
		if err != nil {
			return extract.Result{}, enc, err
		}
		res, err := e.pipeline.ParseRows(rows)
		return res, enc, err
	}

	text, enc, err := DecodeDetect(data, opts.Encoding)
	if err != nil {
		return extract.Result{}, enc, err
	}
	if err := ctx.Err(); err != nil {
		return extract.Result{}, enc, err
	}

	if mode == extract.ModeFreeText || (auto && HasLegacyMarkers(text)) {
		res, err := e.pipeline.ParseText(text)
		if err != nil || mode == extract.ModeFreeText || len(res.Records) > 0 {
			return res, enc, err
		}
		e.logger.Debug("free-text pass found no records, retrying as columnar", "file", name)
	}

	rows, err := csvRows(name, text)
	if err != nil {
		return extract.Result{}, enc, err
	}
	res, err := e.pipeline.ParseRows(rows)
	return res, enc, err
}
