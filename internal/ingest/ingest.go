// Package ingest turns uploaded files into stored student records.
//
// The engine decodes the raw bytes (UTF-8 or CP949), picks an extraction mode
// from the file and its content, runs the extract pipeline, and persists the
// result together with an audit Run. Each row source (CSV/TSV text, XLSX
// workbooks) implements the RowSource interface.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hurttlocker/rollcall/internal/extract"
	"github.com/hurttlocker/rollcall/internal/metrics"
	"github.com/hurttlocker/rollcall/internal/store"
)

var (
	// ErrNoInput is the extract sentinel for an empty blob, re-exported for callers.
	ErrNoInput = extract.ErrNoInput
	// ErrUndecodable is returned when the bytes are neither UTF-8 nor CP949 text.
	ErrUndecodable = errors.New("input is not decodable text")
	// ErrTooLarge is returned when an input exceeds ImportOptions.MaxFileSize.
	ErrTooLarge = errors.New("input exceeds maximum file size")
)

// DefaultMaxFileSize is 10MB.
const DefaultMaxFileSize = 10 * 1024 * 1024

// ModeAuto lets the engine choose between free-text and columnar extraction.
const ModeAuto = "auto"

// ImportOptions configures a parse or import.
type ImportOptions struct {
	Mode        string   // auto, legacy or columnar
	Encoding    Encoding // auto, utf-8 or cp949
	Sheet       string   // XLSX sheet name, default first sheet
	DryRun      bool
	Replace     bool  // empty the students table before inserting
	Force       bool  // import even if the same input was imported before
	MaxFileSize int64 // bytes, default 10MB
}

// Normalize fills defaults in place.
func (o *ImportOptions) Normalize() {
	if strings.TrimSpace(o.Mode) == "" {
		o.Mode = ModeAuto
	}
	if o.Encoding == "" {
		o.Encoding = EncodingAuto
	}
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
}

// ImportResult summarizes one parse or import.
type ImportResult struct {
	RunID      string
	SourceFile string
	InputHash  string
	InputBytes int64
	Encoding   Encoding
	Result     extract.Result

	Written       int
	Replaced      bool
	DryRun        bool
	Unchanged     bool   // input was already imported; nothing written
	PreviousRunID string // set when Unchanged
	Duration      time.Duration
}

// Engine runs the extract pipeline over files and persists the output.
type Engine struct {
	store    store.Store
	pipeline *extract.Pipeline
	sources  []RowSource
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithPipeline replaces the default-profile pipeline.
func WithPipeline(p *extract.Pipeline) EngineOption {
	return func(e *Engine) {
		if p != nil {
			e.pipeline = p
		}
	}
}

// WithLogger sets the logger for run summaries and per-line warnings.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics records every run on m.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithClock overrides the clock used for run timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an import engine. The store may be nil for parse-only use.
func NewEngine(s store.Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:   s,
		sources: []RowSource{&XLSXSource{}, &CSVSource{}},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.pipeline == nil {
		e.pipeline = extract.MustNewPipeline(extract.DefaultProfile())
	}
	return e
}

// Pipeline returns the extraction pipeline the engine runs.
func (e *Engine) Pipeline() *extract.Pipeline {
	return e.pipeline
}

// Parse reads the file at path and extracts records without writing anything.
func (e *Engine) Parse(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	opts.Normalize()
	data, err := readLimited(path, opts.MaxFileSize)
	if err != nil {
		return nil, err
	}
	return e.ParseBytes(ctx, path, data, opts)
}

// ParseBytes extracts records from an in-memory upload. name supplies the
// file extension used for format detection.
func (e *Engine) ParseBytes(ctx context.Context, name string, data []byte, opts ImportOptions) (*ImportResult, error) {
	opts.Normalize()
	start := e.now()
	res, err := e.parse(ctx, name, data, opts)
	if err != nil {
		e.observeFailure(opts.Mode)
		return nil, err
	}
	res.DryRun = true
	res.Duration = e.now().Sub(start)
	e.observe(res, start)
	e.logSummary("parse complete", res)
	return res, nil
}

// Import reads the file at path, extracts records and persists them.
func (e *Engine) Import(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	opts.Normalize()
	data, err := readLimited(path, opts.MaxFileSize)
	if err != nil {
		return nil, err
	}
	return e.ImportBytes(ctx, path, data, opts)
}

// ImportBytes is Import for an in-memory upload.
func (e *Engine) ImportBytes(ctx context.Context, name string, data []byte, opts ImportOptions) (*ImportResult, error) {
	opts.Normalize()
	start := e.now()

	res, err := e.parse(ctx, name, data, opts)
	if err != nil {
		e.observeFailure(opts.Mode)
		return nil, err
	}
	if opts.DryRun {
		res.DryRun = true
		res.Duration = e.now().Sub(start)
		e.observe(res, start)
		e.logSummary("dry run complete", res)
		return res, nil
	}

	if err := e.persist(ctx, res, opts, start); err != nil {
		e.observeFailure(string(res.Result.Mode))
		return nil, err
	}
	res.Duration = e.now().Sub(start)
	if !res.Unchanged {
		e.observe(res, start)
		if e.metrics != nil {
			e.metrics.ObserveWritten(res.Written)
		}
	}
	e.logSummary("import complete", res)
	return res, nil
}

func (e *Engine) parse(ctx context.Context, name string, data []byte, opts ImportOptions) (*ImportResult, error) {
	if int64(len(data)) > opts.MaxFileSize {
		return nil, fmt.Errorf("%s: %d bytes: %w", name, len(data), ErrTooLarge)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &ImportResult{
		RunID:      uuid.NewString(),
		SourceFile: name,
		InputHash:  store.HashInput(data),
		InputBytes: int64(len(data)),
	}

	out, enc, err := e.runPipeline(ctx, name, data, opts)
	if err != nil {
		return nil, err
	}
	res.Result = out
	res.Encoding = enc

	for _, w := range out.Stats.Warnings {
		e.logger.Debug("field warning",
			"file", name, "line", w.Line, "field", w.Field, "raw", w.Raw, "reason", w.Reason)
	}
	return res, nil
}

func (e *Engine) persist(ctx context.Context, res *ImportResult, opts ImportOptions, start time.Time) error {
	if e.store == nil {
		return errors.New("import requires a store")
	}

	if !opts.Force && !opts.Replace {
		prev, err := e.store.FindRunByHash(ctx, res.InputHash)
		switch {
		case err == nil:
			res.Unchanged = true
			res.PreviousRunID = prev.ID
			return nil
		case !store.IsNotFound(err):
			return fmt.Errorf("checking previous runs: %w", err)
		}
	}

	if opts.Replace {
		if err := e.store.TruncateStudents(ctx); err != nil {
			return err
		}
		res.Replaced = true
	}

	students := make([]*store.Student, 0, len(res.Result.Records))
	for _, r := range res.Result.Records {
		students = append(students, toStudent(r, res.RunID))
	}
	n, err := e.store.InsertStudents(ctx, students)
	res.Written = n
	if err != nil {
		return fmt.Errorf("writing students: %w", err)
	}

	s := res.Result.Stats
	run := &store.Run{
		ID:               res.RunID,
		SourceFile:       res.SourceFile,
		InputHash:        res.InputHash,
		Mode:             string(res.Result.Mode),
		LinesRead:        s.LinesRead,
		LinesRetained:    s.LinesRetained,
		RecordsAssembled: s.RecordsAssembled,
		RecordsEmitted:   s.RecordsEmitted,
		Duplicates:       s.Duplicates,
		DateWarnings:     s.DateWarnings,
		Skipped:          s.SkippedNoAnchor,
		Replaced:         res.Replaced,
		StartedAt:        start,
		FinishedAt:       e.now(),
	}
	if err := e.store.AddRun(ctx, run); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

func toStudent(r extract.Record, runID string) *store.Student {
	return &store.Student{
		RunID:           runID,
		Name:            r.Name,
		BirthDate:       r.BirthDate.String(),
		Phone:           r.Phone,
		Region:          r.Region,
		FarmerType:      r.Category,
		YearLevel:       r.YearLevel,
		Email:           r.Email,
		CreatedAt:       r.CreatedAt,
		Verified:        r.Verified,
		SourceLine:      r.SourceLine,
		StudentCategory: r.StudentCategory,
		Gender:          r.Gender,
		PostalCode:      r.PostalCode,
		Address:         r.Address,
		DetailedAddress: r.DetailedAddress,
		Foreigner:       r.Foreigner,
		MainCrop:        r.MainCrop,
		SelectionInfo:   r.SelectionInfo,
		PrivacyConsent:  r.PrivacyConsent,
	}
}

func (e *Engine) observe(res *ImportResult, start time.Time) {
	if e.metrics == nil {
		return
	}
	s := res.Result.Stats
	e.metrics.ObserveRun(string(res.Result.Mode), metrics.RunStats{
		RecordsEmitted: s.RecordsEmitted,
		Duplicates:     s.Duplicates,
		DateWarnings:   s.DateWarnings,
		Skipped:        s.SkippedNoAnchor,
	}, start)
}

func (e *Engine) observeFailure(mode string) {
	if e.metrics != nil {
		e.metrics.ObserveFailure(mode)
	}
}

func (e *Engine) logSummary(msg string, res *ImportResult) {
	s := res.Result.Stats
	e.logger.Info(msg,
		"file", filepath.Base(res.SourceFile),
		"run_id", res.RunID,
		"mode", res.Result.Mode,
		"encoding", res.Encoding,
		"lines", s.LinesRead,
		"records", s.RecordsEmitted,
		"duplicates", s.Duplicates,
		"date_warnings", s.DateWarnings,
		"skipped", s.SkippedNoAnchor,
		"written", res.Written,
		"unchanged", res.Unchanged,
		"duration", res.Duration,
	)
}

// readLimited reads path, refusing files larger than limit.
func readLimited(path string, limit int64) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > limit {
		return nil, fmt.Errorf("%s: %d bytes: %w", path, info.Size(), ErrTooLarge)
	}
	return os.ReadFile(path)
}
