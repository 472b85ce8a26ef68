// Package extract recovers student records from legacy spreadsheet exports.
//
// Two ingestion modes share one Pipeline:
//   - Free-text legacy mode: each line of a decoded dump is mined with
//     independent regex recognizers for dates, phone, email and keywords, and
//     the person's name is recovered from whatever Hangul text is left over.
//   - Strict-columnar mode: rows are already split into cells and the same
//     recognizers run against known column indices.
//
// Both modes fold their input into an ordered, deduplicated sequence of Records
// plus run statistics. Per-line problems never abort a run; they are counted.
package extract

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrNoInput is returned when the input blob is empty or has no rows at all.
var ErrNoInput = errors.New("no input")

// UnknownName is the sentinel used when no name candidate survives resolution.
const UnknownName = "Unknown"

// Mode selects how input is interpreted.
type Mode string

const (
	// ModeFreeText mines unstructured lines with the full extractor/resolver pipeline.
	ModeFreeText Mode = "legacy"
	// ModeColumnar reads cells at known column indices.
	ModeColumnar Mode = "columnar"
)

// ParseMode maps a user-supplied mode name onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "legacy", "free-text", "freetext", "text":
		return ModeFreeText, nil
	case "columnar", "strict", "rows", "csv":
		return ModeColumnar, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want legacy or columnar)", s)
	}
}

// Record is one candidate student record.
type Record struct {
	Name         string `json:"name"`
	BirthDate    Date   `json:"birth_date"`
	BirthDateRaw string `json:"-"` // birth-date text as found, before normalization
	Phone        string `json:"phone"`
	PhoneDisplay string `json:"phone_display,omitempty"`
	Region       string `json:"region"`
	Category     string `json:"farmer_type"`
	YearLevel    string `json:"year_level"`
	Email        string `json:"email"`
	CreatedAt    string `json:"created_at"`
	Verified     bool   `json:"is_verified"`
	SourceLine   int    `json:"source_line"`

	// Only populated in columnar mode.
	StudentCategory string `json:"student_category,omitempty"`
	Gender          string `json:"gender,omitempty"`
	PostalCode      string `json:"postal_code,omitempty"`
	Address         string `json:"address,omitempty"`
	DetailedAddress string `json:"detailed_address,omitempty"`
	Foreigner       string `json:"is_foreigner,omitempty"`
	MainCrop        string `json:"main_crop,omitempty"`
	SelectionInfo   string `json:"selection_info,omitempty"`
	PrivacyConsent  string `json:"privacy_consent,omitempty"`
}

// Warning records a per-line anomaly that did not stop the run.
type Warning struct {
	Line   int    `json:"line"`
	Field  string `json:"field"`
	Raw    string `json:"raw"`
	Reason string `json:"reason"`
}

// Stats summarizes one run.
type Stats struct {
	LinesRead        int       `json:"lines_read"`
	LinesRetained    int       `json:"lines_retained"`
	RecordsAssembled int       `json:"records_assembled"`
	RecordsEmitted   int       `json:"records_emitted"`
	Duplicates       int       `json:"duplicates"`
	DateWarnings     int       `json:"date_warnings"`
	SkippedNoAnchor  int       `json:"skipped_no_anchor"`
	Warnings         []Warning `json:"warnings,omitempty"`
}

// Result is the output of one run.
type Result struct {
	Mode    Mode     `json:"mode"`
	Records []Record `json:"records"`
	Stats   Stats    `json:"stats"`
}

// Input carries either free text or pre-split rows, depending on the mode.
type Input struct {
	Text string
	Rows [][]string
}

// Pipeline is the record extraction engine. It is safe to reuse across runs:
// every run gets its own Deduper.
type Pipeline struct {
	profile Profile
	rules   *ruleSet
	now     func() time.Time
	workers int
}

// PipelineOption configures the pipeline.
type PipelineOption func(*Pipeline)

// WithClock overrides the clock used for the created_at fallback.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithWorkers assembles free-text lines on up to n goroutines. Deduplication
// still runs serially in line order afterwards.
func WithWorkers(n int) PipelineOption {
	return func(p *Pipeline) {
		p.workers = n
	}
}

// NewPipeline compiles the profile into a ready-to-run pipeline.
func NewPipeline(profile Profile, opts ...PipelineOption) (*Pipeline, error) {
	rules, err := compileProfile(profile)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		profile: profile,
		rules:   rules,
		now:     time.Now,
		workers: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// MustNewPipeline is like NewPipeline but panics if the profile does not
// compile. It is meant for built-in profiles such as DefaultProfile.
func MustNewPipeline(profile Profile, opts ...PipelineOption) *Pipeline {
	p, err := NewPipeline(profile, opts...)
	if err != nil {
		panic(fmt.Sprintf("extract: %v", err))
	}
	return p
}

// Profile returns the profile the pipeline was built from.
func (p *Pipeline) Profile() Profile {
	return p.profile
}

// Run dispatches to the parser for mode.
func (p *Pipeline) Run(mode Mode, in Input) (Result, error) {
	switch mode {
	case ModeFreeText:
		return p.ParseText(in.Text)
	case ModeColumnar:
		return p.ParseRows(in.Rows)
	default:
		return Result{}, fmt.Errorf("unsupported mode %q", mode)
	}
}

// ParseText runs free-text legacy mode over a decoded text blob.
func (p *Pipeline) ParseText(text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{Mode: ModeFreeText}, ErrNoInput
	}
	return p.ParseLines(SplitLines(text))
}

// ParseLines runs free-text legacy mode over already-split lines.
func (p *Pipeline) ParseLines(lines []string) (Result, error) {
	res := Result{Mode: ModeFreeText, Records: []Record{}}
	if len(lines) == 0 {
		return res, ErrNoInput
	}
	res.Stats.LinesRead = len(lines)

	kept := FilterLines(lines, p.profile.MinLineLength)
	res.Stats.LinesRetained = len(kept)

	runAt := p.now().UTC().Format(time.RFC3339)
	reports := make([]lineReport, len(kept))
	assemble := func(i int) {
		reports[i] = p.assembleLine(kept[i], runAt)
	}

	if p.workers > 1 && len(kept) > p.workers {
		chunk := (len(kept) + p.workers - 1) / p.workers
		var g errgroup.Group
		g.SetLimit(p.workers)
		for start := 0; start < len(kept); start += chunk {
			end := min(start+chunk, len(kept))
			g.Go(func() error {
				for i := start; i < end; i++ {
					assemble(i)
				}
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range kept {
			assemble(i)
		}
	}

	p.fold(&res, reports)
	return res, nil
}

// ParseRows runs strict-columnar mode over spreadsheet rows.
func (p *Pipeline) ParseRows(rows [][]string) (Result, error) {
	res := Result{Mode: ModeColumnar, Records: []Record{}}
	if len(rows) == 0 {
		return res, ErrNoInput
	}
	res.Stats.LinesRead = len(rows)

	cols := p.profile.Columns
	if cols.ResolveHeader && cols.HeaderRows > 0 {
		cols = ResolveColumns(rows[0], cols)
	}

	runAt := p.now().UTC().Format(time.RFC3339)
	var reports []lineReport
	for i, row := range rows {
		if i < cols.HeaderRows || blankRow(row) {
			continue
		}
		res.Stats.LinesRetained++
		reports = append(reports, p.assembleRow(i+1, row, cols, runAt))
	}

	p.fold(&res, reports)
	return res, nil
}

// fold runs the serial reduce: counters, warnings and first-seen-wins dedup.
func (p *Pipeline) fold(res *Result, reports []lineReport) {
	seen := NewDeduper()
	for _, r := range reports {
		res.Stats.Warnings = append(res.Stats.Warnings, r.warnings...)
		if r.dateWarning {
			res.Stats.DateWarnings++
		}
		if r.skip {
			res.Stats.SkippedNoAnchor++
			continue
		}
		res.Stats.RecordsAssembled++
		if !seen.Accept(r.record) {
			continue
		}
		res.Records = append(res.Records, r.record)
	}
	res.Stats.Duplicates = seen.Duplicates()
	res.Stats.RecordsEmitted = len(res.Records)
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
