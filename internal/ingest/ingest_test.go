package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/rollcall/internal/extract"
	"github.com/hurttlocker/rollcall/internal/metrics"
	"github.com/hurttlocker/rollcall/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewStore(store.StoreConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testNow = time.Date(2026, 1, 3, 9, 30, 0, 0, time.UTC)

func newTestEngine(t *testing.T, s store.Store, opts ...EngineOption) *Engine {
	t.Helper()
	p, err := extract.NewPipeline(extract.DefaultProfile(), extract.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	opts = append([]EngineOption{
		WithPipeline(p),
		WithLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))),
	}, opts...)
	return NewEngine(s, opts...)
}

const legacyDump = "연번,권역,구분,성명,생년월일,전화번호\n" +
	"1,경북/대구,청년농업인,홍길동,1990-05-01,1010-1234-5678\n" +
	"2,전남,우수후계농업인,이영희,1899-01-01,010-2222-3333\n" +
	"3,경북/대구,청년농업인,홍길동,1990-05-01,010-1234-5678\n"

const columnarCSV = "구분,권역,연차,교육생구분,성명,전화번호,성별,우편번호,주소,상세주소,이메일,생년월일\n" +
	"청년농업인,경북/대구,2년차,일반,홍길동,010-1234-5678,남,,,,hong@example.com,1990.05.01\n" +
	"후계농업인,제주,1년차,일반,오지현,010-5555-6666,여,,,,,1995.7.7\n" +
	"후계농업인,제주,1년차,일반,박민수,010-7777-8888,남,,,,,\n"

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// ==================== Mode Detection ====================

func TestParse_AutoDetectsLegacyDump(t *testing.T) {
	e := newTestEngine(t, nil)
	path := writeFile(t, "legacy.csv", []byte(legacyDump))

	res, err := e.Parse(context.Background(), path, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, extract.ModeFreeText, res.Result.Mode)
	assert.Equal(t, EncodingUTF8, res.Encoding)
	require.Len(t, res.Result.Records, 2)
	assert.Equal(t, "홍길동", res.Result.Records[0].Name)
	assert.Equal(t, "경북", res.Result.Records[0].Region)
	assert.Equal(t, 1, res.Result.Stats.Duplicates)
	assert.Equal(t, 1, res.Result.Stats.DateWarnings)
	assert.True(t, res.DryRun)
	assert.Len(t, res.InputHash, 64)
}

func TestParse_AutoFallsBackToColumnar(t *testing.T) {
	e := newTestEngine(t, nil)
	path := writeFile(t, "export.csv", []byte(columnarCSV))

	res, err := e.Parse(context.Background(), path, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, extract.ModeColumnar, res.Result.Mode)
	require.Len(t, res.Result.Records, 2)
	assert.Equal(t, extract.Date("1990-05-01"), res.Result.Records[0].BirthDate)
	assert.Equal(t, "hong@example.com", res.Result.Records[0].Email)
	assert.Equal(t, extract.Date("1995-07-07"), res.Result.Records[1].BirthDate)
	assert.Equal(t, 1, res.Result.Stats.SkippedNoAnchor)
}

func TestParse_ColumnarWithoutMarkers(t *testing.T) {
	e := newTestEngine(t, nil)
	data := []byte("성명,생년월일,전화번호\n홍길동,1990-05-01,010-1234-5678\n")

	res, err := e.ParseBytes(context.Background(), "plain.csv", data, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, extract.ModeColumnar, res.Result.Mode)
	require.Len(t, res.Result.Records, 1)
	assert.Equal(t, "01012345678", res.Result.Records[0].Phone)
}

func TestParse_ForcedModes(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	res, err := e.ParseBytes(ctx, "export.csv", []byte(columnarCSV), ImportOptions{Mode: "legacy"})
	require.NoError(t, err)
	assert.Equal(t, extract.ModeFreeText, res.Result.Mode)
	assert.Empty(t, res.Result.Records)

	res, err = e.ParseBytes(ctx, "legacy.csv", []byte(legacyDump), ImportOptions{Mode: "columnar"})
	require.NoError(t, err)
	assert.Equal(t, extract.ModeColumnar, res.Result.Mode)

	_, err = e.ParseBytes(ctx, "legacy.csv", []byte(legacyDump), ImportOptions{Mode: "xml"})
	assert.Error(t, err)
}

func TestParse_CP949LegacyDump(t *testing.T) {
	e := newTestEngine(t, nil)

	res, err := e.ParseBytes(context.Background(), "legacy.txt", encodeCP949(t, legacyDump), ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, EncodingCP949, res.Encoding)
	assert.Equal(t, extract.ModeFreeText, res.Result.Mode)
	assert.Len(t, res.Result.Records, 2)
}

func TestParse_Workbook(t *testing.T) {
	e := newTestEngine(t, nil)
	data := buildWorkbook(t, "Sheet1", [][]any{
		{"구분", "권역", "성명", "전화번호", "생년월일"},
		{"청년농업인", "경북/대구", "홍길동", "010-1234-5678", 32994},
	})

	res, err := e.ParseBytes(context.Background(), "roster.xlsx", data, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, extract.ModeColumnar, res.Result.Mode)
	require.Len(t, res.Result.Records, 1)
	assert.Equal(t, extract.Date("1990-05-01"), res.Result.Records[0].BirthDate)

	_, err = e.ParseBytes(context.Background(), "roster.xlsx", data, ImportOptions{Mode: "legacy"})
	assert.Error(t, err)
}

func TestParse_Errors(t *testing.T) {
	e := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.ParseBytes(ctx, "empty.csv", []byte("  \n"), ImportOptions{})
	assert.ErrorIs(t, err, ErrNoInput)

	_, err = e.ParseBytes(ctx, "blob.bin", []byte{0x00, 0x01, 0x02}, ImportOptions{})
	assert.ErrorIs(t, err, ErrUndecodable)

	_, err = e.ParseBytes(ctx, "big.csv", bytes.Repeat([]byte("a"), 64), ImportOptions{MaxFileSize: 32})
	assert.ErrorIs(t, err, ErrTooLarge)

	path := writeFile(t, "big.csv", bytes.Repeat([]byte("a"), 64))
	_, err = e.Parse(ctx, path, ImportOptions{MaxFileSize: 32})
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = e.Parse(ctx, filepath.Join(t.TempDir(), "missing.csv"), ImportOptions{})
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = e.ParseBytes(cancelled, "legacy.csv", []byte(legacyDump), ImportOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

// ==================== Import ====================

func TestImport_WritesStudentsAndRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	m := metrics.New()
	e := newTestEngine(t, s, WithMetrics(m))
	path := writeFile(t, "legacy.csv", []byte(legacyDump))

	res, err := e.Import(ctx, path, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Written)
	assert.False(t, res.DryRun)

	students, err := s.ListStudents(ctx, store.ListOpts{})
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "홍길동", students[0].Name)
	assert.Equal(t, "1990-05-01", students[0].BirthDate)
	assert.Equal(t, "청년농업인", students[0].FarmerType)
	assert.Equal(t, res.RunID, students[0].RunID)
	assert.Equal(t, "", students[1].BirthDate)

	run, err := s.FindRunByHash(ctx, res.InputHash)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, run.ID)
	assert.Equal(t, "legacy", run.Mode)
	assert.Equal(t, 2, run.RecordsEmitted)
	assert.Equal(t, 1, run.Duplicates)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("legacy", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StudentsWritten))
}

func TestImport_SameInputIsUnchanged(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := newTestEngine(t, s)
	path := writeFile(t, "legacy.csv", []byte(legacyDump))

	first, err := e.Import(ctx, path, ImportOptions{})
	require.NoError(t, err)

	second, err := e.Import(ctx, path, ImportOptions{})
	require.NoError(t, err)
	assert.True(t, second.Unchanged)
	assert.Equal(t, first.RunID, second.PreviousRunID)
	assert.Equal(t, 0, second.Written)

	n, err := s.CountStudents(ctx, store.ListOpts{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	forced, err := e.Import(ctx, path, ImportOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 2, forced.Written)
	n, _ = s.CountStudents(ctx, store.ListOpts{})
	assert.Equal(t, int64(4), n)
}

func TestImport_ReplaceTruncatesFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := newTestEngine(t, s)

	_, err := e.ImportBytes(ctx, "legacy.csv", []byte(legacyDump), ImportOptions{})
	require.NoError(t, err)

	res, err := e.ImportBytes(ctx, "export.csv", []byte(columnarCSV), ImportOptions{Replace: true})
	require.NoError(t, err)
	assert.True(t, res.Replaced)

	students, err := s.ListStudents(ctx, store.ListOpts{})
	require.NoError(t, err)
	require.Len(t, students, 2)
	assert.Equal(t, "오지현", students[1].Name)
	assert.Equal(t, "2년차", students[0].YearLevel)

	runs, err := s.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestImport_DryRunWritesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := newTestEngine(t, s)

	res, err := e.ImportBytes(ctx, "legacy.csv", []byte(legacyDump), ImportOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Len(t, res.Result.Records, 2)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.StudentCount)
	assert.Equal(t, int64(0), stats.RunCount)
}

func TestImport_RequiresStore(t *testing.T) {
	e := newTestEngine(t, nil)

	_, err := e.ImportBytes(context.Background(), "legacy.csv", []byte(legacyDump), ImportOptions{})
	assert.Error(t, err)
}

func TestImport_LogsSummaryAndWarnings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := newTestEngine(t, newTestStore(t), WithLogger(logger))

	_, err := e.ImportBytes(context.Background(), "legacy.csv", []byte(legacyDump), ImportOptions{})
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "field warning")
	assert.Contains(t, out, "raw=1899-01-01")
	assert.Contains(t, out, "import complete")
	assert.Contains(t, out, "records=2")
}

func TestImport_FailureIsCounted(t *testing.T) {
	m := metrics.New()
	e := newTestEngine(t, newTestStore(t), WithMetrics(m))

	_, err := e.ImportBytes(context.Background(), "blob.bin", []byte{0x00}, ImportOptions{})
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("auto", "error")))
}

// ==================== Format Result ====================

func TestFormatImportResult(t *testing.T) {
	r := &ImportResult{
		RunID:      "run-1",
		SourceFile: "legacy.csv",
		InputBytes: 2048,
		Encoding:   EncodingCP949,
		Written:    1234,
		Replaced:   true,
		Duration:   1500 * time.Millisecond,
		Result: extract.Result{
			Mode: extract.ModeFreeText,
			Stats: extract.Stats{
				LinesRead: 12000, LinesRetained: 11000, RecordsEmitted: 1234, Duplicates: 9766,
				DateWarnings: 1,
				Warnings:     []extract.Warning{{Line: 7, Field: "birth_date", Raw: "1899-01-01", Reason: "out of range"}},
			},
		},
	}

	out := FormatImportResult(r)
	assert.Contains(t, out, "Import complete")
	assert.Contains(t, out, "2.0 kB, cp949, legacy mode")
	assert.Contains(t, out, "12,000 read")
	assert.Contains(t, out, "1,234 students (table replaced)")
	assert.Contains(t, out, `line 7 birth_date "1899-01-01"`)

	r.Unchanged, r.PreviousRunID = true, "run-0"
	assert.Contains(t, FormatImportResult(r), "already imported (run run-0)")
	assert.NotContains(t, FormatImportResult(r), "Written")
}

func TestFormatImportResult_TruncatesWarnings(t *testing.T) {
	var warnings []extract.Warning
	for i := 0; i < 15; i++ {
		warnings = append(warnings, extract.Warning{Line: i + 1, Field: "birth_date", Raw: fmt.Sprint(i)})
	}
	out := FormatImportResult(&ImportResult{DryRun: true, Result: extract.Result{Stats: extract.Stats{Warnings: warnings}}})
	assert.Contains(t, out, "Dry run complete")
	assert.Contains(t, out, "... and 5 more")
	assert.Equal(t, 10, strings.Count(out, "birth_date"))
}
