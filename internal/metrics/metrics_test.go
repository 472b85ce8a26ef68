package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveRun(t *testing.T) {
	m := New()

	m.ObserveRun("legacy", RunStats{RecordsEmitted: 17, Duplicates: 43, DateWarnings: 2, Skipped: 1}, time.Now())
	m.ObserveRun("legacy", RunStats{RecordsEmitted: 3}, time.Now())
	m.ObserveWritten(20)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("legacy", "ok")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.RecordsEmitted.WithLabelValues("legacy")))
	assert.Equal(t, 43.0, testutil.ToFloat64(m.Duplicates.WithLabelValues("legacy")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DateWarnings.WithLabelValues("legacy")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.StudentsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LastRunSuccess))
}

func TestObserveFailure(t *testing.T) {
	m := New()

	m.ObserveFailure("columnar")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("columnar", "error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.LastRunSuccess))
}

func TestNew_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.ObserveWritten(5)

	assert.Equal(t, 5.0, testutil.ToFloat64(a.StudentsWritten))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StudentsWritten))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveRun("columnar", RunStats{RecordsEmitted: 4}, time.Now())

	path := filepath.Join(t.TempDir(), "rollcall.prom")
	require.NoError(t, m.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `rollcall_records_emitted_total{mode="columnar"} 4`)
	assert.Contains(t, string(b), "rollcall_run_duration_seconds_bucket")
}
