package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store on Postgres. Students are bulk-loaded with
// COPY, one transaction per batch.
type PostgresStore struct {
	db        *sql.DB
	batchSize int
}

// NewPostgresStore connects to the DSN in cfg.DBPath and creates the schema.
func NewPostgresStore(cfg StoreConfig) (Store, error) {
	db, err := sql.Open("postgres", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	s := newPostgresStore(db, cfg.BatchSize)
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func newPostgresStore(db *sql.DB, batchSize int) *PostgresStore {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &PostgresStore{db: db, batchSize: batchSize}
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		id               BIGSERIAL PRIMARY KEY,
		run_id           TEXT,
		name             TEXT NOT NULL,
		birth_date       TEXT,
		phone            TEXT,
		region           TEXT,
		farmer_type      TEXT,
		year_level       TEXT,
		email            TEXT,
		created_at       TEXT,
		is_verified      BOOLEAN NOT NULL DEFAULT FALSE,
		source_line      INTEGER,
		student_category TEXT NOT NULL DEFAULT '',
		gender           TEXT NOT NULL DEFAULT '',
		postal_code      TEXT NOT NULL DEFAULT '',
		address          TEXT NOT NULL DEFAULT '',
		detailed_address TEXT NOT NULL DEFAULT '',
		is_foreigner     TEXT NOT NULL DEFAULT '',
		main_crop        TEXT NOT NULL DEFAULT '',
		selection_info   TEXT NOT NULL DEFAULT '',
		privacy_consent  TEXT NOT NULL DEFAULT '',
		imported_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_students_phone ON students(phone)`,
	`CREATE INDEX IF NOT EXISTS idx_students_region ON students(region)`,
	`CREATE INDEX IF NOT EXISTS idx_students_run ON students(run_id)`,
	`CREATE TABLE IF NOT EXISTS import_runs (
		id                TEXT PRIMARY KEY,
		source_file       TEXT,
		input_hash        TEXT NOT NULL,
		mode              TEXT NOT NULL,
		lines_read        INTEGER NOT NULL DEFAULT 0,
		lines_retained    INTEGER NOT NULL DEFAULT 0,
		records_assembled INTEGER NOT NULL DEFAULT 0,
		records_emitted   INTEGER NOT NULL DEFAULT 0,
		duplicates        INTEGER NOT NULL DEFAULT 0,
		date_warnings     INTEGER NOT NULL DEFAULT 0,
		skipped           INTEGER NOT NULL DEFAULT 0,
		replaced          BOOLEAN NOT NULL DEFAULT FALSE,
		started_at        TIMESTAMPTZ NOT NULL,
		finished_at       TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_import_runs_hash ON import_runs(input_hash)`,
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// InsertStudents bulk-loads students with COPY in batches of the configured size.
func (s *PostgresStore) InsertStudents(ctx context.Context, students []*Student) (int, error) {
	written := 0
	for i := 0; i < len(students); i += s.batchSize {
		end := min(i+s.batchSize, len(students))
		if err := s.copyBatch(ctx, students[i:end]); err != nil {
			return written, fmt.Errorf("batch copy chunk %d-%d: %w", i, end, err)
		}
		written += end - i
	}
	return written, nil
}

func (s *PostgresStore) copyBatch(ctx context.Context, students []*Student) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("students", studentColumns...))
	if err != nil {
		return fmt.Errorf("preparing copy: %w", err)
	}

	now := time.Now().UTC()
	for _, st := range students {
		args := append(studentValues(st), now)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			stmt.Close()
			return fmt.Errorf("copying student: %w", err)
		}
		st.ImportedAt = now
	}

	// An Exec without arguments flushes the COPY buffer.
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("flushing copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("closing copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// TruncateStudents empties the students table.
func (s *PostgresStore) TruncateStudents(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "TRUNCATE TABLE students RESTART IDENTITY"); err != nil {
		return fmt.Errorf("truncating students: %w", err)
	}
	return nil
}

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// ListStudents returns students in insertion order.
func (s *PostgresStore) ListStudents(ctx context.Context, opts ListOpts) ([]*Student, error) {
	opts = normalizeListOpts(opts)
	where, args := studentWhere(opts, postgresPlaceholder)
	query := fmt.Sprintf("SELECT id, %s FROM students%s ORDER BY id LIMIT %s OFFSET %s",
		strings.Join(studentColumns, ", "), where,
		postgresPlaceholder(len(args)+1), postgresPlaceholder(len(args)+2))
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing students: %w", err)
	}
	defer rows.Close()

	var out []*Student
	for rows.Next() {
		st := &Student{}
		var runID, birth, phone, region, farmerType, yearLevel, email, createdAt sql.NullString
		var sourceLine sql.NullInt64
		err := rows.Scan(&st.ID, &runID, &st.Name, &birth, &phone, &region, &farmerType, &yearLevel,
			&email, &createdAt, &st.Verified, &sourceLine,
			&st.StudentCategory, &st.Gender, &st.PostalCode, &st.Address, &st.DetailedAddress,
			&st.Foreigner, &st.MainCrop, &st.SelectionInfo, &st.PrivacyConsent,
			&st.ImportedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning student: %w", err)
		}
		st.RunID = runID.String
		st.BirthDate = birth.String
		st.Phone = phone.String
		st.Region = region.String
		st.FarmerType = farmerType.String
		st.YearLevel = yearLevel.String
		st.Email = email.String
		st.CreatedAt = createdAt.String
		st.SourceLine = int(sourceLine.Int64)
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountStudents counts students matching the filters in opts.
func (s *PostgresStore) CountStudents(ctx context.Context, opts ListOpts) (int64, error) {
	where, args := studentWhere(opts, postgresPlaceholder)
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM students"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting students: %w", err)
	}
	return n, nil
}

// AddRun records one import run.
func (s *PostgresStore) AddRun(ctx context.Context, r *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_runs (`+runColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		r.ID, r.SourceFile, r.InputHash, r.Mode, r.LinesRead, r.LinesRetained, r.RecordsAssembled,
		r.RecordsEmitted, r.Duplicates, r.DateWarnings, r.Skipped, r.Replaced,
		r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FindRunByHash returns the most recent run of the input with the given hash.
func (s *PostgresStore) FindRunByHash(ctx context.Context, hash string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM import_runs WHERE input_hash = $1 ORDER BY started_at DESC LIMIT 1`, hash)
	r, err := scanPostgresRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// ListRuns returns the most recent runs first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM import_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats returns row counts. Database size is not reported for Postgres.
func (s *PostgresStore) Stats(ctx context.Context) (*StoreStats, error) {
	st := &StoreStats{}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM students").Scan(&st.StudentCount); err != nil {
		return nil, fmt.Errorf("counting students: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM import_runs").Scan(&st.RunCount); err != nil {
		return nil, fmt.Errorf("counting runs: %w", err)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPostgresRun(row rowScanner) (*Run, error) {
	r := &Run{}
	var sourceFile sql.NullString
	err := row.Scan(&r.ID, &sourceFile, &r.InputHash, &r.Mode, &r.LinesRead, &r.LinesRetained,
		&r.RecordsAssembled, &r.RecordsEmitted, &r.Duplicates, &r.DateWarnings, &r.Skipped,
		&r.Replaced, &r.StartedAt, &r.FinishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	r.SourceFile = sourceFile.String
	return r, nil
}
