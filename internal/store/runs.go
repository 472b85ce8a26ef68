package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const runColumns = `id, source_file, input_hash, mode, lines_read, lines_retained, records_assembled,
	records_emitted, duplicates, date_warnings, skipped, replaced, started_at, finished_at`

// AddRun records one import run.
func (s *SQLiteStore) AddRun(ctx context.Context, r *Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SourceFile, r.InputHash, r.Mode, r.LinesRead, r.LinesRetained, r.RecordsAssembled,
		r.RecordsEmitted, r.Duplicates, r.DateWarnings, r.Skipped, r.Replaced,
		r.StartedAt.UTC().Format(storedTimeLayout), r.FinishedAt.UTC().Format(storedTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// FindRunByHash returns the most recent run of the input with the given hash.
func (s *SQLiteStore) FindRunByHash(ctx context.Context, hash string) (*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM import_runs WHERE input_hash = ? ORDER BY started_at DESC, rowid DESC LIMIT 1`, hash)
	if err != nil {
		return nil, fmt.Errorf("finding run: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return scanSQLiteRun(rows)
}

// ListRuns returns the most recent runs first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM import_runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanSQLiteRun(rows *sql.Rows) (*Run, error) {
	r := &Run{}
	var sourceFile sql.NullString
	var started, finished string
	err := rows.Scan(&r.ID, &sourceFile, &r.InputHash, &r.Mode, &r.LinesRead, &r.LinesRetained,
		&r.RecordsAssembled, &r.RecordsEmitted, &r.Duplicates, &r.DateWarnings, &r.Skipped,
		&r.Replaced, &started, &finished)
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	r.SourceFile = sourceFile.String
	r.StartedAt = parseStoredTime(started)
	r.FinishedAt = parseStoredTime(finished)
	return r, nil
}

// IsNotFound reports whether err is ErrNotFound or sql.ErrNoRows.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, sql.ErrNoRows)
}
