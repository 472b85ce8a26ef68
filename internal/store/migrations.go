package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: spreadsheet-only columns arrived with columnar imports.
	if err := s.migrateColumnarColumns(); err != nil {
		return fmt.Errorf("migrating columnar columns: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS students (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT,
			name        TEXT NOT NULL,
			birth_date  TEXT,
			phone       TEXT,
			region      TEXT,
			farmer_type TEXT,
			year_level  TEXT,
			email       TEXT,
			created_at  TEXT,
			is_verified INTEGER NOT NULL DEFAULT 0,
			source_line INTEGER,
			imported_at TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_students_phone ON students(phone)`,
		`CREATE INDEX IF NOT EXISTS idx_students_region ON students(region)`,
		`CREATE INDEX IF NOT EXISTS idx_students_run ON students(run_id)`,

		// Audit trail, one row per import
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
			replaced          INTEGER NOT NULL DEFAULT 0,
			started_at        TEXT NOT NULL,
			finished_at       TEXT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_import_runs_hash ON import_runs(input_hash)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}
	return nil
}

// columnarColumns are the students columns only columnar imports fill.
var columnarColumns = []string{
	"student_category",
	"gender",
	"postal_code",
	"address",
	"detailed_address",
	"is_foreigner",
	"main_crop",
	"selection_info",
	"privacy_consent",
}

// migrateColumnarColumns adds the spreadsheet-only columns to students when
// they are missing. Safe to run repeatedly.
func (s *SQLiteStore) migrateColumnarColumns() error {
	for _, col := range columnarColumns {
		var count int
		err := s.db.QueryRow(
			"SELECT COUNT(*) FROM pragma_table_info('students') WHERE name = ?", col,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("checking for %s column: %w", col, err)
		}
		if count > 0 {
			continue
		}
		_, err = s.db.Exec(fmt.Sprintf("ALTER TABLE students ADD COLUMN %s TEXT NOT NULL DEFAULT ''", col))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("adding %s column: %w", col, err)
		}
	}
	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

// seedMeta initializes the meta table with defaults if not already set.
func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": "1",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range defaults {
		_, err := s.db.Exec(
			"INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v,
		)
		if err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
