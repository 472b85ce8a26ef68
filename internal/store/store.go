// Package store persists extracted student records and the import runs that
// produced them.
//
// Two backends implement Store:
//   - SQLiteStore: a single local database file (default ~/.rollcall/rollcall.db)
//   - PostgresStore: a shared Postgres database, bulk-loaded with COPY
package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.rollcall/rollcall.db"

// DefaultBatchSize is the default batch size for bulk inserts.
const DefaultBatchSize = 500

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Student is one persisted student record.
type Student struct {
	ID         int64
	RunID      string
	Name       string
	BirthDate  string // YYYY-MM-DD, empty when unknown
	Phone      string // digits only
	Region     string
	FarmerType string
	YearLevel  string
	Email      string
	CreatedAt  string // YYYY-MM-DD or RFC 3339 run timestamp
	Verified   bool
	SourceLine int

	StudentCategory string
	Gender          string
	PostalCode      string
	Address         string
	DetailedAddress string
	Foreigner       string
	MainCrop        string
	SelectionInfo   string
	PrivacyConsent  string

	ImportedAt time.Time
}

// Run is the audit entry of one import.
type Run struct {
	ID               string
	SourceFile       string
	InputHash        string
	Mode             string
	LinesRead        int
	LinesRetained    int
	RecordsAssembled int
	RecordsEmitted   int
	Duplicates       int
	DateWarnings     int
	Skipped          int
	Replaced         bool
	StartedAt        time.Time
	FinishedAt       time.Time
}

// ListOpts controls pagination and filtering for List operations.
type ListOpts struct {
	Limit    int
	Offset   int
	Region   string
	Category string
	RunID    string
}

// StoreStats holds counts for status output.
type StoreStats struct {
	StudentCount int64
	RunCount     int64
	DBSizeBytes  int64
}

// StoreConfig holds configuration for Open.
type StoreConfig struct {
	// DBPath is a SQLite file path, ":memory:", or a postgres:// DSN.
	DBPath    string
	BatchSize int
}

// Store defines the storage interface shared by both backends.
type Store interface {
	// Students
	InsertStudents(ctx context.Context, students []*Student) (int, error)
	TruncateStudents(ctx context.Context) error
	ListStudents(ctx context.Context, opts ListOpts) ([]*Student, error)
	CountStudents(ctx context.Context, opts ListOpts) (int64, error)

	// Runs
	AddRun(ctx context.Context, r *Run) error
	FindRunByHash(ctx context.Context, hash string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	Close() error
}

// Open picks a backend from the DSN: postgres:// and postgresql:// go to
// Postgres, anything else is a SQLite path.
func Open(cfg StoreConfig) (Store, error) {
	if IsPostgresDSN(cfg.DBPath) {
		return NewPostgresStore(cfg)
	}
	return NewStore(cfg)
}

// IsPostgresDSN reports whether dsn names a Postgres database.
func IsPostgresDSN(dsn string) bool {
	dsn = strings.ToLower(strings.TrimSpace(dsn))
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

func normalizeListOpts(opts ListOpts) ListOpts {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	return opts
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
