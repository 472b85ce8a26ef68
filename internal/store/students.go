package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// studentColumns is the insert/select column order shared by both backends.
var studentColumns = []string{
	"run_id", "name", "birth_date", "phone", "region", "farmer_type", "year_level",
	"email", "created_at", "is_verified", "source_line",
	"student_category", "gender", "postal_code", "address", "detailed_address",
	"is_foreigner", "main_crop", "selection_info", "privacy_consent",
	"imported_at",
}

// studentValues binds st in studentColumns order. Unknown birth date, phone,
// email and created_at are stored as NULL, not as empty text.
func studentValues(st *Student) []any {
	return []any{
		st.RunID, st.Name, nullString(st.BirthDate), nullString(st.Phone), st.Region, st.FarmerType, st.YearLevel,
		nullString(st.Email), nullString(st.CreatedAt), st.Verified, st.SourceLine,
		st.StudentCategory, st.Gender, st.PostalCode, st.Address, st.DetailedAddress,
		st.Foreigner, st.MainCrop, st.SelectionInfo, st.PrivacyConsent,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// studentWhere builds the WHERE clause for opts. ph renders the n-th
// placeholder in the backend's dialect.
func studentWhere(opts ListOpts, ph func(n int) string) (string, []any) {
	var conds []string
	var args []any
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = %s", col, ph(len(args))))
	}
	add("region", opts.Region)
	add("farmer_type", opts.Category)
	add("run_id", opts.RunID)
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func sqlitePlaceholder(int) string { return "?" }

// InsertStudents writes students in batches of the configured size, one
// transaction per batch. It returns how many rows were written.
func (s *SQLiteStore) InsertStudents(ctx context.Context, students []*Student) (int, error) {
	written := 0
	for i := 0; i < len(students); i += s.batchSize {
		end := min(i+s.batchSize, len(students))
		if err := s.insertBatch(ctx, students[i:end]); err != nil {
			return written, fmt.Errorf("batch insert chunk %d-%d: %w", i, end, err)
		}
		written += end - i
	}
	return written, nil
}

func (s *SQLiteStore) insertBatch(ctx context.Context, students []*Student) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(studentColumns)), ", ")
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf("INSERT INTO students (%s) VALUES (%s)", strings.Join(studentColumns, ", "), marks),
	)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, st := range students {
		args := append(studentValues(st), now.Format(storedTimeLayout))
		result, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return fmt.Errorf("inserting student in batch: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("getting last insert id: %w", err)
		}
		st.ID = id
		st.ImportedAt = now
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// TruncateStudents deletes every student row.
func (s *SQLiteStore) TruncateStudents(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM students"); err != nil {
		return fmt.Errorf("truncating students: %w", err)
	}
	return nil
}

// ListStudents returns students in insertion order.
func (s *SQLiteStore) ListStudents(ctx context.Context, opts ListOpts) ([]*Student, error) {
	opts = normalizeListOpts(opts)
	where, args := studentWhere(opts, sqlitePlaceholder)
	query := fmt.Sprintf("SELECT id, %s FROM students%s ORDER BY id LIMIT ? OFFSET ?",
		strings.Join(studentColumns, ", "), where)
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing students: %w", err)
	}
	defer rows.Close()

	var out []*Student
	for rows.Next() {
		st, err := scanSQLiteStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// CountStudents counts students matching the filters in opts.
func (s *SQLiteStore) CountStudents(ctx context.Context, opts ListOpts) (int64, error) {
	where, args := studentWhere(opts, sqlitePlaceholder)
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM students"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting students: %w", err)
	}
	return n, nil
}

func scanSQLiteStudent(rows *sql.Rows) (*Student, error) {
	st := &Student{}
	var runID, birth, phone, region, farmerType, yearLevel, email, createdAt sql.NullString
	var importedAt string
	err := rows.Scan(&st.ID, &runID, &st.Name, &birth, &phone, &region, &farmerType, &yearLevel,
		&email, &createdAt, &st.Verified, &st.SourceLine,
		&st.StudentCategory, &st.Gender, &st.PostalCode, &st.Address, &st.DetailedAddress,
		&st.Foreigner, &st.MainCrop, &st.SelectionInfo, &st.PrivacyConsent,
		&importedAt)
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
	st.ImportedAt = parseStoredTime(importedAt)
	return st, nil
}

// storedTimeLayout keeps a fixed width so stored timestamps sort as text.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z"

// parseStoredTime reads the RFC 3339 text SQLite rows carry. Unparseable
// values come back as the zero time.
func parseStoredTime(v string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
