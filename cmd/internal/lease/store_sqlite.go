package lease

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists auth codes in a local SQLite file.
// Timestamps are stored as unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and ensures the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer connection keeps conditional updates serialized without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrInvalidInput
	}
	return s.db.PingContext(ctx)
}

const sqliteColumns = `pool_id, code, status, assigned_to, created_at, assigned_at, expires_minutes, in_use, in_use_since, bound_room, note`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (AuthCode, error) {
	var (
		out        AuthCode
		status     string
		assignedTo sql.NullInt64
		createdAt  int64
		assignedAt sql.NullInt64
		inUse      int64
		inUseSince sql.NullInt64
		boundRoom  sql.NullString
		note       sql.NullString
	)
	err := row.Scan(
		&out.ID,
		&out.Code,
		&status,
		&assignedTo,
		&createdAt,
		&assignedAt,
		&out.ExpiresMinutes,
		&inUse,
		&inUseSince,
		&boundRoom,
		&note,
	)
	if err != nil {
		return AuthCode{}, err
	}
	out.Status = Status(status)
	out.CreatedAt = fromMillis(createdAt)
	out.InUse = inUse != 0
	if assignedTo.Valid {
		v := assignedTo.Int64
		out.AssignedTo = &v
	}
	if assignedAt.Valid {
		out.AssignedAt = timePtr(fromMillis(assignedAt.Int64))
	}
	if inUseSince.Valid {
		out.InUseSince = timePtr(fromMillis(inUseSince.Int64))
	}
	if boundRoom.Valid {
		v := boundRoom.String
		out.BoundRoom = &v
	}
	if note.Valid {
		v := note.String
		out.Note = &v
	}
	return out, nil
}

// Get fetches one code.
func (s *SQLiteStore) Get(ctx context.Context, code string) (AuthCode, error) {
	if s == nil || s.db == nil {
		return AuthCode{}, ErrInvalidInput
	}
	code = NormalizeCode(code)
	if code == "" {
		return AuthCode{}, ErrInvalidInput
	}
	out, err := scanSQLite(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteColumns+` FROM auth_code_pool WHERE code = ?`, code))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return AuthCode{}, ErrNotFound
		}
		return AuthCode{}, err
	}
	return out, nil
}

// Bind marks an assigned, unbound code as in use for room.
func (s *SQLiteStore) Bind(ctx context.Context, code, room string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrInvalidInput
	}
	if err := validateBind(code, room); err != nil {
		return false, err
	}
	return s.execOne(ctx,
		`UPDATE auth_code_pool
		    SET in_use = 1, in_use_since = ?, bound_room = ?
		  WHERE code = ? AND status = 'assigned' AND in_use = 0`,
		toMillis(now), room, NormalizeCode(code),
	)
}

// ClearStale releases one lease whose last renewal is at or before cutoff.
func (s *SQLiteStore) ClearStale(ctx context.Context, code string, cutoff time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrInvalidInput
	}
	return s.execOne(ctx,
		`UPDATE auth_code_pool
		    SET in_use = 0, in_use_since = NULL, bound_room = NULL
		  WHERE code = ? AND in_use = 1 AND in_use_since <= ?`,
		NormalizeCode(code), toMillis(cutoff),
	)
}

// Touch refreshes in_use_since for a bound code.
func (s *SQLiteStore) Touch(ctx context.Context, code string, now time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrInvalidInput
	}
	return s.execOne(ctx,
		`UPDATE auth_code_pool SET in_use_since = ? WHERE code = ? AND in_use = 1`,
		toMillis(now), NormalizeCode(code),
	)
}

// Clear releases the lease regardless of state.
func (s *SQLiteStore) Clear(ctx context.Context, code string) error {
	if s == nil || s.db == nil {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE auth_code_pool
		    SET in_use = 0, in_use_since = NULL, bound_room = NULL
		  WHERE code = ?`,
		NormalizeCode(code),
	)
	return err
}

// SweepStale releases every lease with in_use_since <= cutoff.
func (s *SQLiteStore) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE auth_code_pool
		    SET in_use = 0, in_use_since = NULL, bound_room = NULL
		  WHERE in_use = 1 AND in_use_since <= ?`,
		toMillis(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes assigned codes whose lifetime ended before cutoff.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM auth_code_pool
		  WHERE status = 'assigned'
		    AND assigned_at IS NOT NULL
		    AND assigned_at + expires_minutes * 60000 < ?`,
		toMillis(cutoff),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Create inserts a new code.
func (s *SQLiteStore) Create(ctx context.Context, in CreateRecord) (AuthCode, error) {
	if s == nil || s.db == nil {
		return AuthCode{}, ErrInvalidInput
	}
	if err := validateCreate(in); err != nil {
		return AuthCode{}, err
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	var assignedAt any
	if in.AssignedAt != nil {
		assignedAt = toMillis(*in.AssignedAt)
	}
	var note any
	if n := trimPtr(in.Note); n != nil {
		note = *n
	}
	var assignedTo any
	if in.AssignedTo != nil {
		assignedTo = *in.AssignedTo
	}

	code := NormalizeCode(in.Code)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO auth_code_pool (code, status, assigned_to, created_at, assigned_at, expires_minutes, note)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		code, string(in.Status), assignedTo, toMillis(in.CreatedAt), assignedAt, in.ExpiresMinutes, note,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return AuthCode{}, ErrDuplicate
		}
		return AuthCode{}, fmt.Errorf("inserting auth code: %w", err)
	}
	return s.Get(ctx, code)
}

// Assign issues an available code to holder.
func (s *SQLiteStore) Assign(ctx context.Context, code string, holder int64, now time.Time) (AuthCode, error) {
	if s == nil || s.db == nil {
		return AuthCode{}, ErrInvalidInput
	}
	code = NormalizeCode(code)
	if code == "" {
		return AuthCode{}, ErrInvalidInput
	}
	ok, err := s.execOne(ctx,
		`UPDATE auth_code_pool
		    SET status = 'assigned', assigned_to = ?, assigned_at = ?
		  WHERE code = ? AND status = 'available'`,
		holder, toMillis(now), code,
	)
	if err != nil {
		return AuthCode{}, err
	}
	out, err := s.Get(ctx, code)
	if err != nil {
		return AuthCode{}, err
	}
	if !ok {
		return AuthCode{}, ErrNotAvailable
	}
	return out, nil
}

// Delete removes a code. It reports whether a row was deleted.
func (s *SQLiteStore) Delete(ctx context.Context, code string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrInvalidInput
	}
	return s.execOne(ctx, `DELETE FROM auth_code_pool WHERE code = ?`, NormalizeCode(code))
}

// ListByHolder returns the holder's codes, most recently assigned first.
func (s *SQLiteStore) ListByHolder(ctx context.Context, holder int64) ([]AuthCode, error) {
	if s == nil || s.db == nil {
		return nil, ErrInvalidInput
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM auth_code_pool
		  WHERE assigned_to = ?
		  ORDER BY assigned_at IS NULL, assigned_at DESC, pool_id DESC`,
		holder,
	)
	if err != nil {
		return nil, err
	}
	return collectSQLite(rows)
}

// List returns codes ordered by creation, newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]AuthCode, error) {
	if s == nil || s.db == nil {
		return nil, ErrInvalidInput
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteColumns+` FROM auth_code_pool
		  ORDER BY created_at DESC, pool_id DESC
		  LIMIT ?`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	return collectSQLite(rows)
}

// Stats counts codes by state.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	if s == nil || s.db == nil {
		return Stats{}, ErrInvalidInput
	}
	var out Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*),
		        coalesce(sum(status = 'available'), 0),
		        coalesce(sum(status = 'assigned'), 0),
		        coalesce(sum(in_use = 1), 0)
		   FROM auth_code_pool`,
	).Scan(&out.Total, &out.Available, &out.Assigned, &out.InUse)
	if err != nil {
		return Stats{}, err
	}
	return out, nil
}

func (s *SQLiteStore) execOne(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func collectSQLite(rows *sql.Rows) ([]AuthCode, error) {
	defer rows.Close()
	out := make([]AuthCode, 0, 8)
	for rows.Next() {
		c, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
