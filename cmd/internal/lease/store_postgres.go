package lease

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists auth codes in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "roomgate").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore. The pool is owned by the caller.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "roomgate"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// EnsureSchema creates the schema, table and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, renderDDL(postgresDDL, s.table()))
	return err
}

// Close is a no-op; the pool is closed by its owner.
func (s *PostgresStore) Close() error { return nil }

const pgColumns = `pool_id, code, status, assigned_to, created_at, assigned_at, expires_minutes, in_use, in_use_since, bound_room, note`

func scanPG(row pgx.Row) (AuthCode, error) {
	var (
		out    AuthCode
		status string
	)
	err := row.Scan(
		&out.ID,
		&out.Code,
		&status,
		&out.AssignedTo,
		&out.CreatedAt,
		&out.AssignedAt,
		&out.ExpiresMinutes,
		&out.InUse,
		&out.InUseSince,
		&out.BoundRoom,
		&out.Note,
	)
	if err != nil {
		return AuthCode{}, err
	}
	out.Status = Status(status)
	return out, nil
}

// Get fetches one code.
func (s *PostgresStore) Get(ctx context.Context, code string) (AuthCode, error) {
	if s == nil || s.pool == nil {
		return AuthCode{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return AuthCode{}, err
	}
	code = NormalizeCode(code)
	if code == "" {
		return AuthCode{}, ErrInvalidInput
	}

	out, err := scanPG(s.pool.QueryRow(ctx,
		`SELECT `+pgColumns+` FROM `+s.table()+` WHERE code = $1`,
		code,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AuthCode{}, ErrNotFound
		}
		return AuthCode{}, err
	}
	return out, nil
}

// Bind marks an assigned, unbound code as in use for room.
func (s *PostgresStore) Bind(ctx context.Context, code, room string, now time.Time) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrInvalidInput
	}
	if err := validateBind(code, room); err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET in_use = true,
		        in_use_since = $1,
		        bound_room = $2
		  WHERE code = $3
		    AND status = 'assigned'
		    AND in_use = false`,
		now.UTC(),
		room,
		NormalizeCode(code),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ClearStale releases one lease whose last renewal is at or before cutoff.
func (s *PostgresStore) ClearStale(ctx context.Context, code string, cutoff time.Time) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET in_use = false,
		        in_use_since = NULL,
		        bound_room = NULL
		  WHERE code = $1
		    AND in_use = true
		    AND in_use_since <= $2`,
		NormalizeCode(code),
		cutoff.UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Touch refreshes in_use_since for a bound code.
func (s *PostgresStore) Touch(ctx context.Context, code string, now time.Time) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET in_use_since = $1
		  WHERE code = $2
		    AND in_use = true`,
		now.UTC(),
		NormalizeCode(code),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Clear releases the lease regardless of state.
func (s *PostgresStore) Clear(ctx context.Context, code string) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET in_use = false,
		        in_use_since = NULL,
		        bound_room = NULL
		  WHERE code = $1`,
		NormalizeCode(code),
	)
	return err
}

// SweepStale releases every lease with in_use_since <= cutoff.
func (s *PostgresStore) SweepStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET in_use = false,
		        in_use_since = NULL,
		        bound_room = NULL
		  WHERE in_use = true
		    AND in_use_since <= $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// DeleteExpired removes assigned codes whose lifetime ended before cutoff.
func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+s.table()+`
		  WHERE status = 'assigned'
		    AND assigned_at IS NOT NULL
		    AND assigned_at + make_interval(mins => expires_minutes) < $1`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Create inserts a new code.
func (s *PostgresStore) Create(ctx context.Context, in CreateRecord) (AuthCode, error) {
	if s == nil || s.pool == nil {
		return AuthCode{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return AuthCode{}, err
	}
	if err := validateCreate(in); err != nil {
		return AuthCode{}, err
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}

	out, err := scanPG(s.pool.QueryRow(ctx,
		`INSERT INTO `+s.table()+` (
		     code, status, assigned_to, created_at, assigned_at, expires_minutes, note
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+pgColumns,
		NormalizeCode(in.Code),
		string(in.Status),
		in.AssignedTo,
		in.CreatedAt.UTC(),
		in.AssignedAt,
		in.ExpiresMinutes,
		trimPtr(in.Note),
	))
	if err != nil {
		if isPGUniqueViolation(err) {
			return AuthCode{}, ErrDuplicate
		}
		return AuthCode{}, err
	}
	return out, nil
}

// Assign issues an available code to holder.
func (s *PostgresStore) Assign(ctx context.Context, code string, holder int64, now time.Time) (AuthCode, error) {
	if s == nil || s.pool == nil {
		return AuthCode{}, ErrInvalidInput
	}
	code = NormalizeCode(code)
	if code == "" {
		return AuthCode{}, ErrInvalidInput
	}

	out, err := scanPG(s.pool.QueryRow(ctx,
		`UPDATE `+s.table()+`
		    SET status = 'assigned',
		        assigned_to = $1,
		        assigned_at = $2
		  WHERE code = $3
		    AND status = 'available'
		RETURNING `+pgColumns,
		holder,
		now.UTC(),
		code,
	))
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return AuthCode{}, err
	}

	// Distinguish not-found vs already assigned.
	if _, selErr := s.Get(ctx, code); selErr != nil {
		return AuthCode{}, selErr
	}
	return AuthCode{}, ErrNotAvailable
}

// Delete removes a code. It reports whether a row was deleted.
func (s *PostgresStore) Delete(ctx context.Context, code string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrInvalidInput
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE code = $1`, NormalizeCode(code))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByHolder returns the holder's codes, most recently assigned first.
func (s *PostgresStore) ListByHolder(ctx context.Context, holder int64) ([]AuthCode, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgColumns+` FROM `+s.table()+`
		  WHERE assigned_to = $1
		  ORDER BY assigned_at DESC NULLS LAST, pool_id DESC`,
		holder,
	)
	if err != nil {
		return nil, err
	}
	return collectPG(rows)
}

// List returns codes ordered by creation, newest first.
func (s *PostgresStore) List(ctx context.Context, limit int) ([]AuthCode, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgColumns+` FROM `+s.table()+`
		  ORDER BY created_at DESC, pool_id DESC
		  LIMIT $1`,
		clampLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	return collectPG(rows)
}

// Stats counts codes by state.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	if s == nil || s.pool == nil {
		return Stats{}, ErrInvalidInput
	}
	var out Stats
	err := s.pool.QueryRow(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'available'),
		        count(*) FILTER (WHERE status = 'assigned'),
		        count(*) FILTER (WHERE in_use)
		   FROM `+s.table(),
	).Scan(&out.Total, &out.Available, &out.Assigned, &out.InUse)
	if err != nil {
		return Stats{}, err
	}
	return out, nil
}

func collectPG(rows pgx.Rows) ([]AuthCode, error) {
	defer rows.Close()
	out := make([]AuthCode, 0, 8)
	for rows.Next() {
		c, err := scanPG(rows)
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

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, TableName}.Sanitize()
}

func isPGUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
