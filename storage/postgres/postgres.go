// Package postgres implements storage.Store backed by PostgreSQL.
//
// Rows live in a single sessions table keyed by user_id. The schema is
// managed with embedded golang-migrate migrations; queries are built with
// squirrel and run through database/sql using the lib/pq driver.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // registers the "postgres" database/sql driver

	"github.com/jmcleod/sealedsession/storage"
)

const table = "sessions"

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var rowColumns = []string{"user_id", "verifier", "expires_enabled", "expires_at_millis"}

// Store implements storage.Store backed by PostgreSQL.
type Store struct {
	db     *sql.DB
	owned  bool
	ensure func(*sql.DB) error
}

var _ storage.Store = (*Store)(nil)

// New returns a Store using db. The caller keeps ownership of db.
func New(db *sql.DB) *Store {
	return &Store{db: db, ensure: Migrate}
}

// NewFromDSN opens a connection pool for dsn, verifies it with a ping and
// returns a Store that closes the pool on Close.
func NewFromDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s := New(db)
	s.owned = true
	return s, nil
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// EnsureSchema runs the embedded migrations.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensure(s.db); err != nil {
		return fmt.Errorf("ensuring session schema: %w", err)
	}
	return nil
}

func (s *Store) SelectAll(ctx context.Context) ([]storage.Row, error) {
	query, args, err := psq.Select(rowColumns...).From(table).OrderBy("user_id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []storage.Row
	for rows.Next() {
		var r storage.Row
		if err := rows.Scan(&r.UserID, &r.Verifier, &r.ExpiresEnabled, &r.ExpiresAtMillis); err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return out, nil
}

func (s *Store) Exists(ctx context.Context, userID string) (bool, error) {
	query, args, err := psq.Select("COUNT(*)").From(table).Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return false, fmt.Errorf("building exists query: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("checking session: %w", err)
	}
	return count > 0, nil
}

func (s *Store) Insert(ctx context.Context, row storage.Row) error {
	if err := row.Validate(); err != nil {
		return err
	}
	query, args, err := psq.Insert(table).
		Columns(rowColumns...).
		Values(row.UserID, row.Verifier, row.ExpiresEnabled, row.ExpiresAtMillis).
		Suffix("ON CONFLICT (user_id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert: %w", err)
	}

	n, err := s.exec(ctx, query, args)
	if err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", row.UserID, storage.ErrAlreadyExists)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, row storage.Row) error {
	if err := row.Validate(); err != nil {
		return err
	}
	query, args, err := psq.Update(table).
		Set("verifier", row.Verifier).
		Set("expires_enabled", row.ExpiresEnabled).
		Set("expires_at_millis", row.ExpiresAtMillis).
		Set("updated_at", sq.Expr("NOW()")).
		Where(sq.Eq{"user_id": row.UserID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update: %w", err)
	}

	n, err := s.exec(ctx, query, args)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", row.UserID, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	query, args, err := psq.Delete(table).Where(sq.Eq{"user_id": userID}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	if _, err := s.exec(ctx, query, args); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, query string, args []any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
