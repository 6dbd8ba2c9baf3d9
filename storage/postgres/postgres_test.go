package postgres

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sealedsession/storage"
	"github.com/jmcleod/sealedsession/storage/storetest"
)

const testVerifier = "00112233445566778899aabbccddeeff:00112233445566778899aabbccddeeff"

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return New(db), mock
}

func TestSelectAll(t *testing.T) {
	s, mock := newMockStore(t)

	rows := sqlmock.NewRows(rowColumns).
		AddRow("u1", testVerifier, false, int64(0)).
		AddRow("u2", testVerifier, true, int64(1_700_000_000_000))
	mock.ExpectQuery("SELECT user_id, verifier, expires_enabled, expires_at_millis FROM sessions ORDER BY user_id").
		WillReturnRows(rows)

	got, err := s.SelectAll(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, storage.Row{UserID: "u1", Verifier: testVerifier}, got[0])
	assert.Equal(t, storage.Row{UserID: "u2", Verifier: testVerifier, ExpiresEnabled: true, ExpiresAtMillis: 1_700_000_000_000}, got[1])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectAllQueryError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM sessions").WillReturnError(errors.New("connection refused"))

	_, err := s.SelectAll(context.Background())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExists(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sessions WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM sessions WHERE user_id = \$1`).
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	ok, err := s.Exists(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(context.Background(), "u2")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsert(t *testing.T) {
	s, mock := newMockStore(t)
	row := storage.Row{UserID: "u1", Verifier: testVerifier, ExpiresEnabled: true, ExpiresAtMillis: 42}

	mock.ExpectExec(`INSERT INTO sessions \(user_id,verifier,expires_enabled,expires_at_millis\) VALUES \(\$1,\$2,\$3,\$4\) ON CONFLICT \(user_id\) DO NOTHING`).
		WithArgs(row.UserID, row.Verifier, row.ExpiresEnabled, row.ExpiresAtMillis).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Insert(context.Background(), row))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Insert(context.Background(), storage.Row{UserID: "u1", Verifier: testVerifier})
	assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRejectsInvalidRow(t *testing.T) {
	s, mock := newMockStore(t)

	err := s.Insert(context.Background(), storage.Row{Verifier: testVerifier})
	assert.True(t, errors.Is(err, storage.ErrEmptyUserID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	row := storage.Row{UserID: "u1", Verifier: testVerifier}

	mock.ExpectExec(`UPDATE sessions SET verifier = \$1, expires_enabled = \$2, expires_at_millis = \$3, updated_at = NOW\(\) WHERE user_id = \$4`).
		WithArgs(row.Verifier, false, int64(0), row.UserID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Update(context.Background(), row))

	err := s.Update(context.Background(), row)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM sessions WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM sessions WHERE user_id = \$1`).
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.Delete(context.Background(), "u1"))
	require.NoError(t, s.Delete(context.Background(), "u1"), "deleting an absent row is not an error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM sessions").WillReturnError(errors.New("connection refused"))

	assert.Error(t, s.Delete(context.Background(), "u1"))
}

func TestEnsureSchemaUsesMigrator(t *testing.T) {
	s, _ := newMockStore(t)

	var called int
	s.ensure = func(*sql.DB) error {
		called++
		return nil
	}
	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.Equal(t, 1, called)

	boom := errors.New("schema locked")
	s.ensure = func(*sql.DB) error { return boom }
	err := s.EnsureSchema(context.Background())
	assert.True(t, errors.Is(err, boom))
}

func TestEnsureSchemaCancelledContext(t *testing.T) {
	s, _ := newMockStore(t)
	s.ensure = func(*sql.DB) error {
		t.Fatal("migrator must not run on a cancelled context")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.EnsureSchema(ctx))
}

func TestCloseOnlyClosesOwnedPool(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	s := New(db)
	require.NoError(t, s.Close())

	mock.ExpectClose()
	s.owned = true
	require.NoError(t, s.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPostgresStore runs the shared contract against a live database.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("SEALEDSESSION_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("SEALEDSESSION_TEST_POSTGRES_DSN not set; skipping PostgreSQL tests")
	}

	storetest.Run(t, func(t *testing.T) storage.Store {
		ctx := context.Background()
		s, err := NewFromDSN(ctx, dsn)
		if err != nil {
			t.Fatalf("could not connect to postgres: %v", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			_ = s.Close()
			t.Fatalf("could not ensure schema: %v", err)
		}
		// Clean table for test isolation.
		s.DB().ExecContext(ctx, "DELETE FROM sessions") //nolint:errcheck
		t.Cleanup(func() {
			s.DB().ExecContext(ctx, "DELETE FROM sessions") //nolint:errcheck
			_ = s.Close()
		})
		return s
	})
}
