// Package storetest holds the behavioural test suite every storage.Store
// backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/sealedsession/storage"
)

// Factory returns a fresh, empty store. Cleanup should be registered with
// t.Cleanup.
type Factory func(t *testing.T) storage.Store

// Run exercises the storage.Store contract against stores made by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	row := storage.Row{
		UserID:          "u1",
		Verifier:        "00112233445566778899aabbccddeeff:00112233445566778899aabbccddeeff",
		ExpiresEnabled:  true,
		ExpiresAtMillis: 1_700_000_000_000,
	}

	t.Run("EnsureSchemaIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))
		require.NoError(t, s.EnsureSchema(ctx))
	})

	t.Run("InsertSelectAll", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))

		rows, err := s.SelectAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, rows)

		require.NoError(t, s.Insert(ctx, row))
		rows, err = s.SelectAll(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, row, rows[0])
	})

	t.Run("InsertDuplicate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))
		require.NoError(t, s.Insert(ctx, row))

		err := s.Insert(ctx, row)
		assert.True(t, errors.Is(err, storage.ErrAlreadyExists), "got %v", err)
	})

	t.Run("Exists", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))

		ok, err := s.Exists(ctx, row.UserID)
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.Insert(ctx, row))
		ok, err = s.Exists(ctx, row.UserID)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.Exists(ctx, "someone-else")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Update", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))

		err := s.Update(ctx, row)
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)

		require.NoError(t, s.Insert(ctx, row))
		updated := row
		updated.Verifier = "ffeeddccbbaa99887766554433221100:ffeeddccbbaa99887766554433221100"
		updated.ExpiresEnabled = false
		updated.ExpiresAtMillis = 0
		require.NoError(t, s.Update(ctx, updated))

		rows, err := s.SelectAll(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, updated, rows[0])
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))
		require.NoError(t, s.Insert(ctx, row))

		require.NoError(t, s.Delete(ctx, row.UserID))
		require.NoError(t, s.Delete(ctx, row.UserID))
		require.NoError(t, s.Delete(ctx, "never-stored"))

		ok, err := s.Exists(ctx, row.UserID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Upsert", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))

		require.NoError(t, storage.Upsert(ctx, s, row))
		second := row
		second.Verifier = "ffeeddccbbaa99887766554433221100:00112233445566778899aabbccddeeff"
		require.NoError(t, storage.Upsert(ctx, s, second))

		rows, err := s.SelectAll(ctx)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, second.Verifier, rows[0].Verifier)
	})

	t.Run("ManyRows", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))

		const n = 25
		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				r := row
				r.UserID = fmt.Sprintf("user-%02d", i)
				errs <- s.Insert(ctx, r)
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		rows, err := s.SelectAll(ctx)
		require.NoError(t, err)
		require.Len(t, rows, n)
		ids := make([]string, 0, n)
		for _, r := range rows {
			ids = append(ids, r.UserID)
		}
		sort.Strings(ids)
		assert.Equal(t, "user-00", ids[0])
		assert.Equal(t, "user-24", ids[n-1])
	})

	t.Run("UnusualUserIDs", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))

		for _, id := range []string{"a:b", "user@example.com", "ünïcødé", "with space"} {
			r := row
			r.UserID = id
			require.NoError(t, s.Insert(ctx, r), id)
			ok, err := s.Exists(ctx, id)
			require.NoError(t, err)
			assert.True(t, ok, id)
		}
	})

	t.Run("RejectsEmptyUserID", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.EnsureSchema(ctx))

		r := row
		r.UserID = ""
		assert.True(t, errors.Is(s.Insert(ctx, r), storage.ErrEmptyUserID))
	})
}
